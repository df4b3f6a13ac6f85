// Package reconcile implements the read-only reconciler. It re-derives the
// expected stage graph for a run date from the ledger, the item store, and
// the artifact store, and reports discrepancies as audit findings.
//
// The reconciler never mutates pipeline state: it only appends immutable
// audit records and findings artifacts. Nothing here repairs anything.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seamline-io/conveyor/artifact"
	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/log"
	"github.com/seamline-io/conveyor/metrics"
	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// Config tunes the reconciler.
type Config struct {
	// QualityThreshold is the minimum mean quality score before a score-drift
	// finding is raised.
	QualityThreshold float64
	// SampleArtifacts caps how many generate artifacts get quality-scored per
	// audit. Zero disables drift sampling.
	SampleArtifacts int
	// StaleItemDays is how old an unconsumed admitted item may be before a
	// stale-item finding is raised. Zero disables the check.
	StaleItemDays int
}

// Reconciler computes audit findings for run dates.
type Reconciler struct {
	items     store.ItemStore
	ledger    ledger.Ledger
	artifacts artifact.Store
	scorer    collab.Scorer
	cfg       Config
	collector *metrics.Collector
	now       func() time.Time
}

// New creates a reconciler. scorer may be nil to disable drift sampling.
func New(items store.ItemStore, l ledger.Ledger, artifacts artifact.Store, scorer collab.Scorer, cfg Config, collector *metrics.Collector) *Reconciler {
	return &Reconciler{
		items:     items,
		ledger:    l,
		artifacts: artifacts,
		scorer:    scorer,
		cfg:       cfg,
		collector: collector,
		now:       time.Now,
	}
}

// SetClock overrides the clock. Test hook.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Audit computes findings for a date, appends them as a fresh immutable
// audit record, and stores a findings artifact. Returns the findings
// artifact references for the audit run record.
func (r *Reconciler) Audit(ctx context.Context, date types.RunDate) ([]types.ArtifactRef, error) {
	findings, err := r.Findings(ctx, date)
	if err != nil {
		return nil, err
	}

	rec, err := r.ledger.AppendAudit(ctx, types.AuditRecord{
		RunDate:   date,
		CreatedAt: r.now(),
		Findings:  findings,
	})
	if err != nil {
		return nil, fmt.Errorf("append audit record: %w", err)
	}
	for _, f := range findings {
		r.collector.IncFinding(string(f.Kind))
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}
	ref, err := r.artifacts.Put(ctx, date, types.StageAudit, fmt.Sprintf("findings-%04d.json", rec.Seq), data)
	if err != nil {
		return nil, fmt.Errorf("store findings: %w", err)
	}

	log.NewLogger(log.Context{RunDate: date, Stage: types.StageAudit}).Info("audit complete", map[string]any{
		"seq":      rec.Seq,
		"findings": len(findings),
	})
	return []types.ArtifactRef{ref}, nil
}

// Findings computes the discrepancy set for a date without recording
// anything. Deterministic for unchanged state: findings are sorted by
// (stage, kind, detail).
func (r *Reconciler) Findings(ctx context.Context, date types.RunDate) ([]types.AuditFinding, error) {
	var findings []types.AuditFinding

	referenced := make(map[types.ArtifactRef]bool)
	for _, stage := range []types.Stage{types.StageIngest, types.StageSelect, types.StageGenerate} {
		attempts, err := r.ledger.Attempts(ctx, date, stage)
		if err != nil {
			return nil, fmt.Errorf("read ledger %s/%s: %w", date, stage, err)
		}
		for _, rec := range attempts {
			// Running attempts are excluded: their artifacts are not committed
			// yet and would produce false missing-artifact findings.
			if !rec.State.Terminal() {
				continue
			}
			for _, ref := range rec.ArtifactRefs {
				referenced[ref] = true
				if !storeAddressed(ref) {
					continue
				}
				ok, err := r.artifacts.Exists(ctx, ref)
				if err != nil {
					return nil, fmt.Errorf("check artifact %s: %w", ref, err)
				}
				if !ok {
					findings = append(findings, types.AuditFinding{
						RunDate: date,
						Stage:   stage,
						Kind:    types.FindingMissingArtifact,
						Detail:  fmt.Sprintf("attempt %d references %s but the store has no such object", rec.AttemptID, ref),
					})
				}
			}
			if rec.State == types.StateSucceeded && rec.Paid && stage == types.StageGenerate && !hasScheme(rec.ArtifactRefs, "ack://") {
				findings = append(findings, types.AuditFinding{
					RunDate: date,
					Stage:   stage,
					Kind:    types.FindingMissingArtifact,
					Detail:  fmt.Sprintf("paid report attempt %d has no delivery acknowledgment", rec.AttemptID),
				})
			}
		}
	}

	stored, err := r.artifacts.List(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list artifacts %s: %w", date, err)
	}
	for _, ref := range stored {
		// Audit's own findings artifacts are referenced only by audit run
		// records, which this pass does not walk.
		if strings.Contains(string(ref), "stage=audit") {
			continue
		}
		if !referenced[ref] {
			findings = append(findings, types.AuditFinding{
				RunDate: date,
				Stage:   stageOfRef(ref),
				Kind:    types.FindingOrphanArtifact,
				Detail:  fmt.Sprintf("stored object %s is referenced by no run record", ref),
			})
		}
	}

	stale, err := r.staleItems(ctx, date)
	if err != nil {
		return nil, err
	}
	findings = append(findings, stale...)

	drift, err := r.scoreDrift(ctx, date)
	if err != nil {
		return nil, err
	}
	findings = append(findings, drift...)

	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Detail < b.Detail
	})
	return findings, nil
}

// staleItems flags admitted items old enough that they should have been
// consumed by a selection by now, but were not.
func (r *Reconciler) staleItems(ctx context.Context, date types.RunDate) ([]types.AuditFinding, error) {
	if r.cfg.StaleItemDays <= 0 {
		return nil, nil
	}
	consumed, err := r.consumedKeys(ctx, date)
	if err != nil {
		return nil, err
	}
	all, err := r.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	cutoff := date.Time().AddDate(0, 0, -r.cfg.StaleItemDays)
	var findings []types.AuditFinding
	for _, item := range all {
		if item.Status != types.ItemAdmitted || consumed[item.DedupKey] {
			continue
		}
		if item.SeenAt.Before(cutoff) {
			findings = append(findings, types.AuditFinding{
				RunDate: date,
				Stage:   types.StageSelect,
				Kind:    types.FindingStaleItem,
				Detail:  fmt.Sprintf("admitted item %s (%s) unconsumed since %s", item.DedupKey, item.Title, item.SeenAt.Format("2006-01-02")),
			})
		}
	}
	return findings, nil
}

// consumedKeys gathers the dedup keys every selection up to the date drew on.
func (r *Reconciler) consumedKeys(ctx context.Context, date types.RunDate) (map[string]bool, error) {
	consumed := make(map[string]bool)
	dates, err := r.ledger.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger dates: %w", err)
	}
	for _, d := range dates {
		if d.Time().After(date.Time()) {
			continue
		}
		attempts, err := r.ledger.Attempts(ctx, d, types.StageSelect)
		if err != nil {
			return nil, fmt.Errorf("read ledger %s/select: %w", d, err)
		}
		for _, rec := range attempts {
			if rec.State != types.StateSucceeded || len(rec.ArtifactRefs) == 0 {
				continue
			}
			data, err := r.artifacts.Get(ctx, rec.ArtifactRefs[0])
			if err != nil {
				// A missing selection artifact is reported by the missing-
				// artifact pass of its own date, not here.
				continue
			}
			var sel types.Selection
			if err := json.Unmarshal(data, &sel); err != nil {
				continue
			}
			for _, key := range sel.ItemKeys {
				consumed[key] = true
			}
		}
	}
	return consumed, nil
}

// scoreDrift samples generate artifacts and quality-scores them through the
// external scorer. Advisory: scorer failures are swallowed, not reported,
// and never block the audit.
func (r *Reconciler) scoreDrift(ctx context.Context, date types.RunDate) ([]types.AuditFinding, error) {
	if r.scorer == nil || r.cfg.SampleArtifacts <= 0 {
		return nil, nil
	}
	rec, ok, err := ledger.LatestSucceeded(ctx, r.ledger, date, types.StageGenerate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var findings []types.AuditFinding
	sampled := 0
	for _, ref := range rec.ArtifactRefs {
		if sampled >= r.cfg.SampleArtifacts {
			break
		}
		if !storeAddressed(ref) {
			continue
		}
		data, err := r.artifacts.Get(ctx, ref)
		if err != nil {
			continue
		}
		sampled++
		scores, err := r.scorer.Score(ctx, string(ref), string(data))
		if err != nil {
			continue
		}
		if mean := scores.Mean(types.RequiredMetrics); mean < r.cfg.QualityThreshold {
			findings = append(findings, types.AuditFinding{
				RunDate: date,
				Stage:   types.StageGenerate,
				Kind:    types.FindingScoreDrift,
				Detail:  fmt.Sprintf("artifact %s scored %.2f, below quality threshold %.2f", ref, mean, r.cfg.QualityThreshold),
			})
		}
	}
	return findings, nil
}

// storeAddressed reports whether a ref resolves through the artifact store,
// as opposed to delivery and acknowledgment tokens.
func storeAddressed(ref types.ArtifactRef) bool {
	s := string(ref)
	return !strings.HasPrefix(s, "delivery://") && !strings.HasPrefix(s, "ack://")
}

func hasScheme(refs []types.ArtifactRef, prefix string) bool {
	for _, ref := range refs {
		if strings.HasPrefix(string(ref), prefix) {
			return true
		}
	}
	return false
}

// stageOfRef best-effort extracts the stage partition from a store ref for
// labeling orphan findings.
func stageOfRef(ref types.ArtifactRef) types.Stage {
	for _, stage := range types.Stages {
		if strings.Contains(string(ref), "stage="+string(stage)) {
			return stage
		}
	}
	return ""
}
