// Package pipeline implements the stage coordinator: the single writer of
// run records and artifact references, driving ingest -> select -> generate
// -> audit for a run date.
//
// Expected failure modes (busy, failed preconditions, exhausted retries) are
// reported in the RunReport, never raised as errors. Run returns an error
// only for contract violations such as an invalid stage name.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seamline-io/conveyor/artifact"
	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/gate"
	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/log"
	"github.com/seamline-io/conveyor/metrics"
	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// Config carries the coordinator tunables.
type Config struct {
	// ScoreThreshold is the minimum mean score for admission.
	ScoreThreshold float64
	// MaxBatchItems caps admitted items per ingest batch, best first.
	MaxBatchItems int
	// MaxAttempts caps attempts per collaborator call, including the first.
	MaxAttempts int
	// Backoff is the base exponential backoff between collaborator retries.
	Backoff time.Duration
	// CallTimeout bounds each collaborator call.
	CallTimeout time.Duration
	// StaleAfter is how long a running record may sit before it is presumed
	// crashed.
	StaleAfter time.Duration
	// MaxFreePerDay caps delivered free documents per run date.
	MaxFreePerDay int
	// MaxPaidPerDay caps succeeded paid reports per run date.
	MaxPaidPerDay int
	// TopicCooldownDays skips topics selected within the window.
	TopicCooldownDays int
	// SelectLookbackDays is how many prior days of admitted items remain
	// selectable, since ingestion runs several times a day and items can land
	// just before midnight.
	SelectLookbackDays int
}

// Auditor runs the read-only reconciliation for a date. Implemented by the
// reconcile package; injected to keep the coordinator free of audit logic.
type Auditor interface {
	Audit(ctx context.Context, date types.RunDate) ([]types.ArtifactRef, error)
}

// TrendSink receives admitted items for trend history. Optional; a nil sink
// disables recording and sink errors never fail an ingest.
type TrendSink interface {
	RecordAdmitted(ctx context.Context, item types.Item) error
}

// Deps are the coordinator's wired dependencies.
type Deps struct {
	Items     store.ItemStore
	Ledger    ledger.Ledger
	Artifacts artifact.Store
	Connector collab.Connector
	Scorer    collab.Scorer
	Selector  collab.Selector
	Drafter   collab.Drafter
	Renderer  collab.Renderer
	Delivery  collab.Delivery
	Auditor   Auditor
	Trends    TrendSink
	Collector *metrics.Collector
}

// Coordinator drives the stage sequence for run dates. It is the sole writer
// of run records and artifact references.
type Coordinator struct {
	deps Deps
	cfg  Config

	retry retryPolicy
	now   func() time.Time
}

// New creates a coordinator. Zero Config fields disable their limits except
// MaxAttempts, which is clamped to at least 1.
func New(deps Deps, cfg Config) *Coordinator {
	return &Coordinator{
		deps:  deps,
		cfg:   cfg,
		retry: newRetryPolicy(cfg.MaxAttempts, cfg.Backoff, cfg.CallTimeout, deps.Collector),
		now:   time.Now,
	}
}

// SetClock overrides the clock. Test hook.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Run executes one stage invocation for a run date.
//
// Ledger consultation order: a succeeded record satisfies the call without
// collaborator work unless force_rerun is set; a fresh running record yields
// busy; a stale running record is presumed crashed and replaced. On force
// re-run the prior succeeded record is superseded only if the new attempt
// itself succeeds. Audit never replays: each invocation reconciles afresh.
//
// Transient collaborator failures are retried automatically with exponential
// backoff up to the attempt cap; each retry opens a fresh ledger attempt so
// the failure history stays visible. Permanent failures are never retried.
func (c *Coordinator) Run(ctx context.Context, stage types.Stage, date types.RunDate, opts types.RunOptions) (types.RunReport, error) {
	if _, err := types.ParseStage(string(stage)); err != nil {
		return types.RunReport{}, err
	}
	if !date.Valid() {
		return types.RunReport{}, fmt.Errorf("invalid run date: %q", date)
	}
	if opts.Mode == "" {
		opts.Mode = types.ModeFull
	}
	if opts.Mode != types.ModeLite && opts.Mode != types.ModeFull {
		return types.RunReport{}, fmt.Errorf("invalid mode: %q", opts.Mode)
	}

	logger := log.NewLogger(log.Context{RunDate: date, Stage: stage})

	// Audit is exempt from replay: it is read-only and every invocation must
	// reconcile current state into a fresh audit record. Replaying would pin
	// the findings of the first run forever.
	if !opts.ForceRerun && stage != types.StageAudit {
		prior, ok, err := ledger.LatestSucceeded(ctx, c.deps.Ledger, date, stage)
		if err != nil {
			return types.RunReport{}, fmt.Errorf("consult ledger: %w", err)
		}
		if ok {
			c.deps.Collector.IncStageReplayed()
			logger.Info("replaying succeeded attempt", map[string]any{
				"attempt": prior.AttemptID,
			})
			return types.RunReport{
				Status:       types.RunSucceeded,
				AttemptID:    prior.AttemptID,
				Replayed:     true,
				ArtifactRefs: prior.ArtifactRefs,
			}, nil
		}
	}

	for try := 1; ; try++ {
		report, stageErr, err := c.attempt(ctx, stage, date, opts, logger)
		if err != nil {
			return types.RunReport{}, err
		}
		if stageErr == nil || report.Status == types.RunBusy {
			return report, nil
		}
		if IsPermanent(stageErr) || try >= c.retry.maxAttempts {
			return report, nil
		}
		if err := c.retry.backoffBefore(ctx, try+1); err != nil {
			return report, nil
		}
	}
}

// attempt opens, executes, and closes one ledger attempt. The returned
// stageErr reports the stage's failure for retry classification; err reports
// contract or ledger faults that must escape to the caller.
func (c *Coordinator) attempt(ctx context.Context, stage types.Stage, date types.RunDate, opts types.RunOptions, logger *log.Logger) (types.RunReport, error, error) {
	meta := ledger.BeginMeta{Paid: opts.Paid}
	if stage == types.StageSelect {
		meta.Mode = opts.Mode
	}
	if stage == types.StageIngest {
		meta.Theme = c.themeFor(date, opts.Theme)
	}

	rec, err := c.deps.Ledger.Begin(ctx, date, stage, c.cfg.StaleAfter, meta)
	if errors.Is(err, ledger.ErrBusy) {
		c.deps.Collector.IncStageBusy()
		return types.RunReport{Status: types.RunBusy, Cause: err.Error()}, err, nil
	}
	if err != nil {
		return types.RunReport{}, nil, fmt.Errorf("open attempt: %w", err)
	}
	c.deps.Collector.IncStageStarted()
	logger = log.NewLogger(log.Context{RunDate: date, Stage: stage, Attempt: rec.AttemptID})
	logger.Info("attempt opened", map[string]any{
		"force_rerun": opts.ForceRerun,
		"paid":        opts.Paid,
	})

	refs, stageErr := c.execute(ctx, stage, date, rec, opts, logger)
	if stageErr != nil {
		// The failed transition must land even when the stage failed because
		// ctx was cancelled.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		_, ferr := c.deps.Ledger.Finish(finishCtx, date, stage, rec.AttemptID, types.StateFailed, stageErr.Error(), nil)
		cancel()
		if ferr != nil {
			return types.RunReport{}, nil, fmt.Errorf("record failure: %w", ferr)
		}
		c.deps.Collector.IncStageFailed()
		logger.Error("attempt failed", map[string]any{"cause": stageErr.Error()})
		return types.RunReport{
			Status:    types.RunFailed,
			Cause:     stageErr.Error(),
			AttemptID: rec.AttemptID,
		}, stageErr, nil
	}

	done, err := c.deps.Ledger.Finish(ctx, date, stage, rec.AttemptID, types.StateSucceeded, "", refs)
	if err != nil {
		return types.RunReport{}, nil, fmt.Errorf("record success: %w", err)
	}
	c.deps.Collector.IncStageSucceeded()
	logger.Info("attempt succeeded", map[string]any{"artifacts": len(done.ArtifactRefs)})
	return types.RunReport{
		Status:       types.RunSucceeded,
		AttemptID:    done.AttemptID,
		ArtifactRefs: done.ArtifactRefs,
	}, nil, nil
}

func (c *Coordinator) execute(ctx context.Context, stage types.Stage, date types.RunDate, rec types.RunRecord, opts types.RunOptions, logger *log.Logger) ([]types.ArtifactRef, error) {
	switch stage {
	case types.StageIngest:
		return c.ingest(ctx, date, rec.Theme, logger)
	case types.StageSelect:
		return c.selectStage(ctx, date, opts.Mode, logger)
	case types.StageGenerate:
		return c.generate(ctx, date, opts, logger)
	case types.StageAudit:
		if c.deps.Auditor == nil {
			return nil, Permanentf("no auditor configured")
		}
		return c.deps.Auditor.Audit(ctx, date)
	}
	return nil, fmt.Errorf("unreachable stage %q", stage)
}

// AcknowledgeDelivery records an external delivery acknowledgment on the
// newest succeeded paid generate attempt for the date. Until this lands, the
// paid report counts as not delivered.
func (c *Coordinator) AcknowledgeDelivery(ctx context.Context, date types.RunDate, token string) (types.RunRecord, error) {
	if token == "" {
		return types.RunRecord{}, fmt.Errorf("empty acknowledgment token")
	}
	rec, ok, err := ledger.LatestSucceeded(ctx, c.deps.Ledger, date, types.StageGenerate)
	if err != nil {
		return types.RunRecord{}, err
	}
	if !ok || !rec.Paid {
		return types.RunRecord{}, fmt.Errorf("%w: no succeeded paid generate attempt for %s", ledger.ErrNotFound, date)
	}
	if hasRefPrefix(rec.ArtifactRefs, ackRefPrefix) {
		// Duplicate acknowledgment is a no-op.
		return rec, nil
	}
	updated, err := c.deps.Ledger.AppendArtifactRefs(ctx, date, types.StageGenerate, rec.AttemptID, types.ArtifactRef(ackRefPrefix+token))
	if err != nil {
		return types.RunRecord{}, err
	}
	c.deps.Collector.IncDelivery()
	return updated, nil
}

// Delivery-side references recorded on generate run records. A missing
// prefix means the side effect never completed.
const (
	deliveryRefPrefix = "delivery://"
	ackRefPrefix      = "ack://"
)

func hasRefPrefix(refs []types.ArtifactRef, prefix string) bool {
	for _, ref := range refs {
		if len(ref) >= len(prefix) && string(ref[:len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

// admittedItems returns admitted items selectable for a run date: seen on
// the date itself or within the lookback window before it.
func (c *Coordinator) admittedItems(ctx context.Context, date types.RunDate) ([]types.Item, error) {
	all, err := c.deps.Items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	dayEnd := date.Time().AddDate(0, 0, 1)
	windowStart := date.Time().AddDate(0, 0, -c.cfg.SelectLookbackDays)
	var out []types.Item
	for _, item := range all {
		if item.Status != types.ItemAdmitted {
			continue
		}
		if item.SeenAt.Before(windowStart) || !item.SeenAt.Before(dayEnd) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// newGate builds the admission gate over the item store.
func (c *Coordinator) newGate() *gate.Gate {
	return gate.New(c.deps.Items, c.cfg.ScoreThreshold, nil)
}
