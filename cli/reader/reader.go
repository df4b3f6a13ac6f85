package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// Reader answers read-only CLI queries from the ledger and the item store.
type Reader struct {
	ledger ledger.Ledger
	items  store.ItemStore
}

// New wires a reader. The item store may be nil; item counts then read zero.
func New(l ledger.Ledger, items store.ItemStore) *Reader {
	return &Reader{ledger: l, items: items}
}

// Status returns the per-stage pipeline status for one run date.
func (r *Reader) Status(ctx context.Context, date types.RunDate) (*StatusResponse, error) {
	if !date.Valid() {
		return nil, fmt.Errorf("invalid run date: %q", date)
	}

	resp := &StatusResponse{RunDate: string(date)}
	for _, stage := range types.Stages {
		attempts, err := r.ledger.Attempts(ctx, date, stage)
		if err != nil {
			return nil, fmt.Errorf("read attempts for %s: %w", stage, err)
		}
		if len(attempts) == 0 {
			continue
		}
		newest := attempts[len(attempts)-1]
		resp.Stages = append(resp.Stages, StageStatus{
			Stage:      string(stage),
			State:      string(newest.State),
			Attempt:    newest.AttemptID,
			Attempts:   len(attempts),
			Mode:       newest.Mode,
			Theme:      newest.Theme,
			Paid:       newest.Paid,
			Cause:      newest.Cause,
			Artifacts:  len(newest.ArtifactRefs),
			StartedAt:  newest.StartedAt,
			FinishedAt: finishedAt(newest),
		})
	}

	audits, err := r.ledger.AuditRecords(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read audit records: %w", err)
	}
	resp.Audits = len(audits)
	if len(audits) > 0 {
		resp.Findings = len(audits[len(audits)-1].Findings)
	}
	return resp, nil
}

// Attempts returns the full attempt history for a date, optionally filtered
// to one stage. Stage may be empty.
func (r *Reader) Attempts(ctx context.Context, date types.RunDate, stage string) ([]AttemptItem, error) {
	if !date.Valid() {
		return nil, fmt.Errorf("invalid run date: %q", date)
	}

	stages := types.Stages
	if stage != "" {
		parsed, err := types.ParseStage(stage)
		if err != nil {
			return nil, err
		}
		stages = []types.Stage{parsed}
	}

	var out []AttemptItem
	for _, st := range stages {
		attempts, err := r.ledger.Attempts(ctx, date, st)
		if err != nil {
			return nil, fmt.Errorf("read attempts for %s: %w", st, err)
		}
		for _, rec := range attempts {
			out = append(out, AttemptItem{
				Stage:      string(rec.Stage),
				Attempt:    rec.AttemptID,
				State:      string(rec.State),
				Mode:       rec.Mode,
				Paid:       rec.Paid,
				Superseded: rec.Superseded,
				Cause:      rec.Cause,
				Artifacts:  len(rec.ArtifactRefs),
				StartedAt:  rec.StartedAt,
				FinishedAt: finishedAt(rec),
			})
		}
	}
	return out, nil
}

// Findings returns the findings of the newest audit record for a date. A date
// that was never audited yields an empty list.
func (r *Reader) Findings(ctx context.Context, date types.RunDate) ([]FindingItem, error) {
	if !date.Valid() {
		return nil, fmt.Errorf("invalid run date: %q", date)
	}
	audits, err := r.ledger.AuditRecords(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read audit records: %w", err)
	}
	if len(audits) == 0 {
		return nil, nil
	}
	newest := audits[len(audits)-1]
	out := make([]FindingItem, 0, len(newest.Findings))
	for _, f := range newest.Findings {
		out = append(out, FindingItem{
			Stage:  string(f.Stage),
			Kind:   string(f.Kind),
			Detail: f.Detail,
		})
	}
	return out, nil
}

// Audits returns the audit record history for a date, oldest first.
func (r *Reader) Audits(ctx context.Context, date types.RunDate) ([]AuditSummary, error) {
	if !date.Valid() {
		return nil, fmt.Errorf("invalid run date: %q", date)
	}
	audits, err := r.ledger.AuditRecords(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read audit records: %w", err)
	}
	out := make([]AuditSummary, 0, len(audits))
	for _, a := range audits {
		out = append(out, AuditSummary{
			Seq:       a.Seq,
			CreatedAt: a.CreatedAt,
			Findings:  len(a.Findings),
		})
	}
	return out, nil
}

// Dates returns every run date with attempts plus per-date counts, ascending.
func (r *Reader) Dates(ctx context.Context) ([]DateItem, error) {
	dates, err := r.ledger.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("read dates: %w", err)
	}
	out := make([]DateItem, 0, len(dates))
	for _, date := range dates {
		item := DateItem{RunDate: string(date)}
		for _, stage := range types.Stages {
			attempts, err := r.ledger.Attempts(ctx, date, stage)
			if err != nil {
				return nil, fmt.Errorf("read attempts for %s/%s: %w", date, stage, err)
			}
			item.Attempts += len(attempts)
			for _, rec := range attempts {
				switch rec.State {
				case types.StateSucceeded:
					item.Succeeded++
				case types.StateFailed:
					item.Failed++
				case types.StateRunning:
					item.Running++
				}
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// Stats aggregates ledger and item-store counts across every run date.
func (r *Reader) Stats(ctx context.Context) (*StatsResponse, error) {
	dates, err := r.ledger.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("read dates: %w", err)
	}

	resp := &StatsResponse{
		Dates:            len(dates),
		FindingsByKind:   make(map[string]int),
		AttemptsPerStage: make(map[string]int),
	}

	for _, date := range dates {
		for _, stage := range types.Stages {
			attempts, err := r.ledger.Attempts(ctx, date, stage)
			if err != nil {
				return nil, fmt.Errorf("read attempts for %s/%s: %w", date, stage, err)
			}
			resp.Attempts += len(attempts)
			resp.AttemptsPerStage[string(stage)] += len(attempts)
			for _, rec := range attempts {
				switch rec.State {
				case types.StateSucceeded:
					resp.Succeeded++
				case types.StateFailed:
					resp.Failed++
				case types.StateRunning:
					resp.Running++
				}
				if rec.Superseded {
					resp.Superseded++
				}
			}
		}

		audits, err := r.ledger.AuditRecords(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("read audit records for %s: %w", date, err)
		}
		if len(audits) == 0 {
			continue
		}
		// Count only the newest audit per date so repeated audits of the same
		// discrepancies don't inflate the totals.
		for _, f := range audits[len(audits)-1].Findings {
			resp.FindingsByKind[string(f.Kind)]++
		}
	}

	if r.items != nil {
		items, err := r.items.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		resp.ItemsTotal = len(items)
		for _, item := range items {
			switch item.Status {
			case types.ItemAdmitted:
				resp.ItemsAdmitted++
			case types.ItemRejected:
				resp.ItemsRejected++
			}
		}
	}

	return resp, nil
}

func finishedAt(rec types.RunRecord) *time.Time {
	if rec.FinishedAt.IsZero() {
		return nil
	}
	t := rec.FinishedAt
	return &t
}
