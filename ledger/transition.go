package ledger

import (
	"fmt"
	"time"

	"github.com/seamline-io/conveyor/types"
)

// staleCause is recorded on a running attempt presumed crashed.
const staleCause = "presumed crashed: running past staleness timeout"

// beginAttempt computes the ledger mutation for Begin against the current
// attempt list. It returns the new running record plus any stale running
// records that must be persisted as failed first. Both backends call this
// under their per-(date, stage) lock so the check-and-set is atomic.
func beginAttempt(attempts []types.RunRecord, date types.RunDate, stage types.Stage, now time.Time, staleAfter time.Duration, meta BeginMeta) (types.RunRecord, []types.RunRecord, error) {
	var expired []types.RunRecord
	maxID := 0
	for _, rec := range attempts {
		if rec.AttemptID > maxID {
			maxID = rec.AttemptID
		}
		if rec.State != types.StateRunning {
			continue
		}
		if staleAfter > 0 && now.Sub(rec.StartedAt) >= staleAfter {
			failed := rec
			failed.State = types.StateFailed
			failed.Cause = staleCause
			failed.FinishedAt = now
			expired = append(expired, failed)
			continue
		}
		return types.RunRecord{}, nil, fmt.Errorf("%w: %s/%s attempt %d started %s",
			ErrBusy, date, stage, rec.AttemptID, rec.StartedAt.Format(time.RFC3339))
	}

	created := types.RunRecord{
		RunDate:   date,
		Stage:     stage,
		AttemptID: maxID + 1,
		State:     types.StateRunning,
		Mode:      meta.Mode,
		Theme:     meta.Theme,
		Paid:      meta.Paid,
		StartedAt: now,
	}
	return created, expired, nil
}

// finishAttempt computes the ledger mutation for Finish. It returns the
// terminal record plus any previously succeeded records that the new success
// supersedes.
func finishAttempt(attempts []types.RunRecord, attempt int, state types.RunState, cause string, refs []types.ArtifactRef, now time.Time) (types.RunRecord, []types.RunRecord, error) {
	if state != types.StateSucceeded && state != types.StateFailed {
		return types.RunRecord{}, nil, fmt.Errorf("%w: finish to %q", ErrIllegalTransition, state)
	}

	idx := -1
	for i, rec := range attempts {
		if rec.AttemptID == attempt {
			idx = i
			break
		}
	}
	if idx == -1 {
		return types.RunRecord{}, nil, fmt.Errorf("%w: attempt %d", ErrNotFound, attempt)
	}
	if attempts[idx].State != types.StateRunning {
		return types.RunRecord{}, nil, fmt.Errorf("%w: attempt %d is %s, not running",
			ErrIllegalTransition, attempt, attempts[idx].State)
	}

	done := attempts[idx]
	done.State = state
	done.Cause = cause
	done.ArtifactRefs = refs
	done.FinishedAt = now

	var superseded []types.RunRecord
	if state == types.StateSucceeded {
		for _, rec := range attempts {
			if rec.AttemptID != attempt && rec.State == types.StateSucceeded && !rec.Superseded {
				old := rec
				old.Superseded = true
				superseded = append(superseded, old)
			}
		}
	}
	return done, superseded, nil
}

// appendRefs computes the mutation for AppendArtifactRefs.
func appendRefs(attempts []types.RunRecord, attempt int, refs []types.ArtifactRef) (types.RunRecord, error) {
	for _, rec := range attempts {
		if rec.AttemptID != attempt {
			continue
		}
		if rec.State != types.StateSucceeded {
			return types.RunRecord{}, fmt.Errorf("%w: append refs to %s attempt", ErrIllegalTransition, rec.State)
		}
		rec.ArtifactRefs = append(append([]types.ArtifactRef(nil), rec.ArtifactRefs...), refs...)
		return rec, nil
	}
	return types.RunRecord{}, fmt.Errorf("%w: attempt %d", ErrNotFound, attempt)
}
