// Package ledger defines the Stage Ledger: the durable record of per-date,
// per-stage attempts and their produced-artifact references, plus the
// append-only audit history.
//
// The ledger is the serialization point for the mutual-exclusion invariant:
// for a given (run_date, stage) at most one attempt is running at any time.
// Begin is the compare-and-set that enforces it; a running record older than
// the staleness timeout is presumed crashed, marked failed, and replaced.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/seamline-io/conveyor/types"
)

// Sentinel errors for ledger state checks.
var (
	// ErrBusy: a fresh running attempt already holds the (run_date, stage)
	// slot. Not a failure; the trigger should back off.
	ErrBusy = errors.New("stage ledger: attempt already running")

	// ErrNotFound: no such attempt record.
	ErrNotFound = errors.New("stage ledger: attempt not found")

	// ErrIllegalTransition: the requested state change violates the
	// pending -> running -> {succeeded | failed} machine.
	ErrIllegalTransition = errors.New("stage ledger: illegal state transition")
)

// BeginMeta carries attempt metadata persisted on the new running record.
type BeginMeta struct {
	Mode  string
	Theme string
	Paid  bool
}

// Ledger is the durable stage-attempt record. Implementations must survive
// process restart and serialize Begin/Finish per (run_date, stage).
type Ledger interface {
	// Begin opens a new running attempt for (date, stage), assigning the next
	// attempt id. Returns ErrBusy when a running attempt younger than
	// staleAfter exists. A running attempt older than staleAfter is marked
	// failed (presumed crashed) before the new attempt is created.
	Begin(ctx context.Context, date types.RunDate, stage types.Stage, staleAfter time.Duration, meta BeginMeta) (types.RunRecord, error)

	// Finish moves a running attempt to succeeded or failed. On success any
	// prior non-superseded succeeded record for the pair is marked
	// superseded; its artifacts remain retrievable.
	Finish(ctx context.Context, date types.RunDate, stage types.Stage, attempt int, state types.RunState, cause string, refs []types.ArtifactRef) (types.RunRecord, error)

	// AppendArtifactRefs appends refs to a terminal succeeded attempt, used
	// to record late side-effect completions such as delivery acknowledgments.
	AppendArtifactRefs(ctx context.Context, date types.RunDate, stage types.Stage, attempt int, refs ...types.ArtifactRef) (types.RunRecord, error)

	// Attempts returns all attempts for (date, stage) ordered by attempt id.
	Attempts(ctx context.Context, date types.RunDate, stage types.Stage) ([]types.RunRecord, error)

	// Dates returns every run date with at least one attempt, ascending.
	Dates(ctx context.Context) ([]types.RunDate, error)

	// AppendAudit appends an immutable audit record for its run date,
	// assigning the next sequence number.
	AppendAudit(ctx context.Context, rec types.AuditRecord) (types.AuditRecord, error)

	// AuditRecords returns the audit history for a date ordered by sequence.
	AuditRecords(ctx context.Context, date types.RunDate) ([]types.AuditRecord, error)

	// Close releases ledger resources.
	Close() error
}

// LatestSucceeded returns the newest non-superseded succeeded attempt for
// (date, stage). Shared helper over any Ledger implementation.
func LatestSucceeded(ctx context.Context, l Ledger, date types.RunDate, stage types.Stage) (types.RunRecord, bool, error) {
	attempts, err := l.Attempts(ctx, date, stage)
	if err != nil {
		return types.RunRecord{}, false, err
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].State == types.StateSucceeded && !attempts[i].Superseded {
			return attempts[i], true, nil
		}
	}
	return types.RunRecord{}, false, nil
}

// Latest returns the newest attempt for (date, stage) regardless of state.
func Latest(ctx context.Context, l Ledger, date types.RunDate, stage types.Stage) (types.RunRecord, bool, error) {
	attempts, err := l.Attempts(ctx, date, stage)
	if err != nil {
		return types.RunRecord{}, false, err
	}
	if len(attempts) == 0 {
		return types.RunRecord{}, false, nil
	}
	return attempts[len(attempts)-1], true, nil
}
