package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seamline-io/conveyor/types"
)

// Memory is an in-memory Ledger for tests and ephemeral runs.
type Memory struct {
	mu       sync.Mutex
	attempts map[string][]types.RunRecord // keyed by date/stage
	audits   map[types.RunDate][]types.AuditRecord
	now      func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		attempts: make(map[string][]types.RunRecord),
		audits:   make(map[types.RunDate][]types.AuditRecord),
		now:      time.Now,
	}
}

// SetClock overrides the clock. Test hook.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func pairKey(date types.RunDate, stage types.Stage) string {
	return string(date) + "/" + string(stage)
}

// Begin implements Ledger.
func (m *Memory) Begin(_ context.Context, date types.RunDate, stage types.Stage, staleAfter time.Duration, meta BeginMeta) (types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(date, stage)
	created, expired, err := beginAttempt(m.attempts[key], date, stage, m.now(), staleAfter, meta)
	if err != nil {
		return types.RunRecord{}, err
	}
	for _, failed := range expired {
		m.replaceLocked(key, failed)
	}
	m.attempts[key] = append(m.attempts[key], created)
	return created, nil
}

// Finish implements Ledger.
func (m *Memory) Finish(_ context.Context, date types.RunDate, stage types.Stage, attempt int, state types.RunState, cause string, refs []types.ArtifactRef) (types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(date, stage)
	done, superseded, err := finishAttempt(m.attempts[key], attempt, state, cause, refs, m.now())
	if err != nil {
		return types.RunRecord{}, err
	}
	for _, old := range superseded {
		m.replaceLocked(key, old)
	}
	m.replaceLocked(key, done)
	return done, nil
}

// AppendArtifactRefs implements Ledger.
func (m *Memory) AppendArtifactRefs(_ context.Context, date types.RunDate, stage types.Stage, attempt int, refs ...types.ArtifactRef) (types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(date, stage)
	updated, err := appendRefs(m.attempts[key], attempt, refs)
	if err != nil {
		return types.RunRecord{}, err
	}
	m.replaceLocked(key, updated)
	return updated, nil
}

// Attempts implements Ledger.
func (m *Memory) Attempts(_ context.Context, date types.RunDate, stage types.Stage) ([]types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.attempts[pairKey(date, stage)]
	out := make([]types.RunRecord, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptID < out[j].AttemptID })
	return out, nil
}

// Dates implements Ledger.
func (m *Memory) Dates(_ context.Context) ([]types.RunDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[types.RunDate]bool)
	for _, recs := range m.attempts {
		for _, rec := range recs {
			seen[rec.RunDate] = true
		}
	}
	dates := make([]types.RunDate, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates, nil
}

// AppendAudit implements Ledger.
func (m *Memory) AppendAudit(_ context.Context, rec types.AuditRecord) (types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Seq = len(m.audits[rec.RunDate]) + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.audits[rec.RunDate] = append(m.audits[rec.RunDate], rec)
	return rec, nil
}

// AuditRecords implements Ledger.
func (m *Memory) AuditRecords(_ context.Context, date types.RunDate) ([]types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.audits[date]
	out := make([]types.AuditRecord, len(src))
	copy(out, src)
	return out, nil
}

// Close implements Ledger.
func (m *Memory) Close() error { return nil }

// replaceLocked swaps the stored record matching rec's attempt id.
func (m *Memory) replaceLocked(key string, rec types.RunRecord) {
	recs := m.attempts[key]
	for i := range recs {
		if recs[i].AttemptID == rec.AttemptID {
			recs[i] = rec
			return
		}
	}
}

// Verify Memory implements the ledger interface.
var _ Ledger = (*Memory)(nil)
