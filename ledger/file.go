package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/seamline-io/conveyor/iox"
	"github.com/seamline-io/conveyor/types"
)

// File is a file-backed Ledger. Attempt records are msgpack documents laid
// out under partitioned paths:
//
//	<root>/ledger/date=<run_date>/stage=<stage>/attempt-<n>.mp
//	<root>/audit/date=<run_date>/audit-<n>.mp
//
// Each write is temp-file-plus-rename, so a crash never leaves a torn
// record. A per-(date, stage) mutex serializes Begin/Finish within the
// process; the file ledger assumes a single conveyor process owns the root.
type File struct {
	root string
	now  func() time.Time

	mu    sync.Mutex // guards locks map
	locks map[string]*sync.Mutex
}

// OpenFile opens (or initializes) a file ledger rooted at dir.
func OpenFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file ledger requires a root directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file ledger: mkdir %s: %w", dir, err)
	}
	return &File{
		root:  dir,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// SetClock overrides the clock. Test hook.
func (f *File) SetClock(now func() time.Time) { f.now = now }

// Begin implements Ledger.
func (f *File) Begin(_ context.Context, date types.RunDate, stage types.Stage, staleAfter time.Duration, meta BeginMeta) (types.RunRecord, error) {
	lock := f.pairLock(date, stage)
	lock.Lock()
	defer lock.Unlock()

	attempts, err := f.readAttempts(date, stage)
	if err != nil {
		return types.RunRecord{}, err
	}

	created, expired, err := beginAttempt(attempts, date, stage, f.now(), staleAfter, meta)
	if err != nil {
		return types.RunRecord{}, err
	}
	for _, failed := range expired {
		if err := f.writeAttempt(failed); err != nil {
			return types.RunRecord{}, err
		}
	}
	if err := f.writeAttempt(created); err != nil {
		return types.RunRecord{}, err
	}
	return created, nil
}

// Finish implements Ledger.
func (f *File) Finish(_ context.Context, date types.RunDate, stage types.Stage, attempt int, state types.RunState, cause string, refs []types.ArtifactRef) (types.RunRecord, error) {
	lock := f.pairLock(date, stage)
	lock.Lock()
	defer lock.Unlock()

	attempts, err := f.readAttempts(date, stage)
	if err != nil {
		return types.RunRecord{}, err
	}

	done, superseded, err := finishAttempt(attempts, attempt, state, cause, refs, f.now())
	if err != nil {
		return types.RunRecord{}, err
	}
	for _, old := range superseded {
		if err := f.writeAttempt(old); err != nil {
			return types.RunRecord{}, err
		}
	}
	if err := f.writeAttempt(done); err != nil {
		return types.RunRecord{}, err
	}
	return done, nil
}

// AppendArtifactRefs implements Ledger.
func (f *File) AppendArtifactRefs(_ context.Context, date types.RunDate, stage types.Stage, attempt int, refs ...types.ArtifactRef) (types.RunRecord, error) {
	lock := f.pairLock(date, stage)
	lock.Lock()
	defer lock.Unlock()

	attempts, err := f.readAttempts(date, stage)
	if err != nil {
		return types.RunRecord{}, err
	}
	updated, err := appendRefs(attempts, attempt, refs)
	if err != nil {
		return types.RunRecord{}, err
	}
	if err := f.writeAttempt(updated); err != nil {
		return types.RunRecord{}, err
	}
	return updated, nil
}

// Attempts implements Ledger.
func (f *File) Attempts(_ context.Context, date types.RunDate, stage types.Stage) ([]types.RunRecord, error) {
	lock := f.pairLock(date, stage)
	lock.Lock()
	defer lock.Unlock()
	return f.readAttempts(date, stage)
}

// Dates implements Ledger.
func (f *File) Dates(_ context.Context) ([]types.RunDate, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "ledger"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file ledger: list dates: %w", err)
	}

	var dates []types.RunDate
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "date=") {
			continue
		}
		d := types.RunDate(strings.TrimPrefix(e.Name(), "date="))
		if d.Valid() {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates, nil
}

// AppendAudit implements Ledger.
func (f *File) AppendAudit(_ context.Context, rec types.AuditRecord) (types.AuditRecord, error) {
	lock := f.pairLock(rec.RunDate, "audit-record")
	lock.Lock()
	defer lock.Unlock()

	existing, err := f.readAudits(rec.RunDate)
	if err != nil {
		return types.AuditRecord{}, err
	}
	rec.Seq = len(existing) + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = f.now()
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("file ledger: marshal audit: %w", err)
	}
	path := filepath.Join(f.auditDir(rec.RunDate), fmt.Sprintf("audit-%04d.mp", rec.Seq))
	if err := iox.WriteFileAtomic(path, data, 0o644); err != nil {
		return types.AuditRecord{}, fmt.Errorf("file ledger: write audit: %w", err)
	}
	return rec, nil
}

// AuditRecords implements Ledger.
func (f *File) AuditRecords(_ context.Context, date types.RunDate) ([]types.AuditRecord, error) {
	lock := f.pairLock(date, "audit-record")
	lock.Lock()
	defer lock.Unlock()
	return f.readAudits(date)
}

// Close implements Ledger. All writes are already durable.
func (f *File) Close() error { return nil }

func (f *File) pairLock(date types.RunDate, stage types.Stage) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(date, stage)
	if f.locks[key] == nil {
		f.locks[key] = &sync.Mutex{}
	}
	return f.locks[key]
}

func (f *File) stageDir(date types.RunDate, stage types.Stage) string {
	return filepath.Join(f.root, "ledger", "date="+string(date), "stage="+string(stage))
}

func (f *File) auditDir(date types.RunDate) string {
	return filepath.Join(f.root, "audit", "date="+string(date))
}

func (f *File) writeAttempt(rec types.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("file ledger: %w", err)
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("file ledger: marshal attempt: %w", err)
	}
	path := filepath.Join(f.stageDir(rec.RunDate, rec.Stage), fmt.Sprintf("attempt-%04d.mp", rec.AttemptID))
	if err := iox.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("file ledger: write attempt: %w", err)
	}
	return nil
}

func (f *File) readAttempts(date types.RunDate, stage types.Stage) ([]types.RunRecord, error) {
	dir := f.stageDir(date, stage)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file ledger: read %s: %w", dir, err)
	}

	var attempts []types.RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("file ledger: read %s: %w", e.Name(), err)
		}
		var rec types.RunRecord
		if err := msgpack.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("file ledger: corrupt attempt %s: %w", e.Name(), err)
		}
		attempts = append(attempts, rec)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptID < attempts[j].AttemptID })
	return attempts, nil
}

func (f *File) readAudits(date types.RunDate) ([]types.AuditRecord, error) {
	dir := f.auditDir(date)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file ledger: read %s: %w", dir, err)
	}

	var out []types.AuditRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("file ledger: read %s: %w", e.Name(), err)
		}
		var rec types.AuditRecord
		if err := msgpack.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("file ledger: corrupt audit %s: %w", e.Name(), err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Verify File implements the ledger interface.
var _ Ledger = (*File)(nil)
