// Package file implements a file-backed item store.
//
// The whole key set is held in memory and snapshotted to a single msgpack
// file with write-to-temp-then-rename so a crash mid-write never corrupts
// the store. A process-wide mutex serializes inserts; this store is safe
// across goroutines but assumes a single conveyor process owns the file.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// DefaultMaxKeys bounds dedup history growth; oldest keys are evicted first.
const DefaultMaxKeys = 5000

// snapshot is the on-disk layout.
type snapshot struct {
	// Order preserves insertion order for bounded eviction.
	Order []string              `msgpack:"order"`
	Items map[string]types.Item `msgpack:"items"`
}

// Store is a file-backed ItemStore.
type Store struct {
	mu      sync.Mutex
	path    string
	maxKeys int
	order   []string
	items   map[string]types.Item
}

// Open loads (or initializes) the item store at path. maxKeys <= 0 uses
// DefaultMaxKeys.
func Open(path string, maxKeys int) (*Store, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	s := &Store{
		path:    path,
		maxKeys: maxKeys,
		items:   make(map[string]types.Item),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("item store: read %s: %w", path, err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("item store: corrupt snapshot %s: %w", path, err)
	}
	if snap.Items != nil {
		s.items = snap.Items
		s.order = snap.Order
	}
	return s, nil
}

// PutIfAbsent implements store.ItemStore.
func (s *Store) PutIfAbsent(_ context.Context, item types.Item) (bool, error) {
	if item.DedupKey == "" {
		return false, store.ErrMissingDedupKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.DedupKey]; exists {
		return false, nil
	}

	s.items[item.DedupKey] = item
	s.order = append(s.order, item.DedupKey)
	s.evictLocked()

	if err := s.persistLocked(); err != nil {
		// Roll back so a failed persist does not hand out a phantom win.
		delete(s.items, item.DedupKey)
		s.order = s.order[:len(s.order)-1]
		return false, err
	}
	return true, nil
}

// Get implements store.ItemStore.
func (s *Store) Get(_ context.Context, dedupKey string) (types.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[dedupKey]
	return item, ok, nil
}

// List implements store.ItemStore.
func (s *Store) List(_ context.Context) ([]types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Item, 0, len(s.items))
	for _, key := range s.order {
		if item, ok := s.items[key]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Close implements store.ItemStore. The snapshot is already durable after
// every insert, so Close has nothing to flush.
func (s *Store) Close() error { return nil }

// evictLocked drops the oldest keys past the bound.
func (s *Store) evictLocked() {
	for len(s.order) > s.maxKeys {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
}

// persistLocked writes the snapshot atomically (temp file + rename).
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("item store: mkdir: %w", err)
	}

	data, err := msgpack.Marshal(snapshot{Order: s.order, Items: s.items})
	if err != nil {
		return fmt.Errorf("item store: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".items-*.tmp")
	if err != nil {
		return fmt.Errorf("item store: temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("item store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("item store: close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("item store: rename: %w", err)
	}
	return nil
}

// Verify Store implements the item store interface.
var _ store.ItemStore = (*Store)(nil)
