package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/seamline-io/conveyor/types"
)

// Memory is an in-memory Store for tests.
type Memory struct {
	mu      sync.Mutex
	objects map[types.ArtifactRef][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[types.ArtifactRef][]byte)}
}

// Put implements Store. References use a mem:// scheme.
func (m *Memory) Put(_ context.Context, date types.RunDate, stage types.Stage, name string, data []byte) (types.ArtifactRef, error) {
	if err := validateAddress(date, stage, name); err != nil {
		return "", err
	}
	ref := types.ArtifactRef(fmt.Sprintf("mem://date=%s/stage=%s/%s", date, stage, name))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, ref types.ArtifactRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

// Exists implements Store.
func (m *Memory) Exists(_ context.Context, ref types.ArtifactRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[ref]
	return ok, nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, date types.RunDate) ([]types.ArtifactRef, error) {
	prefix := fmt.Sprintf("mem://date=%s/", date)
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []types.ArtifactRef
	for ref := range m.objects {
		if strings.HasPrefix(string(ref), prefix) {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Delete removes an object. Test helper for orphan and dangling-ref setups;
// the production backends never delete.
func (m *Memory) Delete(ref types.ArtifactRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
}

var _ Store = (*Memory)(nil)
