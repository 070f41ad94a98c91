package quota

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Records are never evicted.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[memoryKey]int
}

type memoryKey struct {
	identifier string
	date       string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[memoryKey]int)}
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, identifier, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[memoryKey{identifier, date}], nil
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, identifier, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{identifier, date}
	m.counts[k]++
	return m.counts[k], nil
}

// IncrementBelow implements Store.
func (m *MemoryStore) IncrementBelow(_ context.Context, identifier, date string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{identifier, date}
	if m.counts[k] >= limit {
		return m.counts[k], false, nil
	}
	m.counts[k]++
	return m.counts[k], true, nil
}
