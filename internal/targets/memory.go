package targets

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs dry runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	rows   []Snapshot
	writes int
}

// NewMemoryStore creates a store seeded with rows.
func NewMemoryStore(rows ...Snapshot) *MemoryStore {
	m := &MemoryStore{}
	m.rows = cloneAll(rows)
	return m
}

// Read implements Store.
func (m *MemoryStore) Read(ctx context.Context) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.rows), nil
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, rows []Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = cloneAll(rows)
	m.writes++
	return nil
}

// Writes returns how many times Write succeeded.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func cloneAll(rows []Snapshot) []Snapshot {
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
