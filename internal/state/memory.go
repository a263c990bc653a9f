package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryRepository is an in-memory Repository for tests and ephemeral
// runs. The snapshot round-trips through JSON on save so callers see
// the same value shapes a persistent backend would return.
type MemoryRepository struct {
	mu  sync.Mutex
	doc []byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return NewSnapshot(), nil
	}
	snap := NewSnapshot()
	if err := json.Unmarshal(r.doc, snap); err != nil {
		return nil, fmt.Errorf("decoding state document: %w", err)
	}
	return snap, nil
}

func (r *MemoryRepository) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding state document: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = data
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
