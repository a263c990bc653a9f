// Package state persists orchestrator state as a single versioned
// document: workflow memory, plans, and execution records. Backends
// store the whole document under one key; the store in front adds a
// TTL read cache with write-through semantics.
package state

import (
	"context"
	"fmt"

	"github.com/themislabs/themis/internal/orchestrator"
)

// SingletonKey is the document key every backend stores state under.
const SingletonKey = "singleton"

// Snapshot is the full persisted state document.
type Snapshot struct {
	Memory     map[string]any                           `json:"memory"`
	Plans      map[string]*orchestrator.Plan            `json:"plans"`
	Executions map[string]*orchestrator.ExecutionRecord `json:"executions"`
}

// NewSnapshot returns an empty, fully initialized snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Memory:     map[string]any{},
		Plans:      map[string]*orchestrator.Plan{},
		Executions: map[string]*orchestrator.ExecutionRecord{},
	}
}

// normalize repairs nil maps after deserialization.
func (s *Snapshot) normalize() {
	if s.Memory == nil {
		s.Memory = map[string]any{}
	}
	if s.Plans == nil {
		s.Plans = map[string]*orchestrator.Plan{}
	}
	if s.Executions == nil {
		s.Executions = map[string]*orchestrator.ExecutionRecord{}
	}
}

// clone returns a copy with fresh top-level maps. Write paths stage
// their change on a clone so a failed backend save leaves the cached
// snapshot exactly as the last durable write produced it.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Memory:     make(map[string]any, len(s.Memory)),
		Plans:      make(map[string]*orchestrator.Plan, len(s.Plans)),
		Executions: make(map[string]*orchestrator.ExecutionRecord, len(s.Executions)),
	}
	for k, v := range s.Memory {
		next.Memory[k] = v
	}
	for k, v := range s.Plans {
		next.Plans[k] = v
	}
	for k, v := range s.Executions {
		next.Executions[k] = v
	}
	return next
}

// Repository loads and saves the state document. Load on an empty
// backend returns a fresh snapshot, not an error.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("state storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
