package registry

import (
	"context"
	"sync"

	"github.com/BaSui01/agentrelay/types"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing.
type MemoryStore struct {
	records map[string]*types.AgentRecord
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryStore creates a new in-memory registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.AgentRecord)}
}

// Get returns a copy of the record for name.
func (s *MemoryStore) Get(ctx context.Context, name string) (*types.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Create inserts a new record.
func (s *MemoryStore) Create(ctx context.Context, rec *types.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := checkCreate(s.records, rec); err != nil {
		return err
	}
	s.records[rec.Name] = rec.Clone()
	return nil
}

// Update applies fn under the write lock.
func (s *MemoryStore) Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyMutator(rec, fn)
	if err != nil {
		return nil, err
	}
	s.records[name] = next
	return next.Clone(), nil
}

// List returns a copy of the snapshot.
func (s *MemoryStore) List(ctx context.Context) (map[string]*types.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return cloneSnapshot(s.records), nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
