// Package registry provides the persisted agent registry: a mapping from agent
// name to its AgentRecord, stored as a complete snapshot.
//
// Supported backends:
// - File: one JSON document, written atomically (default)
// - Redis: one hash, updated with optimistic transactions
// - SQL: one gorm table, updated inside transactions
// - Memory: for development and testing
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/agentrelay/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("agent not found")
	ErrAlreadyExists = errors.New("agent already exists")
	ErrPortConflict  = errors.New("port already in use")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMemory StoreType = "memory"
)

// Mutator changes a record in place. Returning an error aborts the update.
type Mutator func(rec *types.AgentRecord) error

// Store is the agent registry.
//
// All mutations are serialized per store; concurrent Update calls never lose
// an update. Returned records are copies.
type Store interface {
	// Get returns the record for name or ErrNotFound.
	Get(ctx context.Context, name string) (*types.AgentRecord, error)

	// Create inserts a new record. It fails with ErrAlreadyExists when the name
	// is taken and ErrPortConflict when either port is used by another record.
	Create(ctx context.Context, rec *types.AgentRecord) error

	// Update applies fn to the current record and persists the result.
	Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error)

	// List returns the full snapshot.
	List(ctx context.Context) (map[string]*types.AgentRecord, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error
}

// PortConflictError names the port that collided and its owner.
type PortConflictError struct {
	Port  int
	Owner string
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d already used by agent %q", e.Port, e.Owner)
}

func (e *PortConflictError) Unwrap() error { return ErrPortConflict }

// checkCreate validates rec against the current snapshot.
func checkCreate(current map[string]*types.AgentRecord, rec *types.AgentRecord) error {
	if rec == nil || rec.Name == "" {
		return ErrInvalidInput
	}
	if _, ok := current[rec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Name)
	}
	if rec.DialoguePort == rec.LogicPort {
		return &PortConflictError{Port: rec.LogicPort, Owner: rec.Name}
	}
	for name, other := range current {
		for _, p := range []int{rec.DialoguePort, rec.LogicPort} {
			if other.UsesPort(p) {
				return &PortConflictError{Port: p, Owner: name}
			}
		}
	}
	return nil
}

// applyMutator runs fn on a copy of rec and pins the identity fields.
func applyMutator(rec *types.AgentRecord, fn Mutator) (*types.AgentRecord, error) {
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Name = rec.Name
	return next, nil
}

func cloneSnapshot(src map[string]*types.AgentRecord) map[string]*types.AgentRecord {
	out := make(map[string]*types.AgentRecord, len(src))
	for name, rec := range src {
		out[name] = rec.Clone()
	}
	return out
}

// DecodeSnapshot parses a persisted registry document.
func DecodeSnapshot(data []byte) (map[string]*types.AgentRecord, error) {
	var records map[string]*types.AgentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = make(map[string]*types.AgentRecord)
	}
	for name, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("agent %q: null record", name)
		}
		rec.Name = name
	}
	return records, nil
}

// EncodeSnapshot renders a registry document.
func EncodeSnapshot(records map[string]*types.AgentRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

func decodeRecord(name string, data []byte) (*types.AgentRecord, error) {
	var rec types.AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode agent %q: %w", name, err)
	}
	rec.Name = name
	return &rec, nil
}
