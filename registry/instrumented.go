package registry

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentrelay/types"
)

// Observer receives registry operation outcomes, e.g. a metrics collector.
type Observer interface {
	ObserveRegistryOp(operation, outcome string, duration time.Duration)
}

// InstrumentedStore reports every call of the wrapped Store to an Observer.
type InstrumentedStore struct {
	next     Store
	observer Observer
}

// Instrument wraps s. A nil observer returns s unchanged.
func Instrument(s Store, observer Observer) Store {
	if observer == nil {
		return s
	}
	return &InstrumentedStore{next: s, observer: observer}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrPortConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	s.observer.ObserveRegistryOp(op, outcome, time.Since(start))
}

func (s *InstrumentedStore) Get(ctx context.Context, name string) (*types.AgentRecord, error) {
	start := time.Now()
	rec, err := s.next.Get(ctx, name)
	s.observe("get", start, err)
	return rec, err
}

func (s *InstrumentedStore) Create(ctx context.Context, rec *types.AgentRecord) error {
	start := time.Now()
	err := s.next.Create(ctx, rec)
	s.observe("create", start, err)
	return err
}

func (s *InstrumentedStore) Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error) {
	start := time.Now()
	rec, err := s.next.Update(ctx, name, fn)
	s.observe("update", start, err)
	return rec, err
}

func (s *InstrumentedStore) List(ctx context.Context) (map[string]*types.AgentRecord, error) {
	start := time.Now()
	all, err := s.next.List(ctx)
	s.observe("list", start, err)
	return all, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
