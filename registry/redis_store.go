package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/types"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for deployments where several orchestrators share one registry.
// All records live in a single hash; writes use WATCH/MULTI optimistic
// transactions and retry on conflict.
type RedisStore struct {
	client     *redis.Client
	key        string
	maxRetries int
	logger     *zap.Logger
}

// RedisStoreOptions configures a RedisStore
type RedisStoreOptions struct {
	KeyPrefix  string
	MaxRetries int
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, opts RedisStoreOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "agentrelay:"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	return &RedisStore{
		client:     client,
		key:        opts.KeyPrefix + "agents",
		maxRetries: opts.MaxRetries,
		logger:     logger.With(zap.String("component", "redis_registry")),
	}
}

// Get returns the record for name
func (s *RedisStore) Get(ctx context.Context, name string) (*types.AgentRecord, error) {
	data, err := s.client.HGet(ctx, s.key, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return decodeRecord(name, data)
}

// Create inserts a record if neither its name nor its ports are taken
func (s *RedisStore) Create(ctx context.Context, rec *types.AgentRecord) error {
	if rec == nil || rec.Name == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}

	return s.withRetry(ctx, func(tx *redis.Tx) error {
		current, err := s.snapshot(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkCreate(current, rec); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, rec.Name, data)
			return nil
		})
		return err
	})
}

// Update applies fn inside an optimistic transaction
func (s *RedisStore) Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error) {
	var result *types.AgentRecord

	err := s.withRetry(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, s.key, name).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(name, data)
		if err != nil {
			return err
		}
		next, err := applyMutator(rec, fn)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, name, encoded)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns the full snapshot
func (s *RedisStore) List(ctx context.Context) (map[string]*types.AgentRecord, error) {
	return s.snapshot(ctx, s.client)
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) snapshot(ctx context.Context, c redis.Cmdable) (map[string]*types.AgentRecord, error) {
	raw, err := c.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	out := make(map[string]*types.AgentRecord, len(raw))
	for name, data := range raw {
		rec, err := decodeRecord(name, []byte(data))
		if err != nil {
			return nil, err
		}
		out[name] = rec
	}
	return out, nil
}

// withRetry runs fn under WATCH on the registry hash, retrying when another
// writer commits between the read and the EXEC.
func (s *RedisStore) withRetry(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("registry transaction conflict, retrying", zap.Int("attempt", attempt+1))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("registry update: too many concurrent writers after %d attempts", s.maxRetries)
}
