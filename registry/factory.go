package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/database"
)

// NewStore creates a Store based on the configuration
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch StoreType(cfg.Registry.Type) {
	case StoreTypeFile, "":
		return NewFileStore(cfg.Registry.Path, logger)

	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, RedisStoreOptions{
			KeyPrefix:  cfg.Registry.KeyPrefix,
			MaxRetries: cfg.Registry.MaxRetries,
		}, logger), nil

	case StoreTypeSQL:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool, cfg.Registry.MaxRetries, logger)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported registry type: %s", cfg.Registry.Type)
	}
}
