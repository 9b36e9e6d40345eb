package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/database"
	"github.com/BaSui01/agentrelay/types"
)

func newRecord(name string, dialogue, logic int) *types.AgentRecord {
	return &types.AgentRecord{
		Name:         name,
		Path:         "agents/" + name,
		DialoguePort: dialogue,
		LogicPort:    logic,
		Status:       types.StatusCreated,
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newRecord("alpha", 5005, 5055)))

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, "alpha", got.Name)
		assert.Equal(t, 5005, got.DialoguePort)
		assert.Equal(t, 5055, got.LogicPort)
		assert.Nil(t, got.DialoguePID)
		assert.Nil(t, got.LogicPID)
		assert.Equal(t, types.StatusCreated, got.Status)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateNameLeavesExistingUntouched", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newRecord("alpha", 5005, 5055)))

		err := store.Create(ctx, newRecord("alpha", 6005, 6055))
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, 5005, got.DialoguePort)
	})

	t.Run("PortConflict", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newRecord("alpha", 5005, 5055)))

		err := store.Create(ctx, newRecord("beta", 5055, 5007))
		assert.ErrorIs(t, err, ErrPortConflict)
		var pc *PortConflictError
		require.True(t, errors.As(err, &pc))
		assert.Equal(t, 5055, pc.Port)
		assert.Equal(t, "alpha", pc.Owner)

		assert.ErrorIs(t, store.Create(ctx, newRecord("gamma", 7000, 7000)), ErrPortConflict)

		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("UpdatePersistsAndPinsName", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newRecord("alpha", 5005, 5055)))

		updated, err := store.Update(ctx, "alpha", func(rec *types.AgentRecord) error {
			rec.Name = "renamed"
			rec.DialoguePID = types.PID(4242)
			rec.Status = types.StatusRunning
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "alpha", updated.Name)

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		require.NotNil(t, got.DialoguePID)
		assert.Equal(t, 4242, *got.DialoguePID)
		assert.Equal(t, types.StatusRunning, got.Status)

		_, err = store.Get(ctx, "renamed")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateClearsPID", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord("alpha", 5005, 5055)
		rec.LogicPID = types.PID(11)
		require.NoError(t, store.Create(ctx, rec))

		_, err := store.Update(ctx, "alpha", func(rec *types.AgentRecord) error {
			rec.LogicPID = nil
			return nil
		})
		require.NoError(t, err)

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		assert.Nil(t, got.LogicPID)
	})

	t.Run("MutatorErrorAborts", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newRecord("alpha", 5005, 5055)))

		boom := errors.New("boom")
		_, err := store.Update(ctx, "alpha", func(rec *types.AgentRecord) error {
			rec.Status = types.StatusRunning
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, types.StatusCreated, got.Status)
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Update(ctx, "ghost", func(rec *types.AgentRecord) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord("alpha", 5005, 5055)
		require.NoError(t, store.Create(ctx, rec))
		rec.Status = types.StatusRunning

		got, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		got.Status = types.StatusStopped

		all, err := store.List(ctx)
		require.NoError(t, err)
		all["alpha"].DialoguePort = 1

		again, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, types.StatusCreated, again.Status)
		assert.Equal(t, 5005, again.DialoguePort)
	})

	t.Run("ConcurrentUpdatesNeverLoseWrites", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord("counter", 5005, 5055)
		rec.LogicPID = types.PID(0)
		require.NoError(t, store.Create(ctx, rec))

		const writers = 16
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "counter", func(rec *types.AgentRecord) error {
					rec.LogicPID = types.PID(*rec.LogicPID + 1)
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, writers, *got.LogicPID)
	})

	t.Run("PingAndClose", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ClosedRejectsCalls(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrStoreClosed)
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "agents.json"), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		cfg := config.DefaultDatabaseConfig()
		cfg.Driver = "sqlite"
		cfg.Name = filepath.Join(t.TempDir(), "registry.db")

		pool, err := database.Open(cfg, zap.NewNop())
		require.NoError(t, err)
		s, err := NewSQLStore(pool, 5, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewStore_Factory(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Registry.Type = "memory"
	s, err := NewStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Registry.Type = "file"
	cfg.Registry.Path = filepath.Join(t.TempDir(), "nested", "agents.json")
	s, err = NewStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	cfg.Registry.Type = "sql"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "registry.db")
	s, err = NewStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	cfg.Registry.Type = "etcd"
	_, err = NewStore(cfg, nil)
	assert.Error(t, err)
}
