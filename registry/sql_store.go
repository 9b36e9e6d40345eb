package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentrelay/internal/database"
	"github.com/BaSui01/agentrelay/types"
)

// agentRecordRow 是 agent_records 表的 GORM 模型
type agentRecordRow struct {
	Name         string `gorm:"primaryKey;size:64"`
	Path         string `gorm:"type:text"`
	DialoguePort int    `gorm:"not null"`
	LogicPort    int    `gorm:"not null"`
	DialoguePID  *int
	LogicPID     *int
	Status       string `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 指定表名
func (agentRecordRow) TableName() string { return "agent_records" }

func rowFromRecord(rec *types.AgentRecord) *agentRecordRow {
	c := rec.Clone()
	return &agentRecordRow{
		Name:         c.Name,
		Path:         c.Path,
		DialoguePort: c.DialoguePort,
		LogicPort:    c.LogicPort,
		DialoguePID:  c.DialoguePID,
		LogicPID:     c.LogicPID,
		Status:       string(c.Status),
	}
}

func (r *agentRecordRow) record() *types.AgentRecord {
	return &types.AgentRecord{
		Name:         r.Name,
		Path:         r.Path,
		DialoguePort: r.DialoguePort,
		LogicPort:    r.LogicPort,
		DialoguePID:  r.DialoguePID,
		LogicPID:     r.LogicPID,
		Status:       types.AgentStatus(r.Status),
	}
}

// SQLStore 是基于 GORM 的注册表实现（SQLite / PostgreSQL）。
// 写操作在事务中执行；进程内互斥锁串行化本进程的写入，PostgreSQL 额外使用行锁。
type SQLStore struct {
	pool       *database.PoolManager
	mu         sync.Mutex
	maxRetries int
	logger     *zap.Logger
}

// NewSQLStore 创建 SQL 注册表并自动迁移表结构
func NewSQLStore(pool *database.PoolManager, maxRetries int, logger *zap.Logger) (*SQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil database pool", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if err := pool.DB().AutoMigrate(&agentRecordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate agent_records: %w", err)
	}
	return &SQLStore{
		pool:       pool,
		maxRetries: maxRetries,
		logger:     logger.With(zap.String("component", "sql_registry")),
	}, nil
}

// Get 查询单条记录
func (s *SQLStore) Get(ctx context.Context, name string) (*types.AgentRecord, error) {
	var row agentRecordRow
	err := s.pool.DB().WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return row.record(), nil
}

// Create 在事务内检查名称与端口后插入
func (s *SQLStore) Create(ctx context.Context, rec *types.AgentRecord) error {
	if rec == nil || rec.Name == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		current, err := loadAll(s.lock(tx))
		if err != nil {
			return err
		}
		if err := checkCreate(current, rec); err != nil {
			return err
		}
		return tx.Create(rowFromRecord(rec)).Error
	})
}

// Update 在事务内执行 read-modify-write
func (s *SQLStore) Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *types.AgentRecord
	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		var row agentRecordRow
		err := s.lock(tx).Where("name = ?", name).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := applyMutator(row.record(), fn)
		if err != nil {
			return err
		}
		updated := rowFromRecord(next)
		updated.CreatedAt = row.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List 返回全部记录
func (s *SQLStore) List(ctx context.Context) (map[string]*types.AgentRecord, error) {
	out, err := loadAll(s.pool.DB().WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return out, nil
}

// Ping 检查数据库连接
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

// lock 在 PostgreSQL 上追加 FOR UPDATE 行锁；SQLite 以单连接串行化写事务
func (s *SQLStore) lock(tx *gorm.DB) *gorm.DB {
	if s.pool.Dialect() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func loadAll(db *gorm.DB) (map[string]*types.AgentRecord, error) {
	var rows []agentRecordRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*types.AgentRecord, len(rows))
	for i := range rows {
		out[rows[i].Name] = rows[i].record()
	}
	return out, nil
}
