package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/types"
)

// FileStore 是基于单个 JSON 文件的注册表实现，适合单节点部署。
// 内存中保留完整快照，每次变更整体写入临时文件后 rename，读者永远看不到半个文档。
type FileStore struct {
	path    string
	records map[string]*types.AgentRecord // in-memory cache
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewFileStore 打开（或初始化）path 处的注册表文件
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty registry path", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]*types.AgentRecord),
		logger:  logger.With(zap.String("component", "file_registry")),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load registry from disk: %w", err)
	}
	return s, nil
}

// loadFromDisk 装入已有快照；文件缺失视为空注册表，文件损坏时移到 <path>.corrupt
func (s *FileStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	records, err := DecodeSnapshot(data)
	if err != nil {
		aside := s.path + ".corrupt"
		s.logger.Warn("registry file is corrupt, starting empty",
			zap.String("path", s.path),
			zap.String("moved_to", aside),
			zap.Error(err),
		)
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return fmt.Errorf("move corrupt registry aside: %w", rerr)
		}
		return nil
	}

	s.records = records
	s.logger.Debug("registry loaded", zap.Int("agents", len(records)))
	return nil
}

// saveToDisk 原子写: 写入同目录临时文件、fsync 后重命名
func (s *FileStore) saveToDisk(records map[string]*types.AgentRecord) error {
	data, err := EncodeSnapshot(records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Get 返回记录副本
func (s *FileStore) Get(ctx context.Context, name string) (*types.AgentRecord, error) {
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

// Create 插入新记录并持久化
func (s *FileStore) Create(ctx context.Context, rec *types.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := checkCreate(s.records, rec); err != nil {
		return err
	}

	next := cloneSnapshot(s.records)
	next[rec.Name] = rec.Clone()
	if err := s.saveToDisk(next); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	s.records = next
	return nil
}

// Update 在写锁内执行 read-modify-write，持久化失败时内存快照保持不变
func (s *FileStore) Update(ctx context.Context, name string, fn Mutator) (*types.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	updated, err := applyMutator(rec, fn)
	if err != nil {
		return nil, err
	}

	next := make(map[string]*types.AgentRecord, len(s.records))
	for k, v := range s.records {
		next[k] = v
	}
	next[name] = updated
	if err := s.saveToDisk(next); err != nil {
		return nil, fmt.Errorf("persist registry: %w", err)
	}
	s.records = next
	return updated.Clone(), nil
}

// List 返回完整快照的副本
func (s *FileStore) List(ctx context.Context) (map[string]*types.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return cloneSnapshot(s.records), nil
}

// Ping 检查存储是否可用
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// Close 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
