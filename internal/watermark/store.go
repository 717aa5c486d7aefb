package watermark

import (
	"context"
	"sync"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
)

// Store holds one raw state blob per (integration, action).
type Store interface {
	// Get returns the stored blob. found is false when nothing is stored.
	Get(ctx context.Context, integrationID, actionID string) (blob []byte, found bool, err error)
	// Set replaces the stored blob.
	Set(ctx context.Context, integrationID, actionID string, blob []byte) error
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, integrationID, actionID string) error
	Close() error
}

// Open creates the store selected by settings.
func Open(ctx context.Context, settings conf.WatermarkSettings, log logger.Logger) (Store, error) {
	if log == nil {
		log = GetLogger()
	}

	switch settings.Backend {
	case conf.BackendMemory:
		log.Warn("using in-memory watermark store, state is lost on exit")
		return NewMemoryStore(), nil
	case conf.BackendRedis:
		store, err := NewRedisStore(ctx, settings.Redis.URL, settings.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case conf.BackendSQLite, conf.BackendMySQL:
		store, err := NewGormStore(ctx, settings.Backend, settings.SQL.DSN, log, settings.SQL.SlowQueryThreshold)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Newf("unsupported watermark backend %q", settings.Backend).
			Category(errors.CategoryConfiguration).
			Component("watermark").
			Build()
	}
}

// GetLogger returns the watermark package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("watermark")
}

type memoryKey struct {
	integrationID string
	actionID      string
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[memoryKey][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[memoryKey][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, integrationID, actionID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.state[memoryKey{integrationID, actionID}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, integrationID, actionID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[memoryKey{integrationID, actionID}] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, integrationID, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, memoryKey{integrationID, actionID})
	return nil
}

func (m *MemoryStore) Close() error { return nil }
