package storage

import (
	"context"
	"sync"

	"ratekeeper/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-process deployments
// where losing limiter state on restart is acceptable.
type MemoryStorage struct {
	mu        sync.RWMutex
	namespace string
	records   map[string]*models.StateRecord
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		namespace: config.namespace(),
		records:   make(map[string]*models.StateRecord),
	}, nil
}

// Get returns a copy of the record stored for key
func (m *MemoryStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[key]
	if !exists {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Put stores a copy of record
func (m *MemoryStorage) Put(ctx context.Context, record *models.StateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.Key] = record.Clone()
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

// List returns copies of every stored record
func (m *MemoryStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*models.StateRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record.Clone())
	}
	return records, nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*models.StateRecord)
	return nil
}
