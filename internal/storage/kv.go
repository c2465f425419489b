package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by KeyValue.Get when the key holds no record.
var ErrNotFound = errors.New("record not found")

// KeyValue is durable string storage keyed by string. Remove of an absent key succeeds.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Memory is an in-process KeyValue.
type Memory struct {
	mu      sync.RWMutex
	records map[string]string
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.records[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Keys lists stored keys, for diagnostics and tests.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	return keys
}
