package storage

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Load when no value is stored under key.
	ErrNotFound = errors.New("storage: not found")
	// ErrStale is returned by Save when the stored version is newer.
	ErrStale = errors.New("storage: stored value is newer")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// SecureStorage is a versioned key/value store for snapshot persistence.
type SecureStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	// Save stores value under key unless the stored version is greater
	// than version. Equal versions overwrite.
	Save(ctx context.Context, key string, version int64, value []byte) error
	Delete(ctx context.Context, key string) error
}

type memoryRecord struct {
	version int64
	value   []byte
}

// Memory is an in-process SecureStorage.
type Memory struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

func (m *Memory) Save(_ context.Context, key string, version int64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok && rec.version > version {
		return ErrStale
	}
	m.records[key] = memoryRecord{version: version, value: append([]byte(nil), value...)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
