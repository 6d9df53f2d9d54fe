package storage

import (
	"context"
	"sync"
)

// DefaultQuota is the quota used when none is configured (5 MiB).
const DefaultQuota int64 = 5 << 20

// Memory is an in-process Backend with a byte quota. It is used where no
// external store is configured and in tests.
type Memory struct {
	mu    sync.Mutex
	data  map[string]string
	used  int64
	quota int64
}

// NewMemory creates a Memory backend. A quota <= 0 selects DefaultQuota.
func NewMemory(quota int64) *Memory {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Memory{
		data:  make(map[string]string),
		quota: quota,
	}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old int64
	if prev, ok := m.data[key]; ok {
		old = entrySize(key, prev)
	}
	size := entrySize(key, value)

	if m.used-old+size > m.quota {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.used += size - old
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.data[key]; ok {
		m.used -= entrySize(key, prev)
		delete(m.data, key)
	}
	return nil
}

// Keys implements Backend.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Usage implements Sizer.
func (m *Memory) Usage(_ context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, m.quota, nil
}
