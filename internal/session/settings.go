package session

import (
	"context"
	"sync"
)

// SelectedModelKey is the settings key under which the chosen model is persisted.
const SelectedModelKey = "selectedModel"

// Settings is a small durable key-value store scoped to one installation.
type Settings interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// MemorySettings keeps settings in memory for the lifetime of the process.
type MemorySettings struct {
	mu     sync.Mutex
	values map[string]string
}

// Setting implements Settings.
func (m *MemorySettings) Setting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// SetSetting implements Settings.
func (m *MemorySettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}
