package risk

import (
	"context"
	"sync"
)

// MemorySignals is an in-process SignalSource fed through Set and Clear.
type MemorySignals struct {
	mu      sync.RWMutex
	signals map[string][]string
}

func NewMemorySignals() *MemorySignals {
	return &MemorySignals{signals: make(map[string][]string)}
}

func (m *MemorySignals) Set(targetID string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[targetID] = append([]string(nil), tags...)
}

func (m *MemorySignals) Clear(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, targetID)
}

func (m *MemorySignals) Signals(_ context.Context, targetID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.signals[targetID]...), nil
}
