package activity

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Tracker for a single process.
type InMemory struct {
	mu   sync.RWMutex
	now  func() time.Time
	last map[string]time.Time
}

// NewInMemory returns an empty in-memory tracker.
func NewInMemory(opts ...Option) *InMemory {
	o := buildOptions(opts)
	return &InMemory{now: o.now, last: make(map[string]time.Time)}
}

// Touch implements Tracker.Touch.
func (m *InMemory) Touch(ctx context.Context, participant string) error {
	if participant == "" {
		return ErrEmptyParticipant
	}
	m.mu.Lock()
	m.last[participant] = m.now()
	m.mu.Unlock()
	return nil
}

// Last implements Tracker.Last.
func (m *InMemory) Last(ctx context.Context, participant string) (time.Time, bool, error) {
	m.mu.RLock()
	t, ok := m.last[participant]
	m.mu.RUnlock()
	return t, ok, nil
}

// Forget implements Tracker.Forget.
func (m *InMemory) Forget(ctx context.Context, participant string) error {
	m.mu.Lock()
	delete(m.last, participant)
	m.mu.Unlock()
	return nil
}

// All implements Tracker.All.
func (m *InMemory) All(ctx context.Context) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out, nil
}
