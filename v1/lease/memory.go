package lease

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store for a single process.
type InMemory struct {
	mu  sync.Mutex
	now func() time.Time
	cur *Lease
}

// NewInMemory returns an empty in-memory lease store.
func NewInMemory(opts ...Option) *InMemory {
	o := buildOptions("", opts)
	return &InMemory{now: o.now}
}

// TryAcquire implements Store.TryAcquire.
func (m *InMemory) TryAcquire(ctx context.Context, participant string, ttl time.Duration) (Outcome, error) {
	if err := validate(participant, ttl); err != nil {
		return Denied, err
	}
	if err := ctx.Err(); err != nil {
		return Denied, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.cur != nil && !m.cur.Expired(now) {
		if m.cur.Holder != participant {
			return Denied, nil
		}
		m.cur.AcquiredAt = now
		m.cur.TTL = ttl
		return Renewed, nil
	}
	token, err := newToken()
	if err != nil {
		return Denied, err
	}
	m.cur = &Lease{Holder: participant, Token: token, AcquiredAt: now, TTL: ttl}
	return Granted, nil
}

// Release implements Store.Release.
func (m *InMemory) Release(ctx context.Context, participant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.Holder != participant {
		return ErrNotHolder
	}
	expired := m.cur.Expired(m.now())
	m.cur = nil
	if expired {
		return ErrNotHolder
	}
	return nil
}

// Holder implements Store.Holder.
func (m *InMemory) Holder(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.Expired(m.now()) {
		return "", false, nil
	}
	return m.cur.Holder, true, nil
}

// Expire implements Store.Expire.
func (m *InMemory) Expire(ctx context.Context) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || !m.cur.Expired(m.now()) {
		return Lease{}, false, nil
	}
	l := *m.cur
	m.cur = nil
	return l, true, nil
}
