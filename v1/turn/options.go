package turn

import (
	"log/slog"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/activity"
	"github.com/iamanmiglani/Image-to-text/v1/queue"
	"github.com/iamanmiglani/Image-to-text/v1/syncbus"
)

const (
	DefaultLeaseTTL        = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultWaiterTimeout   = 60 * time.Second
	DefaultMarkerRetention = time.Hour
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithQueue enables fair FIFO ordering of waiters. Without a queue the turn
// goes to whichever participant polls first once it is free.
func WithQueue(q queue.Queue) Option {
	return func(c *Coordinator) { c.queue = q }
}

// WithBus sets the bus turn changes are published on.
func WithBus(b syncbus.Bus) Option {
	return func(c *Coordinator) {
		if b != nil {
			c.bus = b
		}
	}
}

// WithEvictions sets the tracker holding eviction markers. Coordinators in
// different processes must share it to report Evicted consistently.
func WithEvictions(t activity.Tracker) Option {
	return func(c *Coordinator) { c.evictions = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLeaseTTL sets the lifetime of a grant and of each renewal.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithIdleTimeout sets how long a holder may go without activity.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithWaiterTimeout sets how long a queued participant may go without
// polling before Sweep drops it.
func WithWaiterTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.waiterTimeout = d
		}
	}
}

// WithMarkerRetention bounds how long an unread eviction marker is kept.
func WithMarkerRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.markerRetention = d
		}
	}
}

// WithRetryDelay sets the pause before the single retry of a failed store
// call.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}
