// Package turn arbitrates the single processing turn between participants.
// The Coordinator is the only component that mutates the lease store, the
// wait queue and the activity records; everything else asks it.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iamanmiglani/Image-to-text/v1/activity"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/lease"
	"github.com/iamanmiglani/Image-to-text/v1/metrics"
	"github.com/iamanmiglani/Image-to-text/v1/queue"
	"github.com/iamanmiglani/Image-to-text/v1/syncbus"
)

// Eviction reasons.
const (
	ReasonIdle          = "idle"
	ReasonLeaseExpired  = "lease_expired"
	ReasonWaiterTimeout = "waiter_timeout"
)

var (
	// ErrLeaseLost is returned by Touch when the caller no longer holds the turn.
	ErrLeaseLost = fmt.Errorf("%w: turn lease lost", turnerrors.ErrEvicted)
	// ErrEmptyParticipant is returned for a blank participant id.
	ErrEmptyParticipant = fmt.Errorf("%w: participant is required", turnerrors.ErrValidation)
)

var tracer = otel.Tracer("github.com/iamanmiglani/Image-to-text/v1/turn")

// Coordinator hands out the turn and reclaims it from idle or vanished
// participants.
type Coordinator struct {
	leases    lease.Store
	queue     queue.Queue
	activity  activity.Tracker
	presence  activity.Tracker
	evictions activity.Tracker
	bus       syncbus.Bus
	logger    *slog.Logger
	now       func() time.Time

	ttl             time.Duration
	idle            time.Duration
	waiterTimeout   time.Duration
	markerRetention time.Duration
	retryDelay      time.Duration
}

// New returns a Coordinator. activity records holder actions; presence
// records waiter polls.
func New(leases lease.Store, act, presence activity.Tracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		leases:          leases,
		activity:        act,
		presence:        presence,
		bus:             syncbus.NewInMemoryBus(),
		logger:          slog.Default(),
		now:             time.Now,
		ttl:             DefaultLeaseTTL,
		idle:            DefaultIdleTimeout,
		waiterTimeout:   DefaultWaiterTimeout,
		markerRetention: DefaultMarkerRetention,
		retryDelay:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.evictions == nil {
		c.evictions = activity.NewInMemory(activity.WithClock(c.now), activity.WithScope("evicted"))
	}
	return c
}

// LeaseTTL returns the configured lease lifetime.
func (c *Coordinator) LeaseTTL() time.Duration { return c.ttl }

// IdleTimeout returns the configured holder idle timeout.
func (c *Coordinator) IdleTimeout() time.Duration { return c.idle }

// Queued reports whether waiters are kept in FIFO order.
func (c *Coordinator) Queued() bool { return c.queue != nil }

// Poll answers "may I proceed?" without blocking. The holder gets Proceed
// without its lease being renewed; only Touch renews.
func (c *Coordinator) Poll(ctx context.Context, p string) (st Status, err error) {
	if p == "" {
		return Status{}, ErrEmptyParticipant
	}
	ctx, span := tracer.Start(ctx, "turn.Poll", trace.WithAttributes(attribute.String("participant", p)))
	defer func() { endSpan(span, err, attribute.String("decision", st.String())) }()

	if _, _, err := c.ReclaimExpired(ctx); err != nil {
		return Status{}, err
	}
	marked, err := c.takeMarker(ctx, p)
	if err != nil {
		return Status{}, err
	}
	if marked {
		return Status{Decision: Evicted}, nil
	}

	holder, held, err := c.holder(ctx)
	if err != nil {
		return Status{}, err
	}
	if held && holder == p {
		return Status{Decision: Proceed}, nil
	}
	if err := c.do(ctx, "touch presence", func(ctx context.Context) error {
		return c.presence.Touch(ctx, p)
	}); err != nil {
		return Status{}, err
	}

	if c.queue == nil {
		if held {
			metrics.TurnDenyCounter.Inc()
			return Status{Decision: InUse}, nil
		}
		return c.acquire(ctx, p, Status{Decision: InUse})
	}

	pos, err := c.enqueue(ctx, p)
	if err != nil {
		return Status{}, err
	}
	waiting := Status{Decision: Wait, Position: pos}
	if pos > 0 || held {
		metrics.TurnDenyCounter.Inc()
		return waiting, nil
	}
	return c.acquire(ctx, p, waiting)
}

func (c *Coordinator) acquire(ctx context.Context, p string, denied Status) (Status, error) {
	var out lease.Outcome
	if err := c.do(ctx, "acquire lease", func(ctx context.Context) error {
		var err error
		out, err = c.leases.TryAcquire(ctx, p, c.ttl)
		return err
	}); err != nil {
		return Status{}, err
	}
	switch out {
	case lease.Renewed:
		return Status{Decision: Proceed}, nil
	case lease.Granted:
		metrics.TurnGrantCounter.Inc()
		c.logger.Info("turn granted", "participant", p, "ttl", c.ttl)
		if err := c.onGrant(ctx, p); err != nil {
			return Status{}, err
		}
		c.publish(ctx)
		return Status{Decision: Proceed}, nil
	default:
		metrics.TurnDenyCounter.Inc()
		return denied, nil
	}
}

func (c *Coordinator) onGrant(ctx context.Context, p string) error {
	if c.queue != nil {
		if err := c.do(ctx, "dequeue holder", func(ctx context.Context) error {
			return c.queue.Remove(ctx, p)
		}); err != nil {
			return err
		}
		c.refreshQueueGauge(ctx)
	}
	if err := c.do(ctx, "forget presence", func(ctx context.Context) error {
		return c.presence.Forget(ctx, p)
	}); err != nil {
		return err
	}
	return c.do(ctx, "touch activity", func(ctx context.Context) error {
		return c.activity.Touch(ctx, p)
	})
}

// enqueue adds p if absent and returns its position. A waiter dropped by a
// concurrent sweep between the two calls is enqueued again.
func (c *Coordinator) enqueue(ctx context.Context, p string) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var added bool
		if err := c.do(ctx, "enqueue", func(ctx context.Context) error {
			var err error
			added, err = c.queue.Enqueue(ctx, p)
			return err
		}); err != nil {
			return 0, err
		}
		if added {
			c.refreshQueueGauge(ctx)
		}
		var (
			pos int
			ok  bool
		)
		if err := c.do(ctx, "queue position", func(ctx context.Context) error {
			var err error
			pos, ok, err = c.queue.Position(ctx, p)
			return err
		}); err != nil {
			return 0, err
		}
		if ok {
			if added {
				c.logger.Info("participant queued", "participant", p, "position", pos)
			}
			return pos, nil
		}
	}
	return 0, fmt.Errorf("%w: participant %s vanished from the queue", turnerrors.ErrStoreUnavailable, p)
}

// Touch records an action by the holder and renews its lease.
func (c *Coordinator) Touch(ctx context.Context, p string) (err error) {
	if p == "" {
		return ErrEmptyParticipant
	}
	ctx, span := tracer.Start(ctx, "turn.Touch", trace.WithAttributes(attribute.String("participant", p)))
	defer func() { endSpan(span, err) }()

	if err := c.renew(ctx, p); err != nil {
		return err
	}
	return c.do(ctx, "touch activity", func(ctx context.Context) error {
		return c.activity.Touch(ctx, p)
	})
}

// Renew extends the holder's lease without recording activity, so the idle
// timer keeps running. It returns ErrLeaseLost when p no longer holds a
// valid lease.
func (c *Coordinator) Renew(ctx context.Context, p string) (err error) {
	if p == "" {
		return ErrEmptyParticipant
	}
	ctx, span := tracer.Start(ctx, "turn.Renew", trace.WithAttributes(attribute.String("participant", p)))
	defer func() { endSpan(span, err) }()
	return c.renew(ctx, p)
}

func (c *Coordinator) renew(ctx context.Context, p string) error {
	holder, held, err := c.holder(ctx)
	if err != nil {
		return err
	}
	if !held || holder != p {
		return ErrLeaseLost
	}
	var out lease.Outcome
	if err := c.do(ctx, "renew lease", func(ctx context.Context) error {
		var err error
		out, err = c.leases.TryAcquire(ctx, p, c.ttl)
		return err
	}); err != nil {
		return err
	}
	if !out.Held() {
		return ErrLeaseLost
	}
	metrics.TurnRenewCounter.Inc()
	return nil
}

// IdleExpired reports whether the holder p has been inactive for at least
// the idle timeout.
func (c *Coordinator) IdleExpired(ctx context.Context, p string) (bool, error) {
	var idle time.Duration
	if err := c.do(ctx, "read activity", func(ctx context.Context) error {
		var err error
		idle, err = activity.Idle(ctx, c.activity, p, c.now())
		return err
	}); err != nil {
		return false, err
	}
	return idle >= c.idle, nil
}

// Holder returns the current holder, if any.
func (c *Coordinator) Holder(ctx context.Context) (string, bool, error) {
	return c.holder(ctx)
}

// Complete ends p's turn or place in line: explicit exit, or the first half
// of a reset. It is safe to call for a participant holding nothing.
func (c *Coordinator) Complete(ctx context.Context, p string) (err error) {
	if p == "" {
		return ErrEmptyParticipant
	}
	ctx, span := tracer.Start(ctx, "turn.Complete", trace.WithAttributes(attribute.String("participant", p)))
	defer func() { endSpan(span, err) }()

	released, err := c.release(ctx, p)
	if err != nil {
		return err
	}
	if err := c.cleanup(ctx, p); err != nil {
		return err
	}
	if err := c.do(ctx, "forget eviction", func(ctx context.Context) error {
		return c.evictions.Forget(ctx, p)
	}); err != nil {
		return err
	}
	if released {
		metrics.TurnReleaseCounter.Inc()
		c.logger.Info("turn released", "participant", p)
	}
	c.publish(ctx)
	return nil
}

// Requeue completes p's turn and puts p back at the tail of the queue, behind
// everyone who was already waiting. Without a queue it equals Complete.
func (c *Coordinator) Requeue(ctx context.Context, p string) (err error) {
	if err := c.Complete(ctx, p); err != nil {
		return err
	}
	if c.queue == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "turn.Requeue", trace.WithAttributes(attribute.String("participant", p)))
	defer func() { endSpan(span, err) }()

	if err := c.do(ctx, "touch presence", func(ctx context.Context) error {
		return c.presence.Touch(ctx, p)
	}); err != nil {
		return err
	}
	pos, err := c.enqueue(ctx, p)
	if err != nil {
		return err
	}
	c.logger.Info("participant requeued", "participant", p, "position", pos)
	return nil
}

// Evict force-ends p's turn or place in line. The next Poll by p reports
// Evicted.
func (c *Coordinator) Evict(ctx context.Context, p, reason string) error {
	if p == "" {
		return ErrEmptyParticipant
	}
	return c.evict(ctx, p, reason, true)
}

func (c *Coordinator) evict(ctx context.Context, p, reason string, release bool) (err error) {
	ctx, span := tracer.Start(ctx, "turn.Evict", trace.WithAttributes(
		attribute.String("participant", p), attribute.String("reason", reason)))
	defer func() { endSpan(span, err) }()

	if release {
		if _, err := c.release(ctx, p); err != nil {
			return err
		}
	}
	if err := c.cleanup(ctx, p); err != nil {
		return err
	}
	if err := c.do(ctx, "mark eviction", func(ctx context.Context) error {
		return c.evictions.Touch(ctx, p)
	}); err != nil {
		return err
	}
	metrics.EvictionCounter.WithLabelValues(reason).Inc()
	c.logger.Warn("participant evicted", "participant", p, "reason", reason)
	c.publish(ctx)
	return nil
}

// ReclaimExpired removes a lapsed lease and evicts its holder. It returns the
// evicted holder.
func (c *Coordinator) ReclaimExpired(ctx context.Context) (string, bool, error) {
	var (
		l  lease.Lease
		ok bool
	)
	if err := c.do(ctx, "expire lease", func(ctx context.Context) error {
		var err error
		l, ok, err = c.leases.Expire(ctx)
		return err
	}); err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	// The lease is already gone; releasing again could drop a fresh grant.
	if err := c.evict(ctx, l.Holder, ReasonLeaseExpired, false); err != nil {
		return l.Holder, true, err
	}
	return l.Holder, true, nil
}

// Sweep reclaims an expired lease, drops waiters that stopped polling and
// prunes stale bookkeeping.
func (c *Coordinator) Sweep(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "turn.Sweep")
	defer func() { endSpan(span, err) }()

	if _, _, err := c.ReclaimExpired(ctx); err != nil {
		return err
	}
	now := c.now()

	var seen map[string]time.Time
	if err := c.do(ctx, "list presence", func(ctx context.Context) error {
		var err error
		seen, err = c.presence.All(ctx)
		return err
	}); err != nil {
		return err
	}
	queued := map[string]bool{}
	if c.queue != nil {
		var waiters []string
		if err := c.do(ctx, "list queue", func(ctx context.Context) error {
			var err error
			waiters, err = c.queue.List(ctx)
			return err
		}); err != nil {
			return err
		}
		for _, w := range waiters {
			queued[w] = true
			last, ok := seen[w]
			if activity.IdleFor(last, ok, now) >= c.waiterTimeout {
				if err := c.evict(ctx, w, ReasonWaiterTimeout, false); err != nil {
					return err
				}
			}
		}
		metrics.QueueGauge.Set(float64(len(waiters)))
	}
	for p, last := range seen {
		if queued[p] || activity.IdleFor(last, true, now) < c.waiterTimeout {
			continue
		}
		if err := c.do(ctx, "forget presence", func(ctx context.Context) error {
			return c.presence.Forget(ctx, p)
		}); err != nil {
			return err
		}
	}

	var marks map[string]time.Time
	if err := c.do(ctx, "list evictions", func(ctx context.Context) error {
		var err error
		marks, err = c.evictions.All(ctx)
		return err
	}); err != nil {
		return err
	}
	for p, at := range marks {
		if activity.IdleFor(at, true, now) < c.markerRetention {
			continue
		}
		if err := c.do(ctx, "forget eviction", func(ctx context.Context) error {
			return c.evictions.Forget(ctx, p)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run calls Sweep every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				c.logger.Error("turn sweep failed", "error", err)
			}
		}
	}
}

// Watch returns a channel signalled whenever the turn changes hands or the
// queue moves. It is closed once ctx is done.
func (c *Coordinator) Watch(ctx context.Context) (chan struct{}, error) {
	return c.bus.Subscribe(ctx, syncbus.TurnTopic)
}

func (c *Coordinator) holder(ctx context.Context) (string, bool, error) {
	var (
		h  string
		ok bool
	)
	err := c.do(ctx, "peek holder", func(ctx context.Context) error {
		var err error
		h, ok, err = c.leases.Holder(ctx)
		return err
	})
	return h, ok, err
}

func (c *Coordinator) release(ctx context.Context, p string) (bool, error) {
	released := false
	err := c.do(ctx, "release lease", func(ctx context.Context) error {
		err := c.leases.Release(ctx, p)
		if errors.Is(err, lease.ErrNotHolder) {
			return nil
		}
		released = err == nil
		return err
	})
	return released, err
}

func (c *Coordinator) cleanup(ctx context.Context, p string) error {
	if c.queue != nil {
		if err := c.do(ctx, "dequeue", func(ctx context.Context) error {
			return c.queue.Remove(ctx, p)
		}); err != nil {
			return err
		}
		c.refreshQueueGauge(ctx)
	}
	if err := c.do(ctx, "forget activity", func(ctx context.Context) error {
		return c.activity.Forget(ctx, p)
	}); err != nil {
		return err
	}
	return c.do(ctx, "forget presence", func(ctx context.Context) error {
		return c.presence.Forget(ctx, p)
	})
}

func (c *Coordinator) takeMarker(ctx context.Context, p string) (bool, error) {
	var ok bool
	if err := c.do(ctx, "read eviction", func(ctx context.Context) error {
		var err error
		_, ok, err = c.evictions.Last(ctx, p)
		return err
	}); err != nil || !ok {
		return false, err
	}
	err := c.do(ctx, "forget eviction", func(ctx context.Context) error {
		return c.evictions.Forget(ctx, p)
	})
	return err == nil, err
}

func (c *Coordinator) refreshQueueGauge(ctx context.Context) {
	waiters, err := c.queue.List(ctx)
	if err != nil {
		return
	}
	metrics.QueueGauge.Set(float64(len(waiters)))
}

func (c *Coordinator) publish(ctx context.Context) {
	if err := c.bus.Publish(ctx, syncbus.TurnTopic); err != nil {
		c.logger.Warn("turn change not published", "error", err)
	}
}

// do runs fn, retrying once after retryDelay. A second failure is reported
// as ErrStoreUnavailable.
func (c *Coordinator) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Warn("turn store call failed, retrying", "op", op, "error", err)
	if c.retryDelay > 0 {
		t := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %w", turnerrors.ErrStoreUnavailable, op, err)
		case <-t.C:
		}
	}
	if err = fn(ctx); err == nil {
		return nil
	}
	metrics.StoreErrorCounter.Inc()
	c.logger.Error("turn store unavailable", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", turnerrors.ErrStoreUnavailable, op, err)
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attrs...)
	}
	span.End()
}
