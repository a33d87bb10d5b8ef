package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/activity"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/lease"
	"github.com/iamanmiglani/Image-to-text/v1/queue"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to start+d.
func (c *manualClock) Set(start time.Time, d time.Duration) {
	c.mu.Lock()
	c.t = start.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	c     *Coordinator
	clock *manualClock
	start time.Time
	ctx   context.Context
}

func newFixture(t *testing.T, queued bool, opts ...Option) *fixture {
	t.Helper()
	clock := newManualClock()
	base := []Option{WithClock(clock.Now), WithRetryDelay(0), WithLeaseTTL(120 * time.Second)}
	if queued {
		base = append(base, WithQueue(queue.NewInMemory()))
	}
	c := New(
		lease.NewInMemory(lease.WithClock(clock.Now)),
		activity.NewInMemory(activity.WithClock(clock.Now)),
		activity.NewInMemory(activity.WithClock(clock.Now), activity.WithScope("presence")),
		append(base, opts...)...,
	)
	return &fixture{c: c, clock: clock, start: clock.Now(), ctx: context.Background()}
}

func (f *fixture) at(d time.Duration) { f.clock.Set(f.start, d) }

func (f *fixture) expect(t *testing.T, p string, want Status) {
	t.Helper()
	got, err := f.c.Poll(f.ctx, p)
	if err != nil {
		t.Fatalf("poll %s: %v", p, err)
	}
	if got != want {
		t.Fatalf("poll %s: expected %s, got %s", p, want, got)
	}
}

var proceed = Status{Decision: Proceed}

func waitAt(pos int) Status { return Status{Decision: Wait, Position: pos} }

func TestWaiterTakesOverExpiredLease(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)

	f.at(10 * time.Second)
	f.expect(t, "B", waitAt(0))

	f.at(130 * time.Second)
	f.expect(t, "B", proceed)
	if h, ok, _ := f.c.Holder(f.ctx); !ok || h != "B" {
		t.Fatalf("expected B to hold the turn, got %q %v", h, ok)
	}

	f.expect(t, "A", Status{Decision: Evicted})
	f.expect(t, "A", waitAt(0))
}

func TestIdleHolderLosesTurn(t *testing.T) {
	f := newFixture(t, true, WithIdleTimeout(120*time.Second))
	f.expect(t, "A", proceed)

	f.at(119 * time.Second)
	if idle, err := f.c.IdleExpired(f.ctx, "A"); err != nil || idle {
		t.Fatalf("A should not be idle yet: %v %v", idle, err)
	}
	f.at(120 * time.Second)
	if idle, err := f.c.IdleExpired(f.ctx, "A"); err != nil || !idle {
		t.Fatalf("A should be idle at the timeout: %v %v", idle, err)
	}

	f.at(125 * time.Second)
	f.expect(t, "B", proceed)
	if err := f.c.Touch(f.ctx, "A"); !errors.Is(err, ErrLeaseLost) || !errors.Is(err, turnerrors.ErrEvicted) {
		t.Fatalf("expected lease lost, got %v", err)
	}
}

func TestRequeueGoesBehindWaiters(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)
	f.expect(t, "B", waitAt(0))
	f.expect(t, "C", waitAt(1))

	if err := f.c.Requeue(f.ctx, "A"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	f.expect(t, "B", proceed)
	f.expect(t, "C", waitAt(0))
	f.expect(t, "A", waitAt(1))
}

func TestTouchRenewsLease(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)

	f.at(100 * time.Second)
	if err := f.c.Touch(f.ctx, "A"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	f.at(150 * time.Second)
	f.expect(t, "B", waitAt(0))
	f.at(219 * time.Second)
	f.expect(t, "B", waitAt(0))
	f.at(220 * time.Second)
	f.expect(t, "B", proceed)
}

func TestRenewKeepsIdleTimerRunning(t *testing.T) {
	f := newFixture(t, true, WithIdleTimeout(120*time.Second))
	f.expect(t, "A", proceed)

	f.at(100 * time.Second)
	if err := f.c.Renew(f.ctx, "A"); err != nil {
		t.Fatalf("renew: %v", err)
	}
	f.at(150 * time.Second)
	f.expect(t, "B", waitAt(0))
	if idle, err := f.c.IdleExpired(f.ctx, "A"); err != nil || !idle {
		t.Fatalf("renew must not count as activity: %v %v", idle, err)
	}
	if err := f.c.Renew(f.ctx, "B"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("waiter renew: expected lease lost, got %v", err)
	}

	f.at(220 * time.Second)
	if err := f.c.Renew(f.ctx, "A"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("renew of a lapsed lease: expected lease lost, got %v", err)
	}
	f.expect(t, "B", proceed)
}

func TestHolderPollDoesNotRenew(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)
	f.at(100 * time.Second)
	f.expect(t, "A", proceed)
	f.at(120 * time.Second)
	f.expect(t, "B", proceed)
}

func TestWithoutQueue(t *testing.T) {
	f := newFixture(t, false)
	if f.c.Queued() {
		t.Fatal("expected queue disabled")
	}
	f.expect(t, "A", proceed)
	f.expect(t, "B", Status{Decision: InUse})
	f.expect(t, "C", Status{Decision: InUse})

	if err := f.c.Complete(f.ctx, "A"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.expect(t, "C", proceed)
	f.expect(t, "B", Status{Decision: InUse})
}

func TestCompleteHandsTurnToFront(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)
	f.expect(t, "B", waitAt(0))
	f.expect(t, "C", waitAt(1))

	if err := f.c.Complete(f.ctx, "A"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.expect(t, "C", waitAt(1))
	f.expect(t, "B", proceed)
	f.expect(t, "C", waitAt(0))

	if err := f.c.Complete(f.ctx, "nobody"); err != nil {
		t.Fatalf("complete of a stranger should be a no-op: %v", err)
	}
}

func TestEvictReportsOnce(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)
	if err := f.c.Evict(f.ctx, "A", ReasonIdle); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok, _ := f.c.Holder(f.ctx); ok {
		t.Fatal("evicted holder should not keep the lease")
	}
	f.expect(t, "A", Status{Decision: Evicted})
	f.expect(t, "A", proceed)
}

func TestSweepDropsAbandonedWaiters(t *testing.T) {
	f := newFixture(t, true, WithWaiterTimeout(60*time.Second))
	f.expect(t, "A", proceed)
	f.expect(t, "B", waitAt(0))
	f.at(50 * time.Second)
	f.expect(t, "C", waitAt(1))

	f.at(70 * time.Second)
	if err := f.c.Sweep(f.ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	f.expect(t, "C", waitAt(0))
	f.expect(t, "B", Status{Decision: Evicted})
	f.expect(t, "B", waitAt(1))
	if h, _, _ := f.c.Holder(f.ctx); h != "A" {
		t.Fatalf("sweep must not touch a valid holder, got %q", h)
	}
}

func TestSweepReclaimsExpiredLease(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, "A", proceed)
	f.at(121 * time.Second)
	if err := f.c.Sweep(f.ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok, _ := f.c.Holder(f.ctx); ok {
		t.Fatal("expected no holder after sweep")
	}
	f.expect(t, "A", Status{Decision: Evicted})
}

func TestSweepPrunesOldMarkers(t *testing.T) {
	f := newFixture(t, true, WithMarkerRetention(time.Minute))
	f.expect(t, "A", proceed)
	if err := f.c.Evict(f.ctx, "A", ReasonIdle); err != nil {
		t.Fatalf("evict: %v", err)
	}
	f.at(2 * time.Minute)
	if err := f.c.Sweep(f.ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	f.expect(t, "A", proceed)
}

func TestWatchSignalsTurnChanges(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.c.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	f.expect(t, "A", proceed)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a turn change notification")
	}
}

func TestPollRejectsEmptyParticipant(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.c.Poll(f.ctx, ""); !errors.Is(err, turnerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentPollsGrantOnce(t *testing.T) {
	for _, queued := range []bool{true, false} {
		t.Run(fmt.Sprintf("queued=%v", queued), func(t *testing.T) {
			f := newFixture(t, queued)
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				proceed int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					st, err := f.c.Poll(f.ctx, fmt.Sprintf("p%d", i))
					if err != nil {
						t.Errorf("poll: %v", err)
						return
					}
					if st.Decision == Proceed {
						mu.Lock()
						proceed++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			if proceed != 1 {
				t.Fatalf("expected exactly one holder, got %d", proceed)
			}
		})
	}
}

type flakyStore struct {
	lease.Store
	mu       sync.Mutex
	failures int
}

var errBackend = errors.New("backend down")

func (s *flakyStore) fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == 0 {
		return false
	}
	if s.failures > 0 {
		s.failures--
	}
	return true
}

func (s *flakyStore) Holder(ctx context.Context) (string, bool, error) {
	if s.fail() {
		return "", false, errBackend
	}
	return s.Store.Holder(ctx)
}

func (s *flakyStore) Expire(ctx context.Context) (lease.Lease, bool, error) {
	if s.fail() {
		return lease.Lease{}, false, errBackend
	}
	return s.Store.Expire(ctx)
}

func TestStoreFailureIsRetriedOnce(t *testing.T) {
	clock := newManualClock()
	store := &flakyStore{Store: lease.NewInMemory(lease.WithClock(clock.Now)), failures: 1}
	c := New(store, activity.NewInMemory(), activity.NewInMemory(), WithClock(clock.Now), WithRetryDelay(0))
	st, err := c.Poll(context.Background(), "A")
	if err != nil {
		t.Fatalf("single failure should be retried: %v", err)
	}
	if st.Decision != Proceed {
		t.Fatalf("expected proceed, got %s", st)
	}
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	store := &flakyStore{Store: lease.NewInMemory(), failures: -1}
	c := New(store, activity.NewInMemory(), activity.NewInMemory(), WithRetryDelay(0))
	_, err := c.Poll(context.Background(), "A")
	if !errors.Is(err, turnerrors.ErrStoreUnavailable) || !errors.Is(err, errBackend) {
		t.Fatalf("expected store unavailable wrapping the backend error, got %v", err)
	}
}
