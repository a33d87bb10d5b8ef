package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *manualClock) Store {
		client, _ := newRedisClient(t)
		return NewRedis(client, WithClock(clock.Now))
	})
}

func TestRedisSharedKeyAcrossStores(t *testing.T) {
	client, _ := newRedisClient(t)
	clock := newManualClock()
	a := NewRedis(client, WithClock(clock.Now), WithKey("turn:test"))
	b := NewRedis(client, WithClock(clock.Now), WithKey("turn:test"))
	ctx := context.Background()
	if out, _ := a.TryAcquire(ctx, "a", time.Minute); out != Granted {
		t.Fatalf("expected granted, got %v", out)
	}
	if out, _ := b.TryAcquire(ctx, "b", time.Minute); out != Denied {
		t.Fatalf("second process must be denied, got %v", out)
	}
}

func TestRedisFailsClosedWhenUnavailable(t *testing.T) {
	client, mr := newRedisClient(t)
	s := NewRedis(client, WithTimeout(100*time.Millisecond))
	mr.Close()
	out, err := s.TryAcquire(context.Background(), "a", time.Minute)
	if err == nil {
		t.Fatal("expected error when redis is down")
	}
	if out != Denied {
		t.Fatalf("expected fail-closed Denied, got %v", out)
	}
}

func TestRedisClosedClientMapsError(t *testing.T) {
	client, _ := newRedisClient(t)
	s := NewRedis(client)
	_ = client.Close()
	if _, err := s.TryAcquire(context.Background(), "a", time.Minute); !errors.Is(err, turnerrors.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestRedisCorruptRecordFailsClosed(t *testing.T) {
	client, mr := newRedisClient(t)
	s := NewRedis(client)
	mr.HSet(defaultRedisKey, "holder", "a", "acquired_at", "not-a-number", "ttl_ms", "1000")
	if _, _, err := s.Holder(context.Background()); err == nil {
		t.Fatal("expected parse error for corrupt lease")
	}
	if out, err := s.TryAcquire(context.Background(), "b", time.Minute); err == nil || out != Denied {
		t.Fatalf("corrupt record must deny, got %v %v", out, err)
	}
}
