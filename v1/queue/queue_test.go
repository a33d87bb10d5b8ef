package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

func runQueueContract(t *testing.T, newQueue func(t *testing.T) Queue) {
	ctx := context.Background()

	t.Run("FIFO", func(t *testing.T) {
		q := newQueue(t)
		for _, p := range []string{"a", "b", "c"} {
			if added, err := q.Enqueue(ctx, p); err != nil || !added {
				t.Fatalf("enqueue %s: %v %v", p, added, err)
			}
		}
		var got []string
		for {
			head, ok, err := q.DequeueFront(ctx)
			if err != nil {
				t.Fatalf("dequeue: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, head)
		}
		if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Fatalf("unexpected order %v", got)
		}
	})

	t.Run("IdempotentEnqueue", func(t *testing.T) {
		q := newQueue(t)
		_, _ = q.Enqueue(ctx, "a")
		_, _ = q.Enqueue(ctx, "b")
		if added, err := q.Enqueue(ctx, "a"); err != nil || added {
			t.Fatalf("re-enqueue must be a no-op: %v %v", added, err)
		}
		pos, ok, err := q.Position(ctx, "a")
		if err != nil || !ok || pos != 0 {
			t.Fatalf("position of a: %d %v %v", pos, ok, err)
		}
		list, _ := q.List(ctx)
		if !reflect.DeepEqual(list, []string{"a", "b"}) {
			t.Fatalf("unexpected list %v", list)
		}
	})

	t.Run("PositionAndRemove", func(t *testing.T) {
		q := newQueue(t)
		for _, p := range []string{"a", "b", "c"} {
			_, _ = q.Enqueue(ctx, p)
		}
		if pos, ok, _ := q.Position(ctx, "c"); !ok || pos != 2 {
			t.Fatalf("position of c: %d %v", pos, ok)
		}
		if err := q.Remove(ctx, "b"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if pos, ok, _ := q.Position(ctx, "c"); !ok || pos != 1 {
			t.Fatalf("position of c after remove: %d %v", pos, ok)
		}
		if _, ok, _ := q.Position(ctx, "b"); ok {
			t.Fatal("removed participant still present")
		}
		if err := q.Remove(ctx, "missing"); err != nil {
			t.Fatalf("removing an absent participant: %v", err)
		}
	})

	t.Run("ReenterGoesToTail", func(t *testing.T) {
		q := newQueue(t)
		for _, p := range []string{"a", "b", "c"} {
			_, _ = q.Enqueue(ctx, p)
		}
		_ = q.Remove(ctx, "a")
		_, _ = q.Enqueue(ctx, "a")
		list, _ := q.List(ctx)
		if !reflect.DeepEqual(list, []string{"b", "c", "a"}) {
			t.Fatalf("unexpected list %v", list)
		}
	})

	t.Run("EmptyParticipant", func(t *testing.T) {
		q := newQueue(t)
		if _, err := q.Enqueue(ctx, ""); err != ErrEmptyParticipant {
			t.Fatalf("expected ErrEmptyParticipant, got %v", err)
		}
	})

	t.Run("ConcurrentEnqueueNoDuplicates", func(t *testing.T) {
		q := newQueue(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := q.Enqueue(ctx, fmt.Sprintf("p%d", i%5)); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}(i)
		}
		wg.Wait()
		list, _ := q.List(ctx)
		if len(list) != 5 {
			t.Fatalf("expected 5 unique entries, got %v", list)
		}
	})
}

func TestInMemoryQueue(t *testing.T) {
	runQueueContract(t, func(t *testing.T) Queue { return NewInMemory() })
}

func TestRedisQueue(t *testing.T) {
	runQueueContract(t, func(t *testing.T) Queue {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis run: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			_ = client.Close()
			mr.Close()
		})
		return NewRedis(client, WithKey("queue:test"))
	})
}

func TestSQLiteQueue(t *testing.T) {
	runQueueContract(t, func(t *testing.T) Queue {
		db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "turns.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		return NewSQLite(db)
	})
}
