package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

func TestSQLiteContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *manualClock) Store {
		db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "turns.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		return NewSQLite(db, WithClock(clock.Now))
	})
}

func TestSQLiteSeparateHandlesShareLease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.db")
	db1, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db1.Close()
	db2, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db2.Close()

	clock := newManualClock()
	a := NewSQLite(db1, WithClock(clock.Now))
	b := NewSQLite(db2, WithClock(clock.Now))
	ctx := context.Background()
	if out, _ := a.TryAcquire(ctx, "a", time.Minute); out != Granted {
		t.Fatalf("expected granted, got %v", out)
	}
	if out, _ := b.TryAcquire(ctx, "b", time.Minute); out != Denied {
		t.Fatalf("second handle must be denied, got %v", out)
	}
	clock.Advance(time.Minute)
	if out, _ := b.TryAcquire(ctx, "b", time.Minute); out != Granted {
		t.Fatalf("expected takeover after expiry, got %v", out)
	}
}
