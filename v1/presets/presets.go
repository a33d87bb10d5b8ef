// Package presets assembles the turn stores, bus and artifact cache for one
// of the supported backends.
package presets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/activity"
	"github.com/iamanmiglani/Image-to-text/v1/cache"
	"github.com/iamanmiglani/Image-to-text/v1/config"
	"github.com/iamanmiglani/Image-to-text/v1/lease"
	"github.com/iamanmiglani/Image-to-text/v1/queue"
	"github.com/iamanmiglani/Image-to-text/v1/render"
	"github.com/iamanmiglani/Image-to-text/v1/storage"
	"github.com/iamanmiglani/Image-to-text/v1/syncbus"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

// Activity scopes sharing one backend.
const (
	ScopeActivity  = "activity"
	ScopePresence  = "presence"
	ScopeEvictions = "evicted"
)

// A remote bus is wrapped in a breaker that stops publishing after
// BreakerThreshold consecutive failures for BreakerCooldown.
const (
	BreakerThreshold = 5
	BreakerCooldown  = 30 * time.Second
)

// Stack is everything the coordinator and the application need from a
// backend. Queue is nil when queueing is disabled.
type Stack struct {
	Leases    lease.Store
	Queue     queue.Queue
	Activity  activity.Tracker
	Presence  activity.Tracker
	Evictions activity.Tracker
	Bus       syncbus.Bus
	Artifacts cache.Cache[render.File]

	closers []func() error
}

// Coordinator returns a turn coordinator over the stack using the timing
// settings of cfg.
func (s *Stack) Coordinator(cfg config.Config, logger *slog.Logger) *turn.Coordinator {
	opts := []turn.Option{
		turn.WithBus(s.Bus),
		turn.WithEvictions(s.Evictions),
		turn.WithLogger(logger),
		turn.WithLeaseTTL(cfg.LeaseTTL),
		turn.WithIdleTimeout(cfg.IdleTimeout),
		turn.WithWaiterTimeout(cfg.WaiterTimeout),
	}
	if s.Queue != nil {
		opts = append(opts, turn.WithQueue(s.Queue))
	}
	return turn.New(s.Leases, s.Activity, s.Presence, opts...)
}

// Close releases connections in reverse order of creation.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) onClose(fn func() error) { s.closers = append(s.closers, fn) }

// NewInMemoryStandalone keeps every piece of turn state in process memory.
// Useful for a single instance or for tests.
func NewInMemoryStandalone(queued bool) *Stack {
	s := &Stack{
		Leases:    lease.NewInMemory(),
		Activity:  activity.NewInMemory(activity.WithScope(ScopeActivity)),
		Presence:  activity.NewInMemory(activity.WithScope(ScopePresence)),
		Evictions: activity.NewInMemory(activity.WithScope(ScopeEvictions)),
		Bus:       syncbus.NewInMemoryBus(),
	}
	if queued {
		s.Queue = queue.NewInMemory()
	}
	return s
}

// NewRedis keeps turn state in Redis so several processes share one turn.
func NewRedis(client *redis.Client, queued bool) *Stack {
	s := &Stack{
		Leases:    lease.NewRedis(client),
		Activity:  activity.NewRedis(client, activity.WithScope(ScopeActivity)),
		Presence:  activity.NewRedis(client, activity.WithScope(ScopePresence)),
		Evictions: activity.NewRedis(client, activity.WithScope(ScopeEvictions)),
		Bus:       syncbus.NewInMemoryBus(),
	}
	if queued {
		s.Queue = queue.NewRedis(client)
	}
	return s
}

// NewSQLite keeps turn state in a SQLite file opened with storage.OpenSQLite.
func NewSQLite(db *sql.DB, queued bool) *Stack {
	s := &Stack{
		Leases:    lease.NewSQLite(db),
		Activity:  activity.NewSQLite(db, activity.WithScope(ScopeActivity)),
		Presence:  activity.NewSQLite(db, activity.WithScope(ScopePresence)),
		Evictions: activity.NewSQLite(db, activity.WithScope(ScopeEvictions)),
		Bus:       syncbus.NewInMemoryBus(),
	}
	if queued {
		s.Queue = queue.NewSQLite(db)
	}
	return s
}

// NewFirestore keeps the lease in Firestore. Queue and activity records stay
// in process memory, so this preset serves a single instance guarded by a
// shared lease.
func NewFirestore(client *firestore.Client, queued bool) *Stack {
	s := NewInMemoryStandalone(queued)
	s.Leases = lease.NewFirestore(client)
	return s
}

// Build opens the backend, bus and artifact cache named by cfg. reg receives
// the artifact cache metrics when the in-memory cache is selected; it may be
// nil.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		s   *Stack
		rdb *redis.Client
	)
	if cfg.NeedsRedis() {
		client, err := storage.OpenRedis(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		rdb = client
	}

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			closeRedis(rdb)
			return nil, err
		}
		s = NewSQLite(db, cfg.QueueEnabled)
		s.onClose(db.Close)
	case config.BackendRedis:
		s = NewRedis(rdb, cfg.QueueEnabled)
	case config.BackendFirestore:
		fs, err := storage.OpenFirestore(ctx, cfg.FirestoreProject)
		if err != nil {
			closeRedis(rdb)
			return nil, err
		}
		s = NewFirestore(fs, cfg.QueueEnabled)
		s.onClose(fs.Close)
	default:
		s = NewInMemoryStandalone(cfg.QueueEnabled)
	}
	if rdb != nil {
		s.onClose(rdb.Close)
	}

	if err := s.buildBus(cfg, rdb); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.buildCache(cfg, rdb, reg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) buildBus(cfg config.Config, rdb *redis.Client) error {
	switch cfg.Bus {
	case config.BusRedis:
		b := syncbus.NewRedisBus(rdb)
		s.onClose(b.Close)
		s.Bus = b
	case config.BusNATS:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		s.onClose(func() error { nc.Close(); return nil })
		s.Bus = syncbus.NewNATSBus(nc)
	case config.BusKafka:
		b, err := syncbus.NewKafkaBus(cfg.KafkaBrokers, nil)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		s.onClose(b.Close)
		s.Bus = b
	}
	if cfg.Bus != config.BusMemory {
		s.Bus = syncbus.NewCircuitBreaker(s.Bus, BreakerThreshold, BreakerCooldown)
	}
	return nil
}

func (s *Stack) buildCache(cfg config.Config, rdb *redis.Client, reg prometheus.Registerer) error {
	switch cfg.ArtifactCache {
	case config.CacheRistretto:
		c, err := cache.NewRistretto[render.File]()
		if err != nil {
			return fmt.Errorf("create artifact cache: %w", err)
		}
		s.onClose(func() error { c.Close(); return nil })
		s.Artifacts = c
	case config.CacheRedis:
		s.Artifacts = cache.NewRedis[render.File](rdb, "")
	default:
		opts := []cache.InMemoryOption[render.File]{}
		if reg != nil {
			opts = append(opts, cache.WithMetrics[render.File](reg))
		}
		c := cache.NewInMemory[render.File](opts...)
		s.onClose(func() error { c.Close(); return nil })
		s.Artifacts = c
	}
	return nil
}

func closeRedis(c *redis.Client) {
	if c != nil {
		_ = c.Close()
	}
}
