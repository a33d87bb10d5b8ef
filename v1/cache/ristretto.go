package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ErrNotAdmitted is returned by Set when the cache refuses a value.
var ErrNotAdmitted = errors.New("cache: value not admitted")

// Sizer reports the memory cost of a value. Values that do not implement it
// cost 1.
type Sizer interface {
	Size() int
}

// RistrettoCache implements Cache using dgraph-io/ristretto, bounded by the
// total Size of its values rather than by entry count.
type RistrettoCache[T any] struct {
	c *ristretto.Cache
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithMaxCost sets the total cost budget, in bytes for Sizer values.
func WithMaxCost(n int64) RistrettoOption {
	return func(c *ristretto.Config) {
		if n > 0 {
			c.MaxCost = n
		}
	}
}

// NewRistretto returns a Cache backed by ristretto. The default budget is
// 64 MiB.
func NewRistretto[T any](opts ...RistrettoOption) (*RistrettoCache[T], error) {
	cfg := &ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     64 << 20,
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoCache[T]{c: rc}, nil
}

// Get implements Cache.Get.
func (r *RistrettoCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, ok := v.(T)
	return val, ok, nil
}

// Set implements Cache.Set.
func (r *RistrettoCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cost int64 = 1
	if s, ok := any(value).(Sizer); ok && s.Size() > 0 {
		cost = int64(s.Size())
	}
	if budget := r.c.MaxCost(); cost > budget {
		return fmt.Errorf("%w: %s costs %d, budget is %d", ErrNotAdmitted, key, cost, budget)
	}
	if ttl < 0 {
		ttl = 0
	}
	if !r.c.SetWithTTL(key, value, cost, ttl) {
		return fmt.Errorf("%w: %s dropped", ErrNotAdmitted, key)
	}
	r.c.Wait()
	// The admission policy runs asynchronously; a rejected value never lands.
	if _, ok := r.c.Get(key); !ok {
		return fmt.Errorf("%w: %s rejected by admission policy", ErrNotAdmitted, key)
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *RistrettoCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	return nil
}

// Close releases resources held by the cache.
func (r *RistrettoCache[T]) Close() {
	r.c.Close()
}
