package lease

import (
	"context"
	"errors"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// Outcome is the result of a TryAcquire call.
type Outcome int

const (
	Denied Outcome = iota
	Granted
	Renewed
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Renewed:
		return "renewed"
	default:
		return "denied"
	}
}

// Held reports whether the caller holds the lease after the call.
func (o Outcome) Held() bool { return o == Granted || o == Renewed }

var (
	// ErrNotHolder is returned by Release when the caller does not hold a valid lease.
	ErrNotHolder = errors.New("lease: not holder")
	// ErrInvalidTTL is returned when a non-positive TTL is provided.
	ErrInvalidTTL = errors.New("lease: ttl must be positive")
	// ErrEmptyHolder is returned when the participant id is blank.
	ErrEmptyHolder = errors.New("lease: holder is required")
)

// Lease is the exclusive turn grant.
type Lease struct {
	Holder     string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt returns the instant the lease lapses unless renewed.
func (l Lease) ExpiresAt() time.Time { return l.AcquiredAt.Add(l.TTL) }

// Expired reports whether the lease is reclaimable at now.
func (l Lease) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt()) }

// Store persists the single turn lease.
type Store interface {
	// TryAcquire grants the lease to participant when none is valid, renews it
	// when participant already holds it and denies it otherwise. On any
	// storage error the outcome is Denied.
	TryAcquire(ctx context.Context, participant string, ttl time.Duration) (Outcome, error)
	// Release drops the lease only when participant holds it.
	Release(ctx context.Context, participant string) error
	// Holder returns the current holder, ignoring expired leases.
	Holder(ctx context.Context) (string, bool, error)
	// Expire removes a lapsed lease and returns it.
	Expire(ctx context.Context) (Lease, bool, error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now     func() time.Time
	timeout time.Duration
	key     string
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTimeout bounds each backend round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithKey sets the Redis key or Firestore document path holding the lease.
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

func buildOptions(defaultKey string, opts []Option) options {
	o := options{now: time.Now, timeout: 5 * time.Second, key: defaultKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validate(participant string, ttl time.Duration) error {
	if participant == "" {
		return ErrEmptyHolder
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func newToken() (string, error) {
	return uuid.GenerateUUID()
}
