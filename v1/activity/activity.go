// Package activity records when each participant last did something, so the
// turn coordinator can tell an idle holder or an abandoned waiter from an
// active one.
package activity

import (
	"context"
	"errors"
	"math"
	"time"
)

// Infinite is the idle time of a participant that was never touched.
const Infinite = time.Duration(math.MaxInt64)

// ErrEmptyParticipant is returned when the participant id is blank.
var ErrEmptyParticipant = errors.New("activity: participant is required")

// Tracker stores last-activity timestamps.
type Tracker interface {
	// Touch records now as the participant's last activity.
	Touch(ctx context.Context, participant string) error
	// Last returns the recorded timestamp.
	Last(ctx context.Context, participant string) (time.Time, bool, error)
	// Forget drops the participant's record.
	Forget(ctx context.Context, participant string) error
	// All returns every recorded participant.
	All(ctx context.Context) (map[string]time.Time, error)
}

// IdleFor returns the time elapsed since last, or Infinite when there is no
// record.
func IdleFor(last time.Time, ok bool, now time.Time) time.Duration {
	if !ok {
		return Infinite
	}
	if d := now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Idle reads participant from t and applies IdleFor.
func Idle(ctx context.Context, t Tracker, participant string, now time.Time) (time.Duration, error) {
	last, ok, err := t.Last(ctx, participant)
	if err != nil {
		return 0, err
	}
	return IdleFor(last, ok, now), nil
}

// Option configures a Tracker.
type Option func(*options)

type options struct {
	now     func() time.Time
	scope   string
	timeout time.Duration
}

// WithClock overrides the time source used by Touch.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithScope namespaces records so several trackers can share one backend.
func WithScope(scope string) Option {
	return func(o *options) {
		if scope != "" {
			o.scope = scope
		}
	}
}

// WithTimeout bounds each backend round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, scope: "activity"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
