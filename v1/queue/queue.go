// Package queue implements the FIFO wait queue that orders participants
// waiting for the turn lease. Entries are unique: enqueueing a participant
// that is already waiting keeps its original position.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyParticipant is returned when the participant id is blank.
var ErrEmptyParticipant = errors.New("queue: participant is required")

// Queue is an ordered, duplicate-free list of waiting participants.
type Queue interface {
	// Enqueue appends participant unless already present. It reports whether
	// the participant was added.
	Enqueue(ctx context.Context, participant string) (bool, error)
	// DequeueFront removes and returns the head of the queue.
	DequeueFront(ctx context.Context) (string, bool, error)
	// Position returns the 0-based rank of participant.
	Position(ctx context.Context, participant string) (int, bool, error)
	// Remove deletes participant wherever it sits.
	Remove(ctx context.Context, participant string) error
	// List returns the waiting participants front first.
	List(ctx context.Context) ([]string, error)
}

// Option configures a Queue backend.
type Option func(*options)

type options struct {
	key     string
	timeout time.Duration
}

// WithKey sets the Redis key holding the queue.
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

// WithTimeout bounds each backend round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(defaultKey string, opts []Option) options {
	o := options{key: defaultKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
