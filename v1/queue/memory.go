package queue

import (
	"context"
	"sync"
)

// InMemory implements Queue for a single process.
type InMemory struct {
	mu      sync.Mutex
	entries []string
}

// NewInMemory returns an empty in-memory queue.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (q *InMemory) indexOf(participant string) int {
	for i, p := range q.entries {
		if p == participant {
			return i
		}
	}
	return -1
}

// Enqueue implements Queue.Enqueue.
func (q *InMemory) Enqueue(ctx context.Context, participant string) (bool, error) {
	if participant == "" {
		return false, ErrEmptyParticipant
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(participant) >= 0 {
		return false, nil
	}
	q.entries = append(q.entries, participant)
	return true, nil
}

// DequeueFront implements Queue.DequeueFront.
func (q *InMemory) DequeueFront(ctx context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return "", false, nil
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true, nil
}

// Position implements Queue.Position.
func (q *InMemory) Position(ctx context.Context, participant string) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexOf(participant)
	if i < 0 {
		return 0, false, nil
	}
	return i, true, nil
}

// Remove implements Queue.Remove.
func (q *InMemory) Remove(ctx context.Context, participant string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexOf(participant); i >= 0 {
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
	}
	return nil
}

// List implements Queue.List.
func (q *InMemory) List(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.entries...), nil
}
