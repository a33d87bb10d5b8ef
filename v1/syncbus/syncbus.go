// Package syncbus carries "the turn changed" notifications between the
// processes that share one lease store. Messages have no payload: a receiver
// reacts by asking the coordinator for its current status.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// TurnTopic is the topic every coordinator publishes turn changes on.
const TurnTopic = "imagetext.turn"

// Bus provides a simple pub/sub mechanism for turn change notifications.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error
}

// Metrics counts notifications sent and handed to subscribers.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanout keeps the local subscribers of each topic. Channels have a buffer of
// one so bursts of notifications collapse into a single wake-up.
type fanout struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string][]chan struct{})}
}

func (f *fanout) add(topic string) chan struct{} {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch
}

// remove closes ch and reports whether the topic has no subscribers left.
// Removing an unknown channel is a no-op that reports false.
func (f *fanout) remove(topic string, ch chan struct{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[topic]
	found := false
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(subs) == 0 {
		delete(f.subs, topic)
		return true
	}
	f.subs[topic] = subs
	return false
}

func (f *fanout) notify(topic string) {
	f.mu.Lock()
	chans := append([]chan struct{}(nil), f.subs[topic]...)
	f.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			f.delivered.Add(1)
		default:
		}
	}
}

func (f *fanout) unsubscribeOnDone(ctx context.Context, b Bus, topic string, ch chan struct{}) {
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
}

// Metrics returns the published and delivered counts.
func (f *fanout) Metrics() Metrics {
	return Metrics{Published: f.published.Load(), Delivered: f.delivered.Load()}
}

// InMemoryBus is a process-local Bus.
type InMemoryBus struct {
	*fanout
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{fanout: newFanout()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string) error {
	b.published.Add(1)
	b.notify(topic)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := b.add(topic)
	b.unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.remove(topic, ch)
	return nil
}
