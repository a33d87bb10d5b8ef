package syncbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus on NATS core subjects.
type NATSBus struct {
	*fanout
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{fanout: newFanout(), conn: conn, subs: make(map[string]*nats.Subscription)}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string) error {
	if err := b.conn.Publish(topic, []byte("1")); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	b.mu.Lock()
	ch := b.add(topic)
	if b.subs[topic] == nil {
		sub, err := b.conn.Subscribe(topic, func(_ *nats.Msg) { b.notify(topic) })
		if err != nil {
			b.remove(topic, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[topic] = sub
	}
	b.mu.Unlock()

	b.unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.remove(topic, ch) {
		return nil
	}
	sub := b.subs[topic]
	delete(b.subs, topic)
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
