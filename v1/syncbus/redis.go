package syncbus

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const redisBusTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/iamanmiglani/Image-to-text/v1/syncbus")

// RedisBus implements Bus on Redis pub/sub channels.
type RedisBus struct {
	*fanout
	client *redis.Client
	mu     sync.Mutex
	subs   map[string]*redis.PubSub
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{fanout: newFanout(), client: client, subs: make(map[string]*redis.PubSub)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string) error {
	ctx, span := tracer.Start(ctx, "syncbus.redis.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination", topic)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, topic, "1").Err(); err != nil {
		span.RecordError(err)
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. It returns once Redis has confirmed
// the subscription, so a publish issued afterwards is never missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	b.mu.Lock()
	ch := b.add(topic)
	if b.subs[topic] == nil {
		ps := b.client.Subscribe(context.Background(), topic)
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			b.remove(topic, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[topic] = ps
		go b.dispatch(ps, topic)
	}
	b.mu.Unlock()

	b.unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(ps *redis.PubSub, topic string) {
	for range ps.Channel() {
		b.notify(topic)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.remove(topic, ch) {
		return nil
	}
	ps := b.subs[topic]
	delete(b.subs, topic)
	if ps == nil {
		return nil
	}
	return ps.Close()
}

// Close drops every Redis subscription held by the bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for topic, ps := range b.subs {
		if err := ps.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.subs, topic)
	}
	return first
}
