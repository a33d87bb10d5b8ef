package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSConn(t *testing.T) *nats.Conn {
	t.Helper()
	addr := os.Getenv("IMAGETEXT_TEST_NATS_ADDR")
	var s *server.Server
	if addr == "" {
		s = natsserver.RunRandClientPortServer()
		addr = s.ClientURL()
	}
	conn, err := nats.Connect(addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return conn
}

func TestNATSBusContract(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus {
		return NewNATSBus(newNATSConn(t))
	}, func() string { return "turn." + uuid.NewString() })
}

func TestNATSBusMetrics(t *testing.T) {
	bus := NewNATSBus(newNATSConn(t))
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, TurnTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := bus.Publish(ctx, TurnTopic); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}
	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestNATSBusLastUnsubscribeDropsSubject(t *testing.T) {
	bus := NewNATSBus(newNATSConn(t))
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, TurnTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, TurnTopic, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	bus.mu.Lock()
	n := len(bus.subs)
	bus.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no NATS subscriptions, got %d", n)
	}
}
