package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
)

func runNats(t *testing.T) string {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func newNatsBroker(t *testing.T, url, name string) *NatsBroker {
	t.Helper()
	b, err := NewNatsBroker(NatsConfig{Servers: []string{url}, Name: name, BufferSize: 16})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNatsBrokerAcrossNodes(t *testing.T) {
	ctx := context.Background()
	url := runNats(t)
	node1 := newNatsBroker(t, url, "node-1")
	node2 := newNatsBroker(t, url, "node-2")

	sub, err := node1.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := node1.nc.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := node2.Publish(ctx, "g1", []byte(`{"type":"new"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	m := recv(t, sub)
	if m.Topic != "g1" || string(m.Payload) != `{"type":"new"}` {
		t.Fatalf("got %s %s", m.Topic, m.Payload)
	}
}

func TestNatsBrokerUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := newNatsBroker(t, runNats(t), "node-1")

	sub, _ := b.Subscribe(ctx, "g1")
	if _, err := b.Subscribe(ctx, "g1"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
	if err := b.Unsubscribe(ctx, "g1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("channel open after unsubscribe")
	}
	if err := b.Unsubscribe(ctx, "never"); err != nil {
		t.Fatalf("unknown topic: %v", err)
	}

	// a new subscription to the same topic works after the old one is gone
	sub, err := b.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	_ = b.Publish(ctx, "g1", []byte("again"))
	if m := recv(t, sub); string(m.Payload) != "again" {
		t.Fatalf("got %s", m.Payload)
	}
}

func TestNatsBrokerTopicsIsolated(t *testing.T) {
	ctx := context.Background()
	b := newNatsBroker(t, runNats(t), "node-1")
	s1, _ := b.Subscribe(ctx, "g1")
	s2, _ := b.Subscribe(ctx, "g2")

	_ = b.Publish(ctx, "g2", []byte("two"))
	_ = b.Publish(ctx, "g1", []byte("one"))
	if m := recv(t, s1); string(m.Payload) != "one" {
		t.Fatalf("g1 got %s", m.Payload)
	}
	if m := recv(t, s2); string(m.Payload) != "two" {
		t.Fatalf("g2 got %s", m.Payload)
	}
}

func TestNatsBrokerClose(t *testing.T) {
	ctx := context.Background()
	b, err := NewNatsBroker(NatsConfig{Servers: []string{runNats(t)}})
	if err != nil {
		t.Fatal(err)
	}
	sub, _ := b.Subscribe(ctx, "g1")
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("channel open after close")
	}
	// Drain finishes in the background
	deadline := time.Now().Add(2 * time.Second)
	for !b.nc.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := b.Publish(ctx, "g1", []byte("late")); err == nil {
		t.Fatal("publish after close succeeded")
	}
}

func TestNatsBrokerNoServers(t *testing.T) {
	if _, err := NewNatsBroker(NatsConfig{}); err == nil {
		t.Fatal("empty server list accepted")
	}
}
