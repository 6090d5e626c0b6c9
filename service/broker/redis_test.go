package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 1})
	b := NewRedisBroker(context.Background(), client, 16)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

// waitSubscribed blocks until the server sees n subscribed channels.
func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mr.PubSubChannels("")) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server channels = %v, want %d", mr.PubSubChannels(""), n)
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, mr := newRedisBroker(t)

	sub, err := b.Subscribe(ctx, "chat-a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitSubscribed(t, mr, 1)

	if err := b.Publish(ctx, "chat-a", []byte(`{"type":"user_typing"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	m := recv(t, sub)
	if string(m.Payload) != `{"type":"user_typing"}` {
		t.Fatalf("payload = %s", m.Payload)
	}
}

func TestRedisBrokerUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, mr := newRedisBroker(t)

	sub, _ := b.Subscribe(ctx, "chat-a")
	if _, err := b.Subscribe(ctx, "chat-a"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
	waitSubscribed(t, mr, 1)

	if err := b.Unsubscribe(ctx, "chat-a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("channel open after unsubscribe")
	}
	waitSubscribed(t, mr, 0)
	if err := b.Unsubscribe(ctx, "never"); err != nil {
		t.Fatalf("unknown topic: %v", err)
	}
}

func TestRedisBrokerTwoTopics(t *testing.T) {
	ctx := context.Background()
	b, mr := newRedisBroker(t)
	s1, _ := b.Subscribe(ctx, "g1")
	s2, _ := b.Subscribe(ctx, "g2")
	waitSubscribed(t, mr, 2)

	mr.Publish("g2", "two")
	mr.Publish("g1", "one")
	if m := recv(t, s1); string(m.Payload) != "one" {
		t.Fatalf("g1 got %s", m.Payload)
	}
	if m := recv(t, s2); string(m.Payload) != "two" {
		t.Fatalf("g2 got %s", m.Payload)
	}
}
