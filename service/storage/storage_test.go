package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestPresenceStore(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newRedis(t)
	p := NewPresenceStore(rdb)

	if err := p.MarkOnline(ctx, 42); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if got, _ := mr.Get("user:42:status"); got != "online" {
		t.Fatalf("flag value = %q", got)
	}
	if ttl := mr.TTL("user:42:status"); ttl != 60*time.Second {
		t.Fatalf("ttl = %v", ttl)
	}
	online, err := p.IsOnline(ctx, 42)
	if err != nil || !online {
		t.Fatalf("IsOnline = %v, %v", online, err)
	}

	// the flag fades once the TTL runs out
	mr.FastForward(61 * time.Second)
	if online, _ := p.IsOnline(ctx, 42); online {
		t.Fatal("still online after ttl")
	}

	_ = p.MarkOnline(ctx, 42)
	if err := p.MarkOffline(ctx, 42); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if mr.Exists("user:42:status") {
		t.Fatal("flag survived MarkOffline")
	}
}

func TestResponseCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newRedis(t)
	c := NewResponseCache(rdb)

	for i := 0; i < 250; i++ {
		_ = mr.Set(fmt.Sprintf("messages_chat-1_%d_50", i), "page")
	}
	_ = mr.Set("messages_chat-2_0_50", "other chat")
	_ = mr.Set("direct_chats_user-1", "list")
	_ = mr.Set("direct_chats_user-2", "list")

	n, err := c.InvalidateMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("invalidate messages: %v", err)
	}
	if n != 250 {
		t.Fatalf("deleted %d, want 250", n)
	}
	if !mr.Exists("messages_chat-2_0_50") {
		t.Fatal("other chat's page removed")
	}

	n, err = c.InvalidateDirectChats(ctx, "user-1")
	if err != nil || n != 1 {
		t.Fatalf("invalidate direct chats = %d, %v", n, err)
	}
	if !mr.Exists("direct_chats_user-2") {
		t.Fatal("other user's list removed")
	}

	// nothing cached is fine
	if n, err := c.InvalidateMessages(ctx, "chat-9"); err != nil || n != 0 {
		t.Fatalf("empty invalidate = %d, %v", n, err)
	}
}

func TestWindowLimiter(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newRedis(t)
	l := NewFixedWindowLimiter(rdb, 3, 10*time.Second)
	key := LimiterKey("user-1", "conn-1")
	if key != "ws_limiter:user-1:conn-1" {
		t.Fatalf("key = %s", key)
	}

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, key)
		if err != nil || !ok {
			t.Fatalf("hit %d refused: %v", i, err)
		}
	}
	ok, retry, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("4th hit allowed")
	}
	if retry <= 0 || retry > 10*time.Second {
		t.Fatalf("retry after = %v", retry)
	}

	// another connection of the same user has its own window
	if ok, _, _ := l.Allow(ctx, LimiterKey("user-1", "conn-2")); !ok {
		t.Fatal("second connection limited")
	}

	mr.FastForward(11 * time.Second)
	if ok, _, _ := l.Allow(ctx, key); !ok {
		t.Fatal("window did not reset")
	}
}

func TestWindowLimiterDefaults(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newRedis(t)
	l := NewWindowLimiter(rdb)
	key := LimiterKey("u", "c")
	for i := 0; i < 50; i++ {
		if ok, _, err := l.Allow(ctx, key); err != nil || !ok {
			t.Fatalf("hit %d refused: %v", i, err)
		}
	}
	if ok, _, _ := l.Allow(ctx, key); ok {
		t.Fatal("51st hit allowed")
	}
}
