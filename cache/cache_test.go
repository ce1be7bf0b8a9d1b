package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLRUEvictsOldest(t *testing.T) {
	c, err := NewLRU(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "c", 3)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("expected a to be evicted")
	}
	if v, ok := c.Get(ctx, "c"); !ok || v != 3 {
		t.Fatalf("expected c=3, got %v %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestRedisRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, server.Addr(), "test:", time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	c.Set(ctx, "k", 1234.57)
	v, ok := c.Get(ctx, "k")
	if !ok || v != 1234.57 {
		t.Fatalf("expected 1234.57, got %v %v", v, ok)
	}
	if !server.Exists("test:k") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := server.TTL("test:k"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()

	c, closeFn, err := New(ctx, Options{Backend: BackendNone})
	if err != nil || c != nil {
		t.Fatalf("expected no cache, got %v %v", c, err)
	}
	closeFn()

	c, _, err = New(ctx, Options{Backend: BackendLRU, Size: 8})
	if err != nil || c == nil {
		t.Fatalf("expected lru cache, got %v %v", c, err)
	}

	if _, _, err := New(ctx, Options{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, _, err := New(ctx, Options{Backend: BackendRedis}); err == nil {
		t.Fatal("expected error without redis address")
	}
}
