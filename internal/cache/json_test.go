package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Count int    `json:"count"`
	Range string `json:"range"`
}

func TestJSONCacheRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	c := NewJSONCache(client, "charts:", time.Minute)
	ctx := context.Background()

	var got payload
	if c.Get(ctx, "24h", &got) {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set(ctx, "24h", payload{Count: 3, Range: "24h"})
	if !c.Get(ctx, "24h", &got) || got.Count != 3 {
		t.Fatalf("expected hit, got %+v", got)
	}
	if !server.Exists("charts:24h") {
		t.Fatalf("expected namespaced key")
	}

	server.FastForward(2 * time.Minute)
	if c.Get(ctx, "24h", &got) {
		t.Fatalf("expected entry to expire")
	}

	c.Set(ctx, "7d", payload{Count: 1})
	c.Set(ctx, "30d", payload{Count: 2})
	server.Set("other:key", "x")
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if c.Get(ctx, "7d", &got) || c.Get(ctx, "30d", &got) {
		t.Fatalf("expected namespace flushed")
	}
	if !server.Exists("other:key") {
		t.Fatalf("flush removed a foreign key")
	}
}

func TestJSONCacheNilClient(t *testing.T) {
	c := NewJSONCache(nil, "charts", 0)
	c.Set(context.Background(), "k", payload{Count: 1})
	var got payload
	if c.Get(context.Background(), "k", &got) {
		t.Fatalf("nil client must always miss")
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
