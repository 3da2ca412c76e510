package redisclient

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/newflowio/elova/internal/config"
)

func TestNewDisabledWithoutURL(t *testing.T) {
	if c := New(config.RedisConfig{}); c != nil {
		t.Fatalf("expected nil client when redis is not configured")
	}
	if err := Ping(context.Background(), nil); err != nil {
		t.Fatalf("ping on nil client should be a no-op: %v", err)
	}
}

func TestNewAcceptsURLAndAddr(t *testing.T) {
	server := miniredis.RunT(t)
	for _, raw := range []string{"redis://" + server.Addr() + "/0", server.Addr()} {
		client := New(config.RedisConfig{URL: raw, PoolSize: 2})
		if client == nil {
			t.Fatalf("expected client for %q", raw)
		}
		if err := Ping(context.Background(), client); err != nil {
			t.Fatalf("ping %q: %v", raw, err)
		}
		client.Close()
	}
}
