package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestRateLimiterRedisWindow(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	fixed := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(ctx, "sync:manual", 2); err != nil {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}
	if err := limiter.Allow(ctx, "sync:manual", 2); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if err := limiter.Allow(ctx, "sync:other", 2); err != nil {
		t.Fatalf("other key should pass: %v", err)
	}

	fixed = fixed.Add(time.Minute)
	if err := limiter.Allow(ctx, "sync:manual", 2); err != nil {
		t.Fatalf("next window should pass: %v", err)
	}
}

func TestRateLimiterLocalFallback(t *testing.T) {
	limiter := NewRateLimiter(nil)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	if err := limiter.Allow(ctx, "k", 1); err != nil {
		t.Fatalf("first should pass: %v", err)
	}
	if err := limiter.Allow(ctx, "k", 1); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected limit error, got %v", err)
	}
	fixed = fixed.Add(61 * time.Second)
	if err := limiter.Allow(ctx, "k", 1); err != nil {
		t.Fatalf("bucket should refill: %v", err)
	}
	if err := limiter.Allow(ctx, "k", 0); err != nil {
		t.Fatalf("zero limit disables the check: %v", err)
	}
}

func TestLeaserRedis(t *testing.T) {
	client, server := newTestClient(t)
	leaser := NewLeaser(client)
	ctx := context.Background()

	release, err := leaser.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "sync", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if !leaser.Held(ctx, "sync") {
		t.Fatalf("expected lease to be held")
	}
	release()
	release()
	if leaser.Held(ctx, "sync") {
		t.Fatalf("expected lease released")
	}

	release, err = leaser.Acquire(ctx, "sync", time.Second)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	server.FastForward(2 * time.Second)
	other, err := leaser.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("expired lease should be claimable: %v", err)
	}
	// stale release must not drop the new holder's lease
	release()
	if !leaser.Held(ctx, "sync") {
		t.Fatalf("stale release removed the new lease")
	}
	other()
}

func TestLeaserRedisRenewsWhileHeld(t *testing.T) {
	client, server := newTestClient(t)
	leaser := NewLeaser(client)
	ctx := context.Background()

	release, err := leaser.Acquire(ctx, "sync", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	server.FastForward(250 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for server.TTL("lease:sync") <= 200*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("lease was not renewed, ttl %s", server.TTL("lease:sync"))
		}
		time.Sleep(10 * time.Millisecond)
	}

	// past the original ttl, still ours
	server.FastForward(250 * time.Millisecond)
	if !leaser.Held(ctx, "sync") {
		t.Fatalf("renewed lease expired")
	}
	release()
	if server.Exists("lease:sync") {
		t.Fatalf("expected lease released")
	}
}

func TestLeaserLocal(t *testing.T) {
	leaser := NewLeaser(nil)
	ctx := context.Background()
	release, err := leaser.Acquire(ctx, "sync", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "sync", 0); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	release()
	if leaser.Held(ctx, "sync") {
		t.Fatalf("expected lease released")
	}
}
