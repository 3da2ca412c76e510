package limits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter caps how often an action keyed by name may run per minute.
// With redis the count is shared across instances using fixed one-minute
// windows; without it each process keeps a token bucket per key.
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter   *rate.Limiter
	perMinute int
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow consumes one unit for key. A non-positive perMinute disables the
// check.
func (l *RateLimiter) Allow(ctx context.Context, key string, perMinute int) error {
	if l == nil || perMinute <= 0 {
		return nil
	}
	if l.client == nil {
		return l.allowLocal(key, perMinute)
	}

	window := l.now().UTC().Unix() / 60
	redisKey := fmt.Sprintf("rpm:%s:%d", key, window)
	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	if int(cnt) > perMinute {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) allowLocal(key string, perMinute int) error {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok || b.perMinute != perMinute {
		b = &bucket{
			limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
			perMinute: perMinute,
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()
	if !b.limiter.AllowN(l.now(), 1) {
		return ErrLimitExceeded
	}
	return nil
}
