package limits

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease held by another run")

// releaseScript deletes the key only when it still carries our token, so
// an expired lease re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript pushes the expiry forward while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Leaser hands out named, exclusive leases. With redis they span processes
// and expire after ttl; otherwise they are process-local.
type Leaser struct {
	client *redis.Client

	mu   sync.Mutex
	held map[string]struct{}
}

func NewLeaser(client *redis.Client) *Leaser {
	return &Leaser{client: client, held: make(map[string]struct{})}
}

// Acquire takes the lease or returns ErrLeaseHeld. With redis the lease is
// renewed every ttl/3 until released, so ttl only bounds how long a crashed
// holder blocks others. The returned release function is safe to call more
// than once.
func (l *Leaser) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if l.client == nil {
		return l.acquireLocal(name)
	}

	key := "lease:" + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.client, []string{key}, token)
		})
	}, nil
}

// renew extends the lease until stop closes or the token is no longer ours.
func (l *Leaser) renew(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (l *Leaser) acquireLocal(name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return nil, ErrLeaseHeld
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether name is currently leased.
func (l *Leaser) Held(ctx context.Context, name string) bool {
	if l.client == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, busy := l.held[name]
		return busy
	}
	n, err := l.client.Exists(ctx, "lease:"+name).Result()
	return err == nil && n > 0
}
