// ABOUTME: Redis-backed Lease so replicas sharing a Redis never run the same owner concurrently
// ABOUTME: SET NX PX with a random token, kept alive while held and released by compare-and-delete

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseTTL bounds how long a crashed replica can block an owner. Held leases
// are renewed, so runs may last longer than this.
const DefaultLeaseTTL = time.Minute

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// heldLease is one lease this process holds, with its renewal loop.
type heldLease struct {
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

// RedisLease implements Lease with one Redis key per owner.
type RedisLease struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	held map[string]*heldLease
}

// NewRedisLease creates a lease store. Keys are prefix + "lease:" + owner key.
// Held leases are extended every ttl/3 until released.
func NewRedisLease(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLease{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		renewEvery: ttl / 3,
		logger:     logger.With("component", "lease"),
		held:       make(map[string]*heldLease),
	}
}

func (l *RedisLease) key(owner string) string {
	return l.prefix + "lease:" + owner
}

// Acquire takes the lease without waiting. It reports false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context, owner string) (bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key(owner), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease for %s: %w", owner, err)
	}
	if !ok {
		return false, nil
	}

	renewCtx, stop := context.WithCancel(context.Background())
	h := &heldLease{token: token, stop: stop, done: make(chan struct{})}
	l.mu.Lock()
	l.held[owner] = h
	l.mu.Unlock()

	go l.keepAlive(renewCtx, owner, h)
	return true, nil
}

// keepAlive extends the lease until stopped or until the key no longer carries
// this holder's token.
func (l *RedisLease) keepAlive(ctx context.Context, owner string, h *heldLease) {
	defer close(h.done)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewed, err := renewScript.Run(ctx, l.client, []string{l.key(owner)}, h.token, l.ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("lease renewal failed", "owner", owner, "error", err)
			continue
		}
		if renewed == 0 {
			l.logger.Error("lease lost while held", "owner", owner)
			return
		}
	}
}

// Release stops renewal and drops the lease if this process still holds it.
func (l *RedisLease) Release(ctx context.Context, owner string) error {
	l.mu.Lock()
	h, ok := l.held[owner]
	delete(l.held, owner)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	h.stop()
	<-h.done

	if err := releaseScript.Run(ctx, l.client, []string{l.key(owner)}, h.token).Err(); err != nil {
		return fmt.Errorf("releasing lease for %s: %w", owner, err)
	}
	return nil
}
