// Package redislock implements the per-dispute lock port on Redis so that
// replicas sharing a ledger never evaluate the same dispute concurrently.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/lock"
)

const keyPrefix = "arbiter:lock:"

// releaseScript deletes the lock only if it still carries our token.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements lock.Locker using SET NX with an expiry. The TTL bounds
// how long a crashed holder blocks a dispute.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ lock.Locker = (*Locker)(nil)

// New creates a Locker from connection settings.
func New(addr, password string, db int, ttl time.Duration) *Locker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, ttl)
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// TryLock acquires key or returns lock.ErrHeld.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, lock.ErrHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must outlive a canceled request context.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil {
				slog.Warn("redislock: release failed", "key", key, "error", err)
			}
		})
	}
	return release, nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
