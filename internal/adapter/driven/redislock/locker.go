// Package redislock implements the Locker port with Redis leases so that
// several radcred instances serialise on the same credential.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Locker = (*Locker)(nil)

const (
	keyPrefix    = "radcred:lock:"
	retryDelay   = 50 * time.Millisecond
	unlockBudget = 5 * time.Second
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lease that another holder has taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires SET NX PX leases. A lease expires after ttl even if the
// holder crashes; ttl must exceed the longest provider round-trip.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Locker on an existing client.
func New(client *redis.Client, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	return &Locker{client: client, ttl: ttl}, nil
}

// Dial connects to Redis and verifies the connection before returning a Locker.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Locker, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, ttl)
}

// Lock blocks until the lease for key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %q: %w", key, ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockBudget)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		// The lease still expires after ttl.
		slog.Warn("redislock: release failed", "key", redisKey, "error", err)
	}
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
