package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clusterAcquireScript increments the shared counter and backs out when the
// cap is exceeded. The TTL frees slots leaked by a crashed instance.
var clusterAcquireScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var clusterReleaseScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// clusterRetryInterval is the pause between acquire attempts.
const clusterRetryInterval = 250 * time.Millisecond

// RedisImportLimiter caps imports across every instance sharing one Redis.
// It complements ImportLimiter, which only sees the local process.
type RedisImportLimiter struct {
	client  redis.Scripter
	key     string
	limit   int
	ttl     time.Duration
	maxWait time.Duration
}

// NewRedisImportLimiter builds a cluster-wide cap of limit imports.
func NewRedisImportLimiter(client redis.Scripter, key string, limit int, ttl, maxWait time.Duration) (*RedisImportLimiter, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis import limiter: client is nil")
	case key == "":
		return nil, errors.New("redis import limiter: key is required")
	case limit <= 0:
		return nil, errors.New("redis import limiter: limit must be > 0")
	case ttl <= 0:
		return nil, errors.New("redis import limiter: ttl must be > 0")
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &RedisImportLimiter{client: client, key: key, limit: limit, ttl: ttl, maxWait: maxWait}, nil
}

// Acquire polls for a slot until maxWait passes. The caller must Release it.
func (l *RedisImportLimiter) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := clusterAcquireScript.Run(ctx, l.client, []string{l.key}, l.limit, l.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("acquire cluster import slot: %w", err)
		}
		if ok == 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTooManyImports
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clusterRetryInterval):
		}
	}
}

// Release frees a slot. It runs even when the request context is already
// cancelled.
func (l *RedisImportLimiter) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := clusterReleaseScript.Run(ctx, l.client, []string{l.key}).Err(); err != nil {
		return fmt.Errorf("release cluster import slot: %w", err)
	}
	return nil
}
