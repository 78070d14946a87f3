package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("dispatch lock not acquired")
)

// Locker guards a dispatch run so that overlapping invocations of the
// dispatcher (engine cron plus a manual trigger, or two worker replicas)
// do not process the same batch.
type Locker interface {
	WithDispatchLock(ctx context.Context, fn func(ctx context.Context) error) error
}

type redisDispatchLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDispatchLocker creates a locker backed by a single Redis key.
func NewRedisDispatchLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDispatchLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisDispatchLocker) WithDispatchLock(ctx context.Context, fn func(ctx context.Context) error) error {
	const key = "lock:dispatch"
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDispatchLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release dispatch lock: %w", err)
	}
	return nil
}
