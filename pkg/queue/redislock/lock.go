// Package redislock elects the queue writer across hosts with a Redis key.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/labflow/pkg/queue"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Deletes the key only when it still holds our token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements queue.Locker with SET NX PX.
type Locker struct {
	client *backend.Client
	prefix string
}

func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// NewFromURL connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewFromURL(ctx context.Context, url, prefix string) (*Locker, error) {
	opts, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := backend.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewLocker(client, prefix), nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (queue.Unlock, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}

	if !acquired {
		return nil, queue.ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("redis error releasing lock: %w", err)
		}

		return nil
	}, nil
}
