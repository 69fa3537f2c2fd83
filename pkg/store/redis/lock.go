package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optqueue/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	lockKeyPrefix      = "lock:"
	defaultLockTTL     = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Lock is a SET NX lock shared by instances using the same Redis. A nil
// client degrades to an always-granted local lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	mu   sync.Mutex
	held bool
}

// NewLock creates a lock named name
func NewLock(redisClient *RedisClient, name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	var client *redis.Client
	if redisClient != nil {
		client = redisClient.GetClient()
	}
	return &Lock{
		client: client,
		key:    lockKeyPrefix + name,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryLock acquires the lock without waiting. It reports false when another
// holder owns it.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.setHeld(true)
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if acquired {
		l.setHeld(true)
		logger.DebugCtx(ctx, "lock %s acquired", l.key)
	}
	return acquired, nil
}

// Unlock releases the lock if this holder still owns it
func (l *Lock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	l.mu.Unlock()

	if l.client == nil {
		return nil
	}

	released, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if released == 0 {
		logger.WarnCtx(ctx, "lock %s expired or was taken over before release", l.key)
	}
	return nil
}

// IsHeld reports whether this holder acquired the lock and has not released it
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lock) setHeld(v bool) {
	l.mu.Lock()
	l.held = v
	l.mu.Unlock()
}
