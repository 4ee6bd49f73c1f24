package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyedLock serializes the load-mutate-save cycle per client so that
// two concurrent turns for the same client cannot overwrite each
// other's context. Different clients never contend.
type KeyedLock struct {
	redis *redis.Client
	ttl   time.Duration
}

// ErrLockHeld is returned when another turn already holds the client's
// lock.
var ErrLockHeld = fmt.Errorf("session: lock already held")

func NewKeyedLock(rdb *redis.Client, ttl time.Duration) *KeyedLock {
	if rdb == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &KeyedLock{redis: rdb, ttl: ttl}
}

// releaseScript deletes the lock only if the caller still owns it, so
// an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Acquire takes the client's lock. The returned release function is
// safe to call exactly once, typically in a defer.
func (l *KeyedLock) Acquire(ctx context.Context, clientID string) (release func(), err error) {
	token := uuid.NewString()
	key := lockKey(clientID)

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("session: lock acquire: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// Release happens on a background context so a cancelled turn
		// still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.redis, []string{key}, token).Err()
	}, nil
}

// AcquireWait retries acquisition until the context expires.
func (l *KeyedLock) AcquireWait(ctx context.Context, clientID string, pollEvery time.Duration) (func(), error) {
	if pollEvery <= 0 {
		pollEvery = 50 * time.Millisecond
	}
	for {
		release, err := l.Acquire(ctx, clientID)
		if err == nil {
			return release, nil
		}
		if err != ErrLockHeld {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

func lockKey(clientID string) string {
	return fmt.Sprintf("context_lock:%s", clientID)
}
