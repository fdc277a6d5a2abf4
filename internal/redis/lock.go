package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired means another booking currently holds the slot.
var ErrLockNotAcquired = errors.New("slot lock not acquired")

const (
	slotLockPrefix    = "lock:slot:"
	defaultLockTTL    = 5 * time.Second
	lockReleaseBudget = time.Second
)

// Locker guards the booking critical section for a single slot key.
// It only shortens contention; the database constraint stays authoritative.
type Locker interface {
	WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSlotLocker returns a Locker backed by SET NX keys that expire after ttl.
func NewRedisSlotLocker(client redis.UniversalClient, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisSlotLocker{client: client, ttl: ttl}
}

// slotLock is a held lock, identified by the random token stored under key.
type slotLock struct {
	key   string
	token string
}

// WithSlotLock runs fn while holding the slot key. fn gets at most the lock TTL
// to finish so the key never outlives the work it protects.
func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	lock, err := l.acquire(ctx, slotLockPrefix+slotKey)
	if err != nil {
		return err
	}
	defer l.release(ctx, lock)

	fnCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(fnCtx)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key string) (slotLock, error) {
	lock := slotLock{key: key, token: uuid.NewString()}

	ok, err := l.client.SetNX(ctx, lock.key, lock.token, l.ttl).Result()
	switch {
	case err != nil:
		return slotLock{}, fmt.Errorf("acquire slot lock %s: %w", key, err)
	case !ok:
		return slotLock{}, ErrLockNotAcquired
	}
	return lock, nil
}

// compareAndDelete removes KEYS[1] only while it still holds our token, so an
// expired lock that someone else re-acquired is left alone.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// release runs on a detached context so a cancelled request still frees the
// key. A failed release is left to the TTL.
func (l *redisSlotLocker) release(ctx context.Context, lock slotLock) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseBudget)
	defer cancel()

	_ = compareAndDelete.Run(releaseCtx, l.client, []string{lock.key}, lock.token).Err()
}
