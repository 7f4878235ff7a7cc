package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrLockNotHeld = errors.New("lock was not held by this holder")
)

// releaseScript deletes the key only when it still carries the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only for the current holder.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock is a single-use Redis lock held under SET NX PX with background renewal.
type Lock struct {
	client    redis.UniversalClient
	key       string
	token     string
	ttl       time.Duration
	pollEvery time.Duration
	stopRenew chan struct{}
}

func newLock(client redis.UniversalClient, key string, ttl time.Duration) *Lock {
	return &Lock{
		client:    client,
		key:       key,
		token:     uuid.NewString(),
		ttl:       ttl,
		pollEvery: 50 * time.Millisecond,
		stopRenew: make(chan struct{}),
	}
}

// Acquire blocks until the lock is held, ctx ends, or timeout elapses (0 waits for ctx only).
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollEvery):
		}
	}
}

// TryAcquire attempts the lock once.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if ok {
		go l.renew()
	}
	return ok, nil
}

// Release drops the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	close(l.stopRenew)

	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || res == 0 {
				return
			}
		case <-l.stopRenew:
			return
		}
	}
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client redis.UniversalClient
	prefix string
}

func NewLockManager(client redis.UniversalClient, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// NewLock returns an unacquired lock for key.
func (lm *LockManager) NewLock(key string, ttl time.Duration) *Lock {
	return newLock(lm.client, lm.prefix+key, ttl)
}
