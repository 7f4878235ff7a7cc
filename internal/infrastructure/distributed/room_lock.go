package distributed

import (
	"context"
	"fmt"
	"time"

	"tempvoice/internal/core/ports"
	"tempvoice/pkg/distributed"

	"go.uber.org/zap"
)

// RedisSerializer orders work per room across instances. Local FIFO order is kept by
// the wrapped serializer; the Redis lock is only taken once a ticket's local turn has
// come, so each instance contends with at most one waiter per key.
type RedisSerializer struct {
	local  ports.RoomSerializer
	locks  *distributed.LockManager
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewRedisSerializer(local ports.RoomSerializer, locks *distributed.LockManager, ttl time.Duration, logger *zap.SugaredLogger) *RedisSerializer {
	return &RedisSerializer{
		local:  local,
		locks:  locks,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisSerializer) Reserve(key string) ports.Ticket {
	return &redisTicket{
		s:     s,
		key:   key,
		local: s.local.Reserve(key),
	}
}

type redisTicket struct {
	s     *RedisSerializer
	key   string
	local ports.Ticket
	lock  *distributed.Lock
}

func (t *redisTicket) Wait(ctx context.Context) error {
	if err := t.local.Wait(ctx); err != nil {
		return err
	}

	lock := t.s.locks.NewLock(t.key, t.s.ttl)
	if err := lock.Acquire(ctx, 0); err != nil {
		t.local.Release()
		return fmt.Errorf("room lock %s: %w", t.key, err)
	}
	t.lock = lock
	return nil
}

func (t *redisTicket) Release() {
	if t.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.lock.Release(ctx); err != nil {
			t.s.logger.Warnw("failed to release room lock", "key", t.key, "error", err)
		}
		cancel()
		t.lock = nil
	}
	t.local.Release()
}
