package services

import (
	"sync"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/pkg/cache"

	"golang.org/x/time/rate"
)

// joinCooldown limits how often one user may trigger room creation.
type joinCooldown struct {
	every    time.Duration
	mu       sync.Mutex
	limiters *cache.Cache[domain.UserID, *rate.Limiter]
}

func newJoinCooldown(every time.Duration) *joinCooldown {
	if every <= 0 {
		return nil
	}
	ttl := 2 * every
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &joinCooldown{
		every:    every,
		limiters: cache.New[domain.UserID, *rate.Limiter](ttl),
	}
}

func (j *joinCooldown) Allow(user domain.UserID) bool {
	if j == nil {
		return true
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	l, ok := j.limiters.Get(user)
	if !ok {
		l = rate.NewLimiter(rate.Every(j.every), 1)
	}
	j.limiters.Set(user, l)
	return l.Allow()
}

func (j *joinCooldown) Stop() {
	if j != nil {
		j.limiters.Stop()
	}
}
