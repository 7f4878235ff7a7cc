package memory

import (
	"context"
	"time"

	"tempvoice/pkg/cache"
)

// MemoryIdempotencyStore remembers event keys for ttl on a single instance.
type MemoryIdempotencyStore struct {
	seen *cache.Cache[string, struct{}]
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: cache.New[string, struct{}](ttl)}
}

func (s *MemoryIdempotencyStore) MarkSeen(ctx context.Context, key string) (bool, error) {
	return s.seen.SetIfAbsent(key, struct{}{}), nil
}

func (s *MemoryIdempotencyStore) Close() {
	s.seen.Stop()
}
