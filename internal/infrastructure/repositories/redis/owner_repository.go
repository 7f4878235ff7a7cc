package redis

import (
	"context"
	"fmt"
	"sort"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

func trustedKey(owner domain.UserID) string { return keyPrefix + "trusted:" + string(owner) }

func blockedKey(owner domain.UserID) string { return keyPrefix + "blocked:" + string(owner) }

func settingsKey(user domain.UserID) string { return keyPrefix + "settings:" + string(user) }

type RedisOwnerRepository struct {
	client *redis.Client
}

func NewRedisOwnerRepository(client *redis.Client) ports.OwnerRepository {
	return &RedisOwnerRepository{client: client}
}

// moveInto adds user to the set at to and drops it from the set at from in one
// MULTI/EXEC block.
func (r *RedisOwnerRepository) moveInto(ctx context.Context, to, from, user string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, from, user)
		pipe.SAdd(ctx, to, user)
		return nil
	})
	return err
}

func (r *RedisOwnerRepository) listSet(ctx context.Context, key string) ([]domain.UserID, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)

	users := make([]domain.UserID, len(members))
	for i, m := range members {
		users[i] = domain.UserID(m)
	}
	return users, nil
}

func (r *RedisOwnerRepository) AddTrusted(ctx context.Context, owner, user domain.UserID) error {
	if err := r.moveInto(ctx, trustedKey(owner), blockedKey(owner), string(user)); err != nil {
		return fmt.Errorf("failed to add trusted user: %w", err)
	}
	return nil
}

func (r *RedisOwnerRepository) RemoveTrusted(ctx context.Context, owner, user domain.UserID) error {
	if err := r.client.SRem(ctx, trustedKey(owner), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to remove trusted user: %w", err)
	}
	return nil
}

func (r *RedisOwnerRepository) ListTrusted(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	users, err := r.listSet(ctx, trustedKey(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted users: %w", err)
	}
	return users, nil
}

func (r *RedisOwnerRepository) AddBlocked(ctx context.Context, owner, user domain.UserID) error {
	if err := r.moveInto(ctx, blockedKey(owner), trustedKey(owner), string(user)); err != nil {
		return fmt.Errorf("failed to add blocked user: %w", err)
	}
	return nil
}

func (r *RedisOwnerRepository) RemoveBlocked(ctx context.Context, owner, user domain.UserID) error {
	if err := r.client.SRem(ctx, blockedKey(owner), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to remove blocked user: %w", err)
	}
	return nil
}

func (r *RedisOwnerRepository) ListBlocked(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	users, err := r.listSet(ctx, blockedKey(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	return users, nil
}

type settingsHash struct {
	DefaultName   string `redis:"default_name"`
	DefaultLimit  int    `redis:"default_limit"`
	DefaultLocked bool   `redis:"default_locked"`
}

func (r *RedisOwnerRepository) GetSettings(ctx context.Context, user domain.UserID) (*domain.UserSettings, error) {
	res := r.client.HGetAll(ctx, settingsKey(user))
	fields, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSettingsNotFound
	}

	var h settingsHash
	if err := res.Scan(&h); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &domain.UserSettings{
		UserID:        user,
		DefaultName:   h.DefaultName,
		DefaultLimit:  h.DefaultLimit,
		DefaultLocked: h.DefaultLocked,
	}, nil
}

func (r *RedisOwnerRepository) SaveSettings(ctx context.Context, s *domain.UserSettings) error {
	err := r.client.HSet(ctx, settingsKey(s.UserID),
		"default_name", s.DefaultName,
		"default_limit", s.DefaultLimit,
		"default_locked", s.DefaultLocked,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
