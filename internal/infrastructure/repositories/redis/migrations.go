package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaVersionKey = keyPrefix + "schema:version"

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	current, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	migrations := getMigrations()
	target := migrations[len(migrations)-1].Version
	if current >= target {
		if logger != nil {
			logger.Debugw("schema is up to date", "version", current)
		}
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version, "description", m.Description)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("migrations completed", "from", current, "to", target)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "room index",
			Up: func(ctx context.Context, client *redis.Client) error {
				// Rows written before the index existed are found by key scan.
				return forEachRoomKey(ctx, client, func(key string) error {
					id := key[len(roomKeyPrefix):]
					return client.SAdd(ctx, roomIndexKey, id).Err()
				})
			},
		},
		{
			Version:     2,
			Description: "owner index",
			Up: func(ctx context.Context, client *redis.Client) error {
				return forEachRoomKey(ctx, client, func(key string) error {
					data, err := client.Get(ctx, key).Bytes()
					if err == redis.Nil {
						return nil
					}
					if err != nil {
						return err
					}
					var rec roomRecord
					if err := json.Unmarshal(data, &rec); err != nil {
						return fmt.Errorf("decode %s: %w", key, err)
					}
					return client.SAdd(ctx, ownerRoomsKey(rec.OwnerID), rec.ID).Err()
				})
			},
		},
	}
}

func forEachRoomKey(ctx context.Context, client *redis.Client, fn func(key string) error) error {
	iter := client.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}
