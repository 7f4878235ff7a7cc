package redis

import (
	"context"
	"fmt"
	"time"

	"tempvoice/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Every key this package writes lives under keyPrefix so a shared Redis can be
// inspected or flushed per application.
const keyPrefix = "tempvoice:"

type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Connect dials Redis, waits for it to answer and brings the key layout up to the
// current schema version. Startup races with a Redis container are absorbed by a
// short ping retry.
func Connect(opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Address,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    2,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ping := retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
	if err := retry.Retry(ctx, ping, func() error { return client.Ping(ctx).Err() }); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s unreachable: %w", opts.Address, err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		client.Close()
		return nil, fmt.Errorf("migrate redis layout: %w", err)
	}

	logger.Infow("Redis connected", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	return client, nil
}
