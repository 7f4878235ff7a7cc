package repositories

import (
	"context"
	"time"

	"tempvoice/internal/core/ports"
	"tempvoice/internal/infrastructure/repositories/memory"
	"tempvoice/internal/infrastructure/repositories/postgres"
	redisrepo "tempvoice/internal/infrastructure/repositories/redis"
	"tempvoice/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RepositoryFactory builds the registry for the configured storage driver. A driver
// that cannot connect falls back to memory so a single instance can still serve.
type RepositoryFactory struct {
	driver      string
	redisClient *redis.Client
	db          *gorm.DB
	seen        *memory.MemoryIdempotencyStore
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		driver: cfg.Storage.Driver,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, continuing without it", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	switch factory.driver {
	case "redis":
		if factory.redisClient == nil {
			logger.Warn("redis storage unavailable, falling back to memory repositories")
			factory.driver = "memory"
		}
	case "postgres":
		db, err := postgres.Open(cfg.Storage.PostgresDSN, logger)
		if err != nil {
			logger.Warnw("failed to connect to postgres, falling back to memory repositories", "error", err)
			factory.driver = "memory"
		} else {
			factory.db = db
		}
	}

	logger.Infow("room registry ready", "driver", factory.driver)
	return factory, nil
}

// Driver reports the storage driver in use after any fallback.
func (f *RepositoryFactory) Driver() string {
	return f.driver
}

// RedisClient returns the shared client, or nil when Redis is not connected.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	switch f.driver {
	case "redis":
		return redisrepo.NewRedisRoomRepository(f.redisClient)
	case "postgres":
		return postgres.NewPostgresRoomRepository(f.db)
	}
	return memory.NewMemoryRoomRepository()
}

func (f *RepositoryFactory) CreateOwnerRepository() ports.OwnerRepository {
	switch f.driver {
	case "redis":
		return redisrepo.NewRedisOwnerRepository(f.redisClient)
	case "postgres":
		return postgres.NewPostgresOwnerRepository(f.db)
	}
	return memory.NewMemoryOwnerRepository()
}

// CreateIdempotencyStore shares dedup state through Redis whenever it is connected,
// regardless of the registry driver.
func (f *RepositoryFactory) CreateIdempotencyStore(ttl time.Duration) ports.IdempotencyStore {
	if f.redisClient != nil {
		return redisrepo.NewRedisIdempotencyStore(f.redisClient, ttl)
	}
	if f.seen == nil {
		f.seen = memory.NewMemoryIdempotencyStore(ttl)
	}
	return f.seen
}

func (f *RepositoryFactory) Close() error {
	if f.seen != nil {
		f.seen.Close()
	}
	if f.db != nil {
		if err := postgres.Close(f.db); err != nil {
			f.logger.Warnw("failed to close postgres", "error", err)
		}
	}
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings every backing store in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if f.db != nil {
		sqlDB, err := f.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return nil
}
