package postgres

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to dsn, retrying a few times while the database starts, and
// migrates the schema.
func Open(dsn string, logger *zap.SugaredLogger) (*gorm.DB, error) {
	const (
		maxRetries    = 3
		retryInterval = 2 * time.Second
	)

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i <= maxRetries; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			break
		}
		logger.Warnw("postgres connection failed", "retry", i, "error", err)
		time.Sleep(retryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&roomModel{}, &roomAccessModel{}, &trustedUserModel{}, &blockedUserModel{}, &userSettingsModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
