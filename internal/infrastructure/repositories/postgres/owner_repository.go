package postgres

import (
	"context"
	"errors"
	"fmt"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresOwnerRepository struct {
	db *gorm.DB
}

func NewPostgresOwnerRepository(db *gorm.DB) ports.OwnerRepository {
	return &PostgresOwnerRepository{db: db}
}

// moveInto inserts row and deletes the same pair from the opposite list in one
// transaction.
func (r *PostgresOwnerRepository) moveInto(ctx context.Context, row, opposite interface{}, owner, user domain.UserID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND user_id = ?", string(owner), string(user)).Delete(opposite).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	})
}

func (r *PostgresOwnerRepository) removePair(ctx context.Context, model interface{}, owner, user domain.UserID) error {
	return r.db.WithContext(ctx).
		Where("owner_id = ? AND user_id = ?", string(owner), string(user)).
		Delete(model).Error
}

func (r *PostgresOwnerRepository) listUsers(ctx context.Context, model interface{}, owner domain.UserID) ([]domain.UserID, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(model).
		Where("owner_id = ?", string(owner)).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}

	users := make([]domain.UserID, len(ids))
	for i, id := range ids {
		users[i] = domain.UserID(id)
	}
	return users, nil
}

func (r *PostgresOwnerRepository) AddTrusted(ctx context.Context, owner, user domain.UserID) error {
	row := &trustedUserModel{OwnerID: string(owner), UserID: string(user)}
	if err := r.moveInto(ctx, row, &blockedUserModel{}, owner, user); err != nil {
		return fmt.Errorf("failed to add trusted user: %w", err)
	}
	return nil
}

func (r *PostgresOwnerRepository) RemoveTrusted(ctx context.Context, owner, user domain.UserID) error {
	if err := r.removePair(ctx, &trustedUserModel{}, owner, user); err != nil {
		return fmt.Errorf("failed to remove trusted user: %w", err)
	}
	return nil
}

func (r *PostgresOwnerRepository) ListTrusted(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	users, err := r.listUsers(ctx, &trustedUserModel{}, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted users: %w", err)
	}
	return users, nil
}

func (r *PostgresOwnerRepository) AddBlocked(ctx context.Context, owner, user domain.UserID) error {
	row := &blockedUserModel{OwnerID: string(owner), UserID: string(user)}
	if err := r.moveInto(ctx, row, &trustedUserModel{}, owner, user); err != nil {
		return fmt.Errorf("failed to add blocked user: %w", err)
	}
	return nil
}

func (r *PostgresOwnerRepository) RemoveBlocked(ctx context.Context, owner, user domain.UserID) error {
	if err := r.removePair(ctx, &blockedUserModel{}, owner, user); err != nil {
		return fmt.Errorf("failed to remove blocked user: %w", err)
	}
	return nil
}

func (r *PostgresOwnerRepository) ListBlocked(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	users, err := r.listUsers(ctx, &blockedUserModel{}, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	return users, nil
}

func (r *PostgresOwnerRepository) GetSettings(ctx context.Context, user domain.UserID) (*domain.UserSettings, error) {
	var m userSettingsModel
	err := r.db.WithContext(ctx).Where("user_id = ?", string(user)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &domain.UserSettings{
		UserID:        user,
		DefaultName:   m.DefaultName,
		DefaultLimit:  m.DefaultLimit,
		DefaultLocked: m.DefaultLocked,
	}, nil
}

func (r *PostgresOwnerRepository) SaveSettings(ctx context.Context, s *domain.UserSettings) error {
	m := userSettingsModel{
		UserID:        string(s.UserID),
		DefaultName:   s.DefaultName,
		DefaultLimit:  s.DefaultLimit,
		DefaultLocked: s.DefaultLocked,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"default_name", "default_limit", "default_locked", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
