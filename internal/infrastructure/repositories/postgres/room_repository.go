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

// PostgresRoomRepository keeps rooms in the rooms table and their access entries in
// room_access. Update rewrites both in one transaction.
type PostgresRoomRepository struct {
	db *gorm.DB
}

func NewPostgresRoomRepository(db *gorm.DB) ports.RoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	m := fromRoom(room)
	access := m.Access
	m.Access = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
		if res.Error != nil {
			return fmt.Errorf("failed to insert room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrRoomExists
		}
		if len(access) > 0 {
			if err := tx.Create(&access).Error; err != nil {
				return fmt.Errorf("failed to insert room access: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id domain.ChannelID) (*domain.Room, error) {
	var m roomModel
	err := r.db.WithContext(ctx).Preload("Access").Where("id = ?", string(id)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return m.toDomain(), nil
}

func (r *PostgresRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	m := fromRoom(room)
	access := m.Access
	m.Access = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&roomModel{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
			"owner_id":   m.OwnerID,
			"locked":     m.Locked,
			"user_limit": m.UserLimit,
			"name":       m.Name,
			"base_name":  m.BaseName,
			"position":   m.Position,
			"state":      m.State,
		})
		if res.Error != nil {
			return fmt.Errorf("failed to update room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrRoomNotFound
		}
		if err := tx.Where("room_id = ?", m.ID).Delete(&roomAccessModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear room access: %w", err)
		}
		if len(access) > 0 {
			if err := tx.Create(&access).Error; err != nil {
				return fmt.Errorf("failed to write room access: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRoomRepository) Delete(ctx context.Context, id domain.ChannelID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", string(id)).Delete(&roomAccessModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete room access: %w", err)
		}
		res := tx.Where("id = ?", string(id)).Delete(&roomModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrRoomNotFound
		}
		return nil
	})
}

func (r *PostgresRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	var models []roomModel
	if err := r.db.WithContext(ctx).Preload("Access").Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return toDomainRooms(models), nil
}

func (r *PostgresRoomRepository) FindByOwner(ctx context.Context, owner domain.UserID) ([]*domain.Room, error) {
	var models []roomModel
	err := r.db.WithContext(ctx).Preload("Access").Where("owner_id = ?", string(owner)).Order("id").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find rooms by owner: %w", err)
	}
	return toDomainRooms(models), nil
}

func toDomainRooms(models []roomModel) []*domain.Room {
	rooms := make([]*domain.Room, len(models))
	for i := range models {
		rooms[i] = models[i].toDomain()
	}
	return rooms
}
