package postgres

import (
	"time"

	"tempvoice/internal/core/domain"
)

type roomModel struct {
	ID               string            `gorm:"primaryKey;size:64"`
	OwnerID          string            `gorm:"size:64;not null;index"`
	CreatorChannelID string            `gorm:"size:64;not null"`
	Locked           bool              `gorm:"not null"`
	UserLimit        int               `gorm:"not null"`
	Name             string            `gorm:"size:100;not null"`
	BaseName         string            `gorm:"size:100;not null"`
	Position         int               `gorm:"not null"`
	State            string            `gorm:"size:16;not null"`
	CreatedAt        time.Time         `gorm:"not null"`
	Access           []roomAccessModel `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

func (roomModel) TableName() string { return "rooms" }

type roomAccessModel struct {
	RoomID string `gorm:"primaryKey;size:64"`
	UserID string `gorm:"primaryKey;size:64"`
	State  string `gorm:"size:16;not null"`
}

func (roomAccessModel) TableName() string { return "room_access" }

type trustedUserModel struct {
	OwnerID   string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (trustedUserModel) TableName() string { return "trusted_users" }

type blockedUserModel struct {
	OwnerID   string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (blockedUserModel) TableName() string { return "blocked_users" }

type userSettingsModel struct {
	UserID        string `gorm:"primaryKey;size:64"`
	DefaultName   string `gorm:"size:100"`
	DefaultLimit  int
	DefaultLocked bool
	UpdatedAt     time.Time
}

func (userSettingsModel) TableName() string { return "user_settings" }

func fromRoom(room *domain.Room) roomModel {
	m := roomModel{
		ID:               string(room.ID),
		OwnerID:          string(room.OwnerID),
		CreatorChannelID: string(room.CreatorChannelID),
		Locked:           room.Locked,
		UserLimit:        room.UserLimit,
		Name:             room.Name,
		BaseName:         room.BaseName,
		Position:         room.Position,
		State:            string(room.State),
		CreatedAt:        room.CreatedAt,
	}
	m.Access = accessRows(room)
	return m
}

func accessRows(room *domain.Room) []roomAccessModel {
	rows := make([]roomAccessModel, 0, len(room.Access))
	for u, s := range room.Access {
		rows = append(rows, roomAccessModel{RoomID: string(room.ID), UserID: string(u), State: string(s)})
	}
	return rows
}

func (m roomModel) toDomain() *domain.Room {
	room := &domain.Room{
		ID:               domain.ChannelID(m.ID),
		OwnerID:          domain.UserID(m.OwnerID),
		CreatorChannelID: domain.ChannelID(m.CreatorChannelID),
		Locked:           m.Locked,
		UserLimit:        m.UserLimit,
		Name:             m.Name,
		BaseName:         m.BaseName,
		Position:         m.Position,
		State:            domain.RoomState(m.State),
		CreatedAt:        m.CreatedAt,
		Access:           make(map[domain.UserID]domain.AccessState, len(m.Access)),
	}
	for _, a := range m.Access {
		room.Access[domain.UserID(a.UserID)] = domain.AccessState(a.State)
	}
	return room
}
