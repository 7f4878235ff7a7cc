package ports

import (
	"context"

	"tempvoice/internal/core/domain"
)

// RoomRepository stores rooms together with their access entries. Update replaces the
// row and its access set as one write.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.ChannelID) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id domain.ChannelID) error
	List(ctx context.Context) ([]*domain.Room, error)
	FindByOwner(ctx context.Context, owner domain.UserID) ([]*domain.Room, error)
}

// OwnerRepository stores per-owner data: trusted and blocked users and creation
// defaults. A user is never in both of an owner's lists; adding to one removes
// from the other.
type OwnerRepository interface {
	AddTrusted(ctx context.Context, owner, user domain.UserID) error
	RemoveTrusted(ctx context.Context, owner, user domain.UserID) error
	ListTrusted(ctx context.Context, owner domain.UserID) ([]domain.UserID, error)
	AddBlocked(ctx context.Context, owner, user domain.UserID) error
	RemoveBlocked(ctx context.Context, owner, user domain.UserID) error
	ListBlocked(ctx context.Context, owner domain.UserID) ([]domain.UserID, error)
	GetSettings(ctx context.Context, user domain.UserID) (*domain.UserSettings, error)
	SaveSettings(ctx context.Context, settings *domain.UserSettings) error
}

// IdempotencyStore remembers event keys for a bounded time.
type IdempotencyStore interface {
	// MarkSeen records key and reports whether this is its first sighting.
	MarkSeen(ctx context.Context, key string) (bool, error)
}
