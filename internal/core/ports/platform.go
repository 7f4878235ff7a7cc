package ports

import (
	"context"

	"tempvoice/internal/core/domain"
)

// Platform is the imperative command surface of the chat platform. Implementations
// return domain.ErrChannelNotFound for missing channels and wrap timeouts, rate limits
// and server faults with domain.ErrPlatformTransient.
type Platform interface {
	CreateVoiceChannel(ctx context.Context, spec domain.ChannelSpec) (domain.ChannelID, error)
	DeleteVoiceChannel(ctx context.Context, id domain.ChannelID) error
	// MoveMember moves user into channel; an empty channel disconnects the user.
	MoveMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) error
	SetChannelPermission(ctx context.Context, channel domain.ChannelID, target domain.UserID, perm domain.Permission) error
	RenameChannel(ctx context.Context, channel domain.ChannelID, name string) error
	SetChannelLimit(ctx context.Context, channel domain.ChannelID, limit int) error
	GetChannelMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error)
	GetChannel(ctx context.Context, channel domain.ChannelID) (*domain.ChannelInfo, error)
	ListChannels(ctx context.Context, parent domain.ChannelID) ([]*domain.ChannelInfo, error)
	GetMemberName(ctx context.Context, user domain.UserID) (string, error)
}
