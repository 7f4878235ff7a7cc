package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrSettingsNotFound = errors.New("user settings not found")

	// ErrChannelNotFound is returned by the platform when a channel no longer exists.
	ErrChannelNotFound = errors.New("platform channel not found")
	// ErrPlatformTransient marks timeouts, rate limits and 5xx responses from the platform.
	ErrPlatformTransient = errors.New("platform transient error")
)
