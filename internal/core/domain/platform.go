package domain

import "time"

// Everyone targets the platform's default role when setting permissions; denying it locks a room.
const Everyone UserID = "@everyone"

type Permission string

const (
	PermissionAllow Permission = "allow"
	PermissionDeny  Permission = "deny"
	PermissionClear Permission = "clear"
)

type ChannelSpec struct {
	Parent     ChannelID
	Name       string
	Limit      int
	Tag        string
	Overwrites map[UserID]Permission
}

type ChannelInfo struct {
	ID        ChannelID
	Parent    ChannelID
	Name      string
	Tag       string
	Limit     int
	Members   []UserID
	CreatedAt time.Time
}
