package domain

import (
	"fmt"
	"time"
)

// MembershipEvent is one voice-state change reported by the platform. Empty Before
// means the user connected; empty After means the user disconnected.
type MembershipEvent struct {
	UserID    UserID    `json:"user_id"`
	Before    ChannelID `json:"channel_before,omitempty"`
	After     ChannelID `json:"channel_after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IdempotencyKey identifies redeliveries of the same event.
func (e MembershipEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s|%s|%d", e.UserID, e.After, e.Timestamp.UnixNano())
}

type RoomEventType string

const (
	RoomCreated      RoomEventType = "room.created"
	RoomDeletedEvent RoomEventType = "room.deleted"
	RoomOwnerChanged RoomEventType = "room.owner_changed"
	RoomAnomaly      RoomEventType = "room.anomaly"
)

// RoomEvent is published after a lifecycle change so other instances can react.
type RoomEvent struct {
	Type          RoomEventType `json:"type"`
	RoomID        ChannelID     `json:"room_id"`
	OwnerID       UserID        `json:"owner_id,omitempty"`
	PreviousOwner UserID        `json:"previous_owner,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	InstanceID    string        `json:"instance_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
