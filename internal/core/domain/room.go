package domain

import (
	"sort"
	"time"
)

type UserID string
type ChannelID string

// RoomState is the lifecycle state of a temporary room. PENDING_CREATE and DELETED
// are never persisted: a row exists only between them.
type RoomState string

const (
	RoomPendingCreate RoomState = "PENDING_CREATE"
	RoomActive        RoomState = "ACTIVE"
	RoomOwnerVacant   RoomState = "OWNER_VACANT"
	RoomPendingDelete RoomState = "PENDING_DELETE"
	RoomDeleted       RoomState = "DELETED"
)

// Live reports whether a room in this state has a registry row.
func (s RoomState) Live() bool {
	return s == RoomActive || s == RoomOwnerVacant || s == RoomPendingDelete
}

type AccessState string

const (
	AccessAllowed AccessState = "allowed"
	AccessBlocked AccessState = "blocked"
)

type Room struct {
	ID               ChannelID
	OwnerID          UserID
	CreatorChannelID ChannelID
	Locked           bool
	UserLimit        int
	Name             string
	BaseName         string
	Position         int
	State            RoomState
	CreatedAt        time.Time

	// Access holds at most one state per user, so allowed and blocked never overlap.
	Access map[UserID]AccessState
}

// Clone returns a deep copy safe to mutate.
func (r *Room) Clone() *Room {
	c := *r
	c.Access = make(map[UserID]AccessState, len(r.Access))
	for u, s := range r.Access {
		c.Access[u] = s
	}
	return &c
}

func (r *Room) Allow(user UserID) {
	r.setAccess(user, AccessAllowed)
}

func (r *Room) Block(user UserID) {
	r.setAccess(user, AccessBlocked)
}

func (r *Room) ClearAccess(user UserID) {
	delete(r.Access, user)
}

func (r *Room) setAccess(user UserID, state AccessState) {
	if r.Access == nil {
		r.Access = make(map[UserID]AccessState)
	}
	r.Access[user] = state
}

func (r *Room) IsAllowed(user UserID) bool {
	return r.Access[user] == AccessAllowed
}

func (r *Room) IsBlocked(user UserID) bool {
	return r.Access[user] == AccessBlocked
}

func (r *Room) Allowed() []UserID {
	return r.usersWith(AccessAllowed)
}

func (r *Room) Blocked() []UserID {
	return r.usersWith(AccessBlocked)
}

func (r *Room) usersWith(state AccessState) []UserID {
	var out []UserID
	for u, s := range r.Access {
		if s == state {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClaimRequest is an open request for ownership of a vacant room. It lives only in
// memory until approved, denied, superseded by the owner's return, or the window expires.
type ClaimRequest struct {
	RoomID      ChannelID
	RequesterID UserID
	RequestedAt time.Time
}

type UserSettings struct {
	UserID        UserID
	DefaultName   string
	DefaultLimit  int
	DefaultLocked bool
}
