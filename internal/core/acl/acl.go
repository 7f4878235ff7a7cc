// Package acl computes room permissions. Every function here is pure: callers load
// the room, the owner's trusted set and the current members, and apply the result.
package acl

import (
	"fmt"

	"tempvoice/internal/core/domain"
)

type Decision struct {
	Permitted bool
	Reason    string
}

func allow() Decision {
	return Decision{Permitted: true}
}

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// UserSet is a set of user ids.
type UserSet map[domain.UserID]struct{}

func NewUserSet(users ...domain.UserID) UserSet {
	s := make(UserSet, len(users))
	for _, u := range users {
		s[u] = struct{}{}
	}
	return s
}

func (s UserSet) Has(u domain.UserID) bool {
	_, ok := s[u]
	return ok
}

// Authorize decides whether actor may perform action on room given the current
// platform membership.
func Authorize(room *domain.Room, members UserSet, actor domain.UserID, action domain.Action) Decision {
	if room == nil {
		return deny("room does not exist")
	}
	if !action.Valid() {
		return deny("unknown action %q", action)
	}

	if action == domain.ActionClaim {
		switch {
		case actor == room.OwnerID:
			return deny("you already own this room")
		case !members.Has(actor):
			return deny("only current room members may claim")
		case room.IsBlocked(actor):
			return deny("blocked users may not claim")
		}
		return allow()
	}

	if actor != room.OwnerID {
		return deny("only the room owner may %s", action)
	}
	return allow()
}

// OwnerLists is an owner's durable trusted and blocked sets. They follow the
// owner from room to room; a room's own Access entries do not.
type OwnerLists struct {
	Trusted UserSet
	Blocked UserSet
}

// CanJoin computes effective join permission for user given memberCount users already inside.
func CanJoin(room *domain.Room, lists OwnerLists, user domain.UserID, memberCount int) Decision {
	switch {
	case user == room.OwnerID:
		return allow()
	case room.IsBlocked(user), lists.Blocked.Has(user):
		return deny("blocked by the owner")
	case room.IsAllowed(user), lists.Trusted.Has(user):
		return allow()
	case room.Locked:
		return deny("room is locked")
	case room.UserLimit > 0 && memberCount >= room.UserLimit:
		return deny("room is full (%d/%d)", memberCount, room.UserLimit)
	}
	return allow()
}

// Overwrites derives the platform permission overwrites that enforce CanJoin's
// lock and list rules. The user limit is enforced by the channel limit itself.
func Overwrites(room *domain.Room, lists OwnerLists) map[domain.UserID]domain.Permission {
	out := make(map[domain.UserID]domain.Permission, len(room.Access)+len(lists.Trusted)+len(lists.Blocked)+2)
	if room.Locked {
		out[domain.Everyone] = domain.PermissionDeny
	}
	for u := range lists.Trusted {
		out[u] = domain.PermissionAllow
	}
	for u := range lists.Blocked {
		out[u] = domain.PermissionDeny
	}
	for u, state := range room.Access {
		if state == domain.AccessBlocked {
			out[u] = domain.PermissionDeny
		} else if !lists.Blocked.Has(u) {
			out[u] = domain.PermissionAllow
		}
	}
	out[room.OwnerID] = domain.PermissionAllow
	return out
}
