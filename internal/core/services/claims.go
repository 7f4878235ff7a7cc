package services

import (
	"context"
	"fmt"

	"tempvoice/internal/core/acl"
	"tempvoice/internal/core/domain"
	apperrors "tempvoice/pkg/errors"
)

const (
	ClaimGranted = "claim_granted"
	ClaimPending = "claim_pending"
)

// claimLocked resolves a claim by a current, non-owner member. The room is granted
// at once to a sole member or a user the owner trusts; anyone else waits for the
// owner's decision or the end of the grace window.
func (c *Controller) claimLocked(ctx context.Context, room *domain.Room, members acl.UserSet, claimant domain.UserID) (string, error) {
	owned, err := c.rooms.FindByOwner(ctx, claimant)
	if err != nil {
		return "", fmt.Errorf("find owned rooms: %w", err)
	}
	for _, r := range owned {
		if r.ID != room.ID && r.State.Live() {
			return "", apperrors.NewAuthorizationError("you already own another room")
		}
	}

	switch room.State {
	case domain.RoomPendingDelete:
		return "", apperrors.NewValidationError("room is being deleted")
	case domain.RoomActive:
		if members.Has(room.OwnerID) {
			return "", apperrors.NewAuthorizationError("the room owner is still present")
		}
		// The owner's leave event was missed.
		if err := c.enterVacantLocked(ctx, room); err != nil {
			return "", err
		}
	case domain.RoomOwnerVacant:
		if !c.GraceActive(room.ID) {
			c.startGrace(room.ID)
		}
	}

	if len(members) == 1 || c.isTrusted(ctx, room.OwnerID, claimant) {
		if err := c.transferLocked(ctx, room, claimant, "claim_auto"); err != nil {
			return "", err
		}
		return ClaimGranted, nil
	}

	if c.addClaim(domain.ClaimRequest{RoomID: room.ID, RequesterID: claimant, RequestedAt: c.now()}) {
		c.logger.Infow("Claim pending", "room_id", room.ID, "user_id", claimant)
	}
	return ClaimPending, nil
}

// approveClaimLocked grants a pending claim. An empty target approves the oldest one.
func (c *Controller) approveClaimLocked(ctx context.Context, room *domain.Room, members acl.UserSet, target domain.UserID) error {
	if room.State != domain.RoomOwnerVacant {
		return apperrors.NewValidationError("room has no open claims")
	}
	claim, ok := c.takeClaim(room.ID, target)
	if !ok {
		return apperrors.NewValidationError("no pending claim from that user")
	}
	if !members.Has(claim.RequesterID) {
		return apperrors.NewValidationError("claimant is no longer in the room")
	}
	return c.transferLocked(ctx, room, claim.RequesterID, "claim_approved")
}

func (c *Controller) denyClaimLocked(room *domain.Room, target domain.UserID) error {
	claim, ok := c.takeClaim(room.ID, target)
	if !ok {
		return apperrors.NewValidationError("no pending claim from that user")
	}
	c.logger.Infow("Claim denied", "room_id", room.ID, "user_id", claim.RequesterID)
	return nil
}

func (c *Controller) isTrusted(ctx context.Context, owner, user domain.UserID) bool {
	trusted, err := c.owners.ListTrusted(ctx, owner)
	if err != nil {
		c.logger.Warnw("Failed to load trusted users", "owner_id", owner, "error", err)
		return false
	}
	return acl.NewUserSet(trusted...).Has(user)
}

// addClaim records req unless the requester already has one open.
func (c *Controller) addClaim(req domain.ClaimRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.runtimeLocked(req.RoomID)
	for _, cl := range rt.claims {
		if cl.RequesterID == req.RequesterID {
			return false
		}
	}
	rt.claims = append(rt.claims, req)
	return true
}

// takeClaim removes and returns user's claim, or the oldest claim when user is empty.
func (c *Controller) takeClaim(id domain.ChannelID, user domain.UserID) (domain.ClaimRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	if !ok {
		return domain.ClaimRequest{}, false
	}
	for i, cl := range rt.claims {
		if user == "" || cl.RequesterID == user {
			rt.claims = append(rt.claims[:i], rt.claims[i+1:]...)
			return cl, true
		}
	}
	return domain.ClaimRequest{}, false
}

// PendingClaims lists the open claims for a room, oldest first.
func (c *Controller) PendingClaims(id domain.ChannelID) []domain.ClaimRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	if !ok {
		return nil
	}
	return append([]domain.ClaimRequest(nil), rt.claims...)
}
