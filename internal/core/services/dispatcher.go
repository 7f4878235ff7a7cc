package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"tempvoice/internal/core/acl"
	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/naming"
	apperrors "tempvoice/pkg/errors"
	"tempvoice/pkg/tracing"
	"tempvoice/pkg/validation"

	"go.uber.org/zap"
)

type Status string

const (
	StatusOK     Status = "ok"
	StatusDenied Status = "denied"
	StatusError  Status = "error"
)

// Params carries the action-specific arguments. UserID is the target of allow,
// block, kick, transfer and the claim decisions.
type Params struct {
	UserID domain.UserID `json:"user_id,omitempty"`
	Limit  *int          `json:"limit,omitempty"`
	Name   string        `json:"name,omitempty"`
}

// Result is the outcome of PerformAction. Err keeps the typed error behind a
// denied or error status.
type Result struct {
	Status Status
	Reason string
	Detail string
	Room   *domain.Room
	Err    error
}

func ok(room *domain.Room, reason string) Result {
	return Result{Status: StatusOK, Reason: reason, Room: room}
}

func resultFromError(err error) Result {
	if app := apperrors.GetAppError(err); app != nil {
		if app.Code == apperrors.ErrCodeForbidden {
			return Result{Status: StatusDenied, Reason: app.Message, Err: err}
		}
		return Result{Status: StatusError, Detail: app.Message, Err: err}
	}
	return Result{Status: StatusError, Detail: err.Error(), Err: err}
}

// Dispatcher applies user control actions under the room's serialization.
type Dispatcher struct {
	controller *Controller
	logger     *zap.SugaredLogger
}

func NewDispatcher(controller *Controller, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{controller: controller, logger: logger}
}

// PerformAction authorizes and applies action on behalf of actor.
func (d *Dispatcher) PerformAction(ctx context.Context, roomID domain.ChannelID, actor domain.UserID, action domain.Action, params Params) Result {
	ctx, span := tracing.TraceRoomOperation(ctx, "action", string(roomID))
	span.SetAttributes(tracing.ActionKey.String(string(action)), tracing.UserIDKey.String(string(actor)))

	res := d.perform(ctx, roomID, actor, action, params)

	tracing.EndSpan(span, res.Err)
	d.controller.metrics.ActionPerformed(string(action), string(res.Status))
	if res.Status == StatusError {
		d.logger.Warnw("Room action failed",
			"room_id", roomID,
			"user_id", actor,
			"action", action,
			"error", res.Err,
		)
	} else {
		d.logger.Debugw("Room action", "room_id", roomID, "user_id", actor, "action", action, "status", res.Status)
	}
	return res
}

func (d *Dispatcher) perform(ctx context.Context, roomID domain.ChannelID, actor domain.UserID, action domain.Action, params Params) Result {
	if err := validateAction(roomID, actor, action, params); err != nil {
		return resultFromError(err)
	}

	var res Result
	err := withTicket(ctx, d.controller.serializer, string(roomID), func() error {
		res = d.applyLocked(ctx, roomID, actor, action, params)
		return nil
	})
	if err != nil {
		return resultFromError(fmt.Errorf("wait for room: %w", err))
	}
	return res
}

func validateAction(roomID domain.ChannelID, actor domain.UserID, action domain.Action, p Params) error {
	if !action.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown action %q", action))
	}
	if err := validation.ValidateID(string(roomID), "room_id"); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if err := validation.ValidateID(string(actor), "actor_id"); err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	switch action {
	case domain.ActionSetLimit:
		if p.Limit == nil {
			return apperrors.NewValidationError("limit is required")
		}
		if err := validation.ValidateUserLimit(*p.Limit); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	case domain.ActionRename:
		if err := validation.ValidateRoomName(p.Name); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	case domain.ActionAllow, domain.ActionBlock, domain.ActionKick, domain.ActionTransfer:
		if err := validation.ValidateID(string(p.UserID), "user_id"); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
		if p.UserID == actor {
			return apperrors.NewValidationError(fmt.Sprintf("cannot %s yourself", action))
		}
	case domain.ActionApproveClaim, domain.ActionDenyClaim:
		if p.UserID != "" {
			if err := validation.ValidateID(string(p.UserID), "user_id"); err != nil {
				return apperrors.NewValidationError(err.Error())
			}
		}
	}
	return nil
}

func (d *Dispatcher) applyLocked(ctx context.Context, roomID domain.ChannelID, actor domain.UserID, action domain.Action, p Params) Result {
	c := d.controller

	room, err := c.rooms.GetByID(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		if action == domain.ActionDelete {
			return ok(nil, "already_deleted")
		}
		return resultFromError(apperrors.NewNotFoundError("room"))
	}
	if err != nil {
		return resultFromError(fmt.Errorf("load room: %w", err))
	}

	// Owner-only delete needs no member list, and the channel may already be gone.
	if action == domain.ActionDelete {
		if decision := acl.Authorize(room, nil, actor, action); !decision.Permitted {
			return resultFromError(apperrors.NewAuthorizationError(decision.Reason))
		}
		if err := c.deleteLocked(ctx, room, "owner_delete"); err != nil {
			return resultFromError(err)
		}
		return ok(nil, "")
	}

	list, err := c.platform.GetChannelMembers(ctx, roomID)
	if err != nil {
		return resultFromError(c.platformError(roomID, "list room members", err))
	}
	members := acl.NewUserSet(list...)

	if decision := acl.Authorize(room, members, actor, action); !decision.Permitted {
		return resultFromError(apperrors.NewAuthorizationError(decision.Reason))
	}

	switch action {
	case domain.ActionClaim:
		outcome, err := c.claimLocked(ctx, room, members, actor)
		if err != nil {
			return resultFromError(err)
		}
		return ok(room, outcome)
	case domain.ActionTransfer:
		if !members.Has(p.UserID) {
			return resultFromError(apperrors.NewValidationError("transfer target is not in the room"))
		}
		if err := c.transferLocked(ctx, room, p.UserID, "transfer"); err != nil {
			return resultFromError(err)
		}
		return ok(room, "")
	case domain.ActionApproveClaim:
		if err := c.approveClaimLocked(ctx, room, members, p.UserID); err != nil {
			return resultFromError(err)
		}
		return ok(room, "")
	case domain.ActionDenyClaim:
		if err := c.denyClaimLocked(room, p.UserID); err != nil {
			return resultFromError(err)
		}
		return ok(room, "")
	case domain.ActionKick:
		return d.kickLocked(ctx, room, members, p.UserID)
	}

	updated, reason, err := d.mutateLocked(ctx, room, members, action, p)
	if err != nil {
		return resultFromError(err)
	}
	if updated == nil {
		return ok(room, reason)
	}
	if err := c.rooms.Update(ctx, updated); err != nil {
		return resultFromError(fmt.Errorf("persist room: %w", err))
	}
	return ok(updated, reason)
}

// mutateLocked applies a settings action to the platform and returns the row to
// persist. A nil row means nothing changed.
func (d *Dispatcher) mutateLocked(ctx context.Context, room *domain.Room, members acl.UserSet, action domain.Action, p Params) (*domain.Room, string, error) {
	c := d.controller
	updated := room.Clone()

	switch action {
	case domain.ActionLock, domain.ActionUnlock:
		locked := action == domain.ActionLock
		if room.Locked == locked {
			return nil, "unchanged", nil
		}
		perm := domain.PermissionDeny
		if !locked {
			perm = domain.PermissionClear
		}
		if err := c.platform.SetChannelPermission(ctx, room.ID, domain.Everyone, perm); err != nil {
			return nil, "", c.platformError(room.ID, string(action), err)
		}
		updated.Locked = locked

	case domain.ActionSetLimit:
		if room.UserLimit == *p.Limit {
			return nil, "unchanged", nil
		}
		if err := c.platform.SetChannelLimit(ctx, room.ID, *p.Limit); err != nil {
			return nil, "", c.platformError(room.ID, "set limit", err)
		}
		updated.UserLimit = *p.Limit

	case domain.ActionRename:
		base := strings.TrimSpace(p.Name)
		if limit := naming.MaxBaseLength(room.Position); utf8.RuneCountInString(base) > limit {
			return nil, "", apperrors.NewValidationError(
				fmt.Sprintf("room name is too long (max %d characters at position %s)", limit, naming.Roman(room.Position)))
		}
		full := naming.FullName(room.Position, base)
		if err := c.platform.RenameChannel(ctx, room.ID, full); err != nil {
			return nil, "", c.platformError(room.ID, "rename", err)
		}
		updated.BaseName = base
		updated.Name = full

	case domain.ActionAllow:
		if p.UserID == room.OwnerID {
			return nil, "", apperrors.NewValidationError("the owner always has access")
		}
		if err := c.platform.SetChannelPermission(ctx, room.ID, p.UserID, domain.PermissionAllow); err != nil {
			return nil, "", c.platformError(room.ID, "allow", err)
		}
		updated.Allow(p.UserID)

	case domain.ActionBlock:
		if p.UserID == room.OwnerID {
			return nil, "", apperrors.NewValidationError("cannot block the room owner")
		}
		if err := c.platform.SetChannelPermission(ctx, room.ID, p.UserID, domain.PermissionDeny); err != nil {
			return nil, "", c.platformError(room.ID, "block", err)
		}
		updated.Block(p.UserID)
		if members.Has(p.UserID) {
			if err := c.platform.MoveMember(ctx, p.UserID, ""); err != nil {
				d.logger.Warnw("Failed to move blocked user out", "room_id", room.ID, "user_id", p.UserID, "error", err)
			}
			c.forgetMember(room.ID, p.UserID)
		}
	}
	return updated, "", nil
}

// kickLocked moves a member out without recording anything.
func (d *Dispatcher) kickLocked(ctx context.Context, room *domain.Room, members acl.UserSet, target domain.UserID) Result {
	if target == room.OwnerID {
		return resultFromError(apperrors.NewValidationError("cannot kick the room owner"))
	}
	if !members.Has(target) {
		return resultFromError(apperrors.NewValidationError("user is not in the room"))
	}
	if err := d.controller.platform.MoveMember(ctx, target, ""); err != nil {
		return resultFromError(d.controller.platformError(room.ID, "kick", err))
	}
	d.controller.forgetMember(room.ID, target)
	return ok(room, "")
}

// Room returns a registry snapshot.
func (d *Dispatcher) Room(ctx context.Context, id domain.ChannelID) (*domain.Room, error) {
	room, err := d.controller.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil, apperrors.NewNotFoundError("room")
	}
	return room, err
}

func (d *Dispatcher) Rooms(ctx context.Context) ([]*domain.Room, error) {
	return d.controller.rooms.List(ctx)
}

// Trust adds user to owner's trusted set, taking them off the block list. Owner
// lists use last-writer-wins, so no room ticket is taken.
func (d *Dispatcher) Trust(ctx context.Context, owner, user domain.UserID) error {
	if err := validateListPair(owner, user, "trust"); err != nil {
		return err
	}
	if err := d.controller.owners.AddTrusted(ctx, owner, user); err != nil {
		return fmt.Errorf("add trusted user: %w", err)
	}
	d.logger.Infow("User trusted", "owner_id", owner, "user_id", user)
	return nil
}

func (d *Dispatcher) Untrust(ctx context.Context, owner, user domain.UserID) error {
	if err := validateListPair(owner, user, "untrust"); err != nil {
		return err
	}
	if err := d.controller.owners.RemoveTrusted(ctx, owner, user); err != nil {
		return fmt.Errorf("remove trusted user: %w", err)
	}
	d.logger.Infow("User untrusted", "owner_id", owner, "user_id", user)
	return nil
}

func (d *Dispatcher) TrustedUsers(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	return d.controller.owners.ListTrusted(ctx, owner)
}

// Block puts user on owner's block list, removing any trust. The list is applied
// to every room owner creates or receives, and checked when anyone enters a
// room owner holds now.
func (d *Dispatcher) Block(ctx context.Context, owner, user domain.UserID) error {
	if err := validateListPair(owner, user, "block"); err != nil {
		return err
	}
	if err := d.controller.owners.AddBlocked(ctx, owner, user); err != nil {
		return fmt.Errorf("add blocked user: %w", err)
	}
	d.logger.Infow("User blocked", "owner_id", owner, "user_id", user)
	return nil
}

func (d *Dispatcher) Unblock(ctx context.Context, owner, user domain.UserID) error {
	if err := validateListPair(owner, user, "unblock"); err != nil {
		return err
	}
	if err := d.controller.owners.RemoveBlocked(ctx, owner, user); err != nil {
		return fmt.Errorf("remove blocked user: %w", err)
	}
	d.logger.Infow("User unblocked", "owner_id", owner, "user_id", user)
	return nil
}

func (d *Dispatcher) BlockedUsers(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	return d.controller.owners.ListBlocked(ctx, owner)
}

func validateListPair(owner, user domain.UserID, verb string) error {
	if err := validation.ValidateID(string(owner), "owner_id"); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if err := validation.ValidateID(string(user), "user_id"); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if owner == user {
		return apperrors.NewValidationError("cannot " + verb + " yourself")
	}
	return nil
}

// Settings returns user's creation defaults; users without saved settings get zero values.
func (d *Dispatcher) Settings(ctx context.Context, user domain.UserID) (*domain.UserSettings, error) {
	settings, err := d.controller.owners.GetSettings(ctx, user)
	if errors.Is(err, domain.ErrSettingsNotFound) {
		return &domain.UserSettings{UserID: user}, nil
	}
	return settings, err
}

func (d *Dispatcher) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	if err := validation.ValidateID(string(settings.UserID), "user_id"); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	settings.DefaultName = strings.TrimSpace(settings.DefaultName)
	if settings.DefaultName != "" {
		if err := validation.ValidateRoomName(settings.DefaultName); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	}
	if err := validation.ValidateUserLimit(settings.DefaultLimit); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	return d.controller.owners.SaveSettings(ctx, settings)
}
