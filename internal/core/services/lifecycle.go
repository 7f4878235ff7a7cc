package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tempvoice/internal/core/acl"
	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/naming"
	"tempvoice/internal/core/ports"
	"tempvoice/pkg/clock"
	apperrors "tempvoice/pkg/errors"
	"tempvoice/pkg/retry"
	"tempvoice/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnomalyReporter receives rooms whose registry and platform state disagree.
type AnomalyReporter interface {
	Trigger(room domain.ChannelID)
}

type ControllerConfig struct {
	CreatorChannels []domain.ChannelID
	CategoryID      domain.ChannelID
	TagPrefix       string
	NameTemplate    string
	GraceWindow     time.Duration
	JoinCooldown    time.Duration
	// CreateRetry governs channel creation only. Every retry first looks for a
	// channel left behind by an earlier attempt.
	CreateRetry retry.Config
}

// Controller is the room state machine. Every method that reads or writes a room
// row expects the caller to hold that room's ticket; the *Locked suffix marks them.
type Controller struct {
	cfg        ControllerConfig
	creators   map[domain.ChannelID]bool
	rooms      ports.RoomRepository
	owners     ports.OwnerRepository
	platform   ports.Platform
	serializer ports.RoomSerializer
	publisher  ports.EventPublisher
	metrics    ports.MetricsRecorder
	anomalies  AnomalyReporter
	cooldown   *joinCooldown
	logger     *zap.SugaredLogger
	clock      clock.Clock

	mu        sync.Mutex
	runtimes  map[domain.ChannelID]*roomRuntime
	pending   map[string]domain.UserID
	positions map[int]bool
}

// roomRuntime is the in-memory side of a live room.
type roomRuntime struct {
	joinedAt map[domain.UserID]time.Time
	grace    clock.Timer
	graceGen uint64
	claims   []domain.ClaimRequest
}

func NewController(
	cfg ControllerConfig,
	rooms ports.RoomRepository,
	owners ports.OwnerRepository,
	platform ports.Platform,
	serializer ports.RoomSerializer,
	logger *zap.SugaredLogger,
) *Controller {
	if cfg.TagPrefix == "" {
		cfg.TagPrefix = "tempvoice"
	}
	if cfg.NameTemplate == "" {
		cfg.NameTemplate = "{owner}'s room"
	}
	if cfg.CreateRetry.Retryable == nil {
		cfg.CreateRetry.Retryable = func(err error) bool {
			return errors.Is(err, domain.ErrPlatformTransient)
		}
	}

	creators := make(map[domain.ChannelID]bool, len(cfg.CreatorChannels))
	for _, id := range cfg.CreatorChannels {
		creators[id] = true
	}

	return &Controller{
		cfg:        cfg,
		creators:   creators,
		rooms:      rooms,
		owners:     owners,
		platform:   platform,
		serializer: serializer,
		publisher:  nopPublisher{},
		metrics:    nopMetrics{},
		anomalies:  nopAnomalies{},
		cooldown:   newJoinCooldown(cfg.JoinCooldown),
		logger:     logger,
		clock:      clock.Real(),
		runtimes:   make(map[domain.ChannelID]*roomRuntime),
		pending:    make(map[string]domain.UserID),
		positions:  make(map[int]bool),
	}
}

// The setters below must be called before events flow.

func (c *Controller) SetPublisher(p ports.EventPublisher) { c.publisher = p }

func (c *Controller) SetMetrics(m ports.MetricsRecorder) { c.metrics = m }

func (c *Controller) SetAnomalyReporter(a AnomalyReporter) { c.anomalies = a }

func (c *Controller) SetClock(clk clock.Clock) { c.clock = clk }

func (c *Controller) now() time.Time { return c.clock.Now() }

// Stop cancels every grace timer. Rooms stay in the registry for the next start.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rt := range c.runtimes {
		if rt.grace != nil {
			rt.grace.Stop()
			rt.grace = nil
		}
		rt.graceGen++
	}
	c.cooldown.Stop()
}

func (c *Controller) IsCreator(id domain.ChannelID) bool {
	return c.creators[id]
}

// IsSystemTag reports whether a platform channel tag was minted by this system.
func (c *Controller) IsSystemTag(tag string) bool {
	return strings.HasPrefix(tag, c.cfg.TagPrefix+":")
}

// IsPendingTag reports whether tag belongs to a creation still in flight.
func (c *Controller) IsPendingTag(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[tag]
	return ok
}

// RoomState returns the registry state of a room; rows that do not exist read as DELETED.
func (c *Controller) RoomState(ctx context.Context, id domain.ChannelID) (domain.RoomState, error) {
	room, err := c.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return domain.RoomDeleted, nil
	}
	if err != nil {
		return "", err
	}
	return room.State, nil
}

// enterCreator handles a user joining a creator channel.
func (c *Controller) enterCreator(ctx context.Context, user domain.UserID, creator domain.ChannelID) (err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "create", string(creator))
	defer func() { tracing.EndSpan(span, err) }()

	members, err := c.platform.GetChannelMembers(ctx, creator)
	if err != nil {
		return fmt.Errorf("verify creator membership: %w", err)
	}
	if !acl.NewUserSet(members...).Has(user) {
		c.logger.Debugw("Discarding stale creator join", "user_id", user, "creator_channel", creator)
		return nil
	}

	if !c.cooldown.Allow(user) {
		c.logger.Infow("Join cooldown active, disconnecting user", "user_id", user)
		if merr := c.platform.MoveMember(ctx, user, ""); merr != nil {
			c.logger.Warnw("Failed to disconnect user on cooldown", "user_id", user, "error", merr)
		}
		return nil
	}

	if err := c.releaseOwnedRooms(ctx, user); err != nil {
		return err
	}

	_, err = c.createRoom(ctx, user, creator)
	return err
}

// releaseOwnedRooms keeps the one-room-per-owner rule before a new creation.
func (c *Controller) releaseOwnedRooms(ctx context.Context, user domain.UserID) error {
	owned, err := c.rooms.FindByOwner(ctx, user)
	if err != nil {
		return fmt.Errorf("find owned rooms: %w", err)
	}

	for _, r := range owned {
		id := r.ID
		err := withTicket(ctx, c.serializer, string(id), func() error {
			room, err := c.rooms.GetByID(ctx, id)
			if errors.Is(err, domain.ErrRoomNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if room.OwnerID != user {
				return nil
			}
			return c.handOffLocked(ctx, room, user)
		})
		if err != nil {
			return fmt.Errorf("release room %s: %w", id, err)
		}
	}
	return nil
}

func (c *Controller) handOffLocked(ctx context.Context, room *domain.Room, leaving domain.UserID) error {
	members, err := c.platform.GetChannelMembers(ctx, room.ID)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return c.deleteLocked(ctx, room, "orphan_row")
	}
	if err != nil {
		return apperrors.NewPlatformFailure(err, "list room members")
	}

	others := without(members, leaving)
	if len(others) == 0 {
		return c.deleteLocked(ctx, room, "owner_started_new_room")
	}
	return c.transferLocked(ctx, room, c.longestPresent(room.ID, others), "owner_started_new_room")
}

func (c *Controller) createRoom(ctx context.Context, user domain.UserID, creator domain.ChannelID) (*domain.Room, error) {
	settings := c.loadSettings(ctx, user)
	lists, err := c.ownerLists(ctx, user)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSpace(settings.DefaultName)
	if base == "" {
		base = c.templateName(ctx, user)
	}

	position, err := c.reservePosition(ctx)
	if err != nil {
		return nil, err
	}
	defer c.releasePosition(position)

	room := &domain.Room{
		OwnerID:          user,
		CreatorChannelID: creator,
		Locked:           settings.DefaultLocked,
		UserLimit:        settings.DefaultLimit,
		BaseName:         base,
		Name:             naming.FullName(position, base),
		Position:         position,
		State:            domain.RoomPendingCreate,
	}
	for u := range lists.Trusted {
		if u != user {
			room.Allow(u)
		}
	}
	for u := range lists.Blocked {
		if u != user {
			room.Block(u)
		}
	}

	tag := fmt.Sprintf("%s:%s:%s", c.cfg.TagPrefix, user, uuid.NewString())
	c.mu.Lock()
	c.pending[tag] = user
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
	}()

	id, err := c.createChannel(ctx, domain.ChannelSpec{
		Parent:     c.cfg.CategoryID,
		Name:       room.Name,
		Limit:      room.UserLimit,
		Tag:        tag,
		Overwrites: acl.Overwrites(room, lists),
	})
	if err != nil {
		c.logger.Errorw("Failed to create voice channel", "user_id", user, "error", err)
		return nil, apperrors.NewPlatformFailure(err, "create voice channel")
	}
	room.ID = id

	// Nobody can know the id yet, so this only waits on the distributed lock.
	ticket := c.serializer.Reserve(string(id))
	if err := ticket.Wait(ctx); err != nil {
		c.discardChannel(ctx, id)
		return nil, err
	}
	defer ticket.Release()

	room.State = domain.RoomActive
	room.CreatedAt = c.now()
	if err := c.rooms.Create(ctx, room); err != nil {
		c.discardChannel(ctx, id)
		return nil, fmt.Errorf("persist room: %w", err)
	}

	if err := c.platform.MoveMember(ctx, user, id); err != nil {
		c.discardChannel(ctx, id)
		if derr := c.rooms.Delete(ctx, id); derr != nil {
			c.logger.Errorw("Failed to remove room row after move failure", "room_id", id, "error", derr)
		}
		return nil, apperrors.NewPlatformFailure(err, "move member into new room")
	}

	c.recordJoin(id, user, c.now())
	c.metrics.RoomCreated()
	c.publish(ctx, domain.RoomEvent{Type: domain.RoomCreated, RoomID: id, OwnerID: user})
	c.logger.Infow("Room created",
		"room_id", id,
		"owner_id", user,
		"name", room.Name,
		"creator_channel", creator,
	)
	return room, nil
}

// createChannel creates a channel, adopting one left behind by a timed-out attempt
// instead of creating a duplicate.
func (c *Controller) createChannel(ctx context.Context, spec domain.ChannelSpec) (domain.ChannelID, error) {
	attempt := 0
	return retry.RetryWithResult(ctx, c.cfg.CreateRetry, func() (domain.ChannelID, error) {
		attempt++
		if attempt > 1 {
			if id, ok := c.findTagged(ctx, spec.Parent, spec.Tag); ok {
				c.logger.Infow("Adopting channel from earlier create attempt", "channel_id", id, "tag", spec.Tag)
				return id, nil
			}
		}
		return c.platform.CreateVoiceChannel(ctx, spec)
	})
}

func (c *Controller) findTagged(ctx context.Context, parent domain.ChannelID, tag string) (domain.ChannelID, bool) {
	channels, err := c.platform.ListChannels(ctx, parent)
	if err != nil {
		c.logger.Warnw("Failed to list channels before create retry", "error", err)
		return "", false
	}
	for _, ch := range channels {
		if ch.Tag == tag {
			return ch.ID, true
		}
	}
	return "", false
}

func (c *Controller) discardChannel(ctx context.Context, id domain.ChannelID) {
	err := c.platform.DeleteVoiceChannel(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrChannelNotFound) {
		c.logger.Errorw("Failed to discard channel, reconciler will retry", "room_id", id, "error", err)
		c.anomalies.Trigger(id)
	}
}

func (c *Controller) loadSettings(ctx context.Context, user domain.UserID) *domain.UserSettings {
	settings, err := c.owners.GetSettings(ctx, user)
	if err != nil {
		if !errors.Is(err, domain.ErrSettingsNotFound) {
			c.logger.Warnw("Failed to load user settings, using defaults", "user_id", user, "error", err)
		}
		return &domain.UserSettings{UserID: user}
	}
	return settings
}

func (c *Controller) templateName(ctx context.Context, user domain.UserID) string {
	name, err := c.platform.GetMemberName(ctx, user)
	if err != nil || strings.TrimSpace(name) == "" {
		name = string(user)
	}
	return naming.FromTemplate(c.cfg.NameTemplate, name)
}

func (c *Controller) reservePosition(ctx context.Context) (int, error) {
	rooms, err := c.rooms.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	used := make([]int, 0, len(rooms)+len(c.positions))
	for _, r := range rooms {
		used = append(used, r.Position)
	}
	for p := range c.positions {
		used = append(used, p)
	}
	p := naming.NextPosition(used)
	c.positions[p] = true
	return p, nil
}

func (c *Controller) releasePosition(p int) {
	c.mu.Lock()
	delete(c.positions, p)
	c.mu.Unlock()
}

// enterRoomLocked handles a user appearing in a registered room.
func (c *Controller) enterRoomLocked(ctx context.Context, id domain.ChannelID, user domain.UserID, at time.Time) error {
	room, err := c.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	members, err := c.platform.GetChannelMembers(ctx, id)
	if errors.Is(err, domain.ErrChannelNotFound) {
		c.anomalies.Trigger(id)
		return nil
	}
	if err != nil {
		return apperrors.NewPlatformFailure(err, "list room members")
	}
	if !acl.NewUserSet(members...).Has(user) {
		c.logger.Debugw("Discarding stale enter event", "room_id", id, "user_id", user)
		return nil
	}

	c.recordJoin(id, user, at)

	lists, err := c.ownerLists(ctx, room.OwnerID)
	if err != nil {
		c.logger.Warnw("Checking entry without owner lists", "room_id", id, "error", err)
	}
	if decision := acl.CanJoin(room, lists, user, len(members)-1); !decision.Permitted {
		c.logger.Infow("User may not join room, moving out", "room_id", id, "user_id", user, "reason", decision.Reason)
		if err := c.platform.MoveMember(ctx, user, ""); err != nil {
			c.logger.Warnw("Failed to move user out", "room_id", id, "user_id", user, "error", err)
		}
		c.forgetMember(id, user)
		return nil
	}

	if user == room.OwnerID && room.State == domain.RoomOwnerVacant {
		return c.restoreOwnerLocked(ctx, room)
	}
	if room.State == domain.RoomPendingDelete {
		// A deletion that failed midway; the reconciler settles it.
		c.anomalies.Trigger(id)
	}
	return nil
}

// leaveRoomLocked handles a user leaving a registered room.
func (c *Controller) leaveRoomLocked(ctx context.Context, id domain.ChannelID, user domain.UserID) error {
	room, err := c.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	members, err := c.platform.GetChannelMembers(ctx, id)
	if errors.Is(err, domain.ErrChannelNotFound) {
		c.dropRuntime(id)
		c.anomalies.Trigger(id)
		return nil
	}
	if err != nil {
		return apperrors.NewPlatformFailure(err, "list room members")
	}
	set := acl.NewUserSet(members...)
	if set.Has(user) {
		c.logger.Debugw("Discarding stale leave event", "room_id", id, "user_id", user)
		return nil
	}

	c.forgetMember(id, user)

	if len(members) == 0 {
		return c.deleteLocked(ctx, room, "empty")
	}

	switch {
	case room.State == domain.RoomActive && !set.Has(room.OwnerID):
		return c.enterVacantLocked(ctx, room)
	case room.State == domain.RoomOwnerVacant && len(members) == 1:
		// The sole remaining member wins any claim they have open.
		if _, ok := c.takeClaim(id, members[0]); ok {
			return c.transferLocked(ctx, room, members[0], "claim_auto")
		}
	}
	return nil
}

func (c *Controller) enterVacantLocked(ctx context.Context, room *domain.Room) error {
	updated := room.Clone()
	updated.State = domain.RoomOwnerVacant
	if err := c.rooms.Update(ctx, updated); err != nil {
		return fmt.Errorf("persist owner vacancy: %w", err)
	}
	*room = *updated

	c.startGrace(room.ID)
	c.logger.Infow("Room owner left, grace window started",
		"room_id", room.ID,
		"owner_id", room.OwnerID,
		"grace", c.cfg.GraceWindow,
	)
	return nil
}

func (c *Controller) restoreOwnerLocked(ctx context.Context, room *domain.Room) error {
	c.stopGrace(room.ID)

	updated := room.Clone()
	updated.State = domain.RoomActive
	if err := c.rooms.Update(ctx, updated); err != nil {
		return fmt.Errorf("persist owner return: %w", err)
	}
	*room = *updated

	c.logger.Infow("Room owner returned", "room_id", room.ID, "owner_id", room.OwnerID)
	return nil
}

func (c *Controller) onGraceExpired(id domain.ChannelID, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := withTicket(ctx, c.serializer, string(id), func() error {
		if !c.expireGrace(id, gen) {
			return nil
		}
		return c.resolveVacancyLocked(ctx, id)
	})
	if err != nil {
		// The window is spent, so the reconciler sees a vacant room with no
		// timer and starts a fresh one.
		c.logger.Errorw("Failed to resolve vacant room", "room_id", id, "error", err)
		c.anomalies.Trigger(id)
	}
}

// resolveVacancyLocked applies the default claim policy when the grace window ends.
func (c *Controller) resolveVacancyLocked(ctx context.Context, id domain.ChannelID) error {
	room, err := c.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.dropRuntime(id)
		return nil
	}
	if err != nil {
		return err
	}
	if room.State != domain.RoomOwnerVacant {
		c.stopGrace(id)
		return nil
	}

	members, err := c.platform.GetChannelMembers(ctx, id)
	if errors.Is(err, domain.ErrChannelNotFound) {
		c.stopGrace(id)
		c.anomalies.Trigger(id)
		return nil
	}
	if err != nil {
		return apperrors.NewPlatformFailure(err, "list room members")
	}

	switch {
	case len(members) == 0:
		return c.deleteLocked(ctx, room, "grace_expired")
	case acl.NewUserSet(members...).Has(room.OwnerID):
		return c.restoreOwnerLocked(ctx, room)
	default:
		return c.transferLocked(ctx, room, c.longestPresent(id, members), "grace_expired")
	}
}

// transferLocked hands room to newOwner, who must be a current member.
func (c *Controller) transferLocked(ctx context.Context, room *domain.Room, newOwner domain.UserID, reason string) (err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "transfer", string(room.ID))
	defer func() { tracing.EndSpan(span, err) }()

	prev := room.OwnerID
	if err = c.platform.SetChannelPermission(ctx, room.ID, newOwner, domain.PermissionAllow); err != nil {
		return c.platformError(room.ID, "grant owner permission", err)
	}
	if prev != newOwner && !room.IsAllowed(prev) {
		if perr := c.platform.SetChannelPermission(ctx, room.ID, prev, domain.PermissionClear); perr != nil {
			c.logger.Warnw("Failed to clear previous owner permission", "room_id", room.ID, "user_id", prev, "error", perr)
		}
	}

	updated := room.Clone()
	updated.OwnerID = newOwner
	updated.State = domain.RoomActive
	updated.ClearAccess(newOwner)
	c.applyOwnerLists(ctx, updated)
	c.renameForOwner(ctx, updated, prev)

	if err = c.rooms.Update(ctx, updated); err != nil {
		return fmt.Errorf("persist ownership transfer: %w", err)
	}
	*room = *updated

	c.stopGrace(room.ID)
	c.metrics.OwnerChanged(reason)
	c.publish(ctx, domain.RoomEvent{
		Type:          domain.RoomOwnerChanged,
		RoomID:        room.ID,
		OwnerID:       newOwner,
		PreviousOwner: prev,
		Reason:        reason,
	})
	c.logger.Infow("Room ownership changed",
		"room_id", room.ID,
		"owner_id", newOwner,
		"previous_owner", prev,
		"reason", reason,
	)
	return nil
}

// ownerLists loads owner's trusted and blocked users.
func (c *Controller) ownerLists(ctx context.Context, owner domain.UserID) (acl.OwnerLists, error) {
	trusted, err := c.owners.ListTrusted(ctx, owner)
	if err != nil {
		return acl.OwnerLists{}, fmt.Errorf("load trusted users: %w", err)
	}
	blocked, err := c.owners.ListBlocked(ctx, owner)
	if err != nil {
		return acl.OwnerLists{}, fmt.Errorf("load blocked users: %w", err)
	}
	return acl.OwnerLists{Trusted: acl.NewUserSet(trusted...), Blocked: acl.NewUserSet(blocked...)}, nil
}

// applyOwnerLists brings the new owner's trusted and blocked users into room.
// Blocked members are moved out. Failures only cost convenience.
func (c *Controller) applyOwnerLists(ctx context.Context, room *domain.Room) {
	lists, err := c.ownerLists(ctx, room.OwnerID)
	if err != nil {
		c.logger.Warnw("Failed to load owner lists", "owner_id", room.OwnerID, "error", err)
		return
	}

	for u := range lists.Trusted {
		if u == room.OwnerID || room.IsBlocked(u) || room.IsAllowed(u) {
			continue
		}
		if err := c.platform.SetChannelPermission(ctx, room.ID, u, domain.PermissionAllow); err != nil {
			c.logger.Warnw("Failed to grant trusted user", "room_id", room.ID, "user_id", u, "error", err)
			continue
		}
		room.Allow(u)
	}

	if len(lists.Blocked) == 0 {
		return
	}
	members, err := c.platform.GetChannelMembers(ctx, room.ID)
	if err != nil {
		c.logger.Warnw("Failed to list members for owner block list", "room_id", room.ID, "error", err)
	}
	present := acl.NewUserSet(members...)
	for u := range lists.Blocked {
		if u == room.OwnerID || room.IsBlocked(u) {
			continue
		}
		if err := c.platform.SetChannelPermission(ctx, room.ID, u, domain.PermissionDeny); err != nil {
			c.logger.Warnw("Failed to apply owner block", "room_id", room.ID, "user_id", u, "error", err)
			continue
		}
		room.Block(u)
		if present.Has(u) {
			if err := c.platform.MoveMember(ctx, u, ""); err != nil {
				c.logger.Warnw("Failed to move blocked user out", "room_id", room.ID, "user_id", u, "error", err)
			}
			c.forgetMember(room.ID, u)
		}
	}
}

// renameForOwner renames a room still carrying the previous owner's templated name.
func (c *Controller) renameForOwner(ctx context.Context, room *domain.Room, prev domain.UserID) {
	if room.BaseName != c.templateName(ctx, prev) {
		return
	}
	base := c.templateName(ctx, room.OwnerID)
	full := naming.FullName(room.Position, base)
	if err := c.platform.RenameChannel(ctx, room.ID, full); err != nil {
		c.logger.Warnw("Failed to rename room for new owner", "room_id", room.ID, "error", err)
		return
	}
	room.BaseName = base
	room.Name = full
}

// deleteLocked runs PENDING_DELETE → DELETED. A missing platform channel counts as
// deleted; any other failure restores the previous state.
func (c *Controller) deleteLocked(ctx context.Context, room *domain.Room, reason string) (err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "delete", string(room.ID))
	defer func() { tracing.EndSpan(span, err) }()

	prevState := room.State
	if prevState != domain.RoomPendingDelete {
		pending := room.Clone()
		pending.State = domain.RoomPendingDelete
		if err = c.rooms.Update(ctx, pending); err != nil {
			return fmt.Errorf("mark room pending delete: %w", err)
		}
	}
	c.stopGrace(room.ID)

	if derr := c.platform.DeleteVoiceChannel(ctx, room.ID); derr != nil && !errors.Is(derr, domain.ErrChannelNotFound) {
		if prevState != domain.RoomPendingDelete {
			if rerr := c.rooms.Update(ctx, room); rerr != nil {
				c.logger.Errorw("Failed to restore room state", "room_id", room.ID, "error", rerr)
			}
			if prevState == domain.RoomOwnerVacant {
				c.startGrace(room.ID)
			}
		}
		c.anomalies.Trigger(room.ID)
		err = apperrors.NewPlatformFailure(derr, "delete voice channel")
		return err
	}

	if derr := c.rooms.Delete(ctx, room.ID); derr != nil && !errors.Is(derr, domain.ErrRoomNotFound) {
		err = fmt.Errorf("delete room row: %w", derr)
		return err
	}

	c.dropRuntime(room.ID)
	c.metrics.RoomDeleted(reason)
	c.publish(ctx, domain.RoomEvent{Type: domain.RoomDeletedEvent, RoomID: room.ID, OwnerID: room.OwnerID, Reason: reason})
	c.logger.Infow("Room deleted", "room_id", room.ID, "reason", reason)
	return nil
}

// platformError maps a failed platform command into the caller-visible taxonomy.
func (c *Controller) platformError(id domain.ChannelID, op string, err error) error {
	if errors.Is(err, domain.ErrChannelNotFound) {
		c.anomalies.Trigger(id)
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, op+": room channel no longer exists", 404)
	}
	return apperrors.NewPlatformFailure(err, op)
}

func (c *Controller) publish(ctx context.Context, ev domain.RoomEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warnw("Failed to publish room event", "type", ev.Type, "room_id", ev.RoomID, "error", err)
	}
}

func (c *Controller) runtimeLocked(id domain.ChannelID) *roomRuntime {
	rt, ok := c.runtimes[id]
	if !ok {
		rt = &roomRuntime{joinedAt: make(map[domain.UserID]time.Time)}
		c.runtimes[id] = rt
	}
	return rt
}

func (c *Controller) recordJoin(id domain.ChannelID, user domain.UserID, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.runtimeLocked(id)
	if _, ok := rt.joinedAt[user]; !ok {
		rt.joinedAt[user] = at
	}
}

// forgetMember drops a departed user's join time and open claims.
func (c *Controller) forgetMember(id domain.ChannelID, user domain.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	if !ok {
		return
	}
	delete(rt.joinedAt, user)
	claims := rt.claims[:0]
	for _, cl := range rt.claims {
		if cl.RequesterID != user {
			claims = append(claims, cl)
		}
	}
	rt.claims = claims
}

func (c *Controller) dropRuntime(id domain.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.runtimes[id]; ok {
		if rt.grace != nil {
			rt.grace.Stop()
		}
		delete(c.runtimes, id)
	}
}

func (c *Controller) startGrace(id domain.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.runtimeLocked(id)
	if rt.grace != nil {
		rt.grace.Stop()
	}
	rt.graceGen++
	gen := rt.graceGen
	rt.grace = c.clock.AfterFunc(c.cfg.GraceWindow, func() { c.onGraceExpired(id, gen) })
}

// stopGrace cancels the grace timer and discards open claims.
func (c *Controller) stopGrace(id domain.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	if !ok {
		return
	}
	if rt.grace != nil {
		rt.grace.Stop()
		rt.grace = nil
	}
	rt.graceGen++
	rt.claims = nil
}

// expireGrace clears the timer that fired, unless a newer window replaced it.
func (c *Controller) expireGrace(id domain.ChannelID, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	if !ok || rt.grace == nil || rt.graceGen != gen {
		return false
	}
	rt.grace = nil
	return true
}

// GraceActive reports whether a room has a running grace timer.
func (c *Controller) GraceActive(id domain.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[id]
	return ok && rt.grace != nil
}

// longestPresent picks the member with the earliest join time. Ties go to the lower
// user id; members whose join time is unknown rank last.
func (c *Controller) longestPresent(id domain.ChannelID, members []domain.UserID) domain.UserID {
	c.mu.Lock()
	joined := make(map[domain.UserID]time.Time, len(members))
	if rt, ok := c.runtimes[id]; ok {
		for _, m := range members {
			if at, ok := rt.joinedAt[m]; ok {
				joined[m] = at
			}
		}
	}
	c.mu.Unlock()

	ranked := append([]domain.UserID(nil), members...)
	sort.Slice(ranked, func(i, j int) bool {
		ti, iok := joined[ranked[i]]
		tj, jok := joined[ranked[j]]
		switch {
		case iok != jok:
			return iok
		case iok && !ti.Equal(tj):
			return ti.Before(tj)
		default:
			return ranked[i] < ranked[j]
		}
	})
	return ranked[0]
}

func without(users []domain.UserID, drop domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(users))
	for _, u := range users {
		if u != drop {
			out = append(out, u)
		}
	}
	return out
}
