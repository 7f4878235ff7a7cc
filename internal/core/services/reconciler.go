package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tempvoice/internal/core/acl"
	"tempvoice/internal/core/domain"
	"tempvoice/pkg/tracing"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Repair kinds counted in a SweepReport.
const (
	RepairOrphanRow      = "orphan_row"
	RepairEmptyRoom      = "empty_room"
	RepairOwnerVacant    = "owner_vacant"
	RepairOwnerReturned  = "owner_returned"
	RepairGraceRestarted = "grace_restarted"
	RepairDeleteReverted = "delete_reverted"
	RepairOrphanChannel  = "orphan_channel"
)

type ReconcilerConfig struct {
	Interval          time.Duration
	CategoryID        domain.ChannelID
	ProtectedChannels []domain.ChannelID
}

type SweepReport struct {
	Checked  int            `json:"checked"`
	Repairs  map[string]int `json:"repairs"`
	Failures int            `json:"failures"`
	Duration time.Duration  `json:"duration"`
}

func (r *SweepReport) add(kind string) {
	if kind == "" {
		return
	}
	if r.Repairs == nil {
		r.Repairs = make(map[string]int)
	}
	r.Repairs[kind]++
}

// Reconciler repairs drift between the registry and the platform, on a schedule
// and whenever an anomaly is reported.
type Reconciler struct {
	cfg        ReconcilerConfig
	controller *Controller
	protected  map[domain.ChannelID]bool
	cron       *cron.Cron
	triggers   chan domain.ChannelID
	logger     *zap.SugaredLogger

	sweepMu sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewReconciler(cfg ReconcilerConfig, controller *Controller, logger *zap.SugaredLogger) *Reconciler {
	protected := make(map[domain.ChannelID]bool, len(cfg.ProtectedChannels))
	for _, id := range cfg.ProtectedChannels {
		protected[id] = true
	}
	return &Reconciler{
		cfg:        cfg,
		controller: controller,
		protected:  protected,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		triggers:   make(chan domain.ChannelID, 64),
		logger:     logger,
	}
}

// Trigger queues an on-demand check of one room. It never blocks; when the queue
// is full the next scheduled sweep picks the room up.
func (r *Reconciler) Trigger(id domain.ChannelID) {
	select {
	case r.triggers <- id:
	default:
		r.logger.Warnw("Reconcile queue full, deferring to next sweep", "room_id", id)
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if r.cfg.Interval > 0 {
		spec := fmt.Sprintf("@every %s", r.cfg.Interval)
		if _, err := r.cron.AddFunc(spec, func() { r.Sweep(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule reconciler: %w", err)
		}
		r.cron.Start()
	}

	r.wg.Add(1)
	go r.processTriggers(ctx)

	r.logger.Infow("Reconciler started", "interval", r.cfg.Interval)
	return nil
}

func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) processTriggers(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.triggers:
			if _, err := r.ReconcileRoom(ctx, id); err != nil {
				r.logger.Errorw("Failed to reconcile room", "room_id", id, "error", err)
			}
		}
	}
}

// ReconcileRoom checks a single channel: a registered room is repaired, an
// unregistered system channel is removed. It returns the repair applied, if any.
func (r *Reconciler) ReconcileRoom(ctx context.Context, id domain.ChannelID) (string, error) {
	var kind string
	err := withTicket(ctx, r.controller.serializer, string(id), func() error {
		room, err := r.controller.rooms.GetByID(ctx, id)
		if errors.Is(err, domain.ErrRoomNotFound) {
			info, err := r.controller.platform.GetChannel(ctx, id)
			if errors.Is(err, domain.ErrChannelNotFound) {
				r.controller.dropRuntime(id)
				return nil
			}
			if err != nil {
				return err
			}
			kind, err = r.removeOrphanChannelLocked(ctx, info)
			return err
		}
		if err != nil {
			return err
		}
		kind, err = r.reconcileRoomLocked(ctx, room)
		return err
	})
	if kind != "" {
		r.controller.metrics.ReconcilerRepair(kind)
	}
	return kind, err
}

// Sweep checks every registered room and every system channel in the category.
func (r *Reconciler) Sweep(ctx context.Context) SweepReport {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "reconciler.sweep")
	defer span.End()

	start := time.Now()
	report := SweepReport{Repairs: make(map[string]int)}

	rooms, err := r.controller.rooms.List(ctx)
	if err != nil {
		r.logger.Errorw("Reconciler failed to list rooms", "error", err)
		report.Failures++
	}
	for _, room := range rooms {
		report.Checked++
		kind, err := r.ReconcileRoom(ctx, room.ID)
		if err != nil {
			report.Failures++
			r.logger.Errorw("Failed to reconcile room", "room_id", room.ID, "error", err)
			continue
		}
		report.add(kind)
	}

	r.sweepOrphanChannels(ctx, &report)

	if live, err := r.controller.rooms.List(ctx); err == nil {
		r.controller.metrics.SetRoomsActive(len(live))
	}

	report.Duration = time.Since(start)
	r.logger.Infow("Reconciler sweep finished",
		"checked", report.Checked,
		"repairs", report.Repairs,
		"failures", report.Failures,
		"duration", report.Duration,
	)
	return report
}

func (r *Reconciler) reconcileRoomLocked(ctx context.Context, room *domain.Room) (string, error) {
	c := r.controller

	list, err := c.platform.GetChannelMembers(ctx, room.ID)
	if errors.Is(err, domain.ErrChannelNotFound) {
		if err := c.rooms.Delete(ctx, room.ID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return "", fmt.Errorf("delete orphan row: %w", err)
		}
		c.dropRuntime(room.ID)
		c.metrics.RoomDeleted(RepairOrphanRow)
		c.publish(ctx, domain.RoomEvent{Type: domain.RoomDeletedEvent, RoomID: room.ID, OwnerID: room.OwnerID, Reason: RepairOrphanRow})
		r.logger.Infow("Removed registry row for missing channel", "room_id", room.ID)
		return RepairOrphanRow, nil
	}
	if err != nil {
		return "", fmt.Errorf("list room members: %w", err)
	}
	members := acl.NewUserSet(list...)
	ownerPresent := members.Has(room.OwnerID)

	switch {
	case len(list) == 0:
		if err := c.deleteLocked(ctx, room, RepairEmptyRoom); err != nil {
			return "", err
		}
		return RepairEmptyRoom, nil

	case room.State == domain.RoomPendingDelete:
		restored := room.Clone()
		restored.State = domain.RoomActive
		if !ownerPresent {
			restored.State = domain.RoomOwnerVacant
		}
		if err := c.rooms.Update(ctx, restored); err != nil {
			return "", fmt.Errorf("revert pending delete: %w", err)
		}
		if !ownerPresent {
			c.startGrace(room.ID)
		}
		return RepairDeleteReverted, nil

	case room.State == domain.RoomActive && !ownerPresent:
		if err := c.enterVacantLocked(ctx, room); err != nil {
			return "", err
		}
		return RepairOwnerVacant, nil

	case room.State == domain.RoomOwnerVacant && ownerPresent:
		if err := c.restoreOwnerLocked(ctx, room); err != nil {
			return "", err
		}
		return RepairOwnerReturned, nil

	case room.State == domain.RoomOwnerVacant && !c.GraceActive(room.ID):
		c.startGrace(room.ID)
		return RepairGraceRestarted, nil
	}
	return "", nil
}

func (r *Reconciler) sweepOrphanChannels(ctx context.Context, report *SweepReport) {
	channels, err := r.controller.platform.ListChannels(ctx, r.cfg.CategoryID)
	if err != nil {
		r.logger.Errorw("Reconciler failed to list platform channels", "error", err)
		report.Failures++
		return
	}

	for _, ch := range channels {
		if !r.deletable(ch) {
			continue
		}
		if _, err := r.controller.rooms.GetByID(ctx, ch.ID); !errors.Is(err, domain.ErrRoomNotFound) {
			continue
		}
		kind, err := r.ReconcileRoom(ctx, ch.ID)
		if err != nil {
			report.Failures++
			r.logger.Errorw("Failed to remove orphan channel", "channel_id", ch.ID, "error", err)
			continue
		}
		report.add(kind)
	}
}

func (r *Reconciler) deletable(ch *domain.ChannelInfo) bool {
	return !r.protected[ch.ID] && !r.controller.IsCreator(ch.ID) && r.controller.IsSystemTag(ch.Tag)
}

// removeOrphanChannelLocked deletes a system channel that has no row and no
// creation in flight.
func (r *Reconciler) removeOrphanChannelLocked(ctx context.Context, ch *domain.ChannelInfo) (string, error) {
	if !r.deletable(ch) || r.controller.IsPendingTag(ch.Tag) {
		return "", nil
	}
	if err := r.controller.platform.DeleteVoiceChannel(ctx, ch.ID); err != nil && !errors.Is(err, domain.ErrChannelNotFound) {
		return "", fmt.Errorf("delete orphan channel: %w", err)
	}
	r.controller.dropRuntime(ch.ID)
	r.logger.Infow("Deleted orphan platform channel", "channel_id", ch.ID, "members", len(ch.Members))
	return RepairOrphanChannel, nil
}
