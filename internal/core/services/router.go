package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	apperrors "tempvoice/pkg/errors"
	"tempvoice/pkg/tracing"
	"tempvoice/pkg/validation"

	"go.uber.org/zap"
)

type RouteKind string

const (
	RouteEnterCreator RouteKind = "enter_creator"
	RouteEnterRoom    RouteKind = "enter_temp_room"
	RouteLeaveRoom    RouteKind = "leave_temp_room"
	RouteIrrelevant   RouteKind = "irrelevant"
)

// Route is one classified consequence of a membership event. A move between two
// managed channels yields a leave followed by an enter.
type Route struct {
	Kind    RouteKind
	Room    domain.ChannelID
	Creator domain.ChannelID
	User    domain.UserID
	At      time.Time
}

// key is the serialization key the route runs under.
func (r Route) key() string {
	if r.Kind == RouteEnterCreator {
		return "creator:" + string(r.User)
	}
	return string(r.Room)
}

// Router turns platform membership events into controller transitions.
type Router struct {
	controller *Controller
	seen       ports.IdempotencyStore
	ignored    map[domain.ChannelID]bool
	logger     *zap.SugaredLogger

	wg sync.WaitGroup
}

func NewRouter(controller *Controller, seen ports.IdempotencyStore, ignored []domain.ChannelID, logger *zap.SugaredLogger) *Router {
	set := make(map[domain.ChannelID]bool, len(ignored))
	for _, id := range ignored {
		set[id] = true
	}
	return &Router{
		controller: controller,
		seen:       seen,
		ignored:    set,
		logger:     logger,
	}
}

// Classify maps ev to its routes using the registry only. Unregistered channels
// that carry a system tag and still hold members are reported as anomalies.
func (r *Router) Classify(ctx context.Context, ev domain.MembershipEvent) ([]Route, error) {
	if ev.Before == ev.After {
		return nil, nil
	}

	var routes []Route
	if ev.Before != "" && !r.ignored[ev.Before] && !r.controller.IsCreator(ev.Before) {
		ok, err := r.registered(ctx, ev.Before)
		if err != nil {
			return nil, err
		}
		if ok {
			routes = append(routes, Route{Kind: RouteLeaveRoom, Room: ev.Before, User: ev.UserID, At: ev.Timestamp})
		} else {
			r.checkUnregistered(ctx, ev.Before)
		}
	}

	if ev.After != "" && !r.ignored[ev.After] {
		if r.controller.IsCreator(ev.After) {
			routes = append(routes, Route{Kind: RouteEnterCreator, Creator: ev.After, User: ev.UserID, At: ev.Timestamp})
		} else {
			ok, err := r.registered(ctx, ev.After)
			if err != nil {
				return nil, err
			}
			if ok {
				routes = append(routes, Route{Kind: RouteEnterRoom, Room: ev.After, User: ev.UserID, At: ev.Timestamp})
			}
		}
	}
	return routes, nil
}

func (r *Router) registered(ctx context.Context, id domain.ChannelID) (bool, error) {
	_, err := r.controller.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up room %s: %w", id, err)
	}
	return true, nil
}

func (r *Router) checkUnregistered(ctx context.Context, id domain.ChannelID) {
	info, err := r.controller.platform.GetChannel(ctx, id)
	if err != nil {
		return
	}
	if r.controller.IsSystemTag(info.Tag) && len(info.Members) > 0 && !r.controller.IsPendingTag(info.Tag) {
		r.logger.Warnw("Managed channel has members but no registry row", "room_id", id)
		r.controller.anomalies.Trigger(id)
	}
}

// admit validates, classifies and deduplicates ev, then reserves one ticket per
// route so arrival order is fixed before any waiting happens.
func (r *Router) admit(ctx context.Context, ev *domain.MembershipEvent) ([]Route, []ports.Ticket, error) {
	if err := validation.ValidateID(string(ev.UserID), "user_id"); err != nil {
		return nil, nil, apperrors.NewValidationError(err.Error())
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.controller.now()
	}

	routes, err := r.Classify(ctx, *ev)
	if err != nil {
		return nil, nil, err
	}
	if len(routes) == 0 {
		r.controller.metrics.EventRouted(string(RouteIrrelevant))
		return nil, nil, nil
	}

	first, err := r.seen.MarkSeen(ctx, ev.IdempotencyKey())
	if err != nil {
		return nil, nil, fmt.Errorf("record event key: %w", err)
	}
	if !first {
		r.controller.metrics.EventRouted("duplicate")
		r.logger.Debugw("Dropping duplicate membership event", "user_id", ev.UserID, "after", ev.After)
		return nil, nil, nil
	}

	tickets := make([]ports.Ticket, len(routes))
	for i, route := range routes {
		tickets[i] = r.controller.serializer.Reserve(route.key())
	}
	return routes, tickets, nil
}

// Handle processes ev to completion.
func (r *Router) Handle(ctx context.Context, ev domain.MembershipEvent) error {
	routes, tickets, err := r.admit(ctx, &ev)
	if err != nil || len(routes) == 0 {
		return err
	}
	return r.apply(ctx, routes, tickets)
}

// Submit fixes ev's place in each room's queue and processes it in the background.
// Calls made one after another keep their order per room.
func (r *Router) Submit(ctx context.Context, ev domain.MembershipEvent) error {
	routes, tickets, err := r.admit(ctx, &ev)
	if err != nil || len(routes) == 0 {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.apply(ctx, routes, tickets); err != nil {
			r.logger.Errorw("Failed to process membership event",
				"user_id", ev.UserID,
				"before", ev.Before,
				"after", ev.After,
				"error", err,
			)
		}
	}()
	return nil
}

// Run consumes events until ctx ends or the channel closes, then waits for
// in-flight work.
func (r *Router) Run(ctx context.Context, events <-chan domain.MembershipEvent) {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.Submit(ctx, ev); err != nil {
				r.logger.Warnw("Rejected membership event", "user_id", ev.UserID, "error", err)
			}
		}
	}
}

// Wait blocks until every submitted event is processed.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) apply(ctx context.Context, routes []Route, tickets []ports.Ticket) error {
	var errs []error
	for i, route := range routes {
		if err := tickets[i].Wait(ctx); err != nil {
			for _, t := range tickets[i+1:] {
				t.Release()
			}
			return errors.Join(append(errs, err)...)
		}

		err := r.dispatch(ctx, route)
		tickets[i].Release()
		r.controller.metrics.EventRouted(string(route.Kind))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", route.Kind, route.key(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) dispatch(ctx context.Context, route Route) (err error) {
	ctx, span := tracing.StartSpan(ctx, "router."+string(route.Kind))
	span.SetAttributes(tracing.RouteKey.String(string(route.Kind)), tracing.UserIDKey.String(string(route.User)))
	defer func() { tracing.EndSpan(span, err) }()

	switch route.Kind {
	case RouteEnterCreator:
		return r.controller.enterCreator(ctx, route.User, route.Creator)
	case RouteEnterRoom:
		return r.controller.enterRoomLocked(ctx, route.Room, route.User, route.At)
	case RouteLeaveRoom:
		return r.controller.leaveRoomLocked(ctx, route.Room, route.User)
	}
	return nil
}
