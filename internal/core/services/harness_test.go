package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	platformmem "tempvoice/internal/infrastructure/platform/memory"
	"tempvoice/internal/infrastructure/repositories/memory"
	"tempvoice/pkg/clock"
	"tempvoice/pkg/retry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testCreator  domain.ChannelID = "creator-1"
	testCategory domain.ChannelID = "cat-1"
)

type recordingMetrics struct {
	mu      sync.Mutex
	counts  map[string]int
	actives int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	m.counts[key]++
	m.mu.Unlock()
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) RoomCreated()                 { m.inc("created") }
func (m *recordingMetrics) RoomDeleted(reason string)    { m.inc("deleted:" + reason) }
func (m *recordingMetrics) OwnerChanged(reason string)   { m.inc("owner:" + reason) }
func (m *recordingMetrics) EventRouted(route string)     { m.inc("route:" + route) }
func (m *recordingMetrics) ReconcilerRepair(kind string) { m.inc("repair:" + kind) }
func (m *recordingMetrics) ActionPerformed(action, status string) {
	m.inc("action:" + action + ":" + status)
}
func (m *recordingMetrics) PlatformCommand(string, time.Duration, error) {}
func (m *recordingMetrics) SetRoomsActive(n int) {
	m.mu.Lock()
	m.actives = n
	m.mu.Unlock()
}

type recordingAnomalies struct {
	mu    sync.Mutex
	rooms []domain.ChannelID
}

func (a *recordingAnomalies) Trigger(id domain.ChannelID) {
	a.mu.Lock()
	a.rooms = append(a.rooms, id)
	a.mu.Unlock()
}

func (a *recordingAnomalies) triggered(id domain.ChannelID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rooms {
		if r == id {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.RoomEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []domain.RoomEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.RoomEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	platform   *platformmem.Platform
	rooms      ports.RoomRepository
	owners     ports.OwnerRepository
	serializer *KeyedSerializer
	controller *Controller
	router     *Router
	dispatcher *Dispatcher
	reconciler *Reconciler
	metrics    *recordingMetrics
	anomalies  *recordingAnomalies
	publisher  *recordingPublisher
	clock      *clock.Fake
}

func defaultTestConfig() ControllerConfig {
	return ControllerConfig{
		CreatorChannels: []domain.ChannelID{testCreator},
		CategoryID:      testCategory,
		TagPrefix:       "tempvoice",
		NameTemplate:    "{owner}'s room",
		GraceWindow:     time.Hour,
		CreateRetry: retry.Config{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func newHarness(t *testing.T, opts ...func(*ControllerConfig)) *harness {
	t.Helper()
	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zaptest.NewLogger(t).Sugar()
	platform := platformmem.New()
	platform.AddChannel(testCreator, testCategory, "Join to create", "")

	seen := memory.NewMemoryIdempotencyStore(time.Minute)
	t.Cleanup(seen.Close)

	h := &harness{
		t:          t,
		ctx:        context.Background(),
		platform:   platform,
		rooms:      memory.NewMemoryRoomRepository(),
		owners:     memory.NewMemoryOwnerRepository(),
		serializer: NewKeyedSerializer(),
		metrics:    newRecordingMetrics(),
		anomalies:  &recordingAnomalies{},
		publisher:  &recordingPublisher{},
		clock:      clock.NewFake(time.Now()),
	}
	h.controller = NewController(cfg, h.rooms, h.owners, platform, h.serializer, logger)
	h.controller.SetMetrics(h.metrics)
	h.controller.SetAnomalyReporter(h.anomalies)
	h.controller.SetPublisher(h.publisher)
	h.controller.SetClock(h.clock)
	t.Cleanup(h.controller.Stop)

	h.router = NewRouter(h.controller, seen, nil, logger)
	h.dispatcher = NewDispatcher(h.controller, logger)
	h.reconciler = NewReconciler(ReconcilerConfig{CategoryID: testCategory}, h.controller, logger)
	return h
}

// join connects user to channel and routes the resulting event.
func (h *harness) join(user domain.UserID, id domain.ChannelID) {
	h.t.Helper()
	ev, err := h.platform.Connect(user, id)
	require.NoError(h.t, err)
	require.NoError(h.t, h.router.Handle(h.ctx, ev))
}

func (h *harness) joinAt(user domain.UserID, id domain.ChannelID, at time.Time) {
	h.t.Helper()
	ev, err := h.platform.Connect(user, id)
	require.NoError(h.t, err)
	ev.Timestamp = at
	require.NoError(h.t, h.router.Handle(h.ctx, ev))
}

func (h *harness) leave(user domain.UserID) {
	h.t.Helper()
	require.NoError(h.t, h.router.Handle(h.ctx, h.platform.Disconnect(user)))
}

// createRoom runs the join-to-create flow for owner and returns the new room.
func (h *harness) createRoom(owner domain.UserID) *domain.Room {
	h.t.Helper()
	h.join(owner, testCreator)
	owned, err := h.rooms.FindByOwner(h.ctx, owner)
	require.NoError(h.t, err)
	require.Len(h.t, owned, 1)
	return owned[0]
}

func (h *harness) room(id domain.ChannelID) *domain.Room {
	h.t.Helper()
	room, err := h.rooms.GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return room
}

func (h *harness) state(id domain.ChannelID) domain.RoomState {
	h.t.Helper()
	s, err := h.controller.RoomState(h.ctx, id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) act(id domain.ChannelID, actor domain.UserID, action domain.Action, p Params) Result {
	return h.dispatcher.PerformAction(h.ctx, id, actor, action, p)
}

// expireGrace runs every grace timer that is due after the configured window.
func (h *harness) expireGrace() {
	h.clock.Advance(h.controller.cfg.GraceWindow)
}

func intPtr(n int) *int { return &n }
