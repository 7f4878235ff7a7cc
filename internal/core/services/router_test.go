package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRouter_Classify(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	other := h.createRoom("bob")
	h.platform.AddChannel("lobby", "", "Lobby", "")

	seen := memory.NewMemoryIdempotencyStore(time.Minute)
	t.Cleanup(seen.Close)
	ignoring := NewRouter(h.controller, seen, []domain.ChannelID{"afk"}, zaptest.NewLogger(t).Sugar())

	tests := []struct {
		name  string
		ev    domain.MembershipEvent
		kinds []RouteKind
	}{
		{"creator join", domain.MembershipEvent{UserID: "carol", After: testCreator}, []RouteKind{RouteEnterCreator}},
		{"room join", domain.MembershipEvent{UserID: "carol", After: room.ID}, []RouteKind{RouteEnterRoom}},
		{"room leave", domain.MembershipEvent{UserID: "carol", Before: room.ID}, []RouteKind{RouteLeaveRoom}},
		{"move between rooms", domain.MembershipEvent{UserID: "carol", Before: room.ID, After: other.ID}, []RouteKind{RouteLeaveRoom, RouteEnterRoom}},
		{"room to creator", domain.MembershipEvent{UserID: "alice", Before: room.ID, After: testCreator}, []RouteKind{RouteLeaveRoom, RouteEnterCreator}},
		{"unmanaged channel", domain.MembershipEvent{UserID: "carol", After: "lobby"}, nil},
		{"same channel update", domain.MembershipEvent{UserID: "carol", Before: room.ID, After: room.ID}, nil},
		{"ignored channel", domain.MembershipEvent{UserID: "carol", Before: "afk", After: "afk-2"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes, err := ignoring.Classify(h.ctx, tt.ev)
			require.NoError(t, err)
			var kinds []RouteKind
			for _, r := range routes {
				kinds = append(kinds, r.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestRouter_DuplicateEventIsNoop(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	ev, err := h.platform.Connect("bob", room.ID)
	require.NoError(t, err)
	require.NoError(t, h.router.Handle(h.ctx, ev))
	require.NoError(t, h.router.Handle(h.ctx, ev))

	assert.Equal(t, 1, h.metrics.count("route:duplicate"))
	assert.Equal(t, 1, h.metrics.count("route:enter_temp_room"))
}

func TestRouter_StaleLeaveIsDiscarded(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	// alice drops and reconnects; the leave arrives after she is back.
	staleLeave := h.platform.Disconnect("alice")
	_, err := h.platform.Connect("alice", room.ID)
	require.NoError(t, err)

	require.NoError(t, h.router.Handle(h.ctx, staleLeave))

	assert.Equal(t, domain.RoomActive, h.state(room.ID))
	assert.False(t, h.controller.GraceActive(room.ID))
}

func TestRouter_StaleEnterIsDiscarded(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	require.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionBlock, Params{UserID: "bob"}).Status)

	// bob's enter shows up after he already left again.
	enter, err := h.platform.Connect("bob", room.ID)
	require.NoError(t, err)
	h.platform.Disconnect("bob")

	require.NoError(t, h.router.Handle(h.ctx, enter))
	// Only the move into the new room; no attempt to move bob out.
	assert.Equal(t, 1, h.platform.Calls("move_member"))
}

func TestRouter_UnregisteredManagedChannelTriggersReconciler(t *testing.T) {
	h := newHarness(t)
	h.platform.AddChannel("ghost", testCategory, "I・ghost", "tempvoice:zed:nonce")
	_, err := h.platform.Connect("carol", "ghost")
	require.NoError(t, err)
	_, err = h.platform.Connect("dave", "ghost")
	require.NoError(t, err)

	ev := h.platform.Disconnect("carol")
	require.NoError(t, h.router.Handle(h.ctx, ev))

	assert.True(t, h.anomalies.triggered("ghost"))
	rooms, err := h.rooms.List(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRouter_RejectsEventWithoutUser(t *testing.T) {
	h := newHarness(t)
	err := h.router.Handle(h.ctx, domain.MembershipEvent{After: testCreator, Timestamp: time.Now()})
	assert.Error(t, err)
}

func TestRouter_SubmitPreservesPerRoomOrder(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	// Hold the room so every submitted event queues behind the test.
	hold := h.serializer.Reserve(string(room.ID))
	require.NoError(t, hold.Wait(h.ctx))

	users := []domain.UserID{"bob", "carol", "dave"}
	base := time.Now()
	for i, u := range users {
		ev, err := h.platform.Connect(u, room.ID)
		require.NoError(t, err)
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, h.router.Submit(h.ctx, ev))
	}
	leave := h.platform.Disconnect("alice")
	require.NoError(t, h.router.Submit(h.ctx, leave))

	hold.Release()
	h.router.Wait()

	assert.Equal(t, domain.RoomOwnerVacant, h.state(room.ID))
	assert.Equal(t, domain.UserID("bob"), h.controller.longestPresent(room.ID, users))
}

func TestRouter_RunDrainsChannel(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	events := make(chan domain.MembershipEvent, 4)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.router.Run(ctx, events)
	}()

	ev, err := h.platform.Connect("bob", room.ID)
	require.NoError(t, err)
	events <- ev
	events <- h.platform.Disconnect("alice")
	close(events)
	wg.Wait()

	assert.Equal(t, domain.RoomOwnerVacant, h.state(room.ID))
}
