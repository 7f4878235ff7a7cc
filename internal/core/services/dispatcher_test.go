package services

import (
	"strings"
	"sync"
	"testing"

	"tempvoice/internal/core/domain"
	apperrors "tempvoice/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformAction_Validation(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	tests := []struct {
		name   string
		action domain.Action
		params Params
	}{
		{"limit above range", domain.ActionSetLimit, Params{Limit: intPtr(150)}},
		{"negative limit", domain.ActionSetLimit, Params{Limit: intPtr(-1)}},
		{"missing limit", domain.ActionSetLimit, Params{}},
		{"blank name", domain.ActionRename, Params{Name: "   "}},
		{"missing target", domain.ActionKick, Params{}},
		{"self target", domain.ActionBlock, Params{UserID: "alice"}},
		{"unknown action", domain.Action("explode"), Params{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.act(room.ID, "alice", tt.action, tt.params)
			assert.Equal(t, StatusError, res.Status)
			assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeInvalidInput))
		})
	}

	after := h.room(room.ID)
	assert.Equal(t, room.UserLimit, after.UserLimit)
	assert.Equal(t, room.Name, after.Name)
}

func TestPerformAction_NonOwnerIsDenied(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	for _, action := range []domain.Action{domain.ActionLock, domain.ActionUnlock, domain.ActionDelete} {
		res := h.act(room.ID, "bob", action, Params{})
		assert.Equal(t, StatusDenied, res.Status, action)
		assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeForbidden))
		assert.NotEmpty(t, res.Reason)
	}
	assert.False(t, h.room(room.ID).Locked)
	assert.Equal(t, 1, h.metrics.count("action:lock:denied"))
}

func TestPerformAction_LockAndUnlock(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	res := h.act(room.ID, "alice", domain.ActionLock, Params{})
	require.Equal(t, StatusOK, res.Status)
	assert.True(t, h.room(room.ID).Locked)
	assert.Equal(t, domain.PermissionDeny, h.platform.Permission(room.ID, domain.Everyone))

	res = h.act(room.ID, "alice", domain.ActionLock, Params{})
	assert.Equal(t, "unchanged", res.Reason)

	res = h.act(room.ID, "alice", domain.ActionUnlock, Params{})
	require.Equal(t, StatusOK, res.Status)
	assert.False(t, h.room(room.ID).Locked)
	assert.Equal(t, domain.PermissionClear, h.platform.Permission(room.ID, domain.Everyone))
}

func TestPerformAction_RenameKeepsNumeral(t *testing.T) {
	h := newHarness(t)
	h.createRoom("zed")
	room := h.createRoom("alice")

	res := h.act(room.ID, "alice", domain.ActionRename, Params{Name: "  Study hall "})
	require.Equal(t, StatusOK, res.Status)

	after := h.room(room.ID)
	assert.Equal(t, "II・Study hall", after.Name)
	assert.Equal(t, "Study hall", after.BaseName)
	info, err := h.platform.GetChannel(h.ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "II・Study hall", info.Name)
}

func TestPerformAction_RenameRejectsNameThatWouldBeCut(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	room = h.room(room.ID)

	res := h.act(room.ID, "alice", domain.ActionRename, Params{Name: strings.Repeat("n", 99)})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, room.Name, h.room(room.ID).Name)
	assert.Zero(t, h.platform.Calls("rename_channel"))

	res = h.act(room.ID, "alice", domain.ActionRename, Params{Name: strings.Repeat("n", 98)})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "I・"+strings.Repeat("n", 98), h.room(room.ID).Name)
}

func TestPerformAction_AllowAndBlockStayDisjoint(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	require.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionAllow, Params{UserID: "bob"}).Status)
	assert.True(t, h.room(room.ID).IsAllowed("bob"))

	require.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionBlock, Params{UserID: "bob"}).Status)
	after := h.room(room.ID)
	assert.True(t, after.IsBlocked("bob"))
	assert.False(t, after.IsAllowed("bob"))
	assert.Equal(t, domain.PermissionDeny, h.platform.Permission(room.ID, "bob"))

	members, err := h.platform.GetChannelMembers(h.ctx, room.ID)
	require.NoError(t, err)
	assert.NotContains(t, members, domain.UserID("bob"))

	require.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionAllow, Params{UserID: "bob"}).Status)
	after = h.room(room.ID)
	assert.True(t, after.IsAllowed("bob"))
	assert.False(t, after.IsBlocked("bob"))
}

func TestPerformAction_KickIsNotPersistent(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	res := h.act(room.ID, "alice", domain.ActionKick, Params{UserID: "bob"})
	require.Equal(t, StatusOK, res.Status)

	members, err := h.platform.GetChannelMembers(h.ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, members)
	assert.Empty(t, h.room(room.ID).Access)

	res = h.act(room.ID, "alice", domain.ActionKick, Params{UserID: "bob"})
	assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeInvalidInput))
}

func TestPerformAction_Transfer(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	res := h.act(room.ID, "alice", domain.ActionTransfer, Params{UserID: "carol"})
	assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeInvalidInput))

	res = h.act(room.ID, "alice", domain.ActionTransfer, Params{UserID: "bob"})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, domain.UserID("bob"), res.Room.OwnerID)
	assert.Equal(t, domain.UserID("bob"), h.room(room.ID).OwnerID)
	assert.Equal(t, domain.PermissionAllow, h.platform.Permission(room.ID, "bob"))
	assert.Equal(t, domain.PermissionClear, h.platform.Permission(room.ID, "alice"))

	res = h.act(room.ID, "alice", domain.ActionLock, Params{})
	assert.Equal(t, StatusDenied, res.Status)
}

func TestPerformAction_DeleteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	first := h.act(room.ID, "alice", domain.ActionDelete, Params{})
	require.Equal(t, StatusOK, first.Status)
	assert.False(t, h.platform.Exists(room.ID))
	assert.Equal(t, domain.RoomDeleted, h.state(room.ID))

	second := h.act(room.ID, "alice", domain.ActionDelete, Params{})
	assert.Equal(t, StatusOK, second.Status)
	assert.Nil(t, second.Err)
}

func TestPerformAction_DeleteOfExternallyRemovedChannel(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.platform.DeleteExternally(room.ID)

	res := h.act(room.ID, "alice", domain.ActionDelete, Params{})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, domain.RoomDeleted, h.state(room.ID))
}

func TestPerformAction_DeletePlatformFailureKeepsRoom(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.platform.FailNext("delete_voice_channel", errTransient)

	res := h.act(room.ID, "alice", domain.ActionDelete, Params{})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeBadGateway))
	assert.Equal(t, domain.RoomActive, h.state(room.ID))
	assert.True(t, h.platform.Exists(room.ID))
}

func TestPerformAction_MutationOnVanishedChannelIsAnomaly(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.platform.DeleteExternally(room.ID)

	res := h.act(room.ID, "alice", domain.ActionLock, Params{})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, h.anomalies.triggered(room.ID))
}

func TestPerformAction_ConcurrentRenameAndLimitBothApply(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionRename, Params{Name: "Quiet"}).Status)
	}()
	go func() {
		defer wg.Done()
		assert.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionSetLimit, Params{Limit: intPtr(7)}).Status)
	}()
	wg.Wait()

	after := h.room(room.ID)
	assert.Equal(t, "I・Quiet", after.Name)
	assert.Equal(t, 7, after.UserLimit)
}

func TestClaim_OwnerPresentIsDenied(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)

	res := h.act(room.ID, "bob", domain.ActionClaim, Params{})
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, domain.UserID("alice"), h.room(room.ID).OwnerID)
}

func TestClaim_NonMemberIsDenied(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)
	h.leave("alice")

	res := h.act(room.ID, "carol", domain.ActionClaim, Params{})
	assert.Equal(t, StatusDenied, res.Status)
}

func TestClaim_PendingThenApproved(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)
	h.join("carol", room.ID)
	h.leave("alice")

	res := h.act(room.ID, "carol", domain.ActionClaim, Params{})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, ClaimPending, res.Reason)
	require.Len(t, h.controller.PendingClaims(room.ID), 1)

	res = h.act(room.ID, "alice", domain.ActionApproveClaim, Params{UserID: "carol"})
	require.Equal(t, StatusOK, res.Status, res.Detail)
	assert.Equal(t, domain.UserID("carol"), h.room(room.ID).OwnerID)
	assert.Equal(t, domain.RoomActive, h.state(room.ID))
	assert.False(t, h.controller.GraceActive(room.ID))
	assert.Equal(t, 1, h.metrics.count("owner:claim_approved"))
}

func TestClaim_DeniedAndDroppedOnOwnerReturn(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)
	h.join("carol", room.ID)
	h.leave("alice")

	require.Equal(t, ClaimPending, h.act(room.ID, "carol", domain.ActionClaim, Params{}).Reason)
	require.Equal(t, StatusOK, h.act(room.ID, "alice", domain.ActionDenyClaim, Params{UserID: "carol"}).Status)
	assert.Empty(t, h.controller.PendingClaims(room.ID))

	res := h.act(room.ID, "alice", domain.ActionDenyClaim, Params{UserID: "carol"})
	assert.True(t, apperrors.HasCode(res.Err, apperrors.ErrCodeInvalidInput))

	require.Equal(t, ClaimPending, h.act(room.ID, "bob", domain.ActionClaim, Params{}).Reason)
	h.join("alice", room.ID)
	assert.Empty(t, h.controller.PendingClaims(room.ID))
	assert.Equal(t, domain.UserID("alice"), h.room(room.ID).OwnerID)
}

func TestClaim_TrustedUserIsGrantedImmediately(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	require.NoError(t, h.dispatcher.Trust(h.ctx, "alice", "carol"))
	h.join("bob", room.ID)
	h.join("carol", room.ID)
	h.leave("alice")

	res := h.act(room.ID, "carol", domain.ActionClaim, Params{})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, ClaimGranted, res.Reason)
	assert.Equal(t, domain.UserID("carol"), h.room(room.ID).OwnerID)
}

func TestClaim_MissedOwnerLeaveEntersVacancyFirst(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	h.join("bob", room.ID)
	// alice disconnects but the event never reaches the router.
	h.platform.Disconnect("alice")

	res := h.act(room.ID, "bob", domain.ActionClaim, Params{})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, ClaimGranted, res.Reason)
	assert.Equal(t, domain.UserID("bob"), h.room(room.ID).OwnerID)
}

func TestClaim_ClaimantOwningAnotherRoomIsDenied(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom("alice")
	mine := h.createRoom("bob")
	h.join("carol", mine.ID)
	h.join("bob", room.ID)
	h.leave("alice")
	require.Equal(t, domain.RoomOwnerVacant, h.state(mine.ID))

	res := h.act(room.ID, "bob", domain.ActionClaim, Params{})
	assert.Equal(t, StatusDenied, res.Status)
}

func TestTrustManagement(t *testing.T) {
	h := newHarness(t)

	err := h.dispatcher.Trust(h.ctx, "alice", "alice")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	require.NoError(t, h.dispatcher.Trust(h.ctx, "alice", "bob"))
	require.NoError(t, h.dispatcher.Trust(h.ctx, "alice", "carol"))
	require.NoError(t, h.dispatcher.Untrust(h.ctx, "alice", "bob"))

	trusted, err := h.dispatcher.TrustedUsers(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"carol"}, trusted)
}

func TestBlockManagement_DisplacesTrust(t *testing.T) {
	h := newHarness(t)

	err := h.dispatcher.Block(h.ctx, "alice", "alice")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	require.NoError(t, h.dispatcher.Trust(h.ctx, "alice", "bob"))
	require.NoError(t, h.dispatcher.Block(h.ctx, "alice", "bob"))
	require.NoError(t, h.dispatcher.Block(h.ctx, "alice", "mallory"))

	trusted, err := h.dispatcher.TrustedUsers(h.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trusted)
	blocked, err := h.dispatcher.BlockedUsers(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob", "mallory"}, blocked)

	require.NoError(t, h.dispatcher.Trust(h.ctx, "alice", "bob"))
	require.NoError(t, h.dispatcher.Unblock(h.ctx, "alice", "mallory"))
	blocked, err = h.dispatcher.BlockedUsers(h.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestSettings(t *testing.T) {
	h := newHarness(t)

	s, err := h.dispatcher.Settings(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.UserSettings{UserID: "alice"}, *s)

	err = h.dispatcher.SaveSettings(h.ctx, &domain.UserSettings{UserID: "alice", DefaultLimit: 120})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	require.NoError(t, h.dispatcher.SaveSettings(h.ctx, &domain.UserSettings{UserID: "alice", DefaultName: " Den ", DefaultLimit: 3}))
	s, err = h.dispatcher.Settings(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Den", s.DefaultName)
	assert.Equal(t, 3, s.DefaultLimit)
}
