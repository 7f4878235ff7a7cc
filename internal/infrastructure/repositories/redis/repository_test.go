package redis

import (
	"context"
	"testing"
	"time"

	"tempvoice/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestClient connects to a fresh in-process redis server.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)

	client, err := Connect(ClientOptions{Address: server.Addr(), PoolSize: 4}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleRoom(id domain.ChannelID, owner domain.UserID) *domain.Room {
	room := &domain.Room{
		ID:               id,
		OwnerID:          owner,
		CreatorChannelID: "creator",
		Name:             "I・" + string(owner),
		BaseName:         string(owner),
		Position:         1,
		State:            domain.RoomActive,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	room.Allow(owner)
	room.Block("mallory")
	return room
}

func TestRedisRoomRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisRoomRepository(newTestClient(t))

	room := sampleRoom("vc-1", "alice")
	require.NoError(t, repo.Create(ctx, room))
	assert.ErrorIs(t, repo.Create(ctx, room), domain.ErrRoomExists)

	got, err := repo.GetByID(ctx, "vc-1")
	require.NoError(t, err)
	assert.Equal(t, room, got)

	got.OwnerID = "bob"
	got.State = domain.RoomOwnerVacant
	require.NoError(t, repo.Update(ctx, got))

	owned, err := repo.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	owned, err = repo.FindByOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, domain.RoomOwnerVacant, owned[0].State)

	require.NoError(t, repo.Delete(ctx, "vc-1"))
	_, err = repo.GetByID(ctx, "vc-1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "vc-1"), domain.ErrRoomNotFound)
	assert.ErrorIs(t, repo.Update(ctx, room), domain.ErrRoomNotFound)
}

func TestRedisRoomRepository_ListSorted(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisRoomRepository(newTestClient(t))

	require.NoError(t, repo.Create(ctx, sampleRoom("vc-2", "bob")))
	require.NoError(t, repo.Create(ctx, sampleRoom("vc-1", "alice")))

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.ChannelID("vc-1"), rooms[0].ID)
	assert.Equal(t, domain.ChannelID("vc-2"), rooms[1].ID)
}

func TestRedisOwnerRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisOwnerRepository(newTestClient(t))

	require.NoError(t, repo.AddTrusted(ctx, "alice", "carol"))
	require.NoError(t, repo.AddTrusted(ctx, "alice", "bob"))
	require.NoError(t, repo.RemoveTrusted(ctx, "alice", "carol"))
	trusted, err := repo.ListTrusted(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, trusted)

	_, err = repo.GetSettings(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrSettingsNotFound)

	want := &domain.UserSettings{UserID: "alice", DefaultName: "Study", DefaultLimit: 4, DefaultLocked: true}
	require.NoError(t, repo.SaveSettings(ctx, want))
	got, err := repo.GetSettings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRedisOwnerRepository_TrustAndBlockAreExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisOwnerRepository(newTestClient(t))

	require.NoError(t, repo.AddTrusted(ctx, "alice", "bob"))
	require.NoError(t, repo.AddBlocked(ctx, "alice", "bob"))
	require.NoError(t, repo.AddBlocked(ctx, "alice", "mallory"))

	trusted, err := repo.ListTrusted(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trusted)
	blocked, err := repo.ListBlocked(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob", "mallory"}, blocked)

	require.NoError(t, repo.AddTrusted(ctx, "alice", "bob"))
	require.NoError(t, repo.RemoveBlocked(ctx, "alice", "mallory"))
	blocked, err = repo.ListBlocked(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, blocked)
	trusted, err = repo.ListTrusted(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, trusted)
}

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewRedisIdempotencyStore(newTestClient(t), time.Minute)

	first, err := store.MarkSeen(ctx, "alice|vc-1|1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkSeen(ctx, "alice|vc-1|1")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMigrate_BackfillsIndexes(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisRoomRepository(client)
	require.NoError(t, repo.Create(ctx, sampleRoom("vc-9", "dave")))

	// Drop the indexes and the version, as on a store written before they existed.
	require.NoError(t, client.Del(ctx, roomIndexKey, ownerRoomsKey("dave"), schemaVersionKey).Err())
	require.NoError(t, Migrate(ctx, client, zaptest.NewLogger(t).Sugar()))

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
	owned, err := repo.FindByOwner(ctx, "dave")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}
