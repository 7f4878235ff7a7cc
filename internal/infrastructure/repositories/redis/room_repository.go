package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix = keyPrefix + "room:"
	roomIndexKey  = keyPrefix + "rooms"
)

func roomKey(id domain.ChannelID) string { return roomKeyPrefix + string(id) }

func ownerRoomsKey(owner string) string { return keyPrefix + "owner:" + owner + ":rooms" }

// roomRecord is the stored JSON shape of a room row and its access entries.
type roomRecord struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	CreatorChannelID string            `json:"creator_channel_id"`
	Locked           bool              `json:"locked"`
	UserLimit        int               `json:"user_limit"`
	Name             string            `json:"name"`
	BaseName         string            `json:"base_name"`
	Position         int               `json:"position"`
	State            string            `json:"state"`
	CreatedAt        time.Time         `json:"created_at"`
	Access           map[string]string `json:"access,omitempty"`
}

func toRecord(room *domain.Room) roomRecord {
	rec := roomRecord{
		ID:               string(room.ID),
		OwnerID:          string(room.OwnerID),
		CreatorChannelID: string(room.CreatorChannelID),
		Locked:           room.Locked,
		UserLimit:        room.UserLimit,
		Name:             room.Name,
		BaseName:         room.BaseName,
		Position:         room.Position,
		State:            string(room.State),
		CreatedAt:        room.CreatedAt,
	}
	if len(room.Access) > 0 {
		rec.Access = make(map[string]string, len(room.Access))
		for u, s := range room.Access {
			rec.Access[string(u)] = string(s)
		}
	}
	return rec
}

func (rec roomRecord) toDomain() *domain.Room {
	room := &domain.Room{
		ID:               domain.ChannelID(rec.ID),
		OwnerID:          domain.UserID(rec.OwnerID),
		CreatorChannelID: domain.ChannelID(rec.CreatorChannelID),
		Locked:           rec.Locked,
		UserLimit:        rec.UserLimit,
		Name:             rec.Name,
		BaseName:         rec.BaseName,
		Position:         rec.Position,
		State:            domain.RoomState(rec.State),
		CreatedAt:        rec.CreatedAt,
		Access:           make(map[domain.UserID]domain.AccessState, len(rec.Access)),
	}
	for u, s := range rec.Access {
		room.Access[domain.UserID(u)] = domain.AccessState(s)
	}
	return room
}

// RedisRoomRepository stores each room as one JSON value, so a row and its access
// set are always written together. A set indexes all rooms and one set per owner
// indexes that owner's rooms.
type RedisRoomRepository struct {
	client *redis.Client
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{client: client}
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(toRecord(room))
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	created, err := r.client.SetNX(ctx, roomKey(room.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create room in Redis: %w", err)
	}
	if !created {
		return domain.ErrRoomExists
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, roomIndexKey, string(room.ID))
		pipe.SAdd(ctx, ownerRoomsKey(string(room.OwnerID)), string(room.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index room: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.ChannelID) (*domain.Room, error) {
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

func (r *RedisRoomRepository) get(ctx context.Context, id domain.ChannelID) (*roomRecord, error) {
	data, err := r.client.Get(ctx, roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var rec roomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &rec, nil
}

func (r *RedisRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	prev, err := r.get(ctx, room.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(toRecord(room))
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), data, 0)
		if prev.OwnerID != string(room.OwnerID) {
			pipe.SRem(ctx, ownerRoomsKey(prev.OwnerID), string(room.ID))
			pipe.SAdd(ctx, ownerRoomsKey(string(room.OwnerID)), string(room.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update room in Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.ChannelID) error {
	prev, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(id))
		pipe.SRem(ctx, roomIndexKey, string(id))
		pipe.SRem(ctx, ownerRoomsKey(prev.OwnerID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	return r.load(ctx, roomIndexKey)
}

func (r *RedisRoomRepository) FindByOwner(ctx context.Context, owner domain.UserID) ([]*domain.Room, error) {
	rooms, err := r.load(ctx, ownerRoomsKey(string(owner)))
	if err != nil {
		return nil, err
	}
	// The index may lag an ownership change made by another writer.
	out := rooms[:0]
	for _, room := range rooms {
		if room.OwnerID == owner {
			out = append(out, room)
		}
	}
	return out, nil
}

// load resolves an index set into rows, skipping ids whose row is already gone.
func (r *RedisRoomRepository) load(ctx context.Context, indexKey string) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Room{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(domain.ChannelID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec roomRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room %s: %w", ids[i], err)
		}
		rooms = append(rooms, rec.toDomain())
	}
	return rooms, nil
}
