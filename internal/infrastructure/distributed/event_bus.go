package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tempvoice/internal/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsChannel = "tempvoice:events"

// RoomEventBus fans room lifecycle events out to the other instances over Redis
// pub/sub. Events published by this instance are not delivered back to it.
type RoomEventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewRoomEventBus(client *redis.Client, logger *zap.SugaredLogger) *RoomEventBus {
	return &RoomEventBus{
		client:     client,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

func (eb *RoomEventBus) InstanceID() string {
	return eb.instanceID
}

func (eb *RoomEventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room_id", event.RoomID,
	)
	return nil
}

// Subscribe delivers events from other instances to handler until ctx ends.
func (eb *RoomEventBus) Subscribe(ctx context.Context, handler func(domain.RoomEvent)) error {
	pubsub := eb.client.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal room event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			handler(event)
		}
	}
}

// Trigger is the local reconciler entry point.
type Trigger interface {
	Trigger(id domain.ChannelID)
}

// AnomalyFanout reports an anomaly to the local reconciler and to every other instance.
type AnomalyFanout struct {
	local  Trigger
	bus    *RoomEventBus
	logger *zap.SugaredLogger
}

func NewAnomalyFanout(local Trigger, bus *RoomEventBus, logger *zap.SugaredLogger) *AnomalyFanout {
	return &AnomalyFanout{local: local, bus: bus, logger: logger}
}

func (f *AnomalyFanout) Trigger(id domain.ChannelID) {
	f.local.Trigger(id)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.bus.Publish(ctx, domain.RoomEvent{Type: domain.RoomAnomaly, RoomID: id})
	if err != nil {
		f.logger.Warnw("failed to broadcast anomaly", "room_id", id, "error", err)
	}
}

// HandleRemote is the Subscribe handler: anomalies seen elsewhere are checked here too.
func (f *AnomalyFanout) HandleRemote(event domain.RoomEvent) {
	if event.Type == domain.RoomAnomaly && event.RoomID != "" {
		f.local.Trigger(event.RoomID)
	}
}
