package ports

import (
	"context"
	"time"

	"tempvoice/internal/core/domain"
)

// Ticket is a reserved place in a key's FIFO queue.
type Ticket interface {
	// Wait blocks until every earlier ticket for the key was released, or ctx ends.
	// On error the ticket is already given up.
	Wait(ctx context.Context) error
	Release()
}

// RoomSerializer orders work per key. Reserve is non-blocking, so callers can fix
// arrival order before waiting.
type RoomSerializer interface {
	Reserve(key string) Ticket
}

// EventPublisher fans lifecycle events out to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}

// MetricsRecorder receives lifecycle counters.
type MetricsRecorder interface {
	RoomCreated()
	RoomDeleted(reason string)
	OwnerChanged(reason string)
	ActionPerformed(action, status string)
	EventRouted(route string)
	ReconcilerRepair(kind string)
	PlatformCommand(command string, d time.Duration, err error)
	SetRoomsActive(n int)
}
