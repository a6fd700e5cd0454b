package port

import (
	"context"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishPresenceChanged(ctx context.Context, event domain.PresenceChangedEvent) error
}

// ChangeSignaler receives change notifications from the push channel.
type ChangeSignaler interface {
	SignalEvent(ctx context.Context, event domain.ChangeEvent) int
}
