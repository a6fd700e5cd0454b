package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// PublishPresenceChanged logs presence.changed events at debug level.
func (p *StubPublisher) PublishPresenceChanged(_ context.Context, event domain.PresenceChangedEvent) error {
	p.logger.Debug("Stub event published",
		zap.String("event_type", domain.EventPresenceChanged),
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("status", string(event.Status)),
		zap.Time("changed_at", event.ChangedAt.UTC()),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
