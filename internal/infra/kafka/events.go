package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/config"
)

const schemaVersion = "1.0"

// eventEnvelope is the JSON body shared by published presence events and consumed change events.
type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type presencePayload struct {
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ChangedAt      time.Time `json:"changed_at"`
}

// EventPublisher sends presence transitions to Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	source   map[string]string
}

// NewEventPublisher constructs a publisher stamping events with the service name and environment.
func NewEventPublisher(producer *Producer, app config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{
		producer: producer,
		logger:   logger,
		source:   map[string]string{"service": app.Name, "environment": app.Env},
	}
}

// PublishPresenceChanged enqueues a presence.changed event keyed by user so one user's
// transitions stay ordered on a partition.
func (p *EventPublisher) PublishPresenceChanged(ctx context.Context, event domain.PresenceChangedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.ChangedAt.IsZero() {
		event.ChangedAt = time.Now()
	}

	payload, err := json.Marshal(presencePayload{
		UserID:         event.UserID,
		SessionID:      event.SessionID,
		Status:         string(event.Status),
		LastActivityAt: event.LastActivityAt.UTC(),
		ChangedAt:      event.ChangedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal presence payload: %w", err)
	}

	msg, err := p.message(ctx, eventEnvelope{
		EventID:   event.EventID,
		EventType: domain.EventPresenceChanged,
		UserID:    event.UserID,
		Timestamp: event.ChangedAt.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, msg)
}

func (p *EventPublisher) message(ctx context.Context, envelope eventEnvelope) (*sarama.ProducerMessage, error) {
	envelope.Metadata = make(map[string]string, len(p.source)+1)
	for k, v := range p.source {
		if v != "" {
			envelope.Metadata[k] = v
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		envelope.Metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(headerEventType), Value: []byte(envelope.EventType)},
		{Key: []byte(headerSchemaVersion), Value: []byte(envelope.Version)},
		{Key: []byte(headerContentType), Value: []byte("application/json")},
	}
	otel.GetTextMapPropagator().Inject(ctx, producerHeaders{headers: &headers})

	return &sarama.ProducerMessage{
		Topic:   p.producer.TopicName(envelope.EventType),
		Key:     sarama.StringEncoder(envelope.UserID),
		Value:   sarama.ByteEncoder(body),
		Headers: headers,
	}, nil
}

var _ port.EventPublisher = (*EventPublisher)(nil)
