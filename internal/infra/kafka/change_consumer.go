package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

// ErrMalformedEvent marks messages that can never be processed and are skipped.
var ErrMalformedEvent = errors.New("malformed change event")

// ChangeEventObserver is told about every decoded change event.
type ChangeEventObserver interface {
	ObserveChangeEvent(source, eventType string)
}

type changePayload struct {
	RecipientIDs []string `json:"recipient_ids"`
	ThreadID     string   `json:"thread_id"`
}

// ChangeEventConsumer turns chat and notification events into refresh signals.
type ChangeEventConsumer struct {
	signaler    port.ChangeSignaler
	observer    ChangeEventObserver
	logger      *zap.Logger
	clock       clock.PassiveClock
	maxEventLag time.Duration
}

// NewChangeEventConsumer constructs a consumer that forwards events to signaler.
func NewChangeEventConsumer(signaler port.ChangeSignaler, observer ChangeEventObserver, logger *zap.Logger) *ChangeEventConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeEventConsumer{
		signaler:    signaler,
		observer:    observer,
		logger:      logger,
		clock:       clock.RealClock{},
		maxEventLag: 5 * time.Second,
	}
}

// WithClock overrides the clock used for lag measurement.
func (c *ChangeEventConsumer) WithClock(clk clock.PassiveClock) *ChangeEventConsumer {
	if clk != nil {
		c.clock = clk
	}
	return c
}

// HandleMessage decodes one Kafka message and signals the affected recipients.
func (c *ChangeEventConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrMalformedEvent)
	}

	headers := consumerHeaders(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, headers)
	ctx, span := otel.Tracer("portal-realtime/kafka").Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
		),
	)
	defer span.End()

	event, err := decodeChangeEvent(msg.Value)
	if err != nil {
		span.SetStatus(codes.Error, "malformed")
		return err
	}
	if event.EventType == "" {
		event.EventType = headers.Get(headerEventType)
	}
	if event.EventType == "" {
		event.EventType = eventTypeFromTopic(msg.Topic)
	}

	if _, err = c.HandleEvent(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
	}
	return err
}

// HandleEvent signals every recipient of event and returns how many broadcasters were reached.
func (c *ChangeEventConsumer) HandleEvent(ctx context.Context, event domain.ChangeEvent) (int, error) {
	if _, ok := domain.ChannelForEvent(event.EventType); !ok {
		return 0, fmt.Errorf("%w: unsupported event type %q", ErrMalformedEvent, event.EventType)
	}

	if c.observer != nil {
		c.observer.ObserveChangeEvent("kafka", event.EventType)
	}

	if !event.OccurredAt.IsZero() && c.maxEventLag > 0 {
		if lag := c.clock.Since(event.OccurredAt); lag > c.maxEventLag {
			c.logger.Warn("change event lag exceeds threshold",
				zap.String("event_id", event.EventID),
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxEventLag),
			)
		}
	}

	signalled := c.signaler.SignalEvent(ctx, event)
	c.logger.Debug("change event applied",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("recipients", len(event.RecipientIDs)),
		zap.Int("signalled", signalled),
	)
	return signalled, nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *ChangeEventConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *ChangeEventConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Malformed messages are logged and
// committed; refresh signals are best effort so nothing is redelivered.
func (c *ChangeEventConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(ctx, msg); err != nil {
				c.logger.Warn("skipping change event",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

func decodeChangeEvent(value []byte) (domain.ChangeEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var payload changePayload
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
		}
	}

	recipients := payload.RecipientIDs
	if len(recipients) == 0 && envelope.UserID != "" {
		recipients = []string{envelope.UserID}
	}

	return domain.ChangeEvent{
		EventID:      envelope.EventID,
		EventType:    envelope.EventType,
		RecipientIDs: recipients,
		ThreadID:     payload.ThreadID,
		OccurredAt:   envelope.Timestamp,
	}, nil
}

// eventTypeFromTopic strips the topic prefix: "portal.chat.message.created" -> "chat.message.created".
func eventTypeFromTopic(topic string) string {
	for _, eventType := range []string{
		domain.EventMessageCreated,
		domain.EventMessageRead,
		domain.EventNotificationCreated,
		domain.EventNotificationRead,
	} {
		if topic == eventType || strings.HasSuffix(topic, "."+eventType) {
			return eventType
		}
	}
	return topic
}

var _ sarama.ConsumerGroupHandler = (*ChangeEventConsumer)(nil)
