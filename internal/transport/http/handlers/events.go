package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
)

// WebhookSecretHeader carries the shared secret of the change-notification webhook.
const WebhookSecretHeader = middleware.WebhookSecretHeader

// ChangeSignaler routes a change event to the broadcasters of its recipients.
type ChangeSignaler interface {
	SignalEvent(ctx context.Context, event domain.ChangeEvent) int
}

// ChangeEventObserver counts change events per source.
type ChangeEventObserver interface {
	ObserveChangeEvent(source, eventType string)
}

// EventsHandler receives change notifications pushed by backend services over HTTP.
type EventsHandler struct {
	signaler ChangeSignaler
	observer ChangeEventObserver
	secret   string
	logger   *zap.Logger
}

// NewEventsHandler constructs the webhook handler. An empty secret rejects every call.
func NewEventsHandler(signaler ChangeSignaler, observer ChangeEventObserver, secret string, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		signaler: signaler,
		observer: observer,
		secret:   secret,
		logger:   logger.Named("events_webhook"),
	}
}

// Receive godoc
// @Summary Receive a change notification
// @Description Triggers a refresh of the affected channel for every listed recipient.
// @Tags Events
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string true "Shared webhook secret"
// @Param request body ChangeEventRequest true "Change event"
// @Success 202 {object} ChangeEventResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/events [post]
func (h *EventsHandler) Receive(c *gin.Context) {
	provided := c.GetHeader(WebhookSecretHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid webhook secret"))
		return
	}

	var req ChangeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "event_type and recipient_ids are required"))
		return
	}

	eventType := strings.TrimSpace(req.EventType)
	if _, ok := domain.ChannelForEvent(eventType); !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unsupported event type"))
		return
	}

	event := domain.ChangeEvent{
		EventID:      req.EventID,
		EventType:    eventType,
		RecipientIDs: req.RecipientIDs,
		ThreadID:     req.ThreadID,
		OccurredAt:   req.OccurredAt,
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if h.observer != nil {
		h.observer.ObserveChangeEvent("webhook", eventType)
	}

	signalled := h.signaler.SignalEvent(c.Request.Context(), event)

	h.logger.Debug("change event received",
		zap.String("event_id", event.EventID),
		zap.String("event_type", eventType),
		zap.Int("recipients", len(event.RecipientIDs)),
		zap.Int("signalled", signalled),
	)

	c.JSON(http.StatusAccepted, ChangeEventResponse{EventID: event.EventID, Signalled: signalled})
}
