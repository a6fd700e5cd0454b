package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ContactRequest is the public contact-form payload.
type ContactRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required"`
	Company string `json:"company"`
	Topic   string `json:"topic"`
	Message string `json:"message" binding:"required"`
}

// ContactResponse acknowledges a stored submission.
type ContactResponse struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ChangeEventRequest is the body of the internal change-notification webhook.
type ChangeEventRequest struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type" binding:"required"`
	RecipientIDs []string  `json:"recipient_ids" binding:"required,min=1"`
	ThreadID     string    `json:"thread_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ChangeEventResponse reports how many subscribed broadcasters were signalled.
type ChangeEventResponse struct {
	EventID   string `json:"event_id,omitempty"`
	Signalled int    `json:"signalled"`
}

// PresenceResponse is the badge value for one user.
type PresenceResponse struct {
	UserID         string                `json:"user_id"`
	Status         domain.PresenceStatus `json:"status"`
	LastActivityAt *time.Time            `json:"last_activity_at,omitempty"`
	Sessions       int                   `json:"sessions"`
}

func presenceResponse(p domain.UserPresence) PresenceResponse {
	return PresenceResponse{
		UserID:         p.UserID,
		Status:         p.Status,
		LastActivityAt: p.LastActivityAt,
		Sessions:       p.Sessions,
	}
}
