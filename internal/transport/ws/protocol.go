package ws

import (
	"encoding/json"
	"time"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameActivity    = "activity"
	FrameVisibility  = "visibility"
	FrameRouteChange = "route_change"
	FrameRefresh     = "refresh"
	FramePing        = "ping"
)

// Server frame types.
const (
	FrameReady        = "ready"
	FrameRefreshed    = "refresh"
	FrameRefreshError = "refresh_error"
	FramePresence     = "presence"
	FramePong         = "pong"
	FrameError        = "error"
)

// ClientFrame is a message sent by the UI. Fields not used by Type are ignored.
type ClientFrame struct {
	Type     string                `json:"type"`
	Surface  domain.Surface        `json:"surface,omitempty"`
	ThreadID string                `json:"thread_id,omitempty"`
	Kind     domain.ActivityKind   `json:"kind,omitempty"`
	Visible  *bool                 `json:"visible,omitempty"`
	Channel  domain.RefreshChannel `json:"channel,omitempty"`
	Route    string                `json:"route,omitempty"`
}

func (f ClientFrame) subscription() domain.Subscription {
	return domain.Subscription{Surface: f.Surface, ThreadID: f.ThreadID}
}

// ServerFrame is a message pushed to the UI.
type ServerFrame struct {
	Type           string                `json:"type"`
	SessionID      string                `json:"session_id,omitempty"`
	UserID         string                `json:"user_id,omitempty"`
	Surface        domain.Surface        `json:"surface,omitempty"`
	ThreadID       string                `json:"thread_id,omitempty"`
	Payload        json.RawMessage       `json:"payload,omitempty"`
	Status         domain.PresenceStatus `json:"status,omitempty"`
	LastActivityAt *time.Time            `json:"last_activity_at,omitempty"`
	Error          string                `json:"error,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}
