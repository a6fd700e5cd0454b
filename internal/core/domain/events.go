package domain

import "time"

// RefreshChannel names a logical broadcast channel that UI surfaces subscribe to.
type RefreshChannel string

const (
	ChannelMessages      RefreshChannel = "messages"
	ChannelNotifications RefreshChannel = "notifications"
)

// Valid reports whether the channel is one the hub knows how to broadcast.
func (c RefreshChannel) Valid() bool {
	return c == ChannelMessages || c == ChannelNotifications
}

// Change event types observed on the push channel.
const (
	EventMessageCreated      = "chat.message.created"
	EventMessageRead         = "chat.message.read"
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventPresenceChanged     = "presence.changed"
)

// ChannelForEvent maps a change event type to the refresh channel it invalidates.
func ChannelForEvent(eventType string) (RefreshChannel, bool) {
	switch eventType {
	case EventMessageCreated, EventMessageRead:
		return ChannelMessages, true
	case EventNotificationCreated, EventNotificationRead:
		return ChannelNotifications, true
	default:
		return "", false
	}
}

// ChangeEvent announces that backend state visible to the listed recipients changed.
// The payload is not interpreted; it only decides who refreshes which channel.
type ChangeEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	RecipientIDs []string  `json:"recipient_ids"`
	ThreadID     string    `json:"thread_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PresenceChangedEvent represents the payload for presence.changed messages.
type PresenceChangedEvent struct {
	EventID        string
	UserID         string
	SessionID      string
	Status         PresenceStatus
	LastActivityAt time.Time
	ChangedAt      time.Time
}
