package domain

// Surface identifies a UI component that renders data kept fresh by the sync hub.
type Surface string

const (
	SurfaceChatSidebar      Surface = "chat_sidebar"
	SurfaceThreadPanel      Surface = "thread_panel"
	SurfaceNotificationBell Surface = "notification_bell"
)

// Channel returns the refresh channel the surface listens on.
func (s Surface) Channel() (RefreshChannel, bool) {
	switch s {
	case SurfaceChatSidebar, SurfaceThreadPanel:
		return ChannelMessages, true
	case SurfaceNotificationBell:
		return ChannelNotifications, true
	default:
		return "", false
	}
}

// Subscription is one surface's interest in refreshes, scoped to a thread for thread panels.
type Subscription struct {
	Surface  Surface
	ThreadID string
}

// Key identifies the subscription within a single websocket session.
func (s Subscription) Key() string {
	if s.ThreadID == "" {
		return string(s.Surface)
	}
	return string(s.Surface) + ":" + s.ThreadID
}
