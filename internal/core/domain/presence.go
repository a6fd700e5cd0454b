package domain

import "time"

// PresenceStatus is the coarse activity classification of a session.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

// ActivityKind enumerates the local interaction signals reported by a UI session.
type ActivityKind string

const (
	ActivityPointer     ActivityKind = "pointer"
	ActivityKeyboard    ActivityKind = "keyboard"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouch       ActivityKind = "touch"
	ActivityVisible     ActivityKind = "visible"
	ActivityHidden      ActivityKind = "hidden"
	ActivityRouteChange ActivityKind = "route_change"
)

// Qualifies reports whether the signal counts as user activity.
// A tab becoming hidden is reported but never keeps a session online.
func (k ActivityKind) Qualifies() bool {
	switch k {
	case ActivityPointer, ActivityKeyboard, ActivityScroll, ActivityTouch, ActivityVisible, ActivityRouteChange:
		return true
	default:
		return false
	}
}

// PresenceSnapshot is the state of one session's presence tracker at a point in time.
type PresenceSnapshot struct {
	UserID         string
	SessionID      string
	Status         PresenceStatus
	LastActivityAt time.Time
	ChangedAt      time.Time
}

// SessionPresence is the last status a session reported to the presence store.
type SessionPresence struct {
	SessionID      string         `json:"session_id"`
	Status         PresenceStatus `json:"status"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ReportedAt     time.Time      `json:"reported_at"`
}

// UserPresence aggregates every live session of a user into a single badge value.
type UserPresence struct {
	UserID         string
	Status         PresenceStatus
	LastActivityAt *time.Time
	Sessions       int
}

// AggregatePresence folds session reports into a user-level status.
// Any online session wins; otherwise idle if at least one session is live; otherwise offline.
func AggregatePresence(userID string, sessions []SessionPresence) UserPresence {
	result := UserPresence{UserID: userID, Status: PresenceOffline, Sessions: len(sessions)}

	for _, s := range sessions {
		if result.LastActivityAt == nil || s.LastActivityAt.After(*result.LastActivityAt) {
			last := s.LastActivityAt
			result.LastActivityAt = &last
		}
		switch s.Status {
		case PresenceOnline:
			result.Status = PresenceOnline
		case PresenceIdle:
			if result.Status == PresenceOffline {
				result.Status = PresenceIdle
			}
		}
	}

	return result
}
