package port

import (
	"context"
	"time"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// PresenceStore keeps the last status each live session reported.
type PresenceStore interface {
	SaveSession(ctx context.Context, userID string, presence domain.SessionPresence, ttl time.Duration) error
	RemoveSession(ctx context.Context, userID, sessionID string) error
	ListSessions(ctx context.Context, userID string, now time.Time) ([]domain.SessionPresence, error)
}
