package port

import (
	"context"
	"time"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

// RateLimitStore counts requests against fixed windows keyed by (client identity, route).
type RateLimitStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.RateLimitDecision, error)
}
