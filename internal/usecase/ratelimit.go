package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

// DefaultRateLimitSweepInterval is how often expired windows are garbage-collected.
const DefaultRateLimitSweepInterval = 5 * time.Minute

type windowEntry struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter is an in-process fixed-window request counter.
// It is best-effort: instances do not share counts.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	clock   clock.WithTicker
	logger  *zap.Logger
}

// NewFixedWindowLimiter constructs an empty limiter.
func NewFixedWindowLimiter(clk clock.WithTicker, logger *zap.Logger) *FixedWindowLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindowLimiter{
		entries: make(map[string]*windowEntry),
		clock:   clk,
		logger:  logger,
	}
}

// Hit counts one request for key. A request at or after the window reset opens a new window.
func (l *FixedWindowLimiter) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (domain.RateLimitDecision, error) {
	if limit <= 0 || window <= 0 {
		return domain.RateLimitDecision{}, errors.New("rate limit: limit and window must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowEntry{count: 1, resetAt: now.Add(window)}
		l.entries[key] = entry
		return allowDecision(limit, entry.count, entry.resetAt), nil
	}

	if entry.count < limit {
		entry.count++
		return allowDecision(limit, entry.count, entry.resetAt), nil
	}

	return domain.RateLimitDecision{
		Allowed:    false,
		Limit:      limit,
		Count:      entry.count,
		Remaining:  0,
		ResetAt:    entry.resetAt,
		RetryAfter: entry.resetAt.Sub(now),
	}, nil
}

// Sweep removes every entry whose window has already expired and returns how many were removed.
func (l *FixedWindowLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if !now.Before(entry.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunSweeper sweeps expired windows every interval until ctx is done.
func (l *FixedWindowLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRateLimitSweepInterval
	}

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if removed := l.Sweep(l.clock.Now()); removed > 0 {
				l.logger.Debug("rate limit windows swept", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func allowDecision(limit, count int, resetAt time.Time) domain.RateLimitDecision {
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Count:     count,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}
}

var _ port.RateLimitStore = (*FixedWindowLimiter)(nil)
