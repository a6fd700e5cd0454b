package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

const defaultRateLimitPrefix = "portal:ratelimit"

// fixedWindowScript increments the window counter and starts the window on the first hit.
// It returns the counter and the remaining window in milliseconds.
var fixedWindowScript = red.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimitRepository keeps fixed-window counters in Redis so several instances share them.
type RateLimitRepository struct {
	client *red.Client
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client *red.Client, keyPrefix string) *RateLimitRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Hit counts one request for key within a fixed window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.RateLimitDecision, error) {
	if limit <= 0 || window <= 0 {
		return domain.RateLimitDecision{}, errors.New("rate limit: limit and window must be positive")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.RateLimitDecision{}, errors.New("rate limit: key must not be empty")
	}

	values, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(values) != 2 {
		return domain.RateLimitDecision{}, fmt.Errorf("redis fixed window: unexpected reply %v", values)
	}

	count := int(values[0])
	remainingWindow := time.Duration(values[1]) * time.Millisecond
	resetAt := now.Add(remainingWindow)

	decision := domain.RateLimitDecision{
		Allowed: count <= limit,
		Limit:   limit,
		Count:   count,
		ResetAt: resetAt,
	}
	if decision.Allowed {
		decision.Remaining = limit - count
	} else {
		decision.RetryAfter = remainingWindow
	}

	return decision, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
