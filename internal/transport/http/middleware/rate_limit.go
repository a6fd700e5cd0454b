package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	appLogger "github.com/arklim/portal-realtime/internal/infra/logger"
)

// UnknownClient is the identity used when a request carries no client address headers.
const UnknownClient = "unknown"

// RateLimitObserver is told about every decision the limiter makes.
type RateLimitObserver interface {
	ObserveRateLimit(route string, allowed bool)
}

// RateLimitRule configures a fixed-window limit for one route.
type RateLimitRule struct {
	// Route scopes the counter; requests to different routes never share a window.
	Route  string
	Limit  int
	Window time.Duration
}

// RateLimitedResponse is the body of a 429 answer.
type RateLimitedResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

type RateLimiter struct {
	store    port.RateLimitStore
	logger   *zap.Logger
	clock    clock.PassiveClock
	observer RateLimitObserver
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		clock:  clock.RealClock{},
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(clk clock.PassiveClock) *RateLimiter {
	if clk != nil {
		rl.clock = clk
	}
	return rl
}

// WithObserver attaches a decision observer.
func (rl *RateLimiter) WithObserver(observer RateLimitObserver) *RateLimiter {
	rl.observer = observer
	return rl
}

// ClientIdentity derives the caller identity from proxy headers: the first X-Forwarded-For
// entry, then X-Real-IP, then UnknownClient. Clients without either header share one bucket.
func ClientIdentity(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownClient
}

// RateLimit returns a Gin middleware enforcing rule. Store failures let the request through.
func (rl *RateLimiter) RateLimit(rule RateLimitRule) gin.HandlerFunc {
	if rule.Route == "" {
		rule.Route = "default"
	}

	return func(c *gin.Context) {
		if rl.store == nil || rule.Limit <= 0 || rule.Window <= 0 {
			c.Next()
			return
		}

		identity := ClientIdentity(c)
		key := rule.Route + ":" + identity
		now := rl.clock.Now()

		decision, err := rl.store.Hit(c.Request.Context(), key, rule.Limit, rule.Window, now)
		if err != nil {
			rl.logger.Warn("rate limit check failed",
				zap.String("route", rule.Route),
				zap.String("client", appLogger.MaskIP(identity)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if rl.observer != nil {
			rl.observer.ObserveRateLimit(rule.Route, decision.Allowed)
		}

		applyRateLimitHeaders(c, decision)

		if !decision.Allowed {
			rl.respondRateLimited(c, rule, identity, decision, now)
			return
		}

		c.Next()
	}
}

// RetryAfterSeconds rounds the remaining window up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func applyRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

	if !decision.Allowed {
		headers.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(decision.RetryAfter)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, rule RateLimitRule, identity string, decision domain.RateLimitDecision, now time.Time) {
	seconds := RetryAfterSeconds(decision.RetryAfter)

	rl.logger.Info("rate limit exceeded",
		zap.String("route", rule.Route),
		zap.String("client", appLogger.MaskIP(identity)),
		zap.Int("count", decision.Count),
		zap.Int("retry_after_seconds", seconds),
		zap.String("trace_id", GetTraceID(c)),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitedResponse{
		Status:    "unhealthy",
		Error:     "Too many requests. Try again in " + strconv.Itoa(seconds) + " seconds.",
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}
