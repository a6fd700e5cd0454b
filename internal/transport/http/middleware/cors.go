package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ",")
	corsAllowHeaders  = strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader, TraceIDHeader, WebhookSecretHeader}, ",")
	corsExposeHeaders = strings.Join([]string{requestIDHeader, TraceIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}, ",")
)

// WebhookSecretHeader authenticates change events pushed by the portal backend.
const WebhookSecretHeader = "X-Webhook-Secret"

// OriginPolicy decides which browser origins may call the API or open a realtime socket.
// An empty list or "*" allows every origin.
type OriginPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewOriginPolicy builds a policy from configured origins.
func NewOriginPolicy(allowed []string) OriginPolicy {
	p := OriginPolicy{origins: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			p.allowAll = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.allowAll = true
	}
	return p
}

// AllowsAny reports whether every origin is accepted.
func (p OriginPolicy) AllowsAny() bool {
	return p.allowAll
}

// Allows reports whether origin may be served. Requests without an Origin header are not from browsers and pass.
func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allows(r.Header.Get("Origin"))
}

// CORS answers preflights and decorates responses for the origins the policy allows.
// Credentials are only advertised to explicitly listed origins.
func CORS(policy OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowed := policy.Allows(origin)
		if allowed {
			h := c.Writer.Header()
			if policy.AllowsAny() {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}

		if c.Request.Method != http.MethodOptions || c.GetHeader("Access-Control-Request-Method") == "" {
			c.Next()
			return
		}

		if !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", "86400")
		c.AbortWithStatus(http.StatusNoContent)
	}
}
