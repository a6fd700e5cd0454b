package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/portal-realtime/internal/infra/logger"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// UserIDKey is the context key for authenticated user ID
	UserIDKey = "user_id"

	requestContextKey = "request_context"
)

// RequestContext holds request-scoped information shared by the access log and handlers.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// EnrichContext assigns the trace ID of the request. An active OpenTelemetry span wins over
// the X-Trace-ID header so log lines join the exported trace.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := resolveTraceID(c)

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.TraceIDKey{}, traceID))

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        ClientIdentity(c),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

func resolveTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if header := c.GetHeader(TraceIDHeader); validRequestID(header) {
		return header
	}
	return uuid.NewString()
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext returns the request context set by EnrichContext, or an empty one.
func GetRequestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if reqCtx, ok := v.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}
