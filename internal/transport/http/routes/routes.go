package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/infra/config"
	"github.com/arklim/portal-realtime/internal/transport/http/handlers"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
	"github.com/arklim/portal-realtime/internal/transport/ws"
	"github.com/arklim/portal-realtime/internal/usecase"
)

// RealtimeRoute is the websocket endpoint serving sync sessions.
const RealtimeRoute = "/api/v1/realtime/ws"

const tracingServiceName = "portal-realtime"

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth     *usecase.AuthService
	Identity handlers.IdentityReader
	Presence handlers.PresenceReader
	Contacts handlers.ContactSubmitter
	Signaler handlers.ChangeSignaler
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	HTTPMetrics    *middleware.HTTPMetrics
	EventsObserver handlers.ChangeEventObserver
	Realtime       *ws.Handler
	Services       ServiceSet
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(tracingServiceName, otelgin.WithGinFilter(traced)))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.CORS(middleware.NewOriginPolicy(deps.Config.WebSocket.AllowedOrigins)))

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		contactHandler := handlers.NewContactHandler(deps.Services.Contacts)
		api.POST("/contact", append(rateLimit(deps, "contact", deps.Config.RateLimit.MaxRequests), contactHandler.Submit)...)

		if deps.Services.Signaler != nil {
			eventsHandler := handlers.NewEventsHandler(deps.Services.Signaler, deps.EventsObserver, deps.Config.Events.WebhookSecret, logger)
			api.POST("/events", append(rateLimit(deps, "events", deps.Config.RateLimit.EventsMaxRequests), eventsHandler.Receive)...)
		}

		if deps.Services.Auth != nil {
			authMiddleware := middleware.RequireAuth(deps.Services.Auth, middleware.AuthOptions{})

			if deps.Realtime != nil {
				wsAuth := middleware.RequireAuth(deps.Services.Auth, middleware.AuthOptions{AllowQueryToken: true})
				r.GET(RealtimeRoute, wsAuth, deps.Realtime.Serve)
			}

			authed := api.Group("")
			authed.Use(authMiddleware)

			if deps.Services.Identity != nil {
				identityHandler := handlers.NewIdentityHandler(deps.Services.Identity)
				authed.GET("/me", identityHandler.Me)
				authed.POST("/me/refresh", identityHandler.RefreshMe)
				authed.DELETE("/me/cache", identityHandler.InvalidateMe)
				authed.GET("/users/:id/summary", identityHandler.Summary)
			}

			if deps.Services.Presence != nil {
				presenceHandler := handlers.NewPresenceHandler(deps.Services.Presence)
				authed.GET("/presence/:id", presenceHandler.Get)
			}
		}
	}

	handlers.RegisterSwagger(r)

	return r
}

func rateLimit(deps Dependencies, route string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Route:  route,
		Limit:  limit,
		Window: window,
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

// traced keeps probes and scrapes out of the exported traces.
func traced(c *gin.Context) bool {
	switch c.FullPath() {
	case "/healthz", "/readyz", "/metrics", handlers.DocsRoute:
		return false
	}
	return true
}
