package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/backend"
	"github.com/arklim/portal-realtime/internal/infra/config"
	"github.com/arklim/portal-realtime/internal/infra/database"
	kafkainfra "github.com/arklim/portal-realtime/internal/infra/kafka"
	"github.com/arklim/portal-realtime/internal/infra/logger"
	redisinfra "github.com/arklim/portal-realtime/internal/infra/redis"
	"github.com/arklim/portal-realtime/internal/infra/security"
	"github.com/arklim/portal-realtime/internal/infra/telemetry"
	postgresrepo "github.com/arklim/portal-realtime/internal/repository/postgres"
	redisrepo "github.com/arklim/portal-realtime/internal/repository/redis"
	transportgrpc "github.com/arklim/portal-realtime/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/portal-realtime/internal/transport/grpc/interceptors"
	"github.com/arklim/portal-realtime/internal/transport/http/handlers"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
	"github.com/arklim/portal-realtime/internal/transport/http/routes"
	"github.com/arklim/portal-realtime/internal/transport/ws"
	"github.com/arklim/portal-realtime/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	tracer     *telemetry.TracerProvider
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	consumer   *kafkainfra.ConsumerGroup
	hub        *usecase.SyncHub
	limiter    *usecase.FixedWindowLimiter
	realtime   *ws.Handler
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log, telemetry.WithEnvironment(cfg.App.Env))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a := &Application{
		cfg:      cfg,
		logger:   log,
		tracer:   tracer,
		grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}

	if err := a.build(ctx); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init sync metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{StreamRoutes: []string{routes.RealtimeRoute}})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if _, err := telemetry.RegisterCollector(prometheus.DefaultRegisterer, a.redis.PoolCollector("portal")); err != nil {
		return fmt.Errorf("register redis pool metrics: %w", err)
	}

	var contacts handlers.ContactSubmitter
	if cfg.Postgres.Host != "" {
		a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		contacts = usecase.NewContactService(postgresrepo.NewContactRepository(a.pool), log)
	} else {
		log.Info("postgres not configured, contact form disabled")
	}

	// Presence events go to Kafka when brokers are configured.
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer, err = kafkainfra.NewProducer(cfg.Kafka, log, syncMetrics)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(a.producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}
	authService := usecase.NewAuthService(verifier)

	backendClient, err := backend.NewClient(cfg.Backend, log)
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}

	identityService := usecase.NewIdentityService(backendClient, usecase.IdentityPaths{}, syncMetrics)
	feedService := usecase.NewFeedService(backendClient, usecase.FeedPaths{})

	presenceStore := redisrepo.NewPresenceRepository(a.redis.Client(), cfg.Redis.PresencePrefix)
	presenceService := usecase.NewPresenceService(presenceStore, eventPublisher, log, usecase.PresenceServiceOptions{
		IdleTimeout:       cfg.Presence.IdleTimeout,
		CheckInterval:     cfg.Presence.CheckInterval,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		TTL:               cfg.Presence.TTL,
	}).WithObserver(syncMetrics)

	a.hub = usecase.NewSyncHub(usecase.BroadcasterOptions{
		Cooldown:     cfg.Sync.Cooldown,
		MinWaitFloor: cfg.Sync.MinWaitFloor,
		Observer:     syncMetrics,
	}, log.Named("sync_hub"))

	var rateLimitStore port.RateLimitStore
	if cfg.RateLimit.Backend == "redis" {
		rateLimitStore = redisrepo.NewRateLimitRepository(a.redis.Client(), cfg.Redis.RateLimitPrefix)
	} else {
		a.limiter = usecase.NewFixedWindowLimiter(clock.RealClock{}, log.Named("rate_limit"))
		rateLimitStore = a.limiter
	}
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log).WithObserver(syncMetrics)

	if len(cfg.Kafka.Brokers) > 0 {
		handler := kafkainfra.NewChangeEventConsumer(a.hub, syncMetrics, log)
		a.consumer, err = kafkainfra.NewConsumerGroup(cfg.Kafka, handler, log)
		if err != nil {
			log.Warn("failed to init kafka consumer group, relying on webhook", zap.Error(err))
		}
	}

	a.realtime = ws.NewHandler(ws.SessionDeps{
		Feed:     feedService,
		Hub:      a.hub,
		Presence: presenceService,
		Logger:   log,
	}, ws.HandlerOptions{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Connection: ws.ConnectionOptions{
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			PongTimeout:    cfg.WebSocket.PongTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendBuffer:     cfg.WebSocket.SendBuffer,
		},
	})

	a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Logger:  log,
		Metrics: grpcMetrics,
		Tracing: grpcinterceptors.TracingOptions{ExcludeHealth: true},
	})

	deps := routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    rateLimiter,
		HTTPMetrics:    httpMetrics,
		EventsObserver: syncMetrics,
		Realtime:       a.realtime,
		Cache:          a.redis,
		Services: routes.ServiceSet{
			Auth:     authService,
			Identity: identityService,
			Presence: presenceService,
			Contacts: contacts,
			Signaler: a.hub,
		},
	}
	if a.pool != nil {
		deps.Database = a.pool
	}
	a.engine = routes.Register(deps)

	return nil
}

func newVerifier(cfg config.AuthSettings) (*security.TokenVerifier, error) {
	opts := security.VerifierOptions{
		HMACSecret: []byte(cfg.HMACSecret),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Leeway:     cfg.Leeway,
	}
	if cfg.KeyDirectory != "" {
		keys, err := security.NewDirKeyProvider(cfg.KeyDirectory)
		if err != nil {
			return nil, err
		}
		opts.Keys = keys
	}
	return security.NewTokenVerifier(opts)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.release(context.Background())

	workers, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	a.startWorkers(workers)

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil && a.grpcAddr != "" {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server",
			zap.String("address", a.grpcAddr),
		)
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC server error", zap.Error(err))
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
		a.grpcServer.SetServing(true)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting realtime gateway",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	case runErr = <-grpcErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.grpcServer != nil {
		a.grpcServer.Stop(shutdownCtx)
	}
	if err := a.realtime.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("websocket sessions did not close in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown server: %w", err)
	}
	stopWorkers()

	return runErr
}

func (a *Application) startWorkers(ctx context.Context) {
	if a.limiter != nil {
		go a.limiter.RunSweeper(ctx, a.cfg.RateLimit.SweepInterval)
	}

	go a.sweepHub(ctx)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("change event consumer stopped", zap.Error(err))
			}
		}()
	}
}

func (a *Application) sweepHub(ctx context.Context) {
	interval := a.cfg.Sync.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := a.hub.Sweep(); removed > 0 {
				a.logger.Debug("idle broadcasters swept", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// release closes every dependency that was opened. It tolerates a partially built application.
func (a *Application) release(ctx context.Context) {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("failed to close kafka consumer", zap.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to shut down tracer", zap.Error(err))
		}
	}
}
