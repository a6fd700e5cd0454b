package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PORTAL"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Backend   BackendSettings   `mapstructure:"backend"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Sync      SyncSettings      `mapstructure:"sync"`
	Presence  PresenceSettings  `mapstructure:"presence"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Events    EventsSettings    `mapstructure:"events"`
	WebSocket WebSocketSettings `mapstructure:"websocket"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// LogLevel overrides the level implied by Env (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PostgresSettings configures the pool used for contact submissions.
// An empty host disables the contact endpoint.
type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	Schema            string        `mapstructure:"schema"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and key prefixes
type RedisSettings struct {
	// URL (redis:// or rediss://) takes precedence over the discrete fields.
	URL             string `mapstructure:"url"`
	PoolSize        int    `mapstructure:"pool_size"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	PresencePrefix  string `mapstructure:"presence_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the change-event consumer and the presence producer.
// No brokers means neither is started.
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// AuthSettings configures bearer token verification
type AuthSettings struct {
	KeyDirectory string        `mapstructure:"key_directory"`
	HMACSecret   string        `mapstructure:"hmac_secret"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	Leeway       time.Duration `mapstructure:"leeway"`
}

// BackendSettings configures the REST client for the chat, notification and users services
type BackendSettings struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max_retries"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SyncSettings configures refresh broadcasters
type SyncSettings struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	MinWaitFloor  time.Duration `mapstructure:"min_wait_floor"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PresenceSettings configures idle detection and the shared presence store
type PresenceSettings struct {
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TTL               time.Duration `mapstructure:"ttl"`
}

// RateLimitSettings configures fixed windows for public write endpoints
type RateLimitSettings struct {
	MaxRequests       int           `mapstructure:"max_requests"`
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	EventsMaxRequests int           `mapstructure:"events_max_requests"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	// Backend is "memory" (per instance) or "redis" (shared).
	Backend string `mapstructure:"backend"`
}

// EventsSettings configures the change-notification webhook
type EventsSettings struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type WebSocketSettings struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.log_level",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.schema",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.url",
		"redis.pool_size",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.presence_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"auth.key_directory",
		"auth.hmac_secret",
		"auth.issuer",
		"auth.audience",
		"auth.leeway",
		"backend.base_url",
		"backend.timeout",
		"backend.max_retries",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"sync.cooldown",
		"sync.min_wait_floor",
		"sync.sweep_interval",
		"presence.idle_timeout",
		"presence.check_interval",
		"presence.heartbeat_interval",
		"presence.ttl",
		"rate_limit.max_requests",
		"rate_limit.window_duration",
		"rate_limit.events_max_requests",
		"rate_limit.sweep_interval",
		"rate_limit.backend",
		"events.webhook_secret",
		"websocket.allowed_origins",
		"websocket.write_timeout",
		"websocket.pong_timeout",
		"websocket.max_message_size",
		"websocket.send_buffer",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.EventsMaxRequests <= 0 {
		return fmt.Errorf("rate_limit max requests must be positive")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate_limit.window_duration must be positive")
	}
	if c.Sync.Cooldown < 0 || c.Sync.MinWaitFloor < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Presence.IdleTimeout <= 0 || c.Presence.CheckInterval <= 0 {
		return fmt.Errorf("presence idle_timeout and check_interval must be positive")
	}
	if c.Presence.TTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.ttl (%s) must exceed presence.heartbeat_interval (%s)", c.Presence.TTL, c.Presence.HeartbeatInterval)
	}
	return nil
}

// Topic joins the configured prefix and an event name.
func (k KafkaSettings) Topic(name string) string {
	if k.TopicPrefix == "" {
		return name
	}
	return k.TopicPrefix + "." + name
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portal-realtime")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "")

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "portal")
	v.SetDefault("postgres.password", "portal_password")
	v.SetDefault("postgres.database", "portal")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.schema", "portal")
	v.SetDefault("postgres.max_conns", 5)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.presence_prefix", "portal:presence")
	v.SetDefault("redis.rate_limit_prefix", "portal:ratelimit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "portal")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "portal-realtime")

	v.SetDefault("auth.key_directory", "./secrets")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.leeway", "30s")

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.max_retries", 3)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "portal-realtime")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("sync.cooldown", "1500ms")
	v.SetDefault("sync.min_wait_floor", "250ms")
	v.SetDefault("sync.sweep_interval", "1m")

	v.SetDefault("presence.idle_timeout", "5m")
	v.SetDefault("presence.check_interval", "10s")
	v.SetDefault("presence.heartbeat_interval", "30s")
	v.SetDefault("presence.ttl", "2m")

	v.SetDefault("rate_limit.max_requests", 5)
	v.SetDefault("rate_limit.window_duration", "60s")
	v.SetDefault("rate_limit.events_max_requests", 120)
	v.SetDefault("rate_limit.sweep_interval", "5m")
	v.SetDefault("rate_limit.backend", "memory")

	v.SetDefault("events.webhook_secret", "")

	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
