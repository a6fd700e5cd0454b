package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/infra/config"
)

const (
	pingTimeout     = 5 * time.Second
	defaultPoolSize = 20
)

// Client owns the connection pool shared by the presence store and the rate limiter.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// Options maps settings onto go-redis options. A URL wins over host and port.
func Options(cfg config.RedisSettings) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	opts.PoolSize = cfg.PoolSize
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.PoolTimeout = 3 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	return opts, nil
}

// NewClient connects and pings once so startup fails fast on a bad address.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	logger.Info("redis connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize),
		zap.Bool("tls", opts.TLSConfig != nil),
	)

	return &Client{client: client, logger: logger.Named("redis")}, nil
}

// Client returns the underlying redis.Client for the repositories.
func (c *Client) Client() *redis.Client {
	return c.client
}

// HealthCheck backs the readiness probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// PoolCollector exposes connection pool statistics for the scrape endpoint.
func (c *Client) PoolCollector(namespace string) prometheus.Collector {
	return &poolCollector{
		client: c.client,
		total:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "redis", "pool_connections"), "Connections in the redis pool by state.", []string{"state"}, nil),
		hits:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "redis", "pool_hits_total"), "Times a free connection was found in the pool.", nil, nil),
		misses: prometheus.NewDesc(prometheus.BuildFQName(namespace, "redis", "pool_misses_total"), "Times a free connection was not found in the pool.", nil, nil),
		waits:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "redis", "pool_timeouts_total"), "Times a wait for a connection timed out.", nil, nil),
	}
}

// Close releases the pool.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	c.logger.Debug("redis pool closed")
	return nil
}

type poolCollector struct {
	client *redis.Client
	total  *prometheus.Desc
	hits   *prometheus.Desc
	misses *prometheus.Desc
	waits  *prometheus.Desc
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.hits
	ch <- p.misses
	ch <- p.waits
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := p.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(stats.IdleConns), "idle")
	inUse := float64(stats.TotalConns) - float64(stats.IdleConns)
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, max(inUse, 0), "in_use")
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(p.waits, prometheus.CounterValue, float64(stats.Timeouts))
}
