package redis

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/portal-realtime/internal/infra/config"
)

func TestOptionsFromFields(t *testing.T) {
	opts, err := Options(config.RedisSettings{Host: "cache", Port: 6380, DB: 2, TLSEnabled: true})
	require.NoError(t, err)

	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.NotNil(t, opts.TLSConfig)
	require.Equal(t, defaultPoolSize, opts.PoolSize)
}

func TestOptionsURLWins(t *testing.T) {
	opts, err := Options(config.RedisSettings{URL: "redis://:secret@presence:6390/4", Host: "ignored", Port: 1, PoolSize: 7})
	require.NoError(t, err)

	require.Equal(t, "presence:6390", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 4, opts.DB)
	require.Equal(t, 7, opts.PoolSize)

	_, err = Options(config.RedisSettings{URL: "http://not-redis"})
	require.Error(t, err)
}

func newMiniredisClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClientPingsServer(t *testing.T) {
	client, mr := newMiniredisClient(t)

	require.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	require.Error(t, client.HealthCheck(context.Background()))
}

func TestPoolCollector(t *testing.T) {
	client, _ := newMiniredisClient(t)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(client.PoolCollector("portal")))

	count, err := testutil.GatherAndCount(registry,
		"portal_redis_pool_connections",
		"portal_redis_pool_hits_total",
		"portal_redis_pool_misses_total",
		"portal_redis_pool_timeouts_total",
	)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}
