package transportgrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	grpcinterceptors "github.com/arklim/portal-realtime/internal/transport/grpc/interceptors"
)

func startServer(t *testing.T, tracing grpcinterceptors.TracingOptions) (*Server, healthpb.HealthClient, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
	require.NoError(t, err)

	server := NewServer(ServerDependencies{
		Logger:  zaptest.NewLogger(t),
		Metrics: metrics,
		Tracing: tracing,
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return server, healthpb.NewHealthClient(conn), registry
}

func TestServerHealthFollowsServingState(t *testing.T) {
	server, client, registry := startServer(t, grpcinterceptors.TracingOptions{})
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	server.SetServing(true)

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	count, err := testutil.GatherAndCount(registry, "portal_grpc_requests_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestServerTracesRequests(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	server, client, _ := startServer(t, grpcinterceptors.TracingOptions{TracerProvider: tp})
	server.SetServing(true)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(recorder.Ended()) > 0 }, time.Second, 10*time.Millisecond)
	require.Equal(t, "grpc.health.v1.Health/Check", recorder.Ended()[0].Name())
}

func TestServerTracingCanSkipHealth(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, client, _ := startServer(t, grpcinterceptors.TracingOptions{TracerProvider: tp, ExcludeHealth: true})

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Empty(t, recorder.Ended())
}

func TestServerWatchStreamsStatusChanges(t *testing.T) {
	server, client, registry := startServer(t, grpcinterceptors.TracingOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	server.SetServing(true)
	resp, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	require.Eventually(t, func() bool {
		count, err := testutil.GatherAndCount(registry, "portal_grpc_requests_total")
		return err == nil && count == 1
	}, time.Second, 10*time.Millisecond)
}
