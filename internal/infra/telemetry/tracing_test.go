package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/portal-realtime/internal/infra/config"
)

func TestNewTracerProviderWithoutExporter(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), config.TelemetrySettings{
		ServiceName:  "portal-realtime-test",
		SamplingRate: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderExportsTaggedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(), config.TelemetrySettings{
		ServiceName:  "portal-realtime-test",
		SamplingRate: 5,
	}, zaptest.NewLogger(t), WithSpanExporter(exporter), WithEnvironment("staging"), WithServiceVersion("2.3.4"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "broadcast.cycle")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "broadcast.cycle", spans[0].Name)

	attrs := spans[0].Resource.Attributes()
	require.Contains(t, attrs, semconv.DeploymentEnvironment("staging"))
	require.Contains(t, attrs, semconv.ServiceVersion("2.3.4"))
}

func TestShutdownNilProvider(t *testing.T) {
	var tp *TracerProvider
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestClampRate(t *testing.T) {
	require.Equal(t, 0.0, clampRate(-1))
	require.Equal(t, 0.25, clampRate(0.25))
	require.Equal(t, 1.0, clampRate(3))
}
