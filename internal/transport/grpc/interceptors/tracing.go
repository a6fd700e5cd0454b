package interceptors

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/stats"
)

// TracingOptions customises the OpenTelemetry instrumentation of the gRPC server.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	// ExcludeHealth skips spans for grpc.health.v1 probes.
	ExcludeHealth bool
	Additional    []otelgrpc.Option
}

// NewTracingHandler builds the server stats handler that opens a span per RPC.
func NewTracingHandler(opts TracingOptions) stats.Handler {
	options := make([]otelgrpc.Option, 0, len(opts.Additional)+3)
	if opts.TracerProvider != nil {
		options = append(options, otelgrpc.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		options = append(options, otelgrpc.WithPropagators(opts.Propagators))
	}
	if opts.ExcludeHealth {
		options = append(options, otelgrpc.WithFilter(func(info *stats.RPCTagInfo) bool {
			return !isHealthMethod(info.FullMethodName)
		}))
	}
	options = append(options, opts.Additional...)

	return otelgrpc.NewServerHandler(options...)
}

func isHealthMethod(fullMethod string) bool {
	service, _ := splitFullMethod(fullMethod)
	return service == "grpc.health.v1.Health"
}
