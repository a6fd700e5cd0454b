package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/portal-realtime/internal/infra/telemetry"
)

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
	// StreamRoutes are long-lived routes such as the realtime socket. They are counted
	// in the Streams gauge instead of the latency histogram.
	StreamRoutes []string
	// SkipRoutes are not instrumented at all. Defaults to the scrape endpoint.
	SkipRoutes []string
}

// HTTPMetrics exposes Prometheus collectors for request instrumentation.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
	Streams  *prometheus.GaugeVec

	streamRoutes map[string]struct{}
	skipRoutes   map[string]struct{}
}

// NewHTTPMetrics constructs the request collectors and registers them with opts.Registerer.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "portal"
	}
	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "http"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	skip := opts.SkipRoutes
	if skip == nil {
		skip = []string{"/metrics"}
	}

	m := &HTTPMetrics{
		streamRoutes: routeSet(opts.StreamRoutes),
		skipRoutes:   routeSet(skip),
	}
	labels := []string{"method", "route", "status"}
	var err error

	if m.Requests, err = telemetry.RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "HTTP requests partitioned by method, route and status code.",
	}, labels)); err != nil {
		return nil, err
	}

	if m.Duration, err = telemetry.RegisterCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Latency of short-lived HTTP requests partitioned by method, route and status code.",
		Buckets:   buckets,
	}, labels)); err != nil {
		return nil, err
	}

	if m.InFlight, err = telemetry.RegisterCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_requests",
		Help:      "HTTP requests currently being served, streams included.",
	})); err != nil {
		return nil, err
	}

	if m.Streams, err = telemetry.RegisterCollector(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "open_streams",
		Help:      "Long-lived HTTP streams currently open partitioned by route.",
	}, []string{"route"})); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler returns a Gin middleware that records the HTTP metrics. A nil receiver yields a pass-through.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if _, skip := m.skipRoutes[route]; skip {
			c.Next()
			return
		}

		_, stream := m.streamRoutes[route]
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		if stream {
			gauge := m.Streams.WithLabelValues(route)
			gauge.Inc()
			defer gauge.Dec()
		}

		c.Next()

		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		m.Requests.With(labels).Inc()
		if !stream {
			m.Duration.With(labels).Observe(time.Since(start).Seconds())
		}
	}
}

func routeSet(routes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return set
}
