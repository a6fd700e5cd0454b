package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/usecase"
)

const defaultNamespace = "portal"

// SyncMetricsOptions configures the synchronization collectors.
type SyncMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// SyncMetrics records the behaviour of caches, broadcasters, presence trackers and rate limits.
type SyncMetrics struct {
	Triggers            *prometheus.CounterVec
	Cycles              *prometheus.CounterVec
	CycleDuration       *prometheus.HistogramVec
	ListenerResults     *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	PresenceTransitions *prometheus.CounterVec
	RateLimitDecisions  *prometheus.CounterVec
	ChangeEvents        *prometheus.CounterVec
	PublishFailures     *prometheus.CounterVec
}

// NewSyncMetrics constructs and registers the collectors. Collectors already registered
// under the same name are reused.
func NewSyncMetrics(opts SyncMetricsOptions) (*SyncMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	}

	m := &SyncMetrics{}
	var err error

	if m.Triggers, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "triggers_total",
		Help:      "Refresh triggers partitioned by channel and outcome.",
	}, []string{"channel", "outcome"})); err != nil {
		return nil, err
	}

	if m.Cycles, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "cycles_total",
		Help:      "Completed refresh fan-outs partitioned by channel.",
	}, []string{"channel"})); err != nil {
		return nil, err
	}

	if m.CycleDuration, err = RegisterCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of refresh fan-outs partitioned by channel.",
		Buckets:   buckets,
	}, []string{"channel"})); err != nil {
		return nil, err
	}

	if m.ListenerResults, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "listener_results_total",
		Help:      "Listener refresh results partitioned by channel and result.",
	}, []string{"channel", "result"})); err != nil {
		return nil, err
	}

	if m.CacheLookups, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Single-flight cache lookups partitioned by cache and result.",
	}, []string{"cache", "result"})); err != nil {
		return nil, err
	}

	if m.PresenceTransitions, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "transitions_total",
		Help:      "Session presence transitions partitioned by target status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}

	if m.RateLimitDecisions, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions partitioned by route and decision.",
	}, []string{"route", "decision"})); err != nil {
		return nil, err
	}

	if m.ChangeEvents, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "received_total",
		Help:      "Change events received partitioned by source and event type.",
	}, []string{"source", "event_type"})); err != nil {
		return nil, err
	}

	if m.PublishFailures, err = RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Events the broker rejected after retries partitioned by topic.",
	}, []string{"topic"})); err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveTrigger implements usecase.BroadcastObserver.
func (m *SyncMetrics) ObserveTrigger(channel string, outcome usecase.TriggerOutcome) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(channel, string(outcome)).Inc()
}

// ObserveCycle implements usecase.BroadcastObserver.
func (m *SyncMetrics) ObserveCycle(report usecase.CycleReport) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(report.Channel).Inc()
	m.CycleDuration.WithLabelValues(report.Channel).Observe(report.Duration.Seconds())

	failed := report.Failures()
	if ok := len(report.Results) - failed; ok > 0 {
		m.ListenerResults.WithLabelValues(report.Channel, "success").Add(float64(ok))
	}
	if failed > 0 {
		m.ListenerResults.WithLabelValues(report.Channel, "failure").Add(float64(failed))
	}
}

// ObserveCacheLookup implements usecase.CacheObserver.
func (m *SyncMetrics) ObserveCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObservePresenceTransition implements usecase.PresenceObserver.
func (m *SyncMetrics) ObservePresenceTransition(status domain.PresenceStatus) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(string(status)).Inc()
}

// ObserveRateLimit records one limiter decision for route.
func (m *SyncMetrics) ObserveRateLimit(route string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.RateLimitDecisions.WithLabelValues(route, decision).Inc()
}

// ObserveChangeEvent records a change notification from source ("kafka" or "webhook").
func (m *SyncMetrics) ObserveChangeEvent(source, eventType string) {
	if m == nil {
		return
	}
	m.ChangeEvents.WithLabelValues(source, eventType).Inc()
}

// ObservePublishFailure records an event the broker rejected.
func (m *SyncMetrics) ObservePublishFailure(topic string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(topic).Inc()
}

// RegisterCollector registers collector with reg, returning the collector already
// registered under the same descriptor when there is one.
func RegisterCollector[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return collector, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

var (
	_ usecase.BroadcastObserver = (*SyncMetrics)(nil)
	_ usecase.CacheObserver     = (*SyncMetrics)(nil)
	_ usecase.PresenceObserver  = (*SyncMetrics)(nil)
)
