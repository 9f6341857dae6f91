// Package telemetry exposes the Prometheus metrics surface for the nightly
// pipeline, the capability runtime, provider clients, and delivery queues.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds all Prometheus metrics for meridian. Collectors are
// registered on a private registry so multiple instances (tests, the nightly
// binary and the server in one process) never collide.
type MetricsRegistry struct {
	prom *prometheus.Registry

	// Nightly pipeline
	StepDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec

	// Capability runtime
	CapabilityDuration *prometheus.HistogramVec
	CapabilityCalls    *prometheus.CounterVec
	CapabilityRetries  *prometheus.CounterVec

	// Request-scoped and factor caches
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Provider clients
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	// Freshness gate
	GateOpen    prometheus.Gauge
	GateDenials *prometheus.CounterVec

	// Alerts and delivery
	AlertsFired       *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	DLQDepth          prometheus.Gauge
	DLQReplays        *prometheus.CounterVec
}

// NewMetricsRegistry creates a metrics registry with all meridian metrics
// registered.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prom: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_nightly_step_duration_seconds",
				Help:    "Duration of each nightly pipeline step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"step", "result"},
		),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_nightly_runs_total",
				Help: "Total nightly runs by terminal status",
			},
			[]string{"status"},
		),

		CapabilityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_capability_duration_seconds",
				Help:    "Capability invocation latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"agent", "capability"},
		),

		CapabilityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_capability_calls_total",
				Help: "Total capability invocations by provenance origin",
			},
			[]string{"agent", "capability", "origin"},
		),

		CapabilityRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_capability_retries_total",
				Help: "Total capability retry attempts",
			},
			[]string{"agent", "capability"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_provider_requests_total",
				Help: "Total provider requests by outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_provider_latency_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meridian_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		GateOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_freshness_gate_open",
				Help: "Whether the freshness gate currently admits reads (1=open)",
			},
		),

		GateDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_freshness_gate_denials_total",
				Help: "Total reads denied by the freshness gate, by policy",
			},
			[]string{"policy"},
		),

		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_alerts_fired_total",
				Help: "Total alert firings by condition type",
			},
			[]string{"condition_type"},
		),

		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_notifications_sent_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),

		DLQDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_dlq_depth",
				Help: "Notifications currently waiting in the dead letter queue",
			},
		),

		DLQReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_dlq_replays_total",
				Help: "Total dead letter replay attempts by result",
			},
			[]string{"result"},
		),
	}

	registry.prom.MustRegister(
		registry.StepDuration,
		registry.RunsTotal,
		registry.CapabilityDuration,
		registry.CapabilityCalls,
		registry.CapabilityRetries,
		registry.CacheHits,
		registry.CacheMisses,
		registry.ProviderRequests,
		registry.ProviderLatency,
		registry.BreakerState,
		registry.GateOpen,
		registry.GateDenials,
		registry.AlertsFired,
		registry.NotificationsSent,
		registry.DLQDepth,
		registry.DLQReplays,
	)

	return registry
}

// Handler returns the HTTP handler serving this registry's metrics.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.prom, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for one nightly pipeline step.
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step.
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the observation.
// Result is "ok", "failed", or "skipped".
func (st *StepTimer) Stop(result string) time.Duration {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	return duration
}

// RecordRun records a nightly run reaching a terminal status.
func (m *MetricsRegistry) RecordRun(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordCapability records one capability invocation.
func (m *MetricsRegistry) RecordCapability(agent, capability, origin string, duration time.Duration) {
	m.CapabilityCalls.WithLabelValues(agent, capability, origin).Inc()
	m.CapabilityDuration.WithLabelValues(agent, capability).Observe(duration.Seconds())
}

// RecordCapabilityRetry records one retry attempt for a capability.
func (m *MetricsRegistry) RecordCapabilityRetry(agent, capability string) {
	m.CapabilityRetries.WithLabelValues(agent, capability).Inc()
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordProviderRequest records one upstream provider request.
// Outcome is "ok", "error", "rate_limited", or "breaker_open".
func (m *MetricsRegistry) RecordProviderRequest(provider, outcome string, duration time.Duration) {
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetBreakerState publishes a provider's breaker state.
func (m *MetricsRegistry) SetBreakerState(provider string, state float64) {
	m.BreakerState.WithLabelValues(provider).Set(state)
}

// SetGateOpen publishes whether the freshness gate admits reads.
func (m *MetricsRegistry) SetGateOpen(open bool) {
	if open {
		m.GateOpen.Set(1)
	} else {
		m.GateOpen.Set(0)
	}
}

// RecordGateDenial records a read denied by the freshness gate.
func (m *MetricsRegistry) RecordGateDenial(policy string) {
	m.GateDenials.WithLabelValues(policy).Inc()
}

// RecordAlertFired records one alert firing.
func (m *MetricsRegistry) RecordAlertFired(conditionType string) {
	m.AlertsFired.WithLabelValues(conditionType).Inc()
}

// RecordNotification records one notification delivery attempt.
func (m *MetricsRegistry) RecordNotification(channel, result string) {
	m.NotificationsSent.WithLabelValues(channel, result).Inc()
}

// SetDLQDepth publishes the current dead letter queue depth.
func (m *MetricsRegistry) SetDLQDepth(depth int) {
	m.DLQDepth.Set(float64(depth))
}

// RecordDLQReplay records one dead letter replay attempt.
func (m *MetricsRegistry) RecordDLQReplay(result string) {
	m.DLQReplays.WithLabelValues(result).Inc()
}
