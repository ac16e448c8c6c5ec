package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for rotor
type Metrics struct {
	// Selection counters
	SelectionsTotal        *prometheus.CounterVec
	SelectionMissesTotal   *prometheus.CounterVec
	StrategyFallbacksTotal *prometheus.CounterVec

	// Delivery result counters
	ResultsTotal  *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec

	// Probe counters/histograms
	ProbesTotal          *prometheus.CounterVec
	ProbeFailuresTotal   *prometheus.CounterVec
	ProbeDurationSeconds *prometheus.HistogramVec

	// Pacing
	DelaySeconds prometheus.Histogram

	// Pool gauges (set by the collector from the store)
	ServersTotal   *prometheus.GaugeVec
	ServersActive  *prometheus.GaugeVec
	ServersHealthy *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		// Selection counters
		SelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_selections_total",
				Help: "Total number of successful server selections",
			},
			[]string{"owner", "kind", "strategy"},
		),
		SelectionMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_selection_misses_total",
				Help: "Total number of selections with no server available",
			},
			[]string{"owner", "kind"},
		),
		StrategyFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_strategy_fallbacks_total",
				Help: "Total number of unknown-strategy fallbacks to round robin",
			},
			[]string{"owner"},
		),

		// Delivery result counters
		ResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_results_total",
				Help: "Total number of recorded delivery results",
			},
			[]string{"kind", "outcome"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_failures_total",
				Help: "Total number of recorded delivery failures by category",
			},
			[]string{"kind", "failure"},
		),

		// Probe counters/histograms
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_probes_total",
				Help: "Total number of health probes",
			},
			[]string{"kind", "outcome"},
		),
		ProbeFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_probe_failures_total",
				Help: "Total number of failed health probes by category",
			},
			[]string{"failure"},
		),
		ProbeDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotor_probe_duration_seconds",
				Help:    "Health probe phase duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"kind", "phase"},
		),

		// Pacing
		DelaySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rotor_delay_seconds",
				Help:    "Applied inter-message delay in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		// Pool gauges
		ServersTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotor_servers",
				Help: "Number of configured servers",
			},
			[]string{"owner", "kind"},
		),
		ServersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotor_servers_active",
				Help: "Number of active servers",
			},
			[]string{"owner", "kind"},
		),
		ServersHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotor_servers_healthy",
				Help: "Number of active and healthy servers",
			},
			[]string{"owner", "kind"},
		),

		// API metrics
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotor_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// System metrics
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotor_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotor_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotor_storage_used_bytes",
				Help: "State database file size in bytes",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.SelectionsTotal,
		m.SelectionMissesTotal,
		m.StrategyFallbacksTotal,
		m.ResultsTotal,
		m.FailuresTotal,
		m.ProbesTotal,
		m.ProbeFailuresTotal,
		m.ProbeDurationSeconds,
		m.DelaySeconds,
		m.ServersTotal,
		m.ServersActive,
		m.ServersHealthy,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncSelections increments the selection counter
func IncSelections(owner, kind, strategy string) {
	m := Global()
	if m != nil {
		m.SelectionsTotal.WithLabelValues(owner, kind, strategy).Inc()
	}
}

// IncSelectionMisses increments the no-server-available counter
func IncSelectionMisses(owner, kind string) {
	m := Global()
	if m != nil {
		m.SelectionMissesTotal.WithLabelValues(owner, kind).Inc()
	}
}

// IncStrategyFallbacks increments the unknown-strategy fallback counter
func IncStrategyFallbacks(owner string) {
	m := Global()
	if m != nil {
		m.StrategyFallbacksTotal.WithLabelValues(owner).Inc()
	}
}

// IncResults increments the delivery result counter
func IncResults(kind, outcome string) {
	m := Global()
	if m != nil {
		m.ResultsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// IncFailuresByKind increments the categorized delivery failure counter
func IncFailuresByKind(kind, failure string) {
	m := Global()
	if m != nil {
		m.FailuresTotal.WithLabelValues(kind, failure).Inc()
	}
}

// IncProbes increments the probe counter
func IncProbes(kind, outcome string) {
	m := Global()
	if m != nil {
		m.ProbesTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// IncProbeFailures increments the categorized probe failure counter
func IncProbeFailures(failure string) {
	m := Global()
	if m != nil {
		m.ProbeFailuresTotal.WithLabelValues(failure).Inc()
	}
}

// ObserveProbeDuration records one probe phase duration
func ObserveProbeDuration(kind, phase string, seconds float64) {
	m := Global()
	if m != nil {
		m.ProbeDurationSeconds.WithLabelValues(kind, phase).Observe(seconds)
	}
}

// ObserveDelay records one applied delivery delay
func ObserveDelay(seconds float64) {
	m := Global()
	if m != nil {
		m.DelaySeconds.Observe(seconds)
	}
}

// ObserveAPIRequest records one handled API request
func ObserveAPIRequest(method, path, status string, seconds float64) {
	m := Global()
	if m != nil {
		m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(seconds)
	}
}
