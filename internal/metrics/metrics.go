package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for messengerq
type Metrics struct {
	// Send counters
	SendsTotal          *prometheus.CounterVec
	SendDurationSeconds prometheus.Histogram
	RecoveredTotal      prometheus.Counter

	// Import counters
	ImportedTotal *prometheus.CounterVec

	// Recipient gauges
	RecipientsByStatus *prometheus.GaugeVec

	// Quota gauges
	QuotaRemaining prometheus.Gauge
	QuotaLimit     prometheus.Gauge

	// Engine state, one-hot across the known states
	EngineState *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

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
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messengerq_sends_total",
				Help: "Total number of resolved send attempts",
			},
			[]string{"status", "code"},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "messengerq_send_duration_seconds",
				Help:    "Wall-clock duration of one send attempt",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		RecoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messengerq_recovered_total",
				Help: "Total number of stale in-progress recipients recovered",
			},
		),

		ImportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messengerq_imported_total",
				Help: "Total number of imported recipient lines by outcome",
			},
			[]string{"result"},
		),

		RecipientsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "messengerq_recipients",
				Help: "Number of recipients in each status for the active profile",
			},
			[]string{"status"},
		),

		QuotaRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messengerq_quota_remaining",
				Help: "Remaining daily send quota for the active profile",
			},
		),
		QuotaLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messengerq_quota_limit",
				Help: "Configured daily send limit for the active profile",
			},
		),

		EngineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "messengerq_engine_state",
				Help: "Engine state as one-hot series (1 for the active state)",
			},
			[]string{"state"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messengerq_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "messengerq_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messengerq_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messengerq_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messengerq_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messengerq_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.SendsTotal,
		m.SendDurationSeconds,
		m.RecoveredTotal,
		m.ImportedTotal,
		m.RecipientsByStatus,
		m.QuotaRemaining,
		m.QuotaLimit,
		m.EngineState,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
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

// IncSendResult increments the send counter for a resolved attempt
func IncSendResult(status, code string) {
	m := Global()
	if m != nil {
		m.SendsTotal.WithLabelValues(status, code).Inc()
	}
}

// ObserveSendDuration records how long a send attempt took
func ObserveSendDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.SendDurationSeconds.Observe(seconds)
	}
}

// AddRecovered counts recipients rescued by stale recovery
func AddRecovered(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.RecoveredTotal.Add(float64(n))
	}
}

// AddImported counts import outcomes (added, duplicate, invalid)
func AddImported(result string, n int) {
	m := Global()
	if m != nil && n > 0 {
		m.ImportedTotal.WithLabelValues(result).Add(float64(n))
	}
}

// SetEngineState marks the active engine state. all lists every known
// state so stale series drop back to zero.
func SetEngineState(active string, all []string) {
	m := Global()
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.EngineState.WithLabelValues(s).Set(v)
	}
}

// IncAPIErrors increments the API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
