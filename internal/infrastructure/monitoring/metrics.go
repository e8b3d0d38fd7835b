package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Application metrics
	AppsCreated     prometheus.Counter
	AppsDestroyed   prometheus.Counter
	AppsMounted     prometheus.Gauge
	Transitions     *prometheus.CounterVec
	OperationTiming *prometheus.HistogramVec

	// Sandbox metrics
	ScriptErrors *prometheus.CounterVec

	// Asset metrics
	AssetRequests *prometheus.CounterVec
	AssetFetches  *prometheus.CounterVec
	PrefetchJobs  *prometheus.CounterVec

	// Bus metrics
	BusPublished *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
}

// NewMetrics creates a metrics collector backed by its own registry so
// several orchestrators (and tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_http_requests_total",
				Help: "Total number of host API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "microhost_http_request_duration_seconds",
				Help:    "Host API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		AppsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microhost_apps_created_total",
				Help: "Total number of application instances created",
			},
		),
		AppsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microhost_apps_destroyed_total",
				Help: "Total number of application instances destroyed",
			},
		),
		AppsMounted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "microhost_apps_mounted",
				Help: "Number of currently mounted applications",
			},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_lifecycle_transitions_total",
				Help: "Lifecycle state transitions",
			},
			[]string{"from", "to"},
		),
		OperationTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "microhost_lifecycle_operation_seconds",
				Help:    "Duration of lifecycle operations",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"operation", "status"},
		),

		ScriptErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_sandbox_script_errors_total",
				Help: "Script errors caught at the sandbox boundary",
			},
			[]string{"app"},
		),

		AssetRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_asset_requests_total",
				Help: "Asset cache lookups by result",
			},
			[]string{"result"},
		),
		AssetFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_asset_fetches_total",
				Help: "Underlying asset fetches by status",
			},
			[]string{"status"},
		),
		PrefetchJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_prefetch_jobs_total",
				Help: "Idle prefetch jobs by status",
			},
			[]string{"status"},
		),

		BusPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microhost_bus_published_total",
				Help: "Events published on the communication bus",
			},
			[]string{"channel"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "microhost_ws_connections",
				Help: "Open bus websocket connections",
			},
		),
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a host API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransition records a lifecycle state change
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordOperation records the duration of a lifecycle operation
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationTiming.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// IncAppsCreated counts a new application instance
func (m *Metrics) IncAppsCreated() {
	if m == nil {
		return
	}
	m.AppsCreated.Inc()
}

// IncAppsDestroyed counts a destroyed application instance
func (m *Metrics) IncAppsDestroyed() {
	if m == nil {
		return
	}
	m.AppsDestroyed.Inc()
}

// SetAppsMounted updates the mounted gauge
func (m *Metrics) SetAppsMounted(count int) {
	if m == nil {
		return
	}
	m.AppsMounted.Set(float64(count))
}

// RecordScriptError counts a sandbox script error
func (m *Metrics) RecordScriptError(app string) {
	if m == nil {
		return
	}
	m.ScriptErrors.WithLabelValues(app).Inc()
}

// RecordAssetRequest counts a cache lookup ("hit", "miss", "shared")
func (m *Metrics) RecordAssetRequest(result string) {
	if m == nil {
		return
	}
	m.AssetRequests.WithLabelValues(result).Inc()
}

// RecordAssetFetch counts an underlying fetch ("done", "error")
func (m *Metrics) RecordAssetFetch(status string) {
	if m == nil {
		return
	}
	m.AssetFetches.WithLabelValues(status).Inc()
}

// RecordPrefetchJob counts a prefetch job outcome
func (m *Metrics) RecordPrefetchJob(status string) {
	if m == nil {
		return
	}
	m.PrefetchJobs.WithLabelValues(status).Inc()
}

// RecordPublish counts a bus publication
func (m *Metrics) RecordPublish(channel string) {
	if m == nil {
		return
	}
	m.BusPublished.WithLabelValues(channel).Inc()
}

// IncWSConnections increments open websocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements open websocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
