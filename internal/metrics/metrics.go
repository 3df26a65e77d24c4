// Package metrics provides Prometheus metrics for the SCIM server
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the SCIM server
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	ResourcesTotal         *prometheus.GaugeVec

	// Protocol metrics
	FilterQueriesTotal       prometheus.Counter
	PatchOperationsTotal     prometheus.Counter
	UniquenessConflictsTotal prometheus.Counter
	VersionConflictsTotal    prometheus.Counter
	AuthFailuresTotal        prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates metrics registered against the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all Prometheus metrics
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scimstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scimstore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "scimstore_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Store metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scimstore_store_operations_total",
			Help: "Total number of resource store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scimstore_store_operation_duration_seconds",
			Help:    "Duration of resource store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.ResourcesTotal = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scimstore_resources_total",
			Help: "Current number of stored resources",
		},
		[]string{"resource_type"},
	)

	// Protocol metrics
	m.FilterQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scimstore_filter_queries_total",
			Help: "Total number of filtered queries",
		},
	)

	m.PatchOperationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scimstore_patch_operations_total",
			Help: "Total number of applied patch operations",
		},
	)

	m.UniquenessConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scimstore_uniqueness_conflicts_total",
			Help: "Total number of rejected duplicate unique values",
		},
	)

	m.VersionConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scimstore_version_conflicts_total",
			Help: "Total number of conditional requests rejected on version mismatch",
		},
	)

	m.AuthFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scimstore_auth_failures_total",
			Help: "Total number of rejected bearer tokens",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "scimstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a resource store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateResourceCounts updates the per-type resource gauges
func (m *Metrics) UpdateResourceCounts(counts map[string]int) {
	for typeName, n := range counts {
		m.ResourcesTotal.WithLabelValues(typeName).Set(float64(n))
	}
}
