package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup results recorded for get and has.
const (
	ResultHit          = "hit"
	ResultAbsent       = "absent"
	ResultExpired      = "expired"
	ResultInvalid      = "invalid"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// PrometheusMetrics wraps prometheus collectors for cache operations.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	lookupsTotal       *prometheus.CounterVec
	writesTotal        *prometheus.CounterVec
	deletesTotal       *prometheus.CounterVec
	purgesTotal        *prometheus.CounterVec
	storageErrorsTotal *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// Default histogram buckets for operation duration (in milliseconds).
// Object stores answer in tens of milliseconds, so the range is wide.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// NewPrometheus creates cache collectors registered on a fresh registry.
func NewPrometheus(namespace string, buckets []float64) *PrometheusMetrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Cache lookups by operation and result",
			},
			[]string{"operation", "result"}, // get|has, hit|absent|expired|invalid|unauthorized|error
		),

		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Cache writes by operation and status",
			},
			[]string{"operation", "status"}, // set|add, stored|skipped|failed
		),

		deletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deletes_total",
				Help:      "Delete and clear calls by operation and status",
			},
			[]string{"operation", "status"},
		),

		purgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purges_total",
				Help:      "Objects deleted as a side effect of a read",
			},
			[]string{"reason"}, // expired|invalid
		),

		storageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Storage failures absorbed by the cache",
			},
			[]string{"operation", "kind"},
		),

		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_milliseconds",
				Help:      "Duration of cache operations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		pm.lookupsTotal,
		pm.writesTotal,
		pm.deletesTotal,
		pm.purgesTotal,
		pm.storageErrorsTotal,
		pm.operationDuration,
	)

	return pm
}

// RecordLookup counts a get or has outcome.
func (pm *PrometheusMetrics) RecordLookup(operation, result string) {
	if pm == nil {
		return
	}
	pm.lookupsTotal.WithLabelValues(operation, result).Inc()
}

// RecordWrite counts a set or add outcome.
func (pm *PrometheusMetrics) RecordWrite(operation, status string) {
	if pm == nil {
		return
	}
	pm.writesTotal.WithLabelValues(operation, status).Inc()
}

// RecordDelete counts a delete, delete_many or clear outcome.
func (pm *PrometheusMetrics) RecordDelete(operation string, ok bool) {
	if pm == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	pm.deletesTotal.WithLabelValues(operation, status).Inc()
}

// RecordPurge counts an object removed by a read.
func (pm *PrometheusMetrics) RecordPurge(reason string) {
	if pm == nil {
		return
	}
	pm.purgesTotal.WithLabelValues(reason).Inc()
}

// RecordStorageError counts a storage failure that was turned into a miss
// or a false result.
func (pm *PrometheusMetrics) RecordStorageError(operation, kind string) {
	if pm == nil {
		return
	}
	pm.storageErrorsTotal.WithLabelValues(operation, kind).Inc()
}

// ObserveDuration records how long an operation took.
func (pm *PrometheusMetrics) ObserveDuration(operation string, d time.Duration) {
	if pm == nil {
		return
	}
	pm.operationDuration.WithLabelValues(operation).Observe(float64(d.Microseconds()) / 1000)
}

// Registry returns the registry holding the cache collectors.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler exposing the registry for scraping.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
