package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	// Formula metrics
	FormulaSavesTotal     *prometheus.CounterVec
	FormulaRunsTotal      *prometheus.CounterVec
	FormulaRunDuration    *prometheus.HistogramVec
	FormulaNodesEvaluated prometheus.Histogram
	FormulaCyclesDetected prometheus.Counter
	FormulaSetsTotal      prometheus.Gauge
	FormulaCyclicSets     prometheus.Gauge

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightingbi_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightingbi_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightingbi_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightingbi_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		FormulaSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_formula_saves_total",
				Help: "Total number of formula set saves",
			},
			[]string{"status"},
		),
		FormulaRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_formula_runs_total",
				Help: "Total number of formula evaluations",
			},
			[]string{"status"},
		),
		FormulaRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightingbi_formula_run_duration_seconds",
				Help:    "Formula evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"status"},
		),
		FormulaNodesEvaluated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lightingbi_formula_nodes_evaluated",
				Help:    "Number of nodes evaluated per run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		FormulaCyclesDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lightingbi_formula_cycles_detected_total",
				Help: "Total number of cycles found in stored formula sets",
			},
		),
		FormulaSetsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_formula_sets_total",
				Help: "Number of stored formula sets",
			},
		),
		FormulaCyclicSets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_formula_cyclic_sets",
				Help: "Number of stored formula sets containing a cycle at the last audit",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"tier"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightingbi_cache_evictions_total",
				Help: "Total number of cache evictions",
			},
			[]string{"tier", "reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lightingbi_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.FormulaSavesTotal,
		m.FormulaRunsTotal,
		m.FormulaRunDuration,
		m.FormulaNodesEvaluated,
		m.FormulaCyclesDetected,
		m.FormulaSetsTotal,
		m.FormulaCyclicSets,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// The Record* helpers are safe to call on a nil *Metrics so callers can run
// without a registry.

// RecordRun records one formula evaluation.
func (m *Metrics) RecordRun(duration time.Duration, nodes int, err error) {
	if m == nil {
		return
	}
	status := statusLabel(err)
	m.FormulaRunsTotal.WithLabelValues(status).Inc()
	m.FormulaRunDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil {
		m.FormulaNodesEvaluated.Observe(float64(nodes))
	}
}

// RecordSave records one formula set save.
func (m *Metrics) RecordSave(err error) {
	if m == nil {
		return
	}
	m.FormulaSavesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordCycle increments the detected cycle counter.
func (m *Metrics) RecordCycle() {
	if m == nil {
		return
	}
	m.FormulaCyclesDetected.Inc()
}

// SetFormulaSets sets the stored formula set gauge.
func (m *Metrics) SetFormulaSets(n int) {
	if m == nil {
		return
	}
	m.FormulaSetsTotal.Set(float64(n))
}

// SetCyclicSets sets the cyclic formula set gauge.
func (m *Metrics) SetCyclicSets(n int) {
	if m == nil {
		return
	}
	m.FormulaCyclicSets.Set(float64(n))
}

// RecordStorageOp records a storage backend call.
func (m *Metrics) RecordStorageOp(operation, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, statusLabel(err)).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrorsTotal.WithLabelValues(operation, backend, errorType(err)).Inc()
	}
}

// RecordCacheHit records a hit on the given cache tier (l1, l2).
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a miss on the given cache tier.
func (m *Metrics) RecordCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordCacheEviction records an eviction from the given cache tier.
func (m *Metrics) RecordCacheEviction(tier, reason string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(tier, reason).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges.
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

func errorType(err error) string {
	return formula.ErrorKind(err)
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so ids do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
