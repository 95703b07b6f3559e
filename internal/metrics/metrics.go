// Package metrics provides Prometheus metrics for the workspace server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wunder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Tree cache metrics
	treeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_tree_cache_lookups_total",
			Help: "Tree cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, rebuild
	)

	treeCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_tree_cache_evictions_total",
			Help: "Tree cache evictions by reason",
		},
		[]string{"reason"}, // idle, capacity, purge
	)

	treeRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wunder_tree_rebuild_duration_seconds",
			Help:    "Time to walk and render a workspace tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search index metrics
	searchIndexLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_search_index_lookups_total",
			Help: "Search index lookups by outcome",
		},
		[]string{"outcome"}, // hit, rebuild, fallback
	)

	// Background write queue metrics
	writeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wunder_write_queue_depth",
			Help: "Current number of queued activity records",
		},
	)

	writeQueueFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wunder_write_queue_fallbacks_total",
			Help: "Activity records written synchronously because the queue was saturated",
		},
	)

	writeQueueErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wunder_write_queue_errors_total",
			Help: "Activity record writes that failed",
		},
	)

	// Maintenance metrics
	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_scheduler_runs_total",
			Help: "Background maintenance runs by job and result",
		},
		[]string{"job", "result"},
	)

	// Archive metrics
	archiveBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wunder_archive_bytes_total",
			Help: "Total bytes of zip archives served",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wunder_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wunder_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTreeCacheLookup records a tree cache lookup outcome ("hit" or "rebuild").
func RecordTreeCacheLookup(outcome string) {
	treeCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordTreeCacheEviction records a tree cache eviction ("idle", "capacity", "purge").
func RecordTreeCacheEviction(reason string) {
	treeCacheEvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordTreeRebuild records a tree walk/render duration.
func RecordTreeRebuild(duration time.Duration) {
	treeRebuildDuration.Observe(duration.Seconds())
}

// RecordSearchIndexLookup records a search lookup outcome ("hit", "rebuild", "fallback").
func RecordSearchIndexLookup(outcome string) {
	searchIndexLookupsTotal.WithLabelValues(outcome).Inc()
}

// SetWriteQueueDepth sets the current write queue depth.
func SetWriteQueueDepth(depth int) {
	writeQueueDepth.Set(float64(depth))
}

// RecordWriteQueueFallback records a synchronous fallback write.
func RecordWriteQueueFallback() {
	writeQueueFallbacksTotal.Inc()
}

// RecordWriteQueueError records a failed activity record write.
func RecordWriteQueueError() {
	writeQueueErrorsTotal.Inc()
}

// RecordSchedulerRun records a maintenance run result.
func RecordSchedulerRun(job string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	schedulerRunsTotal.WithLabelValues(job, result).Inc()
}

// RecordArchiveBytes records bytes of a served zip archive.
func RecordArchiveBytes(bytes int64) {
	archiveBytesTotal.Add(float64(bytes))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
