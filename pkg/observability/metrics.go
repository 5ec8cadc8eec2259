package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restoreassist"

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// OAuth lifecycle
	OAuthFlowsTotal       *prometheus.CounterVec
	TokenRefreshesTotal   *prometheus.CounterVec
	TokenRevocationsTotal *prometheus.CounterVec

	// File operations
	FileOperationsTotal   *prometheus.CounterVec
	FileOperationDuration *prometheus.HistogramVec
	FileBytesTotal        *prometheus.CounterVec

	// Caches
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Access control
	PermissionChecksTotal  *prometheus.CounterVec
	APIKeyValidationsTotal *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter

	// Housekeeping
	CleanupRemovedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OAuthFlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_flows_total",
				Help:      "OAuth authorization flow steps by stage and result code",
			},
			[]string{"provider", "stage", "result"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_token_refreshes_total",
				Help:      "Access token refresh attempts",
			},
			[]string{"provider", "trigger", "result"},
		),
		TokenRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_token_revocations_total",
				Help:      "Integration revocations, labelled by upstream revoke outcome",
			},
			[]string{"provider", "upstream"},
		),
		FileOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_operations_total",
				Help:      "Remote file operations",
			},
			[]string{"operation", "result"},
		),
		FileOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_operation_duration_seconds",
				Help:      "Remote file operation duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		FileBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_bytes_total",
				Help:      "Bytes transferred to and from remote storage",
			},
			[]string{"direction"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rbac_permission_checks_total",
				Help:      "RBAC permission checks by outcome",
			},
			[]string{"result"},
		),
		APIKeyValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_key_validations_total",
				Help:      "API key validations by outcome",
			},
			[]string{"result"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
		CleanupRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_removed_total",
				Help:      "Rows or objects removed by housekeeping jobs",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OAuthFlowsTotal,
		m.TokenRefreshesTotal,
		m.TokenRevocationsTotal,
		m.FileOperationsTotal,
		m.FileOperationDuration,
		m.FileBytesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.PermissionChecksTotal,
		m.APIKeyValidationsTotal,
		m.RateLimitedTotal,
		m.CleanupRemovedTotal,
	)

	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (m *Metrics) RecordOAuthFlow(provider, stage, result string) {
	if m == nil {
		return
	}
	m.OAuthFlowsTotal.WithLabelValues(provider, stage, result).Inc()
}

func (m *Metrics) RecordTokenRefresh(provider, trigger, result string) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(provider, trigger, result).Inc()
}

func (m *Metrics) RecordRevocation(provider, upstream string) {
	if m == nil {
		return
	}
	m.TokenRevocationsTotal.WithLabelValues(provider, upstream).Inc()
}

// RecordFileOperation records one remote file operation
func (m *Metrics) RecordFileOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FileOperationsTotal.WithLabelValues(operation, result).Inc()
	m.FileOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordFileBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.FileBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordCache records a hit or miss for the named cache
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordPermissionCheck(allowed bool) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordAPIKeyValidation(result string) {
	if m == nil {
		return
	}
	m.APIKeyValidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) RecordCleanup(job string, removed int64) {
	if m == nil || removed <= 0 {
		return
	}
	m.CleanupRemovedTotal.WithLabelValues(job).Add(float64(removed))
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling by mux route template
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, registry *prometheus.Registry) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
