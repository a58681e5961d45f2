package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzErrorsTotal    *prometheus.CounterVec
	RoleCacheHitsTotal  prometheus.Counter
	RoleCacheMissTotal  prometheus.Counter

	// Assignment metrics
	AssignmentsTotal        *prometheus.CounterVec
	AssignmentConflictTotal *prometheus.CounterVec
	AssignmentDuration      *prometheus.HistogramVec

	// History ledger metrics
	HistoryRecordsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal        *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permitdesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_authz_decisions_total",
				Help: "Authorization decisions by resource, action and outcome",
			},
			[]string{"resource", "action", "outcome", "rule"},
		),
		AuthzErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_authz_errors_total",
				Help: "Authorization lookups that failed and were denied",
			},
			[]string{"stage"},
		),
		RoleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permitdesk_role_cache_hits_total",
				Help: "Role snapshot cache hits",
			},
		),
		RoleCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permitdesk_role_cache_misses_total",
				Help: "Role snapshot cache misses",
			},
		),

		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_assignments_total",
				Help: "Work item assignments by entity type and mode",
			},
			[]string{"entity", "mode", "result"},
		),
		AssignmentConflictTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_assignment_conflicts_total",
				Help: "Load balancer transactions retried after a conflict",
			},
			[]string{"entity"},
		),
		AssignmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permitdesk_assignment_duration_seconds",
				Help:    "Auto-assignment transaction duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"entity"},
		),

		HistoryRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_history_records_total",
				Help: "History ledger records appended",
			},
			[]string{"entity", "action"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_notifications_total",
				Help: "Notifications handed to a sink",
			},
			[]string{"type", "sink"},
		),
		NotificationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitdesk_notification_failures_total",
				Help: "Notifications a sink failed to deliver",
			},
			[]string{"type", "sink"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "permitdesk_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "permitdesk_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzErrorsTotal,
		m.RoleCacheHitsTotal,
		m.RoleCacheMissTotal,
		m.AssignmentsTotal,
		m.AssignmentConflictTotal,
		m.AssignmentDuration,
		m.HistoryRecordsTotal,
		m.NotificationsTotal,
		m.NotificationFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// NewTestMetrics returns metrics registered on a private registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
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
