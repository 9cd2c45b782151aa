package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzChecksTotal        *prometheus.CounterVec
	RuleComputationsTotal   prometheus.Counter
	RuleComputationDuration prometheus.Histogram

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowdeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeck_authz_checks_total",
				Help: "Total number of permission checks by decision",
			},
			[]string{"action", "subject", "decision"},
		),
		RuleComputationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowdeck_rule_computations_total",
				Help: "Total number of rule set computations (cache misses)",
			},
		),
		RuleComputationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowdeck_rule_computation_duration_seconds",
				Help:    "Rule set computation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeck_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "collection"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeck_storage_errors_total",
				Help: "Total number of storage operation errors",
			},
			[]string{"operation", "collection"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzChecksTotal,
		m.RuleComputationsTotal,
		m.RuleComputationDuration,
		m.StorageOperationsTotal,
		m.StorageErrorsTotal,
	)
	return m
}

// Registry exposes the backing registry so other packages can register
// their own collectors (the rule cache does).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAuthzCheck records the outcome of one permission check.
func (m *Metrics) RecordAuthzCheck(action, subject string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzChecksTotal.WithLabelValues(action, subject, decision).Inc()
}

// InstrumentHandler wraps an HTTP handler with request count and duration
// metrics. The path label uses the route template, not the raw URL, to keep
// cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
