package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "warden"

// decisionBuckets are tuned for cache hits in the tens of microseconds and
// cold store reads in the tens of milliseconds.
var decisionBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1}

// Metrics is the set of warden collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	DecisionErrors   *prometheus.CounterVec

	AuthAttemptsTotal *prometheus.CounterVec

	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	APIKeysPurgedTotal prometheus.Counter
}

// NewMetrics registers every collector on registry. Connection pool
// statistics are exported separately by collectors.NewDBStatsCollector.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	f := promauto.With(registry)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Metrics{
		HTTPRequestsTotal: counter("http", "requests_total", "HTTP requests by route template and status", "method", "path", "status"),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		DecisionsTotal: counter("", "decisions_total", "Authorization decisions by result and deciding source", "result", "source"),
		DecisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "decision_duration_seconds",
			Help:    "Authorization decision latency",
			Buckets: decisionBuckets,
		}, []string{"scope"}),
		DecisionErrors: counter("", "decision_errors_total", "Authorization decisions that failed on a backend error", "scope"),

		AuthAttemptsTotal: counter("auth", "attempts_total", "Authentication strategy outcomes", "strategy", "outcome"),

		CacheHitsTotal:     counter("cache", "hits_total", "Cache hits per tier", "tier"),
		CacheMissesTotal:   counter("cache", "misses_total", "Cache misses per tier", "tier"),
		CacheErrorsTotal:   counter("cache", "errors_total", "Shared cache failures that were tolerated", "tier", "operation"),
		CacheInvalidations: counter("cache", "invalidations_total", "Invalidations issued after administrative writes", "namespace"),

		APIKeysPurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "apikeys", Name: "purged_total",
			Help: "Expired or revoked API keys removed by the purge job",
		}),
	}
}

func (m *Metrics) RecordDecision(scope string, allowed bool, source string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.DecisionsTotal.WithLabelValues(result, source).Inc()
	m.DecisionDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

func (m *Metrics) RecordDecisionError(scope string) {
	if m != nil {
		m.DecisionErrors.WithLabelValues(scope).Inc()
	}
}

// RecordAuthAttempt takes one of "success", "decline", "error" or "timeout".
func (m *Metrics) RecordAuthAttempt(strategy, outcome string) {
	if m != nil {
		m.AuthAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	}
}

func (m *Metrics) RecordCacheLookup(tier string, hit bool) {
	switch {
	case m == nil:
	case hit:
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
	default:
		m.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) RecordCacheError(tier, operation string) {
	if m != nil {
		m.CacheErrorsTotal.WithLabelValues(tier, operation).Inc()
	}
}

func (m *Metrics) RecordInvalidation(namespace string) {
	if m != nil {
		m.CacheInvalidations.WithLabelValues(namespace).Inc()
	}
}

func (m *Metrics) RecordAPIKeysPurged(n int64) {
	if m != nil && n > 0 {
		m.APIKeysPurgedTotal.Add(float64(n))
	}
}

type statusCapture struct {
	http.ResponseWriter
	code int
}

func (c *statusCapture) WriteHeader(code int) {
	c.code = code
	c.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware counts and times requests. Paths are labelled with
// the matched mux route template so ids do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			capture := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(capture, r)

			path := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(capture.code)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// MetricsHandler serves registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
