// Package metrics provides Prometheus instrumentation for the gatehouse engine.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valinor-ai/gatehouse/internal/access"
)

// Gate names used as the "gate" label.
const (
	GateRole        = "role"
	GateScope       = "scope"
	GateEntitlement = "entitlement"
	GateUsage       = "usage"
)

// Decision outcomes used as the "outcome" label.
const (
	OutcomeAllowed      = "allowed"
	OutcomeBypass       = "bypass"
	OutcomeForbidden    = "forbidden"
	OutcomeNotFound     = "not_found"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

var (
	// GateDecisionsTotal counts gate outcomes by gate and outcome (allowed, bypass, forbidden, not_found, error).
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "gate_decisions_total",
			Help:      "Authorization gate decisions by gate and outcome.",
		},
		[]string{"gate", "outcome"},
	)

	// UsageIncrementsTotal counts committed usage increments by feature.
	UsageIncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "usage_increments_total",
			Help:      "Usage counter increments committed, by feature code.",
		},
		[]string{"feature"},
	)

	// UsageIncrementFailuresTotal counts swallowed increment failures.
	UsageIncrementFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Name:      "usage_increment_failures_total",
		Help:      "Usage increments that failed and were discarded.",
	})

	// SideEffectsDroppedTotal counts non-critical work dropped because a queue was full.
	SideEffectsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "sideeffects_dropped_total",
			Help:      "Non-critical side effects dropped, by queue.",
		},
		[]string{"queue"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatehouse",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		GateDecisionsTotal,
		UsageIncrementsTotal,
		UsageIncrementFailuresTotal,
		SideEffectsDroppedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveDecision records one gate outcome.
func ObserveDecision(gate, outcome string) {
	GateDecisionsTotal.WithLabelValues(gate, outcome).Inc()
}

// ObserveError records a failed gate decision under the outcome matching err.
func ObserveError(gate string, err error) {
	ObserveDecision(gate, outcomeFor(err))
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, access.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, access.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, access.ErrUnauthorized):
		return OutcomeUnauthorized
	default:
		return OutcomeError
	}
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency keyed by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// Pattern avoids cardinality explosion from path parameters.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(sw.status)).Inc()
	})
}

// statusBucket groups HTTP status codes into classes.
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
