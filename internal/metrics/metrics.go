// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gateway-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hera",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hera",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	identityResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "identity",
			Name:      "resolutions_total",
			Help:      "Total number of actor identity resolutions.",
		},
		[]string{"cache"},
	)

	identityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hera",
			Subsystem: "identity",
			Name:      "resolution_duration_seconds",
			Help:      "Duration of actor identity resolutions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"cache"},
	)

	guardrailViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "guardrail",
			Name:      "violations_total",
			Help:      "Total number of guardrail violations by reason.",
		},
		[]string{"reason"},
	)

	ratelimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rate-limited requests.",
		},
		[]string{"endpoint"},
	)

	ratelimitStoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Rate limiter store failures that caused a fail-open admission.",
		},
	)

	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "idempotency",
			Name:      "replays_total",
			Help:      "Total number of idempotent replays served from the store.",
		},
	)

	idempotencyDerivedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "idempotency",
			Name:      "derived_keys_total",
			Help:      "Mutating requests that fell back to a derived idempotency key.",
		},
	)

	backendDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "backend",
			Name:      "dispatches_total",
			Help:      "Total number of backend procedure invocations.",
		},
		[]string{"procedure", "status"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hera",
			Subsystem: "backend",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of backend procedure invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"procedure"},
	)

	auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hera",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit events emitted by severity.",
		},
		[]string{"severity"},
	)

	cacheUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hera",
			Subsystem: "cache",
			Name:      "up",
			Help:      "Whether the shared cache responded to the last probe (1) or not (0).",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		identityResolutions,
		identityDuration,
		guardrailViolations,
		ratelimitRejections,
		ratelimitStoreErrors,
		idempotentReplays,
		idempotencyDerivedKeys,
		backendDispatches,
		backendDuration,
		auditEvents,
		cacheUp,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight lowers the in-flight request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIdentityResolution records one actor resolution, tagged by cache outcome.
func RecordIdentityResolution(cacheHit bool, duration time.Duration) {
	outcome := "miss"
	if cacheHit {
		outcome = "hit"
	}
	identityResolutions.WithLabelValues(outcome).Inc()
	identityDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordGuardrailViolation records one guardrail rejection.
func RecordGuardrailViolation(reason string) {
	guardrailViolations.WithLabelValues(reason).Inc()
}

// RecordRateLimitRejection records one 429 by endpoint.
func RecordRateLimitRejection(endpoint string) {
	ratelimitRejections.WithLabelValues(endpoint).Inc()
}

// RecordRateLimitStoreError records one fail-open admission caused by the store.
func RecordRateLimitStoreError() { ratelimitStoreErrors.Inc() }

// RecordIdempotentReplay records one replayed response.
func RecordIdempotentReplay() { idempotentReplays.Inc() }

// RecordDerivedIdempotencyKey records one auto-derived idempotency key.
func RecordDerivedIdempotencyKey() { idempotencyDerivedKeys.Inc() }

// RecordBackendDispatch records one backend procedure invocation.
func RecordBackendDispatch(procedure, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	backendDispatches.WithLabelValues(procedure, status).Inc()
	backendDuration.WithLabelValues(procedure).Observe(duration.Seconds())
}

// RecordAuditEvent records one emitted audit event by severity.
func RecordAuditEvent(severity string) {
	auditEvents.WithLabelValues(severity).Inc()
}

// SetCacheUp publishes the shared cache's probe outcome.
func SetCacheUp(up bool) {
	if up {
		cacheUp.Set(1)
	} else {
		cacheUp.Set(0)
	}
}
