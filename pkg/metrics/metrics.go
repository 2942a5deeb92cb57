package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission decisions keyed by route category and outcome. The reason label
	// is "none" for admitted requests.
	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Total number of admission decisions grouped by category, decision and reason",
	}, []string{"category", "decision", "reason"})
	AdmissionInternalErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_internal_errors_total",
		Help: "Total number of evaluations that failed closed because the window store was unavailable",
	}, []string{"category", "backend"})
	AdmissionEvaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admission_evaluation_duration_seconds",
		Help:    "Latency of a single admission evaluation",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"category"})

	// Window store metrics
	WindowStoreIdentities = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "admission_window_store_identities",
		Help: "Number of identities currently tracked by the window store",
	}, []string{"backend"})
	WindowStoreSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_window_store_swept_total",
		Help: "Total number of idle identities removed by the window store janitor",
	}, []string{"backend"})

	// Flood guard (token bucket in front of the whole server)
	FloodGuardRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_flood_guard_rejected_total",
		Help: "Total number of requests rejected by the per-address flood guard",
	})

	// Authentication
	AuthTokenFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_auth_token_failures_total",
		Help: "Total number of bearer tokens that failed verification",
	}, []string{"reason"})

	// Audit metrics
	AuditEventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_audit_events_emitted_total",
		Help: "Total number of audit events handed to the audit sinks",
	}, []string{"type"})
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_audit_events_processed_total",
		Help: "Total number of audit events successfully written by a sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_audit_events_dropped_total",
		Help: "Total number of audit events dropped by a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admission_audit_sink_latency_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "admission_audit_sink_connected",
		Help: "Whether the audit sink last reached its backend (1) or not (0)",
	}, []string{"sink"})
	AuditCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "admission_audit_circuit_breaker_state",
		Help: "Circuit breaker state per audit sink (0 closed, 1 open, 2 half-open)",
	}, []string{"sink"})
	AuditCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_audit_circuit_breaker_rejections_total",
		Help: "Total number of audit writes rejected by an open circuit breaker",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(AdmissionDecisions)
	prometheus.MustRegister(AdmissionInternalErrors)
	prometheus.MustRegister(AdmissionEvaluationDuration)
	prometheus.MustRegister(WindowStoreIdentities)
	prometheus.MustRegister(WindowStoreSwept)
	prometheus.MustRegister(FloodGuardRejected)
	prometheus.MustRegister(AuthTokenFailures)
	prometheus.MustRegister(AuditEventsEmitted)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
	prometheus.MustRegister(AuditCircuitBreakerState)
	prometheus.MustRegister(AuditCircuitBreakerRejections)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
