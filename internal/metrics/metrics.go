package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// CasesCreated counts created cases by channel
	CasesCreated *prometheus.CounterVec
	// CasesSkipped counts events dropped before case creation by channel and reason
	CasesSkipped *prometheus.CounterVec
	// IngestErrors counts ingestion failures by channel and type
	IngestErrors *prometheus.CounterVec
	// SyncPasses counts mailbox sync passes by mode and status
	SyncPasses *prometheus.CounterVec
	// TokenRefreshes counts credential refresh attempts by status
	TokenRefreshes *prometheus.CounterVec
	// WebhookAuthFailures counts rejected webhook deliveries by channel
	WebhookAuthFailures *prometheus.CounterVec
	// IntegrationUp tracks per-integration health (1=ok, 0=failing)
	IntegrationUp *prometheus.GaugeVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		CasesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cases_created_total",
				Help:      "Total number of cases created from inbound events",
			},
			[]string{"channel"},
		),
		CasesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cases_skipped_total",
				Help:      "Total number of inbound events dropped before case creation",
			},
			[]string{"channel", "reason"},
		),
		IngestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_errors_total",
				Help:      "Total number of ingestion failures",
			},
			[]string{"channel", "type"},
		),
		SyncPasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_passes_total",
				Help:      "Total number of mailbox sync passes",
			},
			[]string{"mode", "status"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of credential refresh attempts",
			},
			[]string{"status"},
		),
		WebhookAuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_auth_failures_total",
				Help:      "Total number of rejected webhook deliveries",
			},
			[]string{"channel"},
		),
		IntegrationUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "integration_up",
				Help:      "Integration health (1=ok, 0=failing)",
			},
			[]string{"tenant_id", "channel"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.CasesCreated,
		m.CasesSkipped,
		m.IngestErrors,
		m.SyncPasses,
		m.TokenRefreshes,
		m.WebhookAuthFailures,
		m.IntegrationUp,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordCaseCreated records a created case
func (m *Metrics) RecordCaseCreated(channel string) {
	m.CasesCreated.WithLabelValues(channel).Inc()
}

// RecordCaseSkipped records an event dropped before case creation
func (m *Metrics) RecordCaseSkipped(channel, reason string) {
	m.CasesSkipped.WithLabelValues(channel, reason).Inc()
}

// RecordIngestError records an ingestion failure
func (m *Metrics) RecordIngestError(channel, errorType string) {
	m.IngestErrors.WithLabelValues(channel, errorType).Inc()
}

// RecordSyncPass records a mailbox sync pass
func (m *Metrics) RecordSyncPass(mode, status string) {
	m.SyncPasses.WithLabelValues(mode, status).Inc()
}

// RecordTokenRefresh records a credential refresh attempt
func (m *Metrics) RecordTokenRefresh(status string) {
	m.TokenRefreshes.WithLabelValues(status).Inc()
}

// RecordWebhookAuthFailure records a rejected webhook delivery
func (m *Metrics) RecordWebhookAuthFailure(channel string) {
	m.WebhookAuthFailures.WithLabelValues(channel).Inc()
}

// SetIntegrationUp sets the health status of an integration
func (m *Metrics) SetIntegrationUp(tenantID, channel string, up bool) {
	value := 1.0
	if !up {
		value = 0.0
	}
	m.IntegrationUp.WithLabelValues(tenantID, channel).Set(value)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
