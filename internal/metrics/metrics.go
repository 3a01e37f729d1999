package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// TransfersTotal counts finished item transfers by path (sync, retry, queue) and status
	TransfersTotal *prometheus.CounterVec
	// TransferDuration tracks the time one item takes from record creation to terminal status
	TransferDuration *prometheus.HistogramVec
	// TokenRefreshes counts token refreshes by outcome
	TokenRefreshes *prometheus.CounterVec
	// QueuePublishes counts messages handed to the queue by outcome
	QueuePublishes *prometheus.CounterVec
	// QueueConsumptions counts handled deliveries by outcome
	QueueConsumptions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
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
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of finished item transfers",
			},
			[]string{"path", "status"},
		),
		TransferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Time to move one item between accounts",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"path"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of access token refreshes",
			},
			[]string{"outcome"},
		),
		QueuePublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_publishes_total",
				Help:      "Total number of transfer messages published",
			},
			[]string{"outcome"},
		),
		QueueConsumptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_consumptions_total",
				Help:      "Total number of transfer messages consumed",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.RequestLatency,
		m.HTTPRequestsInFlight,
		m.TransfersTotal,
		m.TransferDuration,
		m.TokenRefreshes,
		m.QueuePublishes,
		m.QueueConsumptions,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request and its latency
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// IncHTTPRequestsInFlight increments the in-flight requests gauge
func (m *Metrics) IncHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests gauge
func (m *Metrics) DecHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordTransfer records one item reaching a terminal status
func (m *Metrics) RecordTransfer(path, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(path, status).Inc()
	m.TransferDuration.WithLabelValues(path).Observe(durationSeconds)
}

// RecordTokenRefresh records a refresh attempt: success, failure or revoked
func (m *Metrics) RecordTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordQueuePublish records a publish attempt
func (m *Metrics) RecordQueuePublish(outcome string) {
	if m == nil {
		return
	}
	m.QueuePublishes.WithLabelValues(outcome).Inc()
}

// RecordQueueConsume records how a delivery was settled
func (m *Metrics) RecordQueueConsume(outcome string) {
	if m == nil {
		return
	}
	m.QueueConsumptions.WithLabelValues(outcome).Inc()
}
