package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. It owns a
// dedicated registry so repeated construction in tests never collides
// with previously registered series.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestsBlocked   *prometheus.CounterVec
	InjectionDetected *prometheus.CounterVec
	PIIDetected       *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
}

// New creates the gateway metrics set
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptgate_requests_total",
				Help: "Total number of LLM requests",
			},
			[]string{"status", "backend"},
		),
		RequestsBlocked: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptgate_requests_blocked_total",
				Help: "Number of blocked requests",
			},
			[]string{"reason"},
		),
		InjectionDetected: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptgate_injection_detected_total",
				Help: "Number of prompt injections detected",
			},
			[]string{"risk_level"},
		),
		PIIDetected: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptgate_pii_detected_total",
				Help: "Number of PII spans detected and redacted",
			},
			[]string{"pii_type"},
		),
		RequestDuration: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// ObserveDuration records a request duration
func (m *Metrics) ObserveDuration(d time.Duration) {
	m.RequestDuration.Observe(d.Seconds())
}

// Handler returns the scrape handler for this metrics set
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
