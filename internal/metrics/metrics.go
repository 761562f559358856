// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	// Flow metrics
	RequestsTotal      *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
	ModelCallDuration  *prometheus.HistogramVec
	PromptTokens       *prometheus.HistogramVec
	AttachmentBytes    prometheus.Histogram
	AttachmentFailures prometheus.Counter

	// Session metrics
	ActiveLanes prometheus.Gauge
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_requests_total",
				Help: "Total number of orchestrated requests by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"flow"},
		),
		ModelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_model_call_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"flow", "status"},
		),
		PromptTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_prompt_tokens",
				Help:    "Counted size of prompts sent to the model",
				Buckets: prometheus.ExponentialBuckets(64, 2, 12),
			},
			[]string{"flow"},
		),
		AttachmentBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatrelay_attachment_bytes",
				Help:    "Size of resolved attachments injected into prompts",
				Buckets: prometheus.ExponentialBuckets(256, 4, 7),
			},
		),
		AttachmentFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatrelay_attachment_failures_total",
				Help: "Total number of attachment lookups that failed in the blob backend",
			},
		),
		ActiveLanes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatrelay_session_lanes_active",
				Help: "Number of live per-session lanes",
			},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RateLimitedTotal,
		m.ModelCallDuration,
		m.PromptTokens,
		m.AttachmentBytes,
		m.AttachmentFailures,
		m.ActiveLanes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
