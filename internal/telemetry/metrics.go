// Package telemetry exposes Prometheus metrics and a health endpoint.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sourcebridge"

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
	workflowStarts *prometheus.CounterVec
}

// NewMetrics registers every collector, including the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Processed records by entity and outcome.",
		}, []string{"entity", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent processing one record.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"entity"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Authentication token fetches by source.",
		}, []string{"source"}),
		workflowStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_starts_total",
			Help:      "Workflow start attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.outcomes,
		m.duration,
		m.tokenRefreshes,
		m.workflowStarts,
	)
	return m
}

// ObserveOutcome implements worker.Observer.
func (m *Metrics) ObserveOutcome(entity, outcome string, elapsed time.Duration) {
	m.outcomes.WithLabelValues(entity, outcome).Inc()
	m.duration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

// TokenRefreshHook returns a hook counting token fetches for source.
func (m *Metrics) TokenRefreshHook(source string) func() {
	counter := m.tokenRefreshes.WithLabelValues(source)
	return counter.Inc
}

// WorkflowStartHook returns a hook counting workflow starts by outcome.
func (m *Metrics) WorkflowStartHook() func(outcome string) {
	return func(outcome string) {
		m.workflowStarts.WithLabelValues(outcome).Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
