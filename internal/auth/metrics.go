package auth

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/observability"
)

// Metrics collects authentication counters.
type Metrics struct {
	attempts *prometheus.CounterVec
}

// NewMetrics creates Metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates Metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.MetricsNamespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Authentication attempts by variant and outcome.",
			},
			[]string{"variant", "outcome", "reason"},
		),
	}
	observability.MustRegister(registerer, m.attempts)
	return m
}

// RecordSuccess counts a successful authentication.
func (m *Metrics) RecordSuccess(variant AuthType) {
	m.attempts.WithLabelValues(string(variant), "success", "").Inc()
}

// RecordFailure counts a failed authentication with its reason.
func (m *Metrics) RecordFailure(variant AuthType, reason Reason) {
	m.attempts.WithLabelValues(string(variant), "failure", string(reason)).Inc()
}
