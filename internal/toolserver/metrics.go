package toolserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/observability"
)

// Metrics collects tool-server resolution counters.
type Metrics struct {
	exclusions *prometheus.CounterVec
}

// NewMetrics creates Metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates Metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		exclusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.MetricsNamespace,
				Subsystem: "toolserver",
				Name:      "exclusions_total",
				Help:      "Tool servers excluded from a request by server name.",
			},
			[]string{"server"},
		),
	}
	observability.MustRegister(registerer, m.exclusions)
	return m
}

// RecordExclusion counts one per-request exclusion.
func (m *Metrics) RecordExclusion(server string) {
	m.exclusions.WithLabelValues(server).Inc()
}
