package authz

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/observability"
)

// Metrics collects authorization counters.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics creates Metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates Metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.MetricsNamespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Authorization decisions by action and outcome.",
			},
			[]string{"action", "allowed"},
		),
	}
	observability.MustRegister(registerer, m.decisions)
	return m
}

// RecordDecision counts one authorization decision.
func (m *Metrics) RecordDecision(action string, allowed bool) {
	m.decisions.WithLabelValues(action, strconv.FormatBool(allowed)).Inc()
}
