package quota

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/observability"
)

// Metrics collects quota admission counters.
type Metrics struct {
	admitted    prometheus.Counter
	rejected    *prometheus.CounterVec
	storeErrors prometheus.Counter
	rollovers   *prometheus.CounterVec
	swept       *prometheus.CounterVec
}

// NewMetrics creates Metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates Metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: "quota",
			Name:      "admitted_total",
			Help:      "Requests admitted by the quota ledger.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: "quota",
			Name:      "rejected_total",
			Help:      "Requests rejected by limiter.",
		}, []string{"limiter"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: "quota",
			Name:      "store_errors_total",
			Help:      "Quota store failures on the admission path.",
		}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: "quota",
			Name:      "rollovers_total",
			Help:      "Period rollovers applied by limiter.",
		}, []string{"limiter"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: "quota",
			Name:      "swept_tokens_total",
			Help:      "Capacity reclaimed from stale reservations by limiter.",
		}, []string{"limiter"}),
	}
	observability.MustRegister(registerer,
		m.admitted, m.rejected, m.storeErrors, m.rollovers, m.swept)
	return m
}

// RecordAdmission counts an admitted request.
func (m *Metrics) RecordAdmission(amount int64) {
	m.admitted.Inc()
}

// RecordRejection counts a rejected request.
func (m *Metrics) RecordRejection(limiter string) {
	m.rejected.WithLabelValues(limiter).Inc()
}

// RecordStoreError counts an admission-path store failure.
func (m *Metrics) RecordStoreError() {
	m.storeErrors.Inc()
}

// RecordRollover counts an applied period rollover.
func (m *Metrics) RecordRollover(limiter string) {
	m.rollovers.WithLabelValues(limiter).Inc()
}

// RecordSweep counts reclaimed reservation capacity.
func (m *Metrics) RecordSweep(limiter string, amount int64) {
	m.swept.WithLabelValues(limiter).Add(float64(amount))
}
