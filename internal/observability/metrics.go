package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsNamespace is the namespace prefix for all gateway metrics.
const MetricsNamespace = "llmgate"

// NewRegistry creates a prometheus registry pre-populated with process
// and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// MetricsHandler returns an HTTP handler exposing the registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// MustRegister registers collectors with the registerer, tolerating
// duplicate registrations with identical descriptors. Packages create
// their metrics independently and may share a registry in tests.
func MustRegister(registerer prometheus.Registerer, cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}
}
