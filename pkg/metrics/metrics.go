// Package metrics exposes the agent's counters and controller state as
// Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetware/otaagent/pkg/agent"
)

const namespace = "otaagent"

// Exporter reads live values from an agent on every scrape. The agent's
// statistics getters are lock-free snapshots, so scraping never blocks the
// processing loop.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter builds a registry over the given agent, including the
// standard Go runtime collectors.
func NewExporter(a *agent.Agent) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string, fn func() uint32) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}

	registry.MustRegister(
		counter("packets_received_total", "Messages delivered by the transport.", a.PacketsReceived),
		counter("packets_queued_total", "Messages accepted onto the event queue.", a.PacketsQueued),
		counter("packets_processed_total", "Messages fully handled by the processing loop.", a.PacketsProcessed),
		counter("packets_dropped_total", "Messages dropped as duplicates or for lack of queue space.", a.PacketsDropped),
	)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "controller_state",
		Help:      "Numeric controller state (0=init through 10=stopped).",
	}, func() float64 { return float64(a.State()) }))

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "image_state",
		Help:      "Numeric image state (0=unknown, 1=testing, 2=accepted, 3=rejected, 4=aborted).",
	}, func() float64 { return float64(a.GetImageState()) }))

	return &Exporter{registry: registry}
}

// Handler returns the scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
