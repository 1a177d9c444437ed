// Package metrics exposes Prometheus collectors for the chat hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/chathub/internal/generation"
)

// Collectors groups every hub metric on a private registry. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	connections       prometheus.Gauge
	messages          *prometheus.CounterVec
	dropped           prometheus.Counter
	commands          *prometheus.CounterVec
	generationActive  prometheus.Gauge
	generationResults *prometheus.CounterVec
}

// New registers the hub collectors plus the Go and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chathub_connections",
			Help: "Connected clients.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_messages_total",
			Help: "Entries appended to history by thread and kind.",
		}, []string{"thread", "kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chathub_deliveries_dropped_total",
			Help: "Deliveries dropped because a client's send buffer was full.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_commands_total",
			Help: "Slash commands handled by name and result.",
		}, []string{"command", "result"}),
		generationActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chathub_generation_active",
			Help: "Generation tasks currently streaming.",
		}),
		generationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_generation_finished_total",
			Help: "Finished generation tasks by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connections, c.messages, c.dropped, c.commands, c.generationActive, c.generationResults,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the private registry, mainly to tests.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// SetConnections records the connected client count.
func (c *Collectors) SetConnections(n int) {
	if c != nil {
		c.connections.Set(float64(n))
	}
}

// MessageStored counts one history append.
func (c *Collectors) MessageStored(thread, kind string) {
	if c != nil {
		c.messages.WithLabelValues(thread, kind).Inc()
	}
}

// DeliveryDropped counts a client closed for a full send buffer.
func (c *Collectors) DeliveryDropped() {
	if c != nil {
		c.dropped.Inc()
	}
}

// CommandHandled counts one slash command by result.
func (c *Collectors) CommandHandled(name, result string) {
	if c != nil {
		c.commands.WithLabelValues(name, result).Inc()
	}
}

// TaskStarted and TaskFinished make Collectors a generation.Observer.
func (c *Collectors) TaskStarted() {
	if c != nil {
		c.generationActive.Inc()
	}
}

func (c *Collectors) TaskFinished(outcome generation.Outcome) {
	if c != nil {
		c.generationActive.Dec()
		c.generationResults.WithLabelValues(outcome.String()).Inc()
	}
}
