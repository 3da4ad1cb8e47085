// Package metrics exposes the relay's Prometheus instrumentation: stream and
// subscriber gauges, bytes relayed, and subscriber overflow counts, all
// registered on a private registry so a single *Collector can be wired
// through internal/broadcast and internal/registry without reaching for the
// global default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the relay reports. A nil *Collector is valid
// everywhere it is used (internal/broadcast and internal/registry both guard
// calls with a nil check), so callers that don't want metrics can simply
// not construct one.
type Collector struct {
	registry *prometheus.Registry

	activeStreams      prometheus.Gauge
	activeSubscribers  prometheus.Gauge
	bytesRelayedTotal  prometheus.Counter
	subscriberOverflow prometheus.Counter
}

// New builds a Collector on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webmrelay_active_streams",
			Help: "Number of live streams currently registered.",
		}),
		activeSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webmrelay_active_subscribers",
			Help: "Number of subscribers currently connected across all streams.",
		}),
		bytesRelayedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "webmrelay_bytes_relayed_total",
			Help: "Total publisher bytes accepted and fanned out to subscribers.",
		}),
		subscriberOverflow: factory.NewCounter(prometheus.CounterOpts{
			Name: "webmrelay_subscriber_overflow_total",
			Help: "Total subscribers disconnected for failing to keep up with a forced element.",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) IncActiveStreams() {
	if c == nil {
		return
	}
	c.activeStreams.Inc()
}

func (c *Collector) DecActiveStreams() {
	if c == nil {
		return
	}
	c.activeStreams.Dec()
}

func (c *Collector) IncActiveSubscribers() {
	if c == nil {
		return
	}
	c.activeSubscribers.Inc()
}

func (c *Collector) DecActiveSubscribers() {
	if c == nil {
		return
	}
	c.activeSubscribers.Dec()
}

func (c *Collector) AddBytesRelayed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesRelayedTotal.Add(float64(n))
}

func (c *Collector) IncSubscriberOverflow() {
	if c == nil {
		return
	}
	c.subscriberOverflow.Inc()
}
