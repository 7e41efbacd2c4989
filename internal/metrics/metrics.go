// Package metrics exposes this node's health statistics as Prometheus
// gauges/counters behind /metrics, generalizing the teacher's HealthLogger
// (core/system_health_logging.go) from blockchain-specific gauges (block
// height, pending tx, total supply) to event-store ones.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles this node's metric instruments behind its own
// prometheus.Registry, the way HealthLogger keeps its gauges off the global
// default registry.
type Registry struct {
	reg *prometheus.Registry

	EventsPersisted prometheus.Counter
	EventsPruned    prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	PeerCount       prometheus.Gauge
}

// New builds a Registry with every instrument registered and ready to
// observe.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banyanswarm_events_persisted_total",
			Help: "Total number of events persisted to this node's own stream.",
		}),
		EventsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banyanswarm_events_pruned_total",
			Help: "Total number of retention-loop passes that tombstoned part of a stream.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banyanswarm_http_requests_total",
			Help: "Total number of /api/v2 HTTP requests, labeled by route and status class.",
		}, []string{"route", "status"}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "banyanswarm_peer_count",
			Help: "Number of peers currently connected over libp2p.",
		}),
	}
	reg.MustRegister(m.EventsPersisted, m.EventsPruned, m.HTTPRequests, m.PeerCount)
	return m
}

// Handler returns the promhttp handler serving this registry's metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
