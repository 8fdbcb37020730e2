package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors this core exposes. A bare
// net/http server for the /metrics route is the one deliberate
// stdlib-over-library choice in this core: no example in the corpus
// pulls in a routing framework for a single static handler.
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsRefused  prometheus.Counter
	commandsDispatched  prometheus.Counter
	nickCollisions      prometheus.Counter
	klineHits           prometheus.Counter

	localUsers    prometheus.Gauge
	localChannels prometheus.Gauge
	localServers  prometheus.Gauge
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "catbox_connections_accepted_total",
			Help: "Client and peer connections accepted.",
		}),
		connectionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Name: "catbox_connections_refused_total",
			Help: "Connections refused, e.g. due to a K-Line.",
		}),
		commandsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "catbox_commands_dispatched_total",
			Help: "Commands successfully dispatched to a handler.",
		}),
		nickCollisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "catbox_nick_collisions_total",
			Help: "NICK/UID attempts that collided with an existing user.",
		}),
		klineHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "catbox_kline_hits_total",
			Help: "Connections rejected by a matching K-Line.",
		}),
		localUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catbox_local_users",
			Help: "Currently registered local users.",
		}),
		localChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catbox_local_channels",
			Help: "Currently existing channels.",
		}),
		localServers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catbox_local_servers",
			Help: "Currently linked peer servers.",
		}),
	}
}

// serveMetrics starts the /metrics HTTP endpoint. It runs in its own
// goroutine and never touches Catbox's tables directly.
func (cb *Catbox) serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cb.Metrics.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			cb.Logger.WithError(err).Error("metrics server exited")
		}
	}()
}

// sampleGauges refreshes the gauge metrics from the current table
// sizes. Called periodically off the alarm tick.
func (cb *Catbox) sampleGauges() {
	local := 0
	for _, u := range cb.Nicks {
		if u.isLocal() {
			local++
		}
	}
	cb.Metrics.localUsers.Set(float64(local))
	cb.Metrics.localChannels.Set(float64(len(cb.Channels)))
	cb.Metrics.localServers.Set(float64(len(cb.ServersBySID)))
}
