// Package metrics exposes Prometheus collectors for the realtime hub.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaychat"

type Metrics struct {
	Registry *prometheus.Registry

	connections prometheus.Gauge
	onlineUsers prometheus.Gauge
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	deliveries  prometheus.Counter
	dropped     prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Live transport connections registered with the hub.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live connection.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Presence edges announced, by direction.",
		}, []string{"direction"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound protocol events, by event name.",
		}, []string{"event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_failures_total",
			Help:      "Inbound events that failed, by event name and reason.",
		}, []string{"event", "reason"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Outbound envelopes queued to connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Outbound envelopes dropped because a connection was closed or its buffer was full.",
		}),
	}
	m.Registry.MustRegister(
		m.connections, m.onlineUsers, m.transitions, m.events, m.failures, m.deliveries, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) UserOnline() {
	if m != nil {
		m.onlineUsers.Inc()
		m.transitions.WithLabelValues("online").Inc()
	}
}

func (m *Metrics) UserOffline() {
	if m != nil {
		m.onlineUsers.Dec()
		m.transitions.WithLabelValues("offline").Inc()
	}
}

func (m *Metrics) Event(name string) {
	if m != nil {
		m.events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) Failure(name, reason string) {
	if m != nil {
		m.failures.WithLabelValues(name, reason).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) Dropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}
