package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace is the Prometheus namespace for all server metrics.
const metricsNamespace = "gridwire"

// Metrics holds the Prometheus metrics for the server.
type Metrics struct {
	intentsTotal     *prometheus.CounterVec
	intentDuration   prometheus.Histogram
	updatesSent      prometheus.Counter
	activeSessions   prometheus.Gauge
	detachedSessions prometheus.Gauge
	queueDrops       prometheus.Counter
	resyncsTotal     *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	worldPlayers     prometheus.Gauge
}

// NewMetrics creates and registers the server metrics with the given
// registry. Pass prometheus.DefaultRegisterer for the usual global
// registry, or a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		intentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "intents_total",
			Help:      "Total intents processed by the engine, by op and status",
		}, []string{"op", "status"}),

		intentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "intent_duration_seconds",
			Help:      "Intent processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		updatesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_sent_total",
			Help:      "Total update frames queued to sessions",
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of connected WebSocket sessions",
		}),

		detachedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "detached_sessions",
			Help:      "Number of detached (disconnected but resumable) sessions",
		}),

		queueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outbound_queue_drops_total",
			Help:      "Total frames dropped from slow session queues",
		}),

		resyncsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resyncs_total",
			Help:      "Total snapshot resyncs sent, by cause",
		}, []string{"cause"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Total sessions resumed after reconnect",
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to WebSocket connections",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from WebSocket connections",
		}),

		worldPlayers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "world_players",
			Help:      "Number of players currently in the world",
		}),
	}
}

// RecordIntent records a processed intent with its outcome.
func (m *Metrics) RecordIntent(op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(op, status).Inc()
	m.intentDuration.Observe(seconds)
}

// RecordUpdates records update frames queued for delivery.
func (m *Metrics) RecordUpdates(n int) {
	if m == nil {
		return
	}
	m.updatesSent.Add(float64(n))
}

// RecordSessionAttach records a session going online.
func (m *Metrics) RecordSessionAttach() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// RecordSessionDetach records a session losing its connection.
func (m *Metrics) RecordSessionDetach() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.detachedSessions.Inc()
}

// RecordSessionReattach records a detached session being resumed.
func (m *Metrics) RecordSessionReattach() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.detachedSessions.Dec()
	m.reconnectsTotal.Inc()
}

// RecordSessionGone records a detached session expiring or closing.
func (m *Metrics) RecordSessionGone() {
	if m == nil {
		return
	}
	m.detachedSessions.Dec()
}

// RecordQueueDrop records frames dropped from a slow session's queue.
func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

// RecordResync records a snapshot resync by cause ("overflow", "request",
// "reconnect").
func (m *Metrics) RecordResync(cause string) {
	if m == nil {
		return
	}
	m.resyncsTotal.WithLabelValues(cause).Inc()
}

// RecordBytesSent records bytes written to a connection.
func (m *Metrics) RecordBytesSent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
}

// RecordBytesReceived records bytes read from a connection.
func (m *Metrics) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// SetWorldPlayers sets the current player count gauge.
func (m *Metrics) SetWorldPlayers(n int) {
	if m == nil {
		return
	}
	m.worldPlayers.Set(float64(n))
}
