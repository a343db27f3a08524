// Package metrics exposes relay counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campuschat"

type Metrics struct {
	connections     prometheus.Gauge
	actions         *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
	slowClients     prometheus.Counter
	probableRetries prometheus.Counter
	archiveDropped  prometheus.Counter
	archiveErrors   prometheus.Counter
	roomMembers     *prometheus.GaugeVec
	roomMessages    *prometheus.GaugeVec
}

// New creates the relay collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_connections",
			Help: "Open websocket connections.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "actions_total",
			Help: "Client actions accepted by the relay.",
		}, []string{"action"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_actions_total",
			Help: "Client actions rejected with an error event.",
		}, []string{"action", "code"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Events fanned out to a room.",
		}, []string{"event"}),
		slowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_clients_total",
			Help: "Connections closed because their send buffer was full.",
		}),
		probableRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "probable_retries_total",
			Help: "Identical sends from one author within the retry window.",
		}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_dropped_total",
			Help: "Messages not archived because the queue was full.",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_errors_total",
			Help: "Archive writes that failed.",
		}),
		roomMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "room_members",
			Help: "Joined users per room.",
		}, []string{"room"}),
		roomMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "room_messages",
			Help: "Messages held in memory per room.",
		}, []string{"room"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connections, m.actions, m.rejected, m.broadcasts, m.slowClients,
			m.probableRetries, m.archiveDropped, m.archiveErrors, m.roomMembers, m.roomMessages,
		)
	}
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Action(action string) {
	if m != nil {
		m.actions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Rejected(action, code string) {
	if m != nil {
		m.rejected.WithLabelValues(action, code).Inc()
	}
}

func (m *Metrics) Broadcast(event string) {
	if m != nil {
		m.broadcasts.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) SlowClient() {
	if m != nil {
		m.slowClients.Inc()
	}
}

func (m *Metrics) ProbableRetry() {
	if m != nil {
		m.probableRetries.Inc()
	}
}

func (m *Metrics) ArchiveDropped() {
	if m != nil {
		m.archiveDropped.Inc()
	}
}

func (m *Metrics) ArchiveFailed() {
	if m != nil {
		m.archiveErrors.Inc()
	}
}

// RoomStats sets the per-room gauges.
func (m *Metrics) RoomStats(room string, members, messages int) {
	if m != nil {
		m.roomMembers.WithLabelValues(room).Set(float64(members))
		m.roomMessages.WithLabelValues(room).Set(float64(messages))
	}
}
