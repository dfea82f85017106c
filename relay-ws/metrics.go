package relayws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
)

type relayMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authentications   *prometheus.CounterVec
	frames            *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	persistence       *prometheus.CounterVec
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of open client sockets.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of client sockets accepted since start.",
		}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_authentications_total",
			Help: "Authenticate frames grouped by result.",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Inbound frames grouped by type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frame_errors_total",
			Help: "Error replies grouped by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Per-connection notification deliveries grouped by result.",
		}, []string{"result"}),
		persistence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_persistence_writes_total",
			Help: "Connection bookkeeping writes grouped by op and outcome.",
		}, []string{"op", "outcome"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.authentications,
		m.frames,
		m.frameErrors,
		m.notifications,
		m.persistence,
	)
	return m
}

func (m *relayMetrics) connOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *relayMetrics) connClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *relayMetrics) recordAuth(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = errorKind(err)
	}
	m.authentications.WithLabelValues(result).Inc()
}

func (m *relayMetrics) recordFrame(t MessageType) {
	if m == nil {
		return
	}
	label := "unknown"
	switch t {
	case MsgAuthenticate, MsgJobUpdate, MsgPing:
		label = string(t)
	}
	m.frames.WithLabelValues(label).Inc()
}

func (m *relayMetrics) recordError(err error) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(errorKind(err)).Inc()
}

func (m *relayMetrics) recordDelivery(delivered, failed int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("delivered").Add(float64(delivered))
	m.notifications.WithLabelValues("failed").Add(float64(failed))
}

func (m *relayMetrics) recordPersistence(op string, result connectiondao.Result) {
	if m == nil {
		return
	}
	m.persistence.WithLabelValues(op, result.Outcome.String()).Inc()
}
