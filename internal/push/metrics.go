package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the push connection. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	state    prometheus.Gauge
	attempts prometheus.Counter
	drops    prometheus.Counter
	received prometheus.Counter
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the push metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "banknotify",
			Subsystem: "push",
			Name:      "state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "banknotify",
			Subsystem: "push",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, including reconnects.",
		}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "banknotify",
			Subsystem: "push",
			Name:      "connection_drops_total",
			Help:      "Connections lost or refused before teardown.",
		}),
		received: f.NewCounter(prometheus.CounterOpts{
			Namespace: "banknotify",
			Subsystem: "push",
			Name:      "notifications_received_total",
			Help:      "Notifications delivered to listeners.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "banknotify",
			Subsystem: "push",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages discarded, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *Metrics) receive() {
	if m == nil {
		return
	}
	m.received.Inc()
}

func (m *Metrics) discard(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
