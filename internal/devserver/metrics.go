package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests *prometheus.CounterVec
	created  *prometheus.CounterVec
	pushed   prometheus.Counter
	clients  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devbank",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		created: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devbank",
			Name:      "notifications_created_total",
			Help:      "Notifications created, by category.",
		}, []string{"type"}),
		pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devbank",
			Name:      "notifications_pushed_total",
			Help:      "Notifications published to a user topic.",
		}),
		clients: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devbank",
			Name:      "websocket_connections_total",
			Help:      "WebSocket clients attached to the broker.",
		}),
	}
}
