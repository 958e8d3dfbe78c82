package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	connections *prometheus.GaugeVec
	authRejects prometheus.Counter
	joins       prometheus.Counter
	events      *prometheus.CounterVec
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections",
			Help:      "Open connections by transport.",
		}, []string{"transport"}),
		authRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "auth_rejected_total",
			Help:      "Handshakes rejected by the auth gate.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "joins_total",
			Help:      "Room joins.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_total",
			Help:      "Inbound events by kind.",
		}, []string{"kind"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_delivered_total",
			Help:      "Frames enqueued to room members.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped for closed or slow members.",
		}),
	}
	reg.MustRegister(m.connections, m.authRejects, m.joins, m.events, m.delivered, m.dropped)
	return m
}
