package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Instance interface {
	Register(r prometheus.Registerer)

	SessionsOpen() prometheus.Gauge
	SessionsTotal() prometheus.Counter
	MessagesDelivered() prometheus.Counter
	MessagesPublished() prometheus.Counter
	MessagesDropped() prometheus.Counter
}

type Options struct {
	Labels prometheus.Labels
}

func New(o Options) Instance {
	return &metricsInst{
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "relay_sessions_open",
			Help:        "Stream sessions currently open on this process",
			ConstLabels: o.Labels,
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_sessions_total",
			Help:        "Stream sessions accepted since start",
			ConstLabels: o.Labels,
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_messages_delivered_total",
			Help:        "Messages written to local stream sessions",
			ConstLabels: o.Labels,
		}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_messages_published_total",
			Help:        "Messages published to the channel bus",
			ConstLabels: o.Labels,
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_messages_dropped_total",
			Help:        "Bus messages dropped for lack of a handler or a full delivery queue",
			ConstLabels: o.Labels,
		}),
	}
}

type metricsInst struct {
	sessionsOpen      prometheus.Gauge
	sessionsTotal     prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesPublished prometheus.Counter
	messagesDropped   prometheus.Counter
}

func (m *metricsInst) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.sessionsOpen,
		m.sessionsTotal,
		m.messagesDelivered,
		m.messagesPublished,
		m.messagesDropped,
	)
}

func (m *metricsInst) SessionsOpen() prometheus.Gauge {
	return m.sessionsOpen
}

func (m *metricsInst) SessionsTotal() prometheus.Counter {
	return m.sessionsTotal
}

func (m *metricsInst) MessagesDelivered() prometheus.Counter {
	return m.messagesDelivered
}

func (m *metricsInst) MessagesPublished() prometheus.Counter {
	return m.messagesPublished
}

func (m *metricsInst) MessagesDropped() prometheus.Counter {
	return m.messagesDropped
}
