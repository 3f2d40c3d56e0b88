package ws

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "forum"

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	groups        prometheus.Gauge
	subscriptions prometheus.Gauge
	events        *prometheus.CounterVec
	delivered     prometheus.Counter
	dropped       prometheus.Counter
}

// NewMetrics creates the hub collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_groups",
			Help:      "Number of topics with at least one live subscription.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions",
			Help:      "Number of live subscriptions.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Events fanned out by the hub, by type.",
		}, []string{"type"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Payloads queued to subscriptions.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_subscriptions_total",
			Help:      "Subscriptions dropped because their connection could not keep up.",
		}),
	}

	reg.MustRegister(m.groups, m.subscriptions, m.events, m.delivered, m.dropped)
	return m
}
