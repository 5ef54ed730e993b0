package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the realtime core. All components accept a nil
// *Metrics and skip recording, so tests can run without a registry.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	eventsPublished *prometheus.CounterVec
	eventsDelivered prometheus.Counter
	eventsDropped   prometheus.Counter
	slowConsumers   prometheus.Counter
	subscriptions   prometheus.Gauge
	subscribeDenied prometheus.Counter
	presenceUsers   prometheus.Gauge
	typingExpired   prometheus.Counter
	transportRelays prometheus.Counter
}

// NewMetrics registers the core metrics with the given registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "boardstream"
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live WebSocket sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions created",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published, by event type",
		}, []string{"type"}),
		eventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Event deliveries enqueued to sessions",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Event deliveries dropped on full queues",
		}),
		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumer_evictions_total",
			Help:      "Sessions evicted for unconsumed outbound queues",
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_subscriptions",
			Help:      "Live (session, channel) subscription pairs",
		}),
		subscribeDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_denied_total",
			Help:      "Subscribe attempts denied by the authorizer",
		}),
		presenceUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_entries",
			Help:      "Live (channel, user) presence entries",
		}),
		typingExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_auto_expirations_total",
			Help:      "Typing indicators expired without an explicit stop",
		}),
		transportRelays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_relays_total",
			Help:      "Events forwarded to the fan-out transport",
		}),
	}
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) eventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) eventDelivered() {
	if m == nil {
		return
	}
	m.eventsDelivered.Inc()
}

func (m *Metrics) eventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) slowConsumerEvicted() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

func (m *Metrics) subscriptionAdded() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) subscriptionRemoved() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) subscriptionDenied() {
	if m == nil {
		return
	}
	m.subscribeDenied.Inc()
}

func (m *Metrics) presenceJoined() {
	if m == nil {
		return
	}
	m.presenceUsers.Inc()
}

func (m *Metrics) presenceLeft() {
	if m == nil {
		return
	}
	m.presenceUsers.Dec()
}

func (m *Metrics) typingAutoExpired() {
	if m == nil {
		return
	}
	m.typingExpired.Inc()
}

func (m *Metrics) transportRelayed() {
	if m == nil {
		return
	}
	m.transportRelays.Inc()
}
