package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes relay metrics. A nil Collector is a no-op so the relay
// can run with metrics disabled.
type Collector struct {
	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	sessionsJoined   prometheus.Counter
	connectionsLive  prometheus.Gauge
	messagesRouted   *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "paircast_sessions_active",
			Help: "Number of live pairing sessions",
		}),

		sessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "paircast_sessions_created_total",
			Help: "Total number of pairing sessions created",
		}),

		sessionsJoined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "paircast_sessions_joined_total",
			Help: "Total number of successful viewer joins",
		}),

		connectionsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "paircast_connections_live",
			Help: "Number of live relay WebSocket connections",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "paircast_messages_forwarded_total",
			Help: "Negotiation messages forwarded between peers",
		}, []string{"kind"}),

		messagesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "paircast_messages_dropped_total",
			Help: "Inbound messages dropped before forwarding",
		}, []string{"reason"}),
	}
}

func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.sessionsCreated.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionJoined() {
	if c == nil {
		return
	}
	c.sessionsJoined.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsLive.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsLive.Dec()
}

func (c *Collector) MessageForwarded(kind string) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(kind).Inc()
}

func (c *Collector) MessageDropped(reason string) {
	if c == nil {
		return
	}
	c.messagesDropped.WithLabelValues(reason).Inc()
}
