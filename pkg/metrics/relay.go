package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Routing kinds for the messages counter.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// RelayMetrics instruments the relay server: connected clients, live groups,
// routed messages, and fan-out delivery outcomes. All methods are nil-safe so
// callers never have to branch on whether metrics are enabled.
type RelayMetrics struct {
	connectedClients prometheus.Gauge
	activeGroups     prometheus.Gauge
	messagesRouted   *prometheus.CounterVec
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	rejected         prometheus.Counter
}

// NewRelayMetrics creates Prometheus-backed relay metrics.
// Returns nil when metrics are not enabled.
func NewRelayMetrics() *RelayMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &RelayMetrics{
		connectedClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chatline_connected_clients",
			Help: "Number of clients currently identified on the relay",
		}),
		activeGroups: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chatline_groups",
			Help: "Number of groups currently registered",
		}),
		messagesRouted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_messages_routed_total",
				Help: "Data messages accepted for routing, by kind",
			},
			[]string{"kind"}, // private, group
		),
		deliveries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chatline_deliveries_total",
			Help: "Individual deliveries pushed to recipient connections",
		}),
		deliveryFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chatline_delivery_failures_total",
			Help: "Deliveries that failed with a transport error",
		}),
		rejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chatline_messages_rejected_total",
			Help: "Data messages rejected (unknown recipient, loopback, not a member)",
		}),
	}
}

// SetConnectedClients records the current identified client count.
func (m *RelayMetrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

// SetActiveGroups records the current group count.
func (m *RelayMetrics) SetActiveGroups(n int) {
	if m == nil {
		return
	}
	m.activeGroups.Set(float64(n))
}

// RecordRouted counts a data message accepted for routing.
func (m *RelayMetrics) RecordRouted(kind string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(kind).Inc()
}

// RecordDelivery counts one completed delivery attempt.
func (m *RelayMetrics) RecordDelivery(failed bool) {
	if m == nil {
		return
	}
	m.deliveries.Inc()
	if failed {
		m.deliveryFailures.Inc()
	}
}

// RecordRejected counts a data message that was refused.
func (m *RelayMetrics) RecordRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
