// Package metrics exposes Prometheus collectors for the facade's
// connection health: round-trip latency, reconnect counts, and outbound
// queue drops (§4.6's observable streams, surfaced for operators rather
// than application code).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors registered for one client instance.
type Metrics struct {
	RTT             prometheus.Histogram
	Reconnects      prometheus.Counter
	QueueDrops      *prometheus.CounterVec
	TLSNegotiations *prometheus.CounterVec
}

// New builds a Metrics with the given namespace, unregistered.
func New(namespace string) *Metrics {
	return &Metrics{
		RTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Round-trip latency measured via ping/pong State exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Number of times the player IPC connection reconnected after a failure.",
		}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Frames dropped from a bounded queue under backpressure, by queue and frame kind.",
		}, []string{"queue", "kind"}),
		TLSNegotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_negotiations_total",
			Help:      "Outcomes of opportunistic TLS negotiation.",
		}, []string{"outcome"}),
	}
}

// MustRegister registers every collector with reg, panicking on
// duplicate registration (mirrors the common client_golang idiom).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.RTT, m.Reconnects, m.QueueDrops, m.TLSNegotiations)
}

// ObserveRTT records one measured round-trip latency sample.
func (m *Metrics) ObserveRTT(seconds float64) {
	m.RTT.Observe(seconds)
}

// IncReconnect records one player IPC reconnect.
func (m *Metrics) IncReconnect() {
	m.Reconnects.Inc()
}

// IncQueueDrop records one dropped frame for the named queue and frame kind.
func (m *Metrics) IncQueueDrop(queue, kind string) {
	m.QueueDrops.WithLabelValues(queue, kind).Inc()
}

// IncTLSOutcome records one TLS negotiation outcome: "enabled",
// "unsupported", or "failed".
func (m *Metrics) IncTLSOutcome(outcome string) {
	m.TLSNegotiations.WithLabelValues(outcome).Inc()
}
