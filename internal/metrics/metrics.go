// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shadowrelay"

// Metrics contains all Prometheus metrics for the relay. It satisfies
// relay.Recorder directly, so a *Metrics can be passed as Context.Flow
// without an adapter.
type Metrics struct {
	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	ConnectionErrors  *prometheus.CounterVec

	BytesSent     *prometheus.CounterVec
	BytesReceived *prometheus.CounterVec

	HandshakeFailures *prometheus.CounterVec
	ACLBlocked        *prometheus.CounterVec

	DialLatency prometheus.Histogram
	DialErrors  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests can avoid colliding with the global registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently relayed connections by server instance",
		}, []string{"instance"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total accepted connections by server instance",
		}, []string{"instance"}),
		ConnectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total connection errors by server instance and error type",
		}, []string{"instance", "error_type"}),

		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total wire bytes written to clients by server instance",
		}, []string{"instance"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total wire bytes read from clients by server instance",
		}, []string{"instance"}),

		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total AEAD handshake/address decode failures by server instance",
		}, []string{"instance"}),
		ACLBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acl_blocked_total",
			Help:      "Total connections blocked by an ACL by direction (inbound, outbound)",
		}, []string{"direction"}),

		DialLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dial_latency_seconds",
			Help:      "Histogram of outbound dial latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DialErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_errors_total",
			Help:      "Total outbound dial errors by server instance",
		}, []string{"instance"}),
	}
}

// AddTx satisfies relay.Recorder: n bytes were written to the client on
// the named server instance.
func (m *Metrics) AddTx(instance string, n int64) {
	m.BytesSent.WithLabelValues(instance).Add(float64(n))
}

// AddRx satisfies relay.Recorder: n bytes were read from the client on
// the named server instance.
func (m *Metrics) AddRx(instance string, n int64) {
	m.BytesReceived.WithLabelValues(instance).Add(float64(n))
}

// RecordAccept records a newly accepted connection on instance.
func (m *Metrics) RecordAccept(instance string) {
	m.ConnectionsActive.WithLabelValues(instance).Inc()
	m.ConnectionsTotal.WithLabelValues(instance).Inc()
}

// RecordClose records a relayed connection finishing on instance.
func (m *Metrics) RecordClose(instance string) {
	m.ConnectionsActive.WithLabelValues(instance).Dec()
}

// RecordConnectionError records a connection-level error by type, e.g.
// "handshake", "dial", "relay".
func (m *Metrics) RecordConnectionError(instance, errorType string) {
	m.ConnectionErrors.WithLabelValues(instance, errorType).Inc()
}

// RecordHandshakeFailure records an address-frame decode failure, which
// normally means a wrong method/key or an active prober.
func (m *Metrics) RecordHandshakeFailure(instance string) {
	m.HandshakeFailures.WithLabelValues(instance).Inc()
}

// RecordACLBlock records a connection blocked by the inbound or outbound
// ACL.
func (m *Metrics) RecordACLBlock(direction string) {
	m.ACLBlocked.WithLabelValues(direction).Inc()
}

// RecordDial records the latency and outcome of an outbound dial.
func (m *Metrics) RecordDial(instance string, latencySeconds float64, err error) {
	m.DialLatency.Observe(latencySeconds)
	if err != nil {
		m.DialErrors.WithLabelValues(instance).Inc()
	}
}
