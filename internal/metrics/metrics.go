// Package metrics provides Prometheus metrics for FIshare.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fishare"

// Metrics contains all Prometheus metrics exposed by a FIshare device.
type Metrics struct {
	// Discovery metrics
	DevicesKnown       prometheus.Gauge
	AdvertisementsSent prometheus.Counter
	BeaconsReceived    prometheus.Counter
	BeaconDecodeErrors prometheus.Counter
	DevicesPruned      prometheus.Counter

	// Transfer metrics
	TransfersActive     prometheus.Gauge
	TransfersStarted    *prometheus.CounterVec // direction
	TransfersCompleted  *prometheus.CounterVec // direction, status
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	TransferRetries     prometheus.Counter
	TransferDuration    *prometheus.HistogramVec // direction
	ConsentDecisions    *prometheus.CounterVec   // accepted

	// Session/crypto metrics
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec // kind
	AEADFailures     prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the global
// default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against a
// caller-supplied registry, letting tests use an isolated registry
// instead of mutating global state.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DevicesKnown: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_known",
			Help:      "Number of peer devices currently known to the discovery scanner",
		}),
		AdvertisementsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advertisements_sent_total",
			Help:      "Total number of discovery beacons sent",
		}),
		BeaconsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_received_total",
			Help:      "Total number of discovery beacons received and accepted",
		}),
		BeaconDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_decode_errors_total",
			Help:      "Total number of discovery datagrams dropped for malformed or unrecognized payloads",
		}),
		DevicesPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_pruned_total",
			Help:      "Total number of devices evicted by the liveness GC",
		}),

		TransfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of transfers currently in flight",
		}),
		TransfersStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_started_total",
			Help:      "Total transfers started, by direction",
		}, []string{"direction"}),
		TransfersCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_completed_total",
			Help:      "Total transfers reaching a terminal state, by direction and status",
		}, []string{"direction", "status"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total file bytes sent",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total file bytes received",
		}),
		TransferRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_retries_total",
			Help:      "Total sender retry attempts after a transport/handshake failure",
		}),
		TransferDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of completed transfers, by direction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		ConsentDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_decisions_total",
			Help:      "Total consent oracle decisions, by outcome",
		}, []string{"accepted"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Latency of the ephemeral-key handshake",
			Buckets:   prometheus.DefBuckets,
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures, by kind",
		}, []string{"kind"}),
		AEADFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aead_failures_total",
			Help:      "Total AEAD authentication failures across all sessions",
		}),
	}
}
