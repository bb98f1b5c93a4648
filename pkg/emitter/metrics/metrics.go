// Package metrics holds the prometheus collectors an emitter reports about
// its own delivery pipeline. Collectors are per emitter; they are only
// registered when a Registerer is supplied.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emitter"

type Metrics struct {
	EventsEnqueued  prometheus.Counter
	EventsDropped   *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	EventsRequeued  prometheus.Counter
	SendAttempts    prometheus.Counter
	BatchesFailed   prometheus.Counter
	BeaconSends     *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	FlushDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and most embedders want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Events accepted into the pending queue",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded without delivery, by reason",
		}, []string{"reason"}),
		EventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events acknowledged by the collection endpoint",
		}),
		EventsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_requeued_total",
			Help:      "Events put back at the head of the queue after a failed send",
		}),
		SendAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "HTTP delivery attempts including retries",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Batches that exhausted every retry",
		}),
		BeaconSends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_sends_total",
			Help:      "Best-effort teardown sends by result",
		}, []string{"result"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events currently pending",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush cycles that reached the transport",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		}),
	}
}

// Nop returns unregistered collectors. Components use it when no metrics
// were configured so they never have to nil-check.
func Nop() *Metrics {
	return New(nil)
}
