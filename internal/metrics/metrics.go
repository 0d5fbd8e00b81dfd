// Package metrics exposes simulator counters in Prometheus format.
//
// Every recording method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obsim"

type Metrics struct {
	registry *prometheus.Registry

	increments       prometheus.Counter
	diffEntries      *prometheus.CounterVec
	regenerations    prometheus.Counter
	evictions        prometheus.Counter
	deliveryFailures prometheus.Counter
	subscribers      prometheus.Gauge
	pendingSnapshots prometheus.Gauge
	sequence         prometheus.Gauge
}

// New builds a Metrics on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		increments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "increments_total",
			Help:      "Increment batches produced.",
		}),
		diffEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diff_entries_total",
			Help:      "Diff entries produced, by book side.",
		}, []string{"side"}),
		regenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_regenerations_total",
			Help:      "Full book regenerations after the price series wrapped.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_evictions_total",
			Help:      "Subscribers closed because a new one attached or the harness disconnected them.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Pushes to the subscriber that failed.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscribers (0 or 1).",
		}),
		pendingSnapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_snapshot_requests",
			Help:      "Snapshot requests waiting for release.",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_sequence",
			Help:      "Current book sequence.",
		}),
	}
	m.registry.MustRegister(
		m.increments, m.diffEntries, m.regenerations, m.evictions,
		m.deliveryFailures, m.subscribers, m.pendingSnapshots, m.sequence,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Increment records one produced batch.
func (m *Metrics) Increment(bids, asks int, sequence uint64) {
	if m == nil {
		return
	}
	m.increments.Inc()
	m.diffEntries.WithLabelValues("bid").Add(float64(bids))
	m.diffEntries.WithLabelValues("ask").Add(float64(asks))
	m.sequence.Set(float64(sequence))
}

func (m *Metrics) Sequence(sequence uint64) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(sequence))
}

func (m *Metrics) Regenerated() {
	if m == nil {
		return
	}
	m.regenerations.Inc()
}

func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) PendingSnapshots(n int) {
	if m == nil {
		return
	}
	m.pendingSnapshots.Set(float64(n))
}
