// Package metrics exposes Prometheus instruments for the scoring core.
//
// All methods are safe on a nil *Metrics so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pubranker"

// Metrics holds every instrument registered by the process.
type Metrics struct {
	gatherer prometheus.Gatherer

	cacheHits          prometheus.Counter
	cacheRecomputes    prometheus.Counter
	cacheInvalidations prometheus.Counter
	cacheDiscarded     prometheus.Counter

	mutations     *prometheus.CounterVec
	writeFailures prometheus.Counter

	syncState      *prometheus.GaugeVec
	syncOperations *prometheus.CounterVec
	changeEvents   *prometheus.CounterVec
	changeDropped  prometheus.Counter

	storeTier prometheus.Gauge
}

// New registers instruments on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers instruments on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "score_cache", Name: "hits_total",
			Help: "Reads served from a valid score cache.",
		}),
		cacheRecomputes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "score_cache", Name: "recomputes_total",
			Help: "Score cache recomputations after invalidation.",
		}),
		cacheInvalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "score_cache", Name: "invalidations_total",
			Help: "Score cache invalidations.",
		}),
		cacheDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "score_cache", Name: "discarded_total",
			Help: "Recomputations left stale because an invalidation raced them.",
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "mutations_total",
			Help: "Mutations applied by the gateway.",
		}, []string{"op"}),
		writeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "durable_write_failures_total",
			Help: "Durable writes that failed after the in-memory change was applied.",
		}),
		syncState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "state",
			Help: "1 for the current sync state, 0 otherwise.",
		}, []string{"state"}),
		syncOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "operations_total",
			Help: "Sync operations by kind and result.",
		}, []string{"op", "result"}),
		changeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "change_events_total",
			Help: "Inbound replication signals.",
		}, []string{"kind"}),
		changeDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "change_events_coalesced_total",
			Help: "Replication signals folded into an already pending one.",
		}),
		storeTier: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "active_tier",
			Help: "Active storage tier: 1 remote, 2 local, 3 memory.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheRecompute() {
	if m != nil {
		m.cacheRecomputes.Inc()
	}
}

func (m *Metrics) CacheInvalidated() {
	if m != nil {
		m.cacheInvalidations.Inc()
	}
}

func (m *Metrics) CacheDiscarded() {
	if m != nil {
		m.cacheDiscarded.Inc()
	}
}

func (m *Metrics) Mutation(op string) {
	if m != nil {
		m.mutations.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) WriteFailed() {
	if m != nil {
		m.writeFailures.Inc()
	}
}

// SyncState marks current as the only active state among all.
func (m *Metrics) SyncState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.syncState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SyncOperation(op, result string) {
	if m != nil {
		m.syncOperations.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) ChangeEvent(kind string) {
	if m != nil {
		m.changeEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ChangeCoalesced() {
	if m != nil {
		m.changeDropped.Inc()
	}
}

func (m *Metrics) StoreTier(tier int) {
	if m != nil {
		m.storeTier.Set(float64(tier))
	}
}
