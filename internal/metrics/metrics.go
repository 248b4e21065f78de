package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a registered set of collectors for one participant. A nil
// *Metrics is valid and every method becomes a no-op, so components
// can hold a *Metrics unconditionally.
type Metrics struct {
	lockWaitSeconds *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	exchangeSent    *prometheus.CounterVec
	exchangeDropped *prometheus.CounterVec
}

// Disabled returns a nil *Metrics; every method on it is a no-op.
func Disabled() *Metrics { return nil }

// New constructs a Metrics and registers its collectors with reg.
// reg must not be nil; callers that want metrics disabled should use
// Disabled instead of passing a throwaway registry.
func New(reg *prometheus.Registry) *Metrics {
	const namespace = "coordsvc"

	m := &Metrics{
		lockWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent blocked waiting for a global lock to become available.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms .. ~32s
		}, []string{"kind"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently believed alive by the local participant.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Number of entry-cache reads served without a global read-lock acquisition.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Number of entry-cache reads that required a global read-lock acquisition.",
		}),
		exchangeSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_messages_sent_total",
			Help:      "Exchange-protocol frames sent, by type.",
		}, []string{"type"}),
		exchangeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_messages_dropped_total",
			Help:      "Exchange-protocol frames dropped on receipt (malformed or misaddressed), by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.lockWaitSeconds,
		m.activeSessions,
		m.cacheHits,
		m.cacheMisses,
		m.exchangeSent,
		m.exchangeDropped,
	)
	return m
}

// ObserveLockWait records seconds spent waiting for kind ("write" or
// "read") to become available.
func (m *Metrics) ObserveLockWait(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.lockWaitSeconds.WithLabelValues(kind).Observe(seconds)
}

// SetActiveSessions records the current count of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncCacheHit records a cache read served without a lock acquisition.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncCacheMiss records a cache read that fell through to the lock
// manager.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// IncExchangeSent records an attempted send of a frame of the given
// type (e.g. "InvalidateCacheEntry").
func (m *Metrics) IncExchangeSent(messageType string) {
	if m == nil {
		return
	}
	m.exchangeSent.WithLabelValues(messageType).Inc()
}

// IncExchangeDropped records a received frame dropped for reason (e.g.
// "malformed", "misaddressed").
func (m *Metrics) IncExchangeDropped(reason string) {
	if m == nil {
		return
	}
	m.exchangeDropped.WithLabelValues(reason).Inc()
}
