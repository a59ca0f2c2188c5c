package goAuthClient

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one client counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAResend
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricBootstrapAuthenticated
	MetricBootstrapAnonymous
	MetricLogout
	// MetricLogoutNetworkFailure counts logouts whose server call failed;
	// local state is cleared regardless.
	MetricLogoutNetworkFailure
	MetricSessionExpired
	MetricRetryAfterRefresh
	// MetricAbandoned counts results discarded because the caller went away
	// or the session changed underneath the call.
	MetricAbandoned
	MetricLockoutLocal
	MetricLockoutServer
	MetricGuardStoreFailure
	MetricIdentifierRejected
	MetricNetworkError
	metricIDCount
)

// LatencyBounds are the upper bounds of the request latency buckets. A
// final overflow bucket takes everything slower.
var LatencyBounds = [...]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

// LatencyBucketCount includes the overflow bucket.
const LatencyBucketCount = len(LatencyBounds) + 1

// counterCell keeps each counter on its own cache line; the request path
// bumps several of them from many goroutines.
type counterCell struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters and one request latency histogram. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled bool
	latency bool

	counters       [metricIDCount]counterCell
	latencyBuckets [LatencyBucketCount]atomic.Uint64
	latencySum     atomic.Int64
}

// LatencySnapshot is a copy of the request latency histogram.
type LatencySnapshot struct {
	// Buckets holds per-bucket counts, not running totals.
	Buckets [LatencyBucketCount]uint64
	Sum     time.Duration
}

// Count is the number of observations.
func (l LatencySnapshot) Count() uint64 {
	var n uint64
	for _, v := range l.Buckets {
		n += v
	}
	return n
}

// Cumulative returns running totals, the form Prometheus expects.
func (l LatencySnapshot) Cumulative() [LatencyBucketCount]uint64 {
	var out [LatencyBucketCount]uint64
	var running uint64
	for i, v := range l.Buckets {
		running += v
		out[i] = running
	}
	return out
}

// MetricsSnapshot is a point-in-time copy. Counters is empty and Latency
// nil when metrics are disabled; Latency is also nil without
// EnableLatencyHistograms.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
	Latency  *LatencySnapshot
}

// Empty reports whether the snapshot carries nothing to export.
func (s MetricsSnapshot) Empty() bool {
	return len(s.Counters) == 0 && s.Latency == nil
}

// NewMetrics returns counters shaped by cfg. Latency is only recorded when
// both Enabled and EnableLatencyHistograms are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

// Inc adds one to the counter id. Unknown ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// ObserveLatency records one backend round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil || !m.latency {
		return
	}
	m.latencyBuckets[latencyBucket(d)].Add(1)
	m.latencySum.Add(int64(d))
}

// Value returns the current count for id, or 0 for an unknown id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: map[MetricID]uint64{}}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = m.counters[id].n.Load()
	}
	if m.latency {
		var lat LatencySnapshot
		for i := range m.latencyBuckets {
			lat.Buckets[i] = m.latencyBuckets[i].Load()
		}
		lat.Sum = time.Duration(m.latencySum.Load())
		snap.Latency = &lat
	}
	return snap
}

// latencyBucket returns the first bucket whose bound is >= d.
func latencyBucket(d time.Duration) int {
	for i, bound := range LatencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(LatencyBounds)
}
