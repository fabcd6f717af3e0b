package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by goIdentity APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricSignInCreated is an exported constant or variable used by the identity engine.
	MetricSignInCreated MetricID = iota
	// MetricSignInCompleted is an exported constant or variable used by the identity engine.
	MetricSignInCompleted
	// MetricSignUpCreated is an exported constant or variable used by the identity engine.
	MetricSignUpCreated
	// MetricSignUpCompleted is an exported constant or variable used by the identity engine.
	MetricSignUpCompleted
	// MetricFactorPrepared is an exported constant or variable used by the identity engine.
	MetricFactorPrepared
	// MetricPrepareSuppressed counts prepares answered from the cooldown guard.
	MetricPrepareSuppressed
	// MetricFactorFailed is an exported constant or variable used by the identity engine.
	MetricFactorFailed
	// MetricTransferPerformed is an exported constant or variable used by the identity engine.
	MetricTransferPerformed
	// MetricCeremonyCancelled is an exported constant or variable used by the identity engine.
	MetricCeremonyCancelled
	// MetricCeremonyFailed is an exported constant or variable used by the identity engine.
	MetricCeremonyFailed
	// MetricCallbackWithNonce is an exported constant or variable used by the identity engine.
	MetricCallbackWithNonce
	// MetricCallbackWithoutNonce is an exported constant or variable used by the identity engine.
	MetricCallbackWithoutNonce
	// MetricTokenCacheHit is an exported constant or variable used by the identity engine.
	MetricTokenCacheHit
	// MetricTokenCacheMiss is an exported constant or variable used by the identity engine.
	MetricTokenCacheMiss
	// MetricTokenFetchFailure is an exported constant or variable used by the identity engine.
	MetricTokenFetchFailure
	// MetricPollTick is an exported constant or variable used by the identity engine.
	MetricPollTick
	// MetricPollFailure is an exported constant or variable used by the identity engine.
	MetricPollFailure
	// MetricSessionRevoked is an exported constant or variable used by the identity engine.
	MetricSessionRevoked
	// MetricSignOut is an exported constant or variable used by the identity engine.
	MetricSignOut
	// MetricSignOutAll is an exported constant or variable used by the identity engine.
	MetricSignOutAll
	// MetricSnapshotApplied is an exported constant or variable used by the identity engine.
	MetricSnapshotApplied
	// MetricSnapshotStale counts snapshots dropped for being older than the held one.
	MetricSnapshotStale
	// MetricSnapshotInvalid is an exported constant or variable used by the identity engine.
	MetricSnapshotInvalid
	// MetricSnapshotPersistFailure is an exported constant or variable used by the identity engine.
	MetricSnapshotPersistFailure
	// MetricSnapshotPersistCoalesced counts pending writes replaced by a newer snapshot.
	MetricSnapshotPersistCoalesced
	// MetricTokenFetchLatency is an exported constant or variable used by the identity engine.
	MetricTokenFetchLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters and the token fetch latency
// histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by goIdentity APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. Disabled metrics and unknown ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only MetricTokenFetchLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricTokenFetchLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, the token
// fetch histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricTokenFetchLatency].buckets[i])
		}
		s.Histograms[MetricTokenFetchLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
