package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one counter or histogram in Metrics.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorLocked
	MetricBackupCodeUsed
	MetricRegistered
	MetricEmailVerified
	MetricEmailVerificationFailure
	MetricCodeSent
	MetricCodeSendThrottled
	MetricPasswordResetRequested
	MetricPasswordResetVerified
	MetricPasswordResetFailure
	MetricPasswordChanged
	MetricPasswordUpgraded
	MetricTwoFactorEnabled
	MetricTwoFactorDisabled
	MetricAuthenticatorEnrollmentStarted
	MetricBackupCodesGenerated
	MetricFederatedLogin
	MetricFederatedFailure
	MetricFederatedAccountCreated
	MetricFederatedAccountLinked
	MetricFederatedSubjectMismatch
	MetricCredentialIssued
	MetricCredentialRejected
	MetricMailDropped
	// MetricLoginLatency and MetricValidateLatency are histograms.
	MetricLoginLatency
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper edges of the first seven histogram
// buckets; the eighth bucket takes everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

var histogramIDs = [...]MetricID{MetricLoginLatency, MetricValidateLatency}

// counterCell keeps each counter on its own cache line.
type counterCell struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters and latency histograms. The
// zero value and a nil *Metrics record nothing.
type Metrics struct {
	counting bool
	timing   bool
	counters [metricIDCount]counterCell
	latency  [len(histogramIDs)][histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter, and of the
// latency histograms when they are enabled.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics honoring cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		counting: cfg.Enabled,
		timing:   cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.counting }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.timing }

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || histogramSlot(id) >= 0 {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d into histogram id. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	slot := histogramSlot(id)
	if !m.LatencyEnabled() || slot < 0 {
		return
	}
	m.latency[slot][bucketIndex(d)].Add(1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if histogramSlot(id) < 0 {
			s.Counters[id] = m.counters[id].Load()
		}
	}
	if !m.timing {
		return s
	}
	for slot, id := range histogramIDs {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[slot][i].Load()
		}
		s.Histograms[id] = buckets
	}
	return s
}

func histogramSlot(id MetricID) int {
	for i, h := range histogramIDs {
		if h == id {
			return i
		}
	}
	return -1
}

func bucketIndex(d time.Duration) int {
	// Millisecond resolution: 5.9ms still lands in the 5ms bucket.
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
