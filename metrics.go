package funnel

import (
	"sync/atomic"
	"time"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 1s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,         // 1us
	10_000,        // 10us
	100_000,       // 100us
	1_000_000,     // 1ms
	10_000_000,    // 10ms
	100_000_000,   // 100ms
	1_000_000_000, // 1s
}

const numLatencyBuckets = 7

// Metrics tracks pacing and negotiation statistics for a stream.
type Metrics struct {
	// Pacing counters
	DequeueOps      atomic.Uint64 // Total dequeue attempts
	DequeueMisses   atomic.Uint64 // Dequeue attempts that returned no buffer
	EnqueueOps      atomic.Uint64 // Total enqueue attempts
	EnqueueFailures atomic.Uint64 // Enqueue attempts that failed
	SkipFrames      atomic.Uint64 // Frames skipped via skip_frame

	// Negotiation counters
	Renegotiations atomic.Uint64 // param_changed events that forced a renegotiation

	// Process-tick latency (loop-thread Process() duration)
	TotalProcessLatencyNs atomic.Uint64
	ProcessTickCount      atomic.Uint64
	ProcessLatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Stream lifecycle
	StartTime atomic.Int64 // Stream start timestamp (UnixNano)
	StopTime  atomic.Int64 // Stream stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDequeue records a dequeue attempt.
func (m *Metrics) RecordDequeue(got bool) {
	m.DequeueOps.Add(1)
	if !got {
		m.DequeueMisses.Add(1)
	}
}

// RecordEnqueue records an enqueue attempt.
func (m *Metrics) RecordEnqueue(success bool) {
	m.EnqueueOps.Add(1)
	if !success {
		m.EnqueueFailures.Add(1)
	}
}

// RecordSkipFrame records a skipped frame.
func (m *Metrics) RecordSkipFrame() {
	m.SkipFrames.Add(1)
}

// RecordRenegotiation records a param_changed-driven renegotiation.
func (m *Metrics) RecordRenegotiation() {
	m.Renegotiations.Add(1)
}

// RecordProcessTick records one loop-thread process-tick latency and
// updates the histogram.
func (m *Metrics) RecordProcessTick(latencyNs uint64) {
	m.TotalProcessLatencyNs.Add(latencyNs)
	m.ProcessTickCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.ProcessLatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the stream as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	DequeueOps      uint64
	DequeueMisses   uint64
	EnqueueOps      uint64
	EnqueueFailures uint64
	SkipFrames      uint64
	Renegotiations  uint64

	AvgProcessLatencyNs uint64
	UptimeNs            uint64

	ProcessLatencyP50Ns     uint64
	ProcessLatencyP99Ns     uint64
	ProcessLatencyHistogram [numLatencyBuckets]uint64

	TotalOps  uint64
	ErrorRate float64 // percentage of dequeue misses + enqueue failures among total ops
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		DequeueOps:      m.DequeueOps.Load(),
		DequeueMisses:   m.DequeueMisses.Load(),
		EnqueueOps:      m.EnqueueOps.Load(),
		EnqueueFailures: m.EnqueueFailures.Load(),
		SkipFrames:      m.SkipFrames.Load(),
		Renegotiations:  m.Renegotiations.Load(),
	}

	snap.TotalOps = snap.DequeueOps + snap.EnqueueOps

	totalLatencyNs := m.TotalProcessLatencyNs.Load()
	tickCount := m.ProcessTickCount.Load()
	if tickCount > 0 {
		snap.AvgProcessLatencyNs = totalLatencyNs / tickCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	failures := snap.DequeueMisses + snap.EnqueueFailures
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(failures) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.ProcessLatencyHistogram[i] = m.ProcessLatencyBuckets[i].Load()
	}

	if tickCount > 0 {
		snap.ProcessLatencyP50Ns = m.calculatePercentile(0.50)
		snap.ProcessLatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the process-tick latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalTicks := m.ProcessTickCount.Load()
	if totalTicks == 0 {
		return 0
	}

	targetCount := uint64(float64(totalTicks) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.ProcessLatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.ProcessLatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.DequeueOps.Store(0)
	m.DequeueMisses.Store(0)
	m.EnqueueOps.Store(0)
	m.EnqueueFailures.Store(0)
	m.SkipFrames.Store(0)
	m.Renegotiations.Store(0)
	m.TotalProcessLatencyNs.Store(0)
	m.ProcessTickCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.ProcessLatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDequeue(uint64, bool)    {}
func (NoOpObserver) ObserveEnqueue(uint64, bool)    {}
func (NoOpObserver) ObserveSkipFrame()               {}
func (NoOpObserver) ObserveProcessTick(uint64)       {}
func (NoOpObserver) ObserveRenegotiation()           {}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDequeue(_ uint64, got bool) {
	o.metrics.RecordDequeue(got)
}

func (o *MetricsObserver) ObserveEnqueue(_ uint64, success bool) {
	o.metrics.RecordEnqueue(success)
}

func (o *MetricsObserver) ObserveSkipFrame() {
	o.metrics.RecordSkipFrame()
}

func (o *MetricsObserver) ObserveProcessTick(latencyNs uint64) {
	o.metrics.RecordProcessTick(latencyNs)
}

func (o *MetricsObserver) ObserveRenegotiation() {
	o.metrics.RecordRenegotiation()
}

// Compile-time interface checks
var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
