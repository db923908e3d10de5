package funnel

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordDequeue(true)
	m.RecordDequeue(false)
	m.RecordEnqueue(true)

	snap = m.Snapshot()
	if snap.DequeueOps != 2 {
		t.Errorf("expected 2 dequeue ops, got %d", snap.DequeueOps)
	}
	if snap.DequeueMisses != 1 {
		t.Errorf("expected 1 dequeue miss, got %d", snap.DequeueMisses)
	}
	if snap.EnqueueOps != 1 {
		t.Errorf("expected 1 enqueue op, got %d", snap.EnqueueOps)
	}
	if snap.EnqueueFailures != 0 {
		t.Errorf("expected 0 enqueue failures, got %d", snap.EnqueueFailures)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsSkipFramesAndRenegotiations(t *testing.T) {
	m := NewMetrics()

	m.RecordSkipFrame()
	m.RecordSkipFrame()
	m.RecordRenegotiation()

	snap := m.Snapshot()
	if snap.SkipFrames != 2 {
		t.Errorf("expected 2 skip frames, got %d", snap.SkipFrames)
	}
	if snap.Renegotiations != 1 {
		t.Errorf("expected 1 renegotiation, got %d", snap.Renegotiations)
	}
}

func TestMetricsProcessLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordProcessTick(1_000_000) // 1ms
	m.RecordProcessTick(2_000_000) // 2ms

	snap := m.Snapshot()
	expectedAvgNs := uint64(1_500_000)
	if snap.AvgProcessLatencyNs != expectedAvgNs {
		t.Errorf("expected avg process latency %d ns, got %d ns", expectedAvgNs, snap.AvgProcessLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordDequeue(true)
	m.RecordEnqueue(true)
	m.RecordSkipFrame()

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.SkipFrames != 0 {
		t.Errorf("expected 0 skip frames after reset, got %d", snap.SkipFrames)
	}
}

func TestObserver(t *testing.T) {
	observer := NoOpObserver{}
	observer.ObserveDequeue(1000, true)
	observer.ObserveEnqueue(1000, true)
	observer.ObserveSkipFrame()
	observer.ObserveProcessTick(1000)
	observer.ObserveRenegotiation()

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveDequeue(0, true)
	metricsObserver.ObserveEnqueue(0, true)
	metricsObserver.ObserveSkipFrame()

	snap := m.Snapshot()
	if snap.DequeueOps != 1 {
		t.Errorf("expected 1 dequeue op from observer, got %d", snap.DequeueOps)
	}
	if snap.EnqueueOps != 1 {
		t.Errorf("expected 1 enqueue op from observer, got %d", snap.EnqueueOps)
	}
	if snap.SkipFrames != 1 {
		t.Errorf("expected 1 skip frame from observer, got %d", snap.SkipFrames)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordProcessTick(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordProcessTick(5_000_000) // 5ms
	}
	m.RecordProcessTick(50_000_000) // 50ms, the single slowest tick

	snap := m.Snapshot()

	if snap.ProcessLatencyP50Ns < 100_000 || snap.ProcessLatencyP50Ns > 1_000_000 {
		t.Errorf("expected P50 in 100us-1ms range, got %d ns", snap.ProcessLatencyP50Ns)
	}
	if snap.ProcessLatencyP99Ns < 5_000_000 || snap.ProcessLatencyP99Ns > 100_000_000 {
		t.Errorf("expected P99 in 5ms-100ms range, got %d ns", snap.ProcessLatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.ProcessLatencyHistogram); i++ {
		totalInBuckets += snap.ProcessLatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("expected histogram buckets to be populated")
	}
}
