package iodme

import (
	"testing"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRecv(1024, true)
	m.RecordWrite(2048, 2_000_000, true) // 2KB write, 2ms latency, success
	m.RecordRecv(512, false)

	snap = m.Snapshot()

	if snap.RecvOps != 2 {
		t.Errorf("Expected 2 recv ops, got %d", snap.RecvOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}

	if snap.RecvBytes != 1024 {
		t.Errorf("Expected 1024 recv bytes, got %d", snap.RecvBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes, got %d", snap.WriteBytes)
	}

	if snap.RecvErrors != 1 {
		t.Errorf("Expected 1 recv error, got %d", snap.RecvErrors)
	}
	if snap.WriteErrors != 0 {
		t.Errorf("Expected 0 write errors, got %d", snap.WriteErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.2f%%, got %.2f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsBufferStallsAndQueueDrops(t *testing.T) {
	m := NewMetrics()

	m.RecordBufferStall()
	m.RecordBufferStall()
	m.RecordQueueDrop()

	snap := m.Snapshot()
	if snap.BufferStalls != 2 {
		t.Errorf("Expected 2 buffer stalls, got %d", snap.BufferStalls)
	}
	if snap.QueueDrops != 1 {
		t.Errorf("Expected 1 queue drop, got %d", snap.QueueDrops)
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics()

	m.RecordWrite(100, 500_000, true)   // falls in the 1ms bucket and above
	m.RecordWrite(100, 5_000_000, true) // falls in the 10ms bucket and above

	snap := m.Snapshot()
	if snap.AvgWriteLatencyNs == 0 {
		t.Error("Expected non-zero average write latency")
	}

	var sawNonZeroBucket bool
	for _, count := range snap.LatencyHistogram {
		if count > 0 {
			sawNonZeroBucket = true
			break
		}
	}
	if !sawNonZeroBucket {
		t.Error("Expected at least one non-empty latency bucket")
	}
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveRecv(10, true)
	o.ObserveWrite(20, 1000, true)
	o.ObserveBufferStall()
	o.ObserveQueueDrop()

	snap := m.Snapshot()
	if snap.RecvBytes != 10 {
		t.Errorf("Expected 10 recv bytes via observer, got %d", snap.RecvBytes)
	}
	if snap.BufferStalls != 1 {
		t.Errorf("Expected 1 buffer stall via observer, got %d", snap.BufferStalls)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRecv(100, true)
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
}
