package iodme

import (
	"sync/atomic"
	"time"

	"github.com/ioforge/iodme/internal/interfaces"
)

// LatencyBuckets defines the write-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for one sink
// process.
type Metrics struct {
	// Recv-side counters.
	RecvOps    atomic.Uint64
	RecvBytes  atomic.Uint64
	RecvErrors atomic.Uint64

	// Write-side counters.
	WriteOps    atomic.Uint64
	WriteBytes  atomic.Uint64
	WriteErrors atomic.Uint64

	// Backpressure counters.
	BufferStalls atomic.Uint64 // NetRx found clean queue empty
	QueueDrops   atomic.Uint64 // a producer dropped a frame on queue-full

	// Write latency tracking.
	TotalWriteLatencyNs atomic.Uint64
	WriteLatencyCount   atomic.Uint64
	LatencyBuckets      [numLatencyBuckets]atomic.Uint64

	// Process lifecycle.
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRecv records one NetRx recv() call outcome.
func (m *Metrics) RecordRecv(bytes uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
}

// RecordWrite records one FileWriter write cycle outcome.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordBufferStall records a NetRx find-clean-queue-empty event.
func (m *Metrics) RecordBufferStall() { m.BufferStalls.Add(1) }

// RecordQueueDrop records a producer dropping a frame on queue-full.
func (m *Metrics) RecordQueueDrop() { m.QueueDrops.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalWriteLatencyNs.Add(latencyNs)
	m.WriteLatencyCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the process as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RecvOps    uint64
	RecvBytes  uint64
	RecvErrors uint64

	WriteOps    uint64
	WriteBytes  uint64
	WriteErrors uint64

	BufferStalls uint64
	QueueDrops   uint64

	AvgWriteLatencyNs uint64
	UptimeNs          uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RecvBandwidth  float64
	WriteBandwidth float64
	WriteIOPS      float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RecvOps:      m.RecvOps.Load(),
		RecvBytes:    m.RecvBytes.Load(),
		RecvErrors:   m.RecvErrors.Load(),
		WriteOps:     m.WriteOps.Load(),
		WriteBytes:   m.WriteBytes.Load(),
		WriteErrors:  m.WriteErrors.Load(),
		BufferStalls: m.BufferStalls.Load(),
		QueueDrops:   m.QueueDrops.Load(),
	}

	snap.TotalOps = snap.RecvOps + snap.WriteOps
	snap.TotalBytes = snap.RecvBytes + snap.WriteBytes

	totalLatency := m.TotalWriteLatencyNs.Load()
	latencyCount := m.WriteLatencyCount.Load()
	if latencyCount > 0 {
		snap.AvgWriteLatencyNs = totalLatency / latencyCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RecvBandwidth = float64(snap.RecvBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
	}

	totalErrors := snap.RecvErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if latencyCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates write latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.WriteLatencyCount.Load()
	if total == 0 {
		return 0
	}

	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.RecvOps.Store(0)
	m.RecvBytes.Store(0)
	m.RecvErrors.Store(0)
	m.WriteOps.Store(0)
	m.WriteBytes.Store(0)
	m.WriteErrors.Store(0)
	m.BufferStalls.Store(0)
	m.QueueDrops.Store(0)
	m.TotalWriteLatencyNs.Store(0)
	m.WriteLatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer using the built-in
// Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given
// metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, success bool) {
	o.metrics.RecordRecv(bytes, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveBufferStall() { o.metrics.RecordBufferStall() }

func (o *MetricsObserver) ObserveQueueDrop() { o.metrics.RecordQueueDrop() }

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRecv(uint64, bool)          {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveBufferStall()               {}
func (NoOpObserver) ObserveQueueDrop()                 {}

// Compile-time interface checks.
var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
