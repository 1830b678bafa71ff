package iodme

import (
	"sync"

	"github.com/ioforge/iodme/internal/interfaces"
)

// MockObserver is a test double for interfaces.Observer that tracks
// call counts and cumulative byte counts, following the same
// pattern as the teacher's MockBackend: a mutex, counters, and explicit
// query methods rather than a generated mock.
type MockObserver struct {
	mu sync.Mutex

	recvCalls  int
	writeCalls int
	stallCalls int
	dropCalls  int

	recvBytes  uint64
	writeBytes uint64
	recvErrors int
	writeErrors int
}

// NewMockObserver creates a new observer test double.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveRecv(bytes uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.recvCalls++
	if success {
		o.recvBytes += bytes
	} else {
		o.recvErrors++
	}
}

func (o *MockObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.writeCalls++
	if success {
		o.writeBytes += bytes
	} else {
		o.writeErrors++
	}
}

func (o *MockObserver) ObserveBufferStall() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stallCalls++
}

func (o *MockObserver) ObserveQueueDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropCalls++
}

// CallCounts returns the number of times each method has been called.
func (o *MockObserver) CallCounts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return map[string]int{
		"recv":  o.recvCalls,
		"write": o.writeCalls,
		"stall": o.stallCalls,
		"drop":  o.dropCalls,
	}
}

// RecvBytes returns the cumulative bytes reported via successful
// ObserveRecv calls.
func (o *MockObserver) RecvBytes() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recvBytes
}

// WriteBytes returns the cumulative bytes reported via successful
// ObserveWrite calls.
func (o *MockObserver) WriteBytes() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeBytes
}

// Reset clears all call counters and accumulated byte counts.
func (o *MockObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.recvCalls = 0
	o.writeCalls = 0
	o.stallCalls = 0
	o.dropCalls = 0
	o.recvBytes = 0
	o.writeBytes = 0
	o.recvErrors = 0
	o.writeErrors = 0
}

// Compile-time interface check.
var _ interfaces.Observer = (*MockObserver)(nil)
