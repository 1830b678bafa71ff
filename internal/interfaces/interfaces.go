// Package interfaces provides internal interface definitions shared by the
// data-mover components. These are separate from the public package to
// avoid circular imports between the root package and the internal workers.
package interfaces

// Logger is the logging dependency every worker accepts. It matches
// internal/logging.Logger's method set so either the real logger or a
// test double can be injected.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer collects pipeline metrics. Implementations must be thread-safe:
// methods are called concurrently from every NetRx and FileWriter loop.
type Observer interface {
	ObserveRecv(bytes uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveBufferStall()
	ObserveQueueDrop()
}
