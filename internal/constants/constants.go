package constants

import "time"

// Default sink configuration, matching the CLI defaults of the original
// iodme sink/generator tools.
const (
	// DefaultSinkPort is the TCP port the sink listens on.
	DefaultSinkPort = 15740

	// DefaultOutputDir is where received streams are written.
	DefaultOutputDir = "/tmp"

	// DefaultBuffSizeMB is the default buffer size in megabytes.
	DefaultBuffSizeMB = 1024

	// DefaultBuffCount is the default number of pre-allocated buffers.
	DefaultBuffCount = 2

	// DefaultWriterThreads is the default number of FileWriter workers.
	DefaultWriterThreads = 2

	// AcceptBacklog is the listen() backlog used by the acceptor.
	AcceptBacklog = 64

	// RecvSockBuf is the SO_RCVBUFFORCE size set on each accepted connection.
	RecvSockBuf = 256 * 1024

	// RTSchedPriority is the SCHED_FIFO priority the supervisor attempts to
	// elevate to.
	RTSchedPriority = 90

	// DirectIOBlockSize is the alignment required by O_DIRECT writes.
	DirectIOBlockSize = 512

	// NameMaxBytes is the maximum stream-name length stamped into a
	// buffer's metadata, excluding the trailing NUL.
	NameMaxBytes = 127
)

// Idle-sleep periods. The pipeline is saturating by design; these are
// short fixed-period backoffs, not a condition-variable handshake (a
// known limitation carried from the source, see spec.md §9).
const (
	// NetRxIdleSleep is how long a NetRx worker sleeps when the clean
	// queue is empty.
	NetRxIdleSleep = time.Millisecond

	// FileWriterIdleSleep is how long a FileWriter worker sleeps when the
	// dirty queue is empty.
	FileWriterIdleSleep = 100 * time.Microsecond

	// AcceptPollSleep is how long the supervisor sleeps between accept()
	// polls once EAGAIN/EWOULDBLOCK is observed.
	AcceptPollSleep = 10 * time.Millisecond
)

// LowWaterFraction is the fraction of buffer capacity below which NetRx
// opportunistically tries to swap in a fresh buffer (spec.md §4.4, step 5).
const LowWaterFraction = 8
