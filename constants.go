package iodme

import "github.com/ioforge/iodme/internal/constants"

// Re-export pipeline defaults for the public API.
const (
	DefaultSinkPort      = constants.DefaultSinkPort
	DefaultOutputDir     = constants.DefaultOutputDir
	DefaultBuffSizeMB    = constants.DefaultBuffSizeMB
	DefaultBuffCount     = constants.DefaultBuffCount
	DefaultWriterThreads = constants.DefaultWriterThreads
	AcceptBacklog        = constants.AcceptBacklog
	RecvSockBuf          = constants.RecvSockBuf
	RTSchedPriority      = constants.RTSchedPriority
	DirectIOBlockSize    = constants.DirectIOBlockSize
	NameMaxBytes         = constants.NameMaxBytes
)
