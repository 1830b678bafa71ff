// Package filewriter implements the worker that drains the dirty queue,
// persists each buffer to its own output file, and returns the buffer
// to the clean queue.
package filewriter

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ioforge/iodme/internal/buffer"
	"github.com/ioforge/iodme/internal/constants"
	"github.com/ioforge/iodme/internal/interfaces"
	"github.com/ioforge/iodme/internal/mover"
	"github.com/ioforge/iodme/internal/queue"
	"github.com/ioforge/iodme/internal/worker"
)

// Compile-time interface check.
var _ worker.Capability = (*FileWriter)(nil)

// Flags selects which write path a FileWriter prefers.
type Flags uint32

const (
	// DirectIO opens output files with O_DIRECT, padding/truncating as
	// needed.
	DirectIO Flags = 1 << 0
	// Splice routes non-memfd buffers through the vmsplice+splice path
	// instead of a plain write.
	Splice Flags = 1 << 1
)

// Config configures one FileWriter worker.
type Config struct {
	OutputDir string
	Flags     Flags
	Dirty     *queue.Queue
	Clean     *queue.Queue
	Logger    interfaces.Logger
	Observer  interfaces.Observer

	// Index is this worker's position in the writer pool, used for
	// round-robin CPU pinning against CPUAffinity.
	Index int
	// CPUAffinity optionally pins each writer's OS thread to a CPU,
	// assigned round-robin: writer N -> CPUAffinity[N % len(CPUAffinity)].
	// Nil means no pinning.
	CPUAffinity []int
}

// FileWriter is a pool worker: pop a dirty buffer, write it to disk,
// clear it, and push it back onto the clean queue regardless of write
// outcome.
type FileWriter struct {
	odir     string
	flags    Flags
	dirty    *queue.Queue
	clean    *queue.Queue
	logger   interfaces.Logger
	observer interfaces.Observer

	index       int
	cpuAffinity []int

	stop    chan struct{}
	running atomic.Bool
	failed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// New constructs a FileWriter worker. Call Start to launch its loop.
func New(cfg Config) *FileWriter {
	return &FileWriter{
		odir:        cfg.OutputDir,
		flags:       cfg.Flags,
		dirty:       cfg.Dirty,
		clean:       cfg.Clean,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		index:       cfg.Index,
		cpuAffinity: cfg.CPUAffinity,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the worker's loop on its own goroutine.
func (w *FileWriter) Start() { go w.loop() }

// Kill requests the worker stop at its next poll point.
func (w *FileWriter) Kill() { w.once.Do(func() { close(w.stop) }) }

// IsRunning reports whether the loop is still executing.
func (w *FileWriter) IsRunning() bool { return w.running.Load() }

// HasFailed reports whether the data mover failed to initialize. A
// write failure on one buffer does not fail the worker itself; the loop
// continues.
func (w *FileWriter) HasFailed() bool { return w.failed.Load() }

// Join blocks until the loop has returned.
func (w *FileWriter) Join() { <-w.done }

// setAffinity pins this worker's OS thread to a CPU chosen round-robin
// from cpuAffinity. Failure is logged and non-fatal.
func (w *FileWriter) setAffinity() {
	if len(w.cpuAffinity) == 0 {
		return
	}
	cpuIdx := w.cpuAffinity[w.index%len(w.cpuAffinity)]
	var mask unix.CPUSet
	mask.Set(cpuIdx)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		if w.logger != nil {
			w.logger.Warnf("writer %d: failed to set CPU affinity to CPU %d: %v", w.index, cpuIdx, err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Debugf("writer %d: set CPU affinity to CPU %d", w.index, cpuIdx)
	}
}

func (w *FileWriter) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		close(w.done)
	}()

	w.setAffinity()

	dme := mover.New()
	if dme.Failed() {
		if w.logger != nil {
			w.logger.Errorf("data mover engine failed to init: %v", dme.LastErrno())
		}
		w.failed.Store(true)
		return
	}
	defer dme.Close()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		b, ok := w.dirty.Pop()
		if !ok {
			time.Sleep(constants.FileWriterIdleSleep)
			continue
		}

		start := time.Now()
		ok = w.writeBuffer(dme, b)
		if w.observer != nil {
			w.observer.ObserveWrite(uint64(b.Size()), uint64(time.Since(start).Nanoseconds()), ok)
		}

		b.Clear()
		w.clean.Push(b)
	}
}

// writeBuffer implements the per-buffer write algorithm: compose the
// output path, pad for O_DIRECT if needed, open, write via the chosen
// zero-copy path, sync, drop cache residency, and truncate away any pad.
func (w *FileWriter) writeBuffer(dme *mover.Mover, b *buffer.Buffer) bool {
	meta := b.Meta()
	ofile := fmt.Sprintf("%s/%s.%06d", w.odir, meta.Name, meta.Seqno)

	openFlags := unix.O_CREAT | unix.O_TRUNC | unix.O_WRONLY
	if w.flags&DirectIO != 0 {
		openFlags |= unix.O_DIRECT
	}

	var pad uint32
	if openFlags&unix.O_DIRECT != 0 {
		rem := b.Size() % constants.DirectIOBlockSize
		if rem != 0 {
			pad = constants.DirectIOBlockSize - rem
			if pad > b.Room() {
				if w.logger != nil {
					w.logger.Warnf("no room for direct-io pad on %s, falling back to regular I/O", ofile)
				}
				openFlags &^= unix.O_DIRECT
				pad = 0
			} else {
				tail := b.End()
				for i := uint32(0); i < pad; i++ {
					tail[i] = 0
				}
				b.Put(pad)
			}
		}
	}

	fd, err := unix.Open(ofile, openFlags, 0666)
	if err != nil {
		if w.logger != nil {
			w.logger.Errorf("failed to open output file %s: %v", ofile, err)
		}
		return false
	}

	size := b.Size()
	ok, writeErr := w.writeVia(dme, fd, b)

	_ = unix.Fsync(fd)
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED)

	if pad > 0 {
		_ = unix.Ftruncate(fd, int64(size-pad))
	}
	_ = unix.Close(fd)

	if !ok {
		if w.logger != nil {
			w.logger.Errorf("write failed on %s: %v, removing file", ofile, writeErr)
		}
		_ = unix.Unlink(ofile)
	}

	return ok
}

func (w *FileWriter) writeVia(dme *mover.Mover, fd int, b *buffer.Buffer) (bool, error) {
	switch {
	case b.Fd() != -1:
		ok := dme.DoWriteSendfile(fd, b.Fd(), int(b.Size()))
		if !ok {
			return false, dme.LastErrno()
		}
		return true, nil

	case w.flags&Splice != 0:
		data := b.Begin()[:b.Size()]
		iov := []unix.Iovec{{Len: uint64(len(data))}}
		if len(data) > 0 {
			iov[0].Base = &data[0]
		}
		ok := dme.DoWriteVmsplice(fd, iov)
		if !ok {
			return false, dme.LastErrno()
		}
		return true, nil

	default:
		data := b.Begin()[:b.Size()]
		n, err := unix.Write(fd, data)
		if err != nil {
			return false, err
		}
		if n != len(data) {
			return false, fmt.Errorf("filewriter: partial write %d/%d", n, len(data))
		}
		return true, nil
	}
}
