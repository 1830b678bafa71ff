// Package iodme provides the main API for running an iodme sink: a
// zero-copy data-mover pipeline that accepts TCP streams and persists
// each one as a sequence of files, one per emitted buffer; a buffer
// flushed before it is full yields a shorter file.
package iodme

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ioforge/iodme/internal/buffer"
	"github.com/ioforge/iodme/internal/constants"
	"github.com/ioforge/iodme/internal/filewriter"
	"github.com/ioforge/iodme/internal/interfaces"
	"github.com/ioforge/iodme/internal/netrx"
	"github.com/ioforge/iodme/internal/queue"
	"github.com/ioforge/iodme/internal/worker"
)

// SinkParams contains parameters for creating a sink.
type SinkParams struct {
	OutputDir     string
	SinkPort      int
	BuffSizeMB    int
	BuffCount     int
	WriterThreads int

	HugePages bool
	DirectIO  bool
	Memfd     bool
	Splice    bool

	// CPUAffinity optionally pins each FileWriter thread to a CPU,
	// assigned round-robin. Nil means no pinning.
	CPUAffinity []int
}

// DefaultParams returns default sink parameters.
func DefaultParams() SinkParams {
	return SinkParams{
		OutputDir:     constants.DefaultOutputDir,
		SinkPort:      constants.DefaultSinkPort,
		BuffSizeMB:    constants.DefaultBuffSizeMB,
		BuffCount:     constants.DefaultBuffCount,
		WriterThreads: constants.DefaultWriterThreads,
	}
}

// Options contains additional options for sink creation.
type Options struct {
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Sink is a running iodme pipeline: a listening socket, a clean/dirty
// queue pair, a pool of FileWriters, and the NetRx workers spawned per
// accepted connection.
type Sink struct {
	params   SinkParams
	logger   interfaces.Logger
	observer interfaces.Observer

	listenFd   int
	listenPort int
	clean      *queue.Queue
	dirty      *queue.Queue
	buffers    []*buffer.Buffer
	writers    []worker.Capability

	mu         sync.Mutex
	netrxs     []worker.Capability
	killed     bool
	acceptDone chan struct{}
}

// CreateAndServe elevates scheduling privileges where possible, binds
// the listening socket, pre-allocates the buffer pool, spawns the
// FileWriter pool, and starts the accept loop on a background
// goroutine. Allocation failure during pre-allocation is fatal.
func CreateAndServe(params SinkParams, opts *Options) (*Sink, error) {
	if opts == nil {
		opts = &Options{}
	}

	s := &Sink{
		params:     params,
		logger:     opts.Logger,
		observer:   opts.Observer,
		acceptDone: make(chan struct{}),
	}

	setupRTScheduling(s.logger)

	listenFd, actualPort, err := bindAndListen(params.SinkPort)
	if err != nil {
		return nil, WrapError("LISTEN", err)
	}
	s.listenFd = listenFd
	s.listenPort = actualPort

	buffSize := uint32(params.BuffSizeMB) * 1024 * 1024
	buffFlags := buffer.Flags(0)
	if params.HugePages {
		buffFlags |= buffer.HugePage
	}
	if params.Memfd {
		buffFlags |= buffer.Memfd
	}

	s.clean = queue.New(params.BuffCount)
	s.dirty = queue.New(params.BuffCount)

	for i := 0; i < params.BuffCount; i++ {
		name := fmt.Sprintf("data-buffer-%d", i)
		b := buffer.New()
		if err := b.Alloc(buffSize, buffFlags, name); err != nil {
			s.releaseBuffers()
			unix.Close(listenFd)
			return nil, WrapError("ALLOC", err)
		}
		s.buffers = append(s.buffers, b)
		s.clean.Push(b)
	}

	wrtFlags := filewriter.Flags(0)
	if params.DirectIO {
		wrtFlags |= filewriter.DirectIO
	}
	if params.Splice {
		wrtFlags |= filewriter.Splice
	}

	for i := 0; i < params.WriterThreads; i++ {
		w := filewriter.New(filewriter.Config{
			OutputDir:   params.OutputDir,
			Flags:       wrtFlags,
			Dirty:       s.dirty,
			Clean:       s.clean,
			Logger:      s.logger,
			Observer:    s.observer,
			Index:       i,
			CPUAffinity: params.CPUAffinity,
		})
		w.Start()
		s.writers = append(s.writers, w)
	}

	if s.logger != nil {
		s.logger.Printf("sink listening on port %d, %d buffers of %d bytes, %d writer threads",
			params.SinkPort, params.BuffCount, buffSize, params.WriterThreads)
	}

	go s.acceptLoop()

	return s, nil
}

// setupRTScheduling attempts to elevate to SCHED_FIFO priority 90 and
// lock the process's memory. Failure of either is non-fatal.
func setupRTScheduling(logger interfaces.Logger) {
	if err := schedSetFIFO(constants.RTSchedPriority); err != nil && logger != nil {
		logger.Warnf("failed to set SCHED_FIFO priority %d: %v", constants.RTSchedPriority, err)
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil && logger != nil {
		logger.Warnf("failed to lock process memory: %v", err)
	}
}

// schedParam mirrors the kernel's struct sched_param for the single
// field sched_setscheduler needs.
type schedParam struct {
	priority int32
}

// schedSetFIFO elevates the calling process to SCHED_FIFO at the given
// priority. sched_setscheduler has no typed wrapper in
// golang.org/x/sys/unix, the same situation mover.go resolves for
// vmsplice with a raw syscall.
func schedSetFIFO(priority int) error {
	param := schedParam{priority: int32(priority)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}

// bindAndListen binds a non-blocking listening socket and returns its
// fd along with the port actually bound (useful when port is 0).
func bindAndListen(port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("socket: %w", err)
	}

	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("bind: %w", err)
	}

	if err := unix.Listen(fd, constants.AcceptBacklog); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("listen: %w", err)
	}

	boundAddr, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("getsockname: %w", err)
	}
	actualPort := port
	if in4, ok := boundAddr.(*unix.SockaddrInet4); ok {
		actualPort = in4.Port
	}

	return fd, actualPort, nil
}

// ListenPort returns the TCP port the sink is actually listening on,
// useful when the sink was created with port 0.
func (s *Sink) ListenPort() int { return s.listenPort }

// acceptLoop runs on its own goroutine: accept a connection, spawn a
// NetRx worker for it, and on EAGAIN reap finished workers and sleep.
func (s *Sink) acceptLoop() {
	defer close(s.acceptDone)

	for {
		s.mu.Lock()
		killed := s.killed
		s.mu.Unlock()
		if killed {
			return
		}

		connFd, _, err := unix.Accept4(s.listenFd, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				s.reapFinishedNetRx()
				time.Sleep(constants.AcceptPollSleep)
				continue
			}
			if s.logger != nil {
				s.logger.Errorf("accept failed: %v", err)
			}
			time.Sleep(constants.AcceptPollSleep)
			continue
		}

		if err := unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, constants.RecvSockBuf); err != nil && s.logger != nil {
			s.logger.Warnf("failed to set SO_RCVBUFFORCE on fd %d: %v", connFd, err)
		}

		if s.logger != nil {
			s.logger.Printf("new connection: fd %d", connFd)
		}

		n := netrx.New(netrx.Config{
			Name:     fmt.Sprintf("data-stream-%d", connFd),
			SocketFd: connFd,
			Clean:    s.clean,
			Dirty:    s.dirty,
			Logger:   s.logger,
			Observer: s.observer,
		})
		n.Start()

		s.mu.Lock()
		s.netrxs = append(s.netrxs, n)
		s.mu.Unlock()
	}
}

func (s *Sink) reapFinishedNetRx() {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.netrxs[:0]
	for _, n := range s.netrxs {
		if n.IsRunning() {
			live = append(live, n)
		}
	}
	s.netrxs = live
}

func (s *Sink) releaseBuffers() {
	for _, b := range s.buffers {
		b.Free()
	}
	s.buffers = nil
}

// Stop shuts down the sink: stop accepting, drop all NetRx workers,
// drop all FileWriters, then drain and free the clean queue.
func Stop(s *Sink) error {
	s.mu.Lock()
	s.killed = true
	netrxs := append([]worker.Capability(nil), s.netrxs...)
	s.mu.Unlock()

	unix.Close(s.listenFd)
	<-s.acceptDone

	for _, n := range netrxs {
		n.Kill()
	}
	for _, n := range netrxs {
		n.Join()
	}

	for _, w := range s.writers {
		w.Kill()
	}
	for _, w := range s.writers {
		w.Join()
	}

	for {
		b, ok := s.clean.Pop()
		if !ok {
			break
		}
		b.Free()
	}

	return nil
}
