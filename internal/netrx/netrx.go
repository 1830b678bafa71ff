// Package netrx implements the per-connection worker that fills buffers
// from a TCP socket and hands them to the dirty queue.
package netrx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ioforge/iodme/internal/buffer"
	"github.com/ioforge/iodme/internal/constants"
	"github.com/ioforge/iodme/internal/interfaces"
	"github.com/ioforge/iodme/internal/queue"
	"github.com/ioforge/iodme/internal/worker"
)

// Compile-time interface check.
var _ worker.Capability = (*NetRx)(nil)

// Config configures one NetRx worker.
type Config struct {
	// Name is the stream name stamped into every buffer this worker
	// fills, truncated to buffer.MaxNameBytes.
	Name string
	// SocketFd is the accepted connection's file descriptor. NetRx owns
	// it and closes it on exit.
	SocketFd int
	Clean    *queue.Queue
	Dirty    *queue.Queue
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// NetRx is a per-connection worker: pop a clean buffer, recv into its
// tail until nearly full, push to dirty, repeat.
type NetRx struct {
	name     string
	sk       int
	clean    *queue.Queue
	dirty    *queue.Queue
	logger   interfaces.Logger
	observer interfaces.Observer

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	failed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// New constructs a NetRx worker. Call Start to launch its loop.
func New(cfg Config) *NetRx {
	ctx, cancel := context.WithCancel(context.Background())
	return &NetRx{
		name:     cfg.Name,
		sk:       cfg.SocketFd,
		clean:    cfg.Clean,
		dirty:    cfg.Dirty,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the worker's loop on its own goroutine.
func (n *NetRx) Start() { go n.loop() }

// Kill requests the worker stop. It also shuts down and closes the
// socket so a recv blocked on an idle connection returns immediately
// (closing alone does not wake a blocked recv on Linux).
func (n *NetRx) Kill() {
	n.cancel()
	n.once.Do(func() {
		_ = unix.Shutdown(n.sk, unix.SHUT_RDWR)
		_ = unix.Close(n.sk)
	})
}

// IsRunning reports whether the loop is still executing.
func (n *NetRx) IsRunning() bool { return n.running.Load() }

// HasFailed reports whether the connection died on a recv error rather
// than a clean peer close or supervisor-driven shutdown.
func (n *NetRx) HasFailed() bool { return n.failed.Load() }

// Join blocks until the loop has returned.
func (n *NetRx) Join() { <-n.done }

func (n *NetRx) newFrame(b *buffer.Buffer, seqno *uint64) {
	name := n.name
	if len(name) > buffer.MaxNameBytes {
		name = name[:buffer.MaxNameBytes]
	}
	b.AddMetadata(buffer.Metadata{Name: name, Seqno: *seqno})
	*seqno++

	if n.logger != nil {
		n.logger.Debugf("new-frame: capacity %d seqno %d stream %s", b.Capacity(), b.Meta().Seqno, name)
	}
}

func (n *NetRx) loop() {
	n.running.Store(true)
	defer func() {
		n.running.Store(false)
		n.once.Do(func() { _ = unix.Close(n.sk) })
		close(n.done)
	}()

	var seqno uint64
	var cur *buffer.Buffer

	for {
		select {
		case <-n.ctx.Done():
			if cur != nil && cur.Size() > 0 {
				n.pushDirty(cur)
			} else if cur != nil {
				n.clean.Push(cur)
			}
			return
		default:
		}

		if cur == nil {
			b, ok := n.clean.Pop()
			if !ok {
				if n.observer != nil {
					n.observer.ObserveBufferStall()
				}
				time.Sleep(constants.NetRxIdleSleep)
				continue
			}
			cur = b
			n.newFrame(cur, &seqno)
		}

		nread, err := unix.Read(n.sk, cur.End())
		if err != nil {
			if n.logger != nil {
				n.logger.Errorf("recv failed on stream %s: %v", n.name, err)
			}
			n.failed.Store(true)
			if n.observer != nil {
				n.observer.ObserveRecv(0, false)
			}
			if cur.Size() > 0 {
				n.pushDirty(cur)
			} else {
				n.clean.Push(cur)
			}
			return
		}

		if nread == 0 {
			if n.logger != nil {
				n.logger.Infof("stream %s: peer closed connection", n.name)
			}
			if cur.Size() > 0 {
				n.pushDirty(cur)
			} else {
				n.clean.Push(cur)
			}
			return
		}

		cur.Put(uint32(nread))
		if n.observer != nil {
			n.observer.ObserveRecv(uint64(nread), true)
		}

		if cur.Room() == 0 {
			if n.logger != nil {
				n.logger.Warnf("stream %s: buffer full, potential stall", n.name)
			}
			n.pushDirty(cur)
			cur = nil
			continue
		}

		if cur.Room() < cur.Capacity()/constants.LowWaterFraction {
			if fresh, ok := n.clean.Pop(); ok {
				n.pushDirty(cur)
				cur = fresh
				n.newFrame(cur, &seqno)
			}
		}
	}
}

// pushDirty pushes a filled buffer onto the dirty queue, recording a
// queue-drop if it does not fit (the dirty queue is sized to the pool,
// so this should only happen under misconfiguration).
func (n *NetRx) pushDirty(b *buffer.Buffer) {
	if ok := n.dirty.Push(b); !ok {
		if n.logger != nil {
			n.logger.Warnf("stream %s: dirty queue full, dropping frame seqno %d", n.name, b.Meta().Seqno)
		}
		if n.observer != nil {
			n.observer.ObserveQueueDrop()
		}
	}
}
