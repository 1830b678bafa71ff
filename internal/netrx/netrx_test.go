package netrx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ioforge/iodme/internal/buffer"
	"github.com/ioforge/iodme/internal/queue"
)

func socketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
	})
	return fds[0], fds[1]
}

func fillClean(t *testing.T, q *queue.Queue, n int, size uint32) []*buffer.Buffer {
	bufs := make([]*buffer.Buffer, n)
	for i := range bufs {
		b := buffer.New()
		require.NoError(t, b.Alloc(size, 0, ""))
		bufs[i] = b
		require.True(t, q.Push(b))
	}
	return bufs
}

func TestNetRxFillsBufferAndPushesAtRoomZero(t *testing.T) {
	local, remote := socketPair(t)

	clean := queue.New(4)
	dirty := queue.New(4)
	bufs := fillClean(t, clean, 2, 1024)
	defer func() {
		for _, b := range bufs {
			b.Free()
		}
	}()

	n := New(Config{Name: "cam0", SocketFd: local, Clean: clean, Dirty: dirty})
	n.Start()

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := unix.Write(remote, payload)
	require.NoError(t, err)

	var got *buffer.Buffer
	require.Eventually(t, func() bool {
		b, ok := dirty.Pop()
		if ok {
			got = b
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 1024, got.Size())
	assert.Equal(t, "cam0", got.Meta().Name)
	assert.EqualValues(t, 0, got.Meta().Seqno)

	n.Kill()
	n.Join()
	assert.False(t, n.IsRunning())
	_ = unix.Close(remote)
}

func TestNetRxFlushesPartialBufferOnPeerClose(t *testing.T) {
	local, remote := socketPair(t)

	clean := queue.New(4)
	dirty := queue.New(4)
	bufs := fillClean(t, clean, 1, 1024)
	defer func() {
		for _, b := range bufs {
			b.Free()
		}
	}()

	n := New(Config{Name: "cam1", SocketFd: local, Clean: clean, Dirty: dirty})
	n.Start()

	_, err := unix.Write(remote, []byte("partial"))
	require.NoError(t, err)
	require.NoError(t, unix.Close(remote))

	n.Join()

	b, ok := dirty.Pop()
	require.True(t, ok)
	assert.EqualValues(t, len("partial"), b.Size())
	assert.False(t, n.HasFailed())
}

func TestNetRxKillUnblocksRecv(t *testing.T) {
	local, remote := socketPair(t)
	defer unix.Close(remote)

	clean := queue.New(4)
	dirty := queue.New(4)
	bufs := fillClean(t, clean, 1, 1024)
	defer func() {
		for _, b := range bufs {
			b.Free()
		}
	}()

	n := New(Config{Name: "cam2", SocketFd: local, Clean: clean, Dirty: dirty})
	n.Start()

	require.Eventually(t, func() bool { return n.IsRunning() }, time.Second, time.Millisecond)

	n.Kill()
	n.Join()
	assert.False(t, n.IsRunning())
}
