package mover

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func iovecFor(b []byte) unix.Iovec {
	var iov unix.Iovec
	if len(b) > 0 {
		iov.Base = &b[0]
	}
	iov.SetLen(len(b))
	return iov
}

func TestNewSucceeds(t *testing.T) {
	m := New()
	require.False(t, m.Failed())
	defer m.Close()
}

func TestDoWriteVmspliceRoundTrip(t *testing.T) {
	m := New()
	require.False(t, m.Failed())
	defer m.Close()

	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	tmp, err := os.CreateTemp(t.TempDir(), "mover-*")
	require.NoError(t, err)
	defer tmp.Close()

	iov := []unix.Iovec{iovecFor(payload)}
	ok := m.DoWriteVmsplice(int(tmp.Fd()), iov)
	require.True(t, ok)

	got, err := os.ReadFile(tmp.Name())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDoWriteSendfileRoundTrip(t *testing.T) {
	m := New()
	require.False(t, m.Failed())
	defer m.Close()

	payload := []byte("sendfile zero-copy payload")
	memfd, err := unix.MemfdCreate("mover-test", 0)
	require.NoError(t, err)
	defer unix.Close(memfd)

	require.NoError(t, unix.Ftruncate(memfd, int64(len(payload))))
	region, err := unix.Mmap(memfd, 0, len(payload), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	copy(region, payload)
	require.NoError(t, unix.Munmap(region))

	tmp, err := os.CreateTemp(t.TempDir(), "mover-sendfile-*")
	require.NoError(t, err)
	defer tmp.Close()

	ok := m.DoWriteSendfile(int(tmp.Fd()), memfd, len(payload))
	require.True(t, ok)

	got, err := os.ReadFile(tmp.Name())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRewindIovecConsumesAcrossSegments(t *testing.T) {
	a := make([]byte, 4)
	b := make([]byte, 4)
	iov := []unix.Iovec{iovecFor(a), iovecFor(b)}

	remaining := rewindIovec(6, iov)
	require.Len(t, remaining, 1)
	assert.EqualValues(t, 2, remaining[0].Len)
}

func TestRewindIovecPartialWithinSegment(t *testing.T) {
	a := make([]byte, 8)
	iov := []unix.Iovec{iovecFor(a)}

	base := uintptr(unsafe.Pointer(iov[0].Base))
	remaining := rewindIovec(3, iov)
	require.Len(t, remaining, 1)
	assert.EqualValues(t, 5, remaining[0].Len)
	assert.Equal(t, base+3, uintptr(unsafe.Pointer(remaining[0].Base)))
}
