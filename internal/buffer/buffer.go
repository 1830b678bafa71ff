// Package buffer implements the pipeline's unit of transfer: a large
// mmap'd region plus an out-of-band metadata record, circulated between
// the network-receive and file-write stages.
package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Flags select the backing of an allocated buffer.
type Flags uint32

const (
	// HugePage requests a MAP_HUGETLB mapping (and MFD_HUGETLB when
	// combined with Memfd).
	HugePage Flags = 1 << 0
	// Memfd requests a memfd-backed mapping, required for the sendfile
	// zero-copy write path.
	Memfd Flags = 1 << 1
)

// MaxNameBytes is the longest stream name a buffer's metadata can carry,
// excluding the trailing NUL.
const MaxNameBytes = 127

// Metadata is stamped onto a buffer exactly once, by the NetRx worker
// that first fills it.
type Metadata struct {
	Seqno uint64
	Name  string
}

// Buffer is the exclusive owner of a contiguous mmap'd region, an
// optional memfd, and a metadata record. At any point in time a buffer
// is owned by exactly one of: a queue, a worker, or nobody (freed).
type Buffer struct {
	base     []byte
	capacity uint32
	size     uint32
	fd       int
	meta     *Metadata
}

// New returns a zero-value buffer, matching the reset state produced by
// Free. Callers must call Alloc before using it.
func New() *Buffer {
	b := &Buffer{}
	b.reset()
	return b
}

func (b *Buffer) reset() {
	b.base = nil
	b.capacity = 0
	b.size = 0
	b.fd = -1
	b.meta = nil
}

// Alloc acquires the backing memory for the buffer. size must be a
// multiple of 1 KiB so a FileWriter using O_DIRECT never needs more pad
// bytes than Room provides. On any failure the buffer is left fully
// reset and an error is returned; partial acquisitions are released
// before returning.
func (b *Buffer) Alloc(size uint32, flags Flags, name string) error {
	b.reset()

	if size == 0 || size%1024 != 0 {
		return fmt.Errorf("buffer: size %d is not a multiple of 1KiB", size)
	}

	fd := -1
	if flags&Memfd != 0 && name != "" {
		mfdFlags := uint32(0)
		if flags&HugePage != 0 {
			mfdFlags |= unix.MFD_HUGETLB
		}
		f, err := unix.MemfdCreate(name, int(mfdFlags))
		if err != nil {
			return fmt.Errorf("buffer: memfd_create: %w", err)
		}
		fd = f
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return fmt.Errorf("buffer: ftruncate: %w", err)
		}
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	var mmapFlags int
	if fd == -1 {
		mmapFlags = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	} else {
		// MAP_SHARED is required here: a memfd-backed buffer's whole
		// purpose is the sendfile path, which reads the memfd itself, not
		// the mapping. MAP_PRIVATE would make recv's writes land on
		// copy-on-write pages that never reach the fd.
		mmapFlags = unix.MAP_SHARED
	}
	if flags&HugePage != 0 {
		mmapFlags |= unix.MAP_HUGETLB
	}

	base, err := unix.Mmap(fd, 0, int(size), prot, mmapFlags)
	if err != nil {
		if fd != -1 {
			unix.Close(fd)
		}
		return fmt.Errorf("buffer: mmap: %w", err)
	}

	b.base = base
	b.capacity = size
	b.size = 0
	b.fd = fd
	return nil
}

// AddMetadata attaches an owned copy of m to the buffer. Fails only on
// allocation failure, which cannot happen for a value copy in Go; it
// exists to mirror the source's fallible add_metadata contract.
func (b *Buffer) AddMetadata(m Metadata) bool {
	copied := m
	b.meta = &copied
	return true
}

// Meta returns the buffer's metadata record, or nil if none has been
// stamped yet.
func (b *Buffer) Meta() *Metadata { return b.meta }

// Fd returns the memfd backing this buffer, or -1 for an anonymous
// mapping.
func (b *Buffer) Fd() int { return b.fd }

// Capacity returns the immutable total size of the buffer.
func (b *Buffer) Capacity() uint32 { return b.capacity }

// Size returns the number of bytes currently occupied.
func (b *Buffer) Size() uint32 { return b.size }

// Begin returns the start of the buffer's backing memory.
func (b *Buffer) Begin() []byte { return b.base }

// End returns the tail slice, starting right after the occupied bytes,
// ready for the next recv/write to fill.
func (b *Buffer) End() []byte { return b.base[b.size:b.capacity] }

// Room returns the number of unoccupied bytes remaining.
func (b *Buffer) Room() uint32 { return b.capacity - b.size }

// Put advances size by n after the caller has filled [End(), End()+n).
// The caller is responsible for checking Room first.
func (b *Buffer) Put(n uint32) { b.size += n }

// Clear resets size to zero without releasing memory, so the buffer can
// be reused from the clean queue.
func (b *Buffer) Clear() { b.size = 0 }

// Free releases the mapping and memfd (if any), drops the metadata, and
// resets the buffer to its zero state. Idempotent.
func (b *Buffer) Free() {
	b.meta = nil

	if b.base != nil {
		_ = unix.Munmap(b.base)
	}
	if b.fd != -1 {
		_ = unix.Close(b.fd)
	}

	b.reset()
}
