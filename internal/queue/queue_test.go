package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioforge/iodme/internal/buffer"
)

func TestPushPopSingleItem(t *testing.T) {
	q := New(4)
	b := buffer.New()
	require.NoError(t, b.Alloc(1024, 0, ""))
	defer b.Free()

	assert.True(t, q.Push(b))
	got, ok := q.Pop()
	assert.True(t, ok)
	assert.Same(t, b, got)
}

func TestPopOnEmptyReturnsFalse(t *testing.T) {
	q := New(4)
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPushOnFullReturnsFalseWithoutModifying(t *testing.T) {
	q := New(2) // rounds to 2
	b1 := buffer.New()
	b2 := buffer.New()
	require.NoError(t, b1.Alloc(1024, 0, ""))
	require.NoError(t, b2.Alloc(1024, 0, ""))
	defer b1.Free()
	defer b2.Free()

	require.True(t, q.Push(b1))
	require.True(t, q.Push(b2))

	overflow := buffer.New()
	require.NoError(t, overflow.Alloc(1024, 0, ""))
	defer overflow.Free()

	assert.False(t, q.Push(overflow))

	got, ok := q.Pop()
	assert.True(t, ok)
	assert.Same(t, b1, got)
}

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	q := New(5)
	assert.Equal(t, 8, q.Cap())
}

func TestConcurrentPushPop(t *testing.T) {
	const n = 1000
	q := New(64)

	bufs := make([]*buffer.Buffer, n)
	for i := range bufs {
		bufs[i] = buffer.New()
		require.NoError(t, bufs[i].Alloc(1024, 0, ""))
	}
	defer func() {
		for _, b := range bufs {
			b.Free()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for _, b := range bufs {
			for !q.Push(b) {
			}
		}
	}()

	seen := make([]*buffer.Buffer, 0, n)
	var mu sync.Mutex
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				b, ok := q.Pop()
				if ok {
					mu.Lock()
					seen = append(seen, b)
					mu.Unlock()
					break
				}
			}
		}
	}()

	wg.Wait()
	assert.Len(t, seen, n)
}
