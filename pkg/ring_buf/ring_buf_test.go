package ringbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuf(t *testing.T) {
	t.Run("supports push/empty/pop", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](10)
		r.True(rb.Empty())
		r.Equal(16, rb.Cap())

		r.True(rb.Push(1))
		r.False(rb.Empty())

		f, ok := rb.Front()
		r.True(ok)
		r.Equal(1, f)

		v, ok := rb.Pop()
		r.True(ok)
		r.Equal(1, v)
		r.True(rb.Empty())

		r.True(rb.Push(2))
		r.Equal(1, rb.Len())
	})

	t.Run("can fill up and counts drops", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](2)
		r.True(rb.Push(1))
		r.False(rb.Full())
		r.True(rb.Push(2))
		r.True(rb.Full())

		r.False(rb.Push(3))
		r.Equal(uint64(1), rb.Dropped())
	})

	t.Run("loops around the ring", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](4)
		for i := 0; i < 25; i++ {
			r.True(rb.Push(i))
			r.True(rb.Push(i + 100))

			v, ok := rb.Pop()
			r.True(ok)
			r.Equal(i, v)

			v, ok = rb.Pop()
			r.True(ok)
			r.Equal(i+100, v)
		}

		r.True(rb.Empty())
		_, ok := rb.Pop()
		r.False(ok)
	})

	t.Run("one producer and one consumer see every value in order", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](8)
		const n = 10000

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; {
				if rb.Push(i) {
					i++
				}
			}
		}()

		for want := 0; want < n; {
			if v, ok := rb.Pop(); ok {
				r.Equal(want, v)
				want++
			}
		}

		wg.Wait()
	})
}
