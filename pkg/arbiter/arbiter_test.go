package arbiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	t.Run("visits every ready slot once per round", func(t *testing.T) {
		r := require.New(t)

		rr := NewRoundRobin[string]()
		slots := []Slot[string]{Some("a"), Some("b"), Some("c"), Some("d")}

		var got []int
		for i := 0; i < 8; i++ {
			idx, v, ok := rr.Arbit(slots)
			r.True(ok)
			r.Equal(slots[idx].Value, v)
			got = append(got, idx)
		}

		r.Equal([]int{0, 1, 2, 3, 0, 1, 2, 3}, got)
	})

	t.Run("starts after the previous winner", func(t *testing.T) {
		r := require.New(t)

		rr := NewRoundRobin[int]()
		slots := []Slot[int]{{}, Some(1), {}, Some(3)}

		idx, _, _ := rr.Arbit(slots)
		r.Equal(1, idx)

		idx, _, _ = rr.Arbit(slots)
		r.Equal(3, idx)

		idx, _, _ = rr.Arbit(slots)
		r.Equal(1, idx)
	})

	t.Run("nothing ready leaves the cursor alone", func(t *testing.T) {
		r := require.New(t)

		rr := NewRoundRobin[int]()
		_, _, ok := rr.Arbit([]Slot[int]{Some(0), Some(1), {}})
		r.True(ok)
		r.Equal(1, rr.next)

		_, _, ok = rr.Arbit(make([]Slot[int], 3))
		r.False(ok)
		r.Equal(1, rr.next)

		_, _, ok = rr.Arbit(nil)
		r.False(ok)
	})
}
