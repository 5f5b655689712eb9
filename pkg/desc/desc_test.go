package desc

import (
	"testing"

	"github.com/lab47/accelsim/pkg/mem"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBits(t *testing.T) {
	t.Run("fields span word boundaries", func(t *testing.T) {
		r := require.New(t)

		w := make([]uint32, 4)
		Set(w, 47, 16, 0xabcd1234)
		r.Equal(uint64(0xabcd1234), Get(w, 47, 16))
		r.Equal(uint32(0x12340000), w[0])
		r.Equal(uint32(0xabcd), w[1])
	})

	t.Run("set truncates to the field width", func(t *testing.T) {
		r := require.New(t)

		w := make([]uint32, 1)
		Set(w, 3, 0, 0xff)
		r.Equal(uint32(0xf), w[0])

		Set(w, 3, 0, 0)
		r.Equal(uint32(0), w[0])
	})

	t.Run("encode pads the tail with zeros", func(t *testing.T) {
		r := require.New(t)

		b := []byte{9, 9, 9, 9, 9, 9, 9, 9}
		Encode([]uint32{0x04030201}, b)
		r.Equal([]byte{1, 2, 3, 4, 0, 0, 0, 0}, b)
	})
}

func TestFrameDesc(t *testing.T) {
	r := require.New(t)

	var d FrameDesc
	d.SetAddr(0x1122334455667788)
	d.SetTotalSize(0xabcdef)
	d.SetNBlocks(3)
	d.SetSize(0x800)
	d.SetStart(true)

	b := make([]byte, FrameDescSize)
	d.Encode(b)

	var got FrameDesc
	got.Decode(b)
	r.Equal(uint64(0x1122334455667788), got.Addr())
	r.Equal(uint32(0xabcdef), got.TotalSize())
	r.Equal(uint32(3), got.NBlocks())
	r.Equal(uint32(0x800), got.Size())
	r.True(got.Start())
	r.False(got.End())

	// start is bit 120, i.e. bit 24 of the fourth word
	r.Equal(uint32(0x01000800), got[3])
}

func TestSCFrameDesc(t *testing.T) {
	t.Run("linear frames read and write in place", func(t *testing.T) {
		r := require.New(t)

		a, err := mem.NewArena(0x1000, 4096)
		r.NoError(err)

		addr, err := a.Alloc(5, 1)
		r.NoError(err)

		d := NewSCFrameDesc(addr, 5, 0)
		_, err = d.Write(a, []byte("hello"))
		r.NoError(err)

		buf := make([]byte, 16)
		n, err := d.Read(a, buf)
		r.NoError(err)
		r.Equal("hello", string(buf[:n]))
	})

	t.Run("chained frames round trip across fragments", func(t *testing.T) {
		r := require.New(t)

		a, err := mem.NewArena(0x1000, 4096)
		r.NoError(err)

		var frags []Fragment
		for _, sz := range []uint32{3, 7, 1, 5} {
			addr, err := a.Alloc(int(sz), 8)
			r.NoError(err)
			frags = append(frags, Fragment{Addr: addr, Size: sz})
		}

		list, err := a.Alloc(len(frags)*SCBufferEntrySize, 16)
		r.NoError(err)
		r.NoError(WriteFragmentList(a, list, frags))

		data := []byte("0123456789abcdef")
		d := NewSCFrameDesc(list, uint32(len(data)), uint32(len(frags)-1))

		n, err := d.Write(a, data)
		r.NoError(err)
		r.Equal(len(data), n)

		got := make([]byte, 64)
		n, err = d.Read(a, got)
		r.NoError(err)
		r.Equal(data, got[:n])

		first := make([]byte, 3)
		r.NoError(a.ReadAt(first, frags[0].Addr))
		r.Equal("012", string(first))
	})

	t.Run("mismatched total size is an error", func(t *testing.T) {
		r := require.New(t)

		a, err := mem.NewArena(0x1000, 4096)
		r.NoError(err)

		b0, _ := a.Alloc(4, 1)
		b1, _ := a.Alloc(4, 1)
		list, _ := a.Alloc(2*SCBufferEntrySize, 16)
		r.NoError(WriteFragmentList(a, list, []Fragment{{b0, 4}, {b1, 4}}))

		d := NewSCFrameDesc(list, 9, 1)
		_, err = d.Read(a, make([]byte, 64))
		r.True(errors.Is(err, ErrSizeMismatch))
	})
}

func TestBuffer(t *testing.T) {
	t.Run("a single part is stored linear", func(t *testing.T) {
		r := require.New(t)

		arena, err := mem.NewArena(0x1000, 1<<12)
		r.NoError(err)

		b, err := NewBuffer(arena, []byte("hello world"))
		r.NoError(err)
		r.True(b.Desc.Linear())
		r.Equal(uint32(11), b.Desc.TotalSize())

		data, err := b.Bytes(arena)
		r.NoError(err)
		r.Equal("hello world", string(data))
	})

	t.Run("several parts become a fragment list", func(t *testing.T) {
		r := require.New(t)

		arena, err := mem.NewArena(0x1000, 1<<12)
		r.NoError(err)

		b, err := NewBuffer(arena, []byte("abc"), []byte("defgh"), []byte("i"))
		r.NoError(err)
		r.False(b.Desc.Linear())
		r.Equal(uint32(2), b.Desc.NBlocks())
		r.Len(b.Frags, 3)

		frags, err := b.Desc.Fragments(arena)
		r.NoError(err)
		r.Equal(b.Frags, frags)

		data, err := b.Bytes(arena)
		r.NoError(err)
		r.Equal("abcdefghi", string(data))
	})

	t.Run("fails once the arena is used up", func(t *testing.T) {
		r := require.New(t)

		arena, err := mem.NewArena(0x1000, 16)
		r.NoError(err)

		_, err = NewBuffer(arena, make([]byte, 32))
		r.ErrorIs(err, mem.ErrExhausted)
	})
}
