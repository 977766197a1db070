package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOffsetPackUnpack(t *testing.T) {
	o, err := New(42, 1<<20, true)
	require.NoError(t, err)
	require.Equal(t, uint32(42), o.Count())
	require.Equal(t, uint32(1<<20), o.ByteOffset())
	require.True(t, o.IsFast())
}

func TestOffsetEqualityIgnoresSpareAndFast(t *testing.T) {
	a, err := New(7, 100, true)
	require.NoError(t, err)
	b, err := New(7, 100, false)
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	require.False(t, a == b) // is_fast bit differs at the raw-value level
}

func TestOffsetOrdering(t *testing.T) {
	a, _ := New(1, 0, false)
	b, _ := New(1, 100, false)
	c, _ := New(2, 0, false)
	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
}

func TestOffsetRejectsOverflow(t *testing.T) {
	_, err := New(MaxChunkCount+1, 0, false)
	require.Error(t, err)
	_, err = New(0, offsetMask+1, false)
	require.Error(t, err)
}

// TestOffsetRoundTripsAnyValidField checks, for any in-range
// count/byte-offset/fast-bit triple, that New followed by the three
// accessors reproduces exactly what went in — the packing invariant
// every other chunk.Offset behavior (ordering, equality) relies on.
func TestOffsetRoundTripsAnyValidField(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.Uint32Range(0, MaxChunkCount).Draw(t, "count")
		byteOffset := rapid.Uint32Range(0, uint32(offsetMask)).Draw(t, "byteOffset")
		fast := rapid.Bool().Draw(t, "fast")

		o, err := New(count, byteOffset, fast)
		if err != nil {
			t.Fatalf("New(%d, %d, %v): %v", count, byteOffset, fast, err)
		}
		if o.Count() != count {
			t.Fatalf("Count() = %d, want %d", o.Count(), count)
		}
		if o.ByteOffset() != byteOffset {
			t.Fatalf("ByteOffset() = %d, want %d", o.ByteOffset(), byteOffset)
		}
		if o.IsFast() != fast {
			t.Fatalf("IsFast() = %v, want %v", o.IsFast(), fast)
		}
	})
}

// TestOffsetLessIsConsistentWithOrdering checks Less against the
// natural (count, byteOffset) ordering Offset.normalized() is meant to
// expose, independent of the is_fast bit (spec.md §3's "Chunk offset"
// never orders on fastness).
func TestOffsetLessIsConsistentWithOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c1 := rapid.Uint32Range(0, MaxChunkCount).Draw(t, "c1")
		b1 := rapid.Uint32Range(0, uint32(offsetMask)).Draw(t, "b1")
		c2 := rapid.Uint32Range(0, MaxChunkCount).Draw(t, "c2")
		b2 := rapid.Uint32Range(0, uint32(offsetMask)).Draw(t, "b2")

		o1, err := New(c1, b1, false)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		o2, err := New(c2, b2, true)
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		want := c1 < c2 || (c1 == c2 && b1 < b2)
		if o1.Less(o2) != want {
			t.Fatalf("Less(%v, %v) = %v, want %v", o1, o2, o1.Less(o2), want)
		}
	})
}

func TestVirtualCompact(t *testing.T) {
	v := Virtual(0x0000_0001_0002_3456)
	c := v.Compact()
	require.Equal(t, uint32(0x0000_0001_0002), c)
	require.Equal(t, Virtual(0x0000_0001_0002_0000), Expand(c))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(8), AlignUp(1, 8))
	require.Equal(t, uint64(8), AlignUp(8, 8))
	require.Equal(t, uint64(16), AlignUp(9, 8))
	require.Equal(t, uint64(0), AlignUp(0, 8))
}
