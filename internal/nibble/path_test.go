package nibble

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathBasics(t *testing.T) {
	p := FromNibbles([]byte{1, 2, 3, 4, 5})
	require.Equal(t, 5, p.Len())
	for i, want := range []byte{1, 2, 3, 4, 5} {
		require.Equal(t, want, p.At(i))
	}
}

func TestPathCompare(t *testing.T) {
	first := FromNibbles([]byte{1, 2, 3, 4})
	second := FromNibbles([]byte{1, 2, 3, 4, 5})

	require.True(t, first.Less(second))
	require.False(t, second.Less(first))
	require.True(t, first.Equal(first))
	require.False(t, first.Equal(second))

	third := FromNibbles([]byte{1, 2, 3, 1})
	require.True(t, third.Less(second))
	require.True(t, third.Less(first))

	empty := Path{}
	require.True(t, empty.Less(third))
}

func TestPathConcat(t *testing.T) {
	odd := FromNibbles([]byte{1, 2, 3})
	even := FromNibbles([]byte{1, 2})

	got := odd.Concat(even)
	require.Equal(t, FromNibbles([]byte{1, 2, 3, 1, 2}), got)

	got = odd.Concat(odd)
	require.Equal(t, FromNibbles([]byte{1, 2, 3, 1, 2, 3}), got)
}

func TestCommonPrefixLen(t *testing.T) {
	a := FromNibbles([]byte{1, 2, 3, 4, 9})
	b := FromNibbles([]byte{1, 2, 3, 5, 9})
	require.Equal(t, 3, a.CommonPrefixLen(b))
	require.True(t, a.HasPrefix(FromNibbles([]byte{1, 2, 3})))
	require.False(t, a.HasPrefix(b))
}

func TestCompactEncodeRoundTrip(t *testing.T) {
	cases := []struct {
		nibbles []byte
		leaf    bool
	}{
		{[]byte{}, false},
		{[]byte{1, 2, 3, 4, 5}, false},
		{[]byte{1, 2, 3, 4}, false},
		{[]byte{1, 2, 3, 4, 5}, true},
		{[]byte{0, 1, 2, 3}, true},
	}
	for _, c := range cases {
		p := FromNibbles(c.nibbles)
		enc := p.CompactEncode(c.leaf)
		decoded, leaf, err := CompactDecode(enc)
		require.NoError(t, err)
		require.Equal(t, c.leaf, leaf)
		require.True(t, p.Equal(decoded), "path mismatch for %v", c.nibbles)
	}
}

func TestFromBytes(t *testing.T) {
	p := FromBytes([]byte{0x12, 0x34})
	require.Equal(t, FromNibbles([]byte{1, 2, 3, 4}), p)
}
