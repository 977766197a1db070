package trie

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/monad-exec/internal/chunk"
)

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	n := &Node{Path: pathFromHex("a1b"), HasLeaf: true, Leaf: []byte("value"), Version: 7}
	enc, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(enc, 7)
	require.NoError(t, err)
	require.True(t, got.Path.Equal(n.Path))
	require.Equal(t, n.Leaf, got.Leaf)
	require.True(t, got.HasLeaf)
	require.True(t, got.IsLeaf())
}

func TestEncodeDecodeBranchWithDiskChildren(t *testing.T) {
	n := &Node{Path: pathFromHex("1"), Version: 3}
	off1, err := chunk.New(1, 100, true)
	require.NoError(t, err)
	off2, err := chunk.New(2, 200, false)
	require.NoError(t, err)
	n.SetChild(0xa, DiskRef(off1))
	n.SetChild(0xb, DiskRef(off2))

	enc, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(enc, 3)
	require.NoError(t, err)
	require.Equal(t, n.Mask, got.Mask)

	ref, ok := got.ChildAt(0xa)
	require.True(t, ok)
	require.True(t, ref.Disk.Equal(off1))

	ref2, ok := got.ChildAt(0xb)
	require.True(t, ok)
	require.True(t, ref2.Disk.Equal(off2))
}

func TestEncodeRejectsUnflushedInMemoryChild(t *testing.T) {
	n := &Node{Path: pathFromHex(""), Version: 1}
	n.SetChild(0x0, MemRef(&Node{HasLeaf: true, Leaf: []byte("x")}))
	_, err := Encode(n)
	require.Error(t, err)
}
