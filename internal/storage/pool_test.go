package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/monad-exec/internal/chunk"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.db")
	p, err := Open(path, 4, 1<<20) // 4 chunks of 1 MiB for fast tests
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocateAndFreeChunk(t *testing.T) {
	p := openTestPool(t)
	idx, err := p.AllocateChunk(true)
	require.NoError(t, err)
	require.Equal(t, ChunkInUse, p.Meta(idx).State)

	p.FreeChunk(idx, true)
	require.Equal(t, ChunkFree, p.Meta(idx).State)
}

func TestStreamWriteAndTranslate(t *testing.T) {
	p := openTestPool(t)
	v := p.Fast.ReserveVirtual(5)
	require.NoError(t, p.Fast.Write(v, []byte("hello")))
	require.NoError(t, p.Fast.AdvanceWriteCursor())

	off, ok := p.Fast.Translate(v)
	require.True(t, ok)

	got, err := p.ReadSync(off, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestNodeStoreRoundTrip(t *testing.T) {
	p := openTestPool(t)
	ns := NewNodeStore(p.Fast)

	leaf := &trie.Node{HasLeaf: true, Leaf: []byte("value"), Version: 1}
	off, err := ns.WriteNode(leaf, 1)
	require.NoError(t, err)
	require.NoError(t, p.Fast.AdvanceWriteCursor())

	got, err := ns.Resolve(off)
	require.NoError(t, err)
	require.Equal(t, leaf.Leaf, got.Leaf)
	require.True(t, got.HasLeaf)
}

func TestDbMetadataRootRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	m, err := OpenMetadata(path, 256, 10_000)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	off, err := chunk.New(3, 128, true)
	require.NoError(t, err)
	require.NoError(t, m.PutRoot(42, off))

	got, ok, err := m.Root(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(off))

	_, ok, err = m.Root(999999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompactorFreesChunksOutsideRetentionWindow(t *testing.T) {
	p := openTestPool(t)
	idxA, err := p.AllocateChunk(true)
	require.NoError(t, err)

	metaPath := filepath.Join(t.TempDir(), "meta.db")
	m, err := OpenMetadata(metaPath, 2, 1)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	p.metaMu.Lock()
	p.meta[idxA].InsertionCount = 1
	p.metaMu.Unlock()

	comp := NewCompactor(p, m, func() (uint64, uint64) { return 100, 100 })
	comp.RunOnce()

	require.Equal(t, ChunkFree, p.Meta(idxA).State)
}
