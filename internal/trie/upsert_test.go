package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/monad-crypto/monad-exec/internal/chunk"
	"github.com/monad-crypto/monad-exec/internal/nibble"
)

func pathFromHex(s string) nibble.Path {
	nibs := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			nibs[i] = c - '0'
		case c >= 'a' && c <= 'f':
			nibs[i] = c - 'a' + 10
		default:
			panic("bad hex nibble")
		}
	}
	return nibble.FromNibbles(nibs)
}

// S1 from spec.md §8: upserting nothing into an empty trie yields an
// empty (nil) root; the empty-trie Merkle hash itself is not checked
// here.
func TestEmptyTrieRoot(t *testing.T) {
	root, err := Upsert(nil, nil, 0, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.Nil(t, root)
}

func TestUpsertSingleLeafThenGet(t *testing.T) {
	p := pathFromHex("abc")
	root, err := Upsert(nil, []Update{{Path: p, Value: []byte("hello")}}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.NotNil(t, root)

	v, ok, err := Get(root, p, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)

	_, ok, err = Get(root, pathFromHex("abd"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertSplitOnDivergence(t *testing.T) {
	root, err := Upsert(nil, []Update{
		{Path: pathFromHex("a1"), Value: []byte("one")},
		{Path: pathFromHex("a2"), Value: []byte("two")},
	}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)

	v1, ok, err := Get(root, pathFromHex("a1"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("one"), v1)

	v2, ok, err := Get(root, pathFromHex("a2"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("two"), v2)

	require.NoError(t, CheckPublishInvariants(root))
}

// Duplicate-path tie-break: spec.md §4.C.1 "two updates to the same
// path in one call: the later one wins".
func TestUpsertDuplicatePathLastWins(t *testing.T) {
	p := pathFromHex("ff")
	root, err := Upsert(nil, []Update{
		{Path: p, Value: []byte("first")},
		{Path: p, Value: []byte("second")},
	}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)

	v, ok, err := Get(root, p, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), v)
}

func TestUpsertDeleteMergesSingleChild(t *testing.T) {
	root, err := Upsert(nil, []Update{
		{Path: pathFromHex("a1"), Value: []byte("one")},
		{Path: pathFromHex("a2"), Value: []byte("two")},
	}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)

	root, err = Upsert(root, []Update{{Path: pathFromHex("a1"), Delete: true}}, 2, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.NoError(t, CheckPublishInvariants(root))

	// Only "a2" survives; the branch must have been compacted into a
	// single leaf rather than leaving a single-child branch (spec.md §9
	// invariant: "a node with a single child and no leaf value is
	// forbidden except transiently").
	require.True(t, root.IsLeaf())

	v, ok, err := Get(root, pathFromHex("a2"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("two"), v)

	_, ok, err = Get(root, pathFromHex("a1"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertDeleteAllYieldsEmptyTrie(t *testing.T) {
	p := pathFromHex("12")
	root, err := Upsert(nil, []Update{{Path: p, Value: []byte("v")}}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.NotNil(t, root)

	root, err = Upsert(root, []Update{{Path: p, Delete: true}}, 2, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.Nil(t, root)
}

// Upserting into one account leaves a sibling account's value
// unchanged, and the updated account reads back its new value.
func TestUpsertSharesUnrelatedSubtrees(t *testing.T) {
	root, err := Upsert(nil, []Update{
		{Path: pathFromHex("1234"), Value: []byte("alice")},
		{Path: pathFromHex("5678"), Value: []byte("bob")},
	}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)

	bobBefore, ok, err := Get(root, pathFromHex("5678"), nil)
	require.NoError(t, err)
	require.True(t, ok)

	root2, err := Upsert(root, []Update{{Path: pathFromHex("1234"), Value: []byte("alice2")}}, 2, MerkleCompute{}, nil)
	require.NoError(t, err)

	bobAfter, ok, err := Get(root2, pathFromHex("5678"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bobBefore, bobAfter)

	aliceAfter, ok, err := Get(root2, pathFromHex("1234"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alice2"), aliceAfter)
}

func TestCopyNodeSharesChildren(t *testing.T) {
	root, err := Upsert(nil, []Update{{Path: pathFromHex("1234"), Value: []byte("alice")}}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)

	cp := CopyNode(root, 2)
	require.Equal(t, uint64(2), cp.Version)
	require.Equal(t, root.Mask, cp.Mask)
}

func TestExpireTNodeDropsOldInMemoryChildren(t *testing.T) {
	root, err := Upsert(nil, []Update{
		{Path: pathFromHex("a1"), Value: []byte("one")},
		{Path: pathFromHex("b2"), Value: []byte("two")},
	}, 1, MerkleCompute{}, nil)
	require.NoError(t, err)
	require.False(t, root.IsLeaf())

	offsets := map[byte]chunk.Offset{}
	for i := byte(0); i < 16; i++ {
		if root.Mask&(1<<i) != 0 {
			off, err := chunk.New(1, 0, true)
			require.NoError(t, err)
			offsets[i] = off
		}
	}
	ExpireTNode(root, offsets, 2)

	for i := byte(0); i < 16; i++ {
		ref, ok := root.ChildAt(i)
		if !ok {
			continue
		}
		require.Nil(t, ref.InMemory)
		require.True(t, ref.OnDisk())
	}
}

// rapidPath draws a random fixed-length nibble path, long enough that
// randomly-drawn paths collide only by deliberate construction.
func rapidPath(t *rapid.T, label string) nibble.Path {
	nibs := rapid.SliceOfN(rapid.Uint8Range(0, 15), 8, 8).Draw(t, label)
	return nibble.FromNibbles(nibs)
}

// TestUpsertGetRoundTripsAnyKeySet is spec.md §8's general upsert/get
// correctness property, generalized from the fixed S1-S5 scenarios:
// every key inserted in one batch is retrievable afterward with its
// own value, regardless of how many sibling keys share a prefix.
func TestUpsertGetRoundTripsAnyKeySet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		seen := map[string][]byte{}
		var updates []Update
		for i := 0; i < n; i++ {
			p := rapidPath(t, "path")
			v := rapid.SliceOfN(rapid.Uint8Range(0, 255), 1, 8).Draw(t, "value")
			seen[p.String()] = v
			updates = append(updates, Update{Path: p, Value: v})
		}

		root, err := Upsert(nil, updates, 1, MerkleCompute{}, nil)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		for _, u := range updates {
			want := seen[u.Path.String()]
			got, ok, err := Get(root, u.Path, nil)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !ok {
				t.Fatalf("key %s: not found after Upsert", u.Path)
			}
			if string(got) != string(want) {
				t.Fatalf("key %s: got %q, want %q (last writer for duplicate paths wins)", u.Path, got, want)
			}
		}
	})
}

// TestCopyNodeToNewKeyPreservesEverythingElse is spec.md §8's S7
// scenario: copying leaf L from src to dst (by reading src then
// upserting the same value at dst) must leave every other key's value
// exactly as it was in the source trie.
func TestCopyNodeToNewKeyPreservesEverythingElse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")
		var updates []Update
		paths := map[string]nibble.Path{}
		for i := 0; i < n; i++ {
			p := rapidPath(t, "path")
			v := rapid.SliceOfN(rapid.Uint8Range(0, 255), 1, 8).Draw(t, "value")
			paths[p.String()] = p
			updates = append(updates, Update{Path: p, Value: v})
		}
		dst := rapidPath(t, "dst")

		root, err := Upsert(nil, updates, 1, MerkleCompute{}, nil)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		srcPath := updates[rapid.IntRange(0, len(updates)-1).Draw(t, "srcIdx")].Path
		srcVal, ok, err := Get(root, srcPath, nil)
		if err != nil || !ok {
			t.Fatalf("Get(src): ok=%v err=%v", ok, err)
		}

		newRoot, err := Upsert(root, []Update{{Path: dst, Value: append([]byte(nil), srcVal...)}}, 2, MerkleCompute{}, nil)
		if err != nil {
			t.Fatalf("Upsert(dst): %v", err)
		}

		gotDst, ok, err := Get(newRoot, dst, nil)
		if err != nil || !ok {
			t.Fatalf("Get(newRoot, dst): ok=%v err=%v", ok, err)
		}
		if string(gotDst) != string(srcVal) {
			t.Fatalf("Get(newRoot, dst) = %q, want %q", gotDst, srcVal)
		}

		for key, p := range paths {
			if key == dst.String() {
				continue // dst's prior value, if any, is overwritten by design
			}
			before, beforeOK, err := Get(root, p, nil)
			if err != nil {
				t.Fatalf("Get(root, %s): %v", p, err)
			}
			after, afterOK, err := Get(newRoot, p, nil)
			if err != nil {
				t.Fatalf("Get(newRoot, %s): %v", p, err)
			}
			if beforeOK != afterOK || string(before) != string(after) {
				t.Fatalf("key %s changed: before=(%q,%v) after=(%q,%v)", p, before, beforeOK, after, afterOK)
			}
		}
	})
}
