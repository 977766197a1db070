package trie

import "github.com/monad-crypto/monad-exec/internal/chunk"

// ExpireTNode evicts in-memory child subtrees older than
// olderThanVersion from node, replacing each evicted edge with its
// on-disk chunk offset (spec.md §4.C.3 "ExpireTNode"). offsets
// supplies the chunk location a child must already have been written
// to before it can be expired; a child missing from offsets is left
// in memory (it has not been durably written yet and cannot be
// dropped without losing data).
//
// Per-child residency (this implementation's equivalent of the
// source's cache_mask bitmask) is tracked directly on each ChildRef
// via its onDisk flag rather than a separate mask field on Node: a
// child is "cached" exactly when ChildRef.InMemory != nil, and
// "expired" exactly when it is nil with onDisk set. This collapses
// the source's parallel cache_mask/children-pointer pair into the
// single ChildRef value already used throughout this package.
func ExpireTNode(node *Node, offsets map[byte]chunk.Offset, olderThanVersion uint64) {
	if node == nil {
		return
	}
	for i := byte(0); i < 16; i++ {
		ref, ok := node.ChildAt(i)
		if !ok || ref.InMemory == nil {
			continue
		}
		child := ref.InMemory
		if child.Version >= olderThanVersion {
			// Too recent to expire; recurse in case a grandchild
			// qualifies on its own (different subtrees age independently
			// once a branch has been touched at different versions).
			ExpireTNode(child, offsets, olderThanVersion)
			continue
		}
		off, known := offsets[i]
		if !known {
			continue
		}
		node.Children[i] = DiskRef(off)
	}
}

// CacheDepth reports how many levels of node's subtree remain
// in-memory, a measure of whether a subtree is a good expiry candidate
// (spec.md §4.C.3: older subtrees are expired first, favoring
// depth-bounded memory use); no compaction pass in this module calls it.
func CacheDepth(node *Node) int {
	if node == nil {
		return 0
	}
	max := 0
	for i := byte(0); i < 16; i++ {
		ref, ok := node.ChildAt(i)
		if !ok || ref.InMemory == nil {
			continue
		}
		if d := CacheDepth(ref.InMemory); d > max {
			max = d
		}
	}
	return max + 1
}
