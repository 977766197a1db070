package trie

// CopyNode duplicates the subtree rooted at src for inclusion under a
// new version, without rewriting unchanged descendants (spec.md
// §4.C.2 "copy_node"): only the node itself is cloned; every child
// edge (in-memory or on-disk) is shared as-is with the source
// subtree. This is the same structural-sharing clone upsert.go uses
// for nodes on an update path, exposed here for callers that need to
// graft an existing subtree under a different parent at a new version
// — e.g. promoting a contract's storage trie into a snapshot, or
// reusing an unmodified account subtree when only sibling accounts
// changed.
func CopyNode(src *Node, version uint64) *Node {
	if src == nil {
		return nil
	}
	dst := cloneNode(src)
	dst.Version = version
	return dst
}

// CopySubtree recursively clones every in-memory node of src,
// producing an independent copy that can be mutated without affecting
// src. On-disk children are left as shared disk references (copying
// bytes already durable on disk buys nothing). Used when a caller
// needs a mutable working copy rather than the structurally-shared
// single-node clone CopyNode provides.
func CopySubtree(src *Node, version uint64) *Node {
	if src == nil {
		return nil
	}
	dst := cloneNode(src)
	dst.Version = version
	for i := byte(0); i < 16; i++ {
		ref, ok := dst.ChildAt(i)
		if !ok || ref.InMemory == nil {
			continue
		}
		dst.Children[i] = MemRef(CopySubtree(ref.InMemory, version))
	}
	return dst
}
