package trie

import (
	"sort"

	"github.com/monad-crypto/monad-exec/internal/nibble"
)

// Update is one entry of the update set U in spec.md §4.C.1: a path
// plus either a new value or a deletion marker. SubUpdates is accepted
// for interface compatibility with the spec's nested update sets
// (storage updates nested under an account update) but this engine's
// Upsert is always called once per trie (account trie and each
// storage trie are separate Upsert calls at the call site), so it is
// unused here and kept only as documentation of the shape named in
// spec.md.
type Update struct {
	Path       nibble.Path
	Delete     bool
	Value      []byte
	SubUpdates []Update
}

// sortAndDedupe implements spec.md §4.C.1's ordering & tie-break
// rules: "updates are processed in sorted path order" and "two
// updates to the same path in one call: the later one wins". Applying
// updates one key at a time (rather than the source's single
// recursive batch pass over a tnode arena) still produces exactly the
// root the spec describes, because no intermediate root is ever
// published or observed — see DESIGN.md for the rationale.
func sortAndDedupe(updates []Update) []Update {
	indexed := make([]struct {
		u   Update
		idx int
	}, len(updates))
	for i, u := range updates {
		indexed[i] = struct {
			u   Update
			idx int
		}{u, i}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		c := indexed[i].u.Path.Compare(indexed[j].u.Path)
		if c != 0 {
			return c < 0
		}
		return indexed[i].idx < indexed[j].idx
	})
	out := indexed[:0:0]
	for i := 0; i < len(indexed); i++ {
		// Keep only the last update for a repeated path: since the slice
		// is now sorted by (path, original-index), the winner for a
		// path is the one with the largest original index among the
		// run of equal paths.
		j := i
		winner := indexed[i]
		for j+1 < len(indexed) && indexed[j+1].u.Path.Equal(indexed[i].u.Path) {
			j++
			if indexed[j].idx > winner.idx {
				winner = indexed[j]
			}
		}
		out = append(out, winner.u)
		i = j
	}
	return out
}

// Upsert applies update set U to root at version v, returning the new
// root R_v (spec.md §4.C.1). Unchanged subtrees are shared
// structurally with the prior root: nodes not on the path of any
// update are never copied. source resolves on-disk children; pass nil
// when root and all reachable nodes are already in memory (as in
// tests).
func Upsert(root *Node, updates []Update, version uint64, compute Compute, source NodeSource) (*Node, error) {
	ordered := sortAndDedupe(updates)
	cur := root
	for _, u := range ordered {
		var err error
		cur, err = upsertOne(cur, u.Path, u.Value, u.Delete, version, source)
		if err != nil {
			return nil, err
		}
	}
	if cur != nil {
		recomputeRefs(cur, compute)
		if err := CheckPublishInvariants(cur); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// upsertOne performs a single-key upsert via recursive descent
// (spec.md §4.C.1 steps 1-4). node may be nil (empty subtree); path is
// relative to the caller's current position (the portion of the key
// not yet consumed by ancestors).
func upsertOne(node *Node, path nibble.Path, value []byte, del bool, version uint64, source NodeSource) (*Node, error) {
	if node == nil {
		if del {
			return nil, nil
		}
		return &Node{Path: path, HasLeaf: true, Leaf: append([]byte(nil), value...), Version: version}, nil
	}

	cp := node.Path.CommonPrefixLen(path)

	if cp < node.Path.Len() {
		// Node's own path and the incoming path diverge partway through
		// the node's path segment: split (spec.md §4.C.1 step 3).
		if del {
			return node, nil // deleting a key that cannot exist under this subtree
		}
		return splitNode(node, path, value, cp, version), nil
	}

	// cp == node.Path.Len(): the node's own path segment fully matches;
	// continue into children, or land exactly here.
	if cp == path.Len() {
		if del {
			if node.IsLeaf() {
				return nil, nil
			}
			node = cloneNode(node)
			node.HasLeaf = false
			node.Leaf = nil
			node.Version = version
			node.Ref = nil
			return compactAfterDelete(node, version, source)
		}
		node = cloneNode(node)
		node.HasLeaf = true
		node.Leaf = append([]byte(nil), value...)
		node.Version = version
		node.Ref = nil
		return node, nil
	}

	branchNibble := path.At(cp)
	childRel := path.Substr(cp + 1)
	childNode, err := resolveChild(node, branchNibble, source)
	if err != nil {
		return nil, err
	}
	hadChild := childNode != nil

	newChild, err := upsertOne(childNode, childRel, value, del, version, source)
	if err != nil {
		return nil, err
	}

	node = cloneNode(node)
	node.Version = version
	node.Ref = nil

	switch {
	case newChild == nil && hadChild:
		node.ClearChild(branchNibble)
		return compactAfterDelete(node, version, source)
	case newChild != nil:
		node.SetChild(branchNibble, MemRef(newChild))
		return node, nil
	default:
		return node, nil
	}
}

// compactAfterDelete implements spec.md §4.C.1 step 4: "On deletion
// that leaves a single child, that child is merged into the parent
// (path concatenation), removing the now-redundant branch node."
func compactAfterDelete(node *Node, version uint64, source NodeSource) (*Node, error) {
	if node.NumChildren() == 0 {
		if node.HasLeaf {
			return node, nil
		}
		return nil, nil
	}
	if node.NumChildren() == 1 && !node.HasLeaf {
		var onlyNibble byte
		for i := byte(0); i < 16; i++ {
			if node.Mask&(1<<i) != 0 {
				onlyNibble = i
				break
			}
		}
		child, err := resolveChild(node, onlyNibble, source)
		if err != nil {
			return nil, err
		}
		merged := cloneNode(child)
		merged.Path = node.Path.Concat(nibble.FromNibbles([]byte{onlyNibble})).Concat(child.Path)
		merged.Version = version
		merged.Ref = nil
		return merged, nil
	}
	return node, nil
}

// splitNode implements spec.md §4.C.1 step 3: node's path diverges
// from the incoming path at position cp. A new branch is created at
// the common prefix, holding the residual of the original node and
// the new leaf as its two children.
func splitNode(node *Node, path nibble.Path, value []byte, cp int, version uint64) *Node {
	commonPath := node.Path.Slice(0, cp)
	origNibble := node.Path.At(cp)
	origResidual := node.Path.Substr(cp + 1)

	residual := cloneNode(node)
	residual.Path = origResidual
	residual.Ref = nil

	branch := &Node{Path: commonPath, Version: version}
	branch.SetChild(origNibble, MemRef(residual))

	if cp == path.Len() {
		// The new value terminates exactly at the split point; this
		// branch carries the value directly (see compute.go: the
		// MerkleCompute branch encoding always emits an empty value
		// string, matching spec.md §4.C.4's literal 17-element list —
		// this case does not arise for fixed-length 64-nibble account/
		// storage keys, only for variable-length tries such as the
		// transaction-index trie).
		branch.HasLeaf = true
		branch.Leaf = append([]byte(nil), value...)
		return branch
	}

	newNibble := path.At(cp)
	newResidual := path.Substr(cp + 1)
	leaf := &Node{Path: newResidual, HasLeaf: true, Leaf: append([]byte(nil), value...), Version: version}
	branch.SetChild(newNibble, MemRef(leaf))
	return branch
}

func resolveChild(node *Node, nib byte, source NodeSource) (*Node, error) {
	ref, ok := node.ChildAt(nib)
	if !ok {
		return nil, nil
	}
	if ref.InMemory != nil {
		return ref.InMemory, nil
	}
	if !ref.OnDisk() {
		return nil, nil
	}
	if source == nil {
		return nil, &missingSourceError{}
	}
	return source.Resolve(ref.Disk)
}

type missingSourceError struct{}

func (missingSourceError) Error() string {
	return "trie: node reference is on-disk but no NodeSource was supplied"
}

// cloneNode returns a shallow copy of n, used whenever an ancestor on
// the update path must be replaced without mutating the version that
// a previously-published root may still be referencing (structural
// sharing, spec.md §4.C.1: "Nodes reachable from R_v that did not
// change are shared structurally with R_{v-1}").
func cloneNode(n *Node) *Node {
	c := *n
	return &c
}

// recomputeRefs recomputes every node reference bottom-up so that the
// new root's Ref (and every ancestor's) reflects the updated subtree,
// per spec.md §4.C.1 step 2 ("When npending == 0 the tnode
// recomputes its children array, path, and hash") collapsed here into
// a direct post-order walk since this implementation does not defer
// recomputation across async child fetches.
func recomputeRefs(n *Node, compute Compute) []byte {
	if n.IsLeaf() {
		ref := compute.Leaf(n.Path.CompactEncode(true), n.Leaf)
		n.Ref = ref
		return ref
	}
	var childRefs [16][]byte
	for i := byte(0); i < 16; i++ {
		if n.Mask&(1<<i) == 0 {
			continue
		}
		child := n.Children[i].InMemory
		if child == nil {
			// on-disk child whose reference is already cached from when
			// it was last written; nothing to recompute.
			continue
		}
		childRefs[i] = recomputeRefs(child, compute)
	}
	branchRef := compute.Branch(childRefs, n.Mask)
	if n.Path.Empty() {
		n.Ref = branchRef
		return branchRef
	}
	ref := compute.Extension(n.Path.CompactEncode(false), branchRef)
	n.Ref = ref
	return ref
}
