package trie

import "github.com/monad-crypto/monad-exec/internal/nibble"

// Get looks up path in the subtree rooted at node, returning the leaf
// value and true if present (spec.md §4.C "Get(root, key)"). source
// resolves on-disk children, as in Upsert.
func Get(node *Node, path nibble.Path, source NodeSource) ([]byte, bool, error) {
	for {
		if node == nil {
			return nil, false, nil
		}
		cp := node.Path.CommonPrefixLen(path)
		if cp < node.Path.Len() {
			return nil, false, nil
		}
		if cp == path.Len() {
			if node.HasLeaf {
				return node.Leaf, true, nil
			}
			return nil, false, nil
		}
		branchNibble := path.At(cp)
		child, err := resolveChild(node, branchNibble, source)
		if err != nil {
			return nil, false, err
		}
		node = child
		path = path.Substr(cp + 1)
	}
}
