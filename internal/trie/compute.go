package trie

import (
	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/rlp"
)

// Compute is the capability interface replacing the source's
// virtual-dispatch Compute/StateMachine hierarchy (spec.md §9 "Design
// Notes"): concrete strategies decide how (or whether) a subtree's
// hash is derived. EmptyCompute skips hashing entirely (no caller in
// this module uses it); MerkleCompute implements the Yellow Paper
// state-root algorithm (spec.md §4.C.4).
type Compute interface {
	// Leaf computes the node reference for a leaf node given its
	// compact-encoded path and raw leaf value.
	Leaf(pathCompact []byte, leafData []byte) []byte
	// Branch computes the node reference for a branch with up to 16
	// children (each already reduced to a reference) and an optional
	// value string (always empty for account/storage tries, spec.md
	// §4.C.4: "[child_0, ..., child_15, empty_value_string]").
	Branch(children [16][]byte, present uint16) []byte
	// Extension computes the node reference for a node that carries
	// both a path and children (an "extension+branch"): the compact
	// path is RLP-encoded alongside the already-computed branch hash.
	Extension(pathCompact []byte, branchRef []byte) []byte
}

// ToNodeReference returns rlpBytes directly if short enough to inline,
// else its keccak256 hash — spec.md §4.C.4 "to_node_reference".
func ToNodeReference(rlpBytes []byte) []byte {
	if len(rlpBytes) < MaxRefLen {
		out := make([]byte, len(rlpBytes))
		copy(out, rlpBytes)
		return out
	}
	h := crypto.Keccak256(rlpBytes)
	return h[:]
}

// EmptyCompute never hashes, for tries whose Merkle root is not needed
// (spec.md §4.C.1 "empty compute is allowed for non-hashed subtries");
// no caller in this module uses it.
type EmptyCompute struct{}

func (EmptyCompute) Leaf([]byte, []byte) []byte                  { return nil }
func (EmptyCompute) Branch([16][]byte, uint16) []byte             { return nil }
func (EmptyCompute) Extension([]byte, []byte) []byte              { return nil }

// MerkleCompute implements the account/storage/receipt trie hashing
// rules from spec.md §4.C.4, grounded on the original source's
// db/include/monad/mpt/compute.hpp MerkleCompute (RLP-encode the
// hex-prefix path plus leaf/branch data, hash via to_node_reference
// whenever the encoding is >=32 bytes).
type MerkleCompute struct{}

func (MerkleCompute) Leaf(pathCompact []byte, leafData []byte) []byte {
	enc := rlp.EncodeList(rlp.EncodeString(pathCompact), rlp.EncodeString(leafData))
	return ToNodeReference(enc)
}

func (MerkleCompute) Branch(children [16][]byte, present uint16) []byte {
	items := make([][]byte, 17)
	for i := 0; i < 16; i++ {
		if present&(1<<i) != 0 && children[i] != nil {
			if len(children[i]) < MaxRefLen {
				// inline RLP bytes are stored as-is; they are already a
				// valid RLP item (string or list) per to_node_reference.
				items[i] = children[i]
				continue
			}
			items[i] = rlp.EncodeString(children[i])
			continue
		}
		items[i] = rlp.EncodeString(nil)
	}
	items[16] = rlp.EncodeString(nil) // empty value string: branches never carry a value in this trie
	enc := rlp.EncodeList(items...)
	return ToNodeReference(enc)
}

func (MerkleCompute) Extension(pathCompact []byte, branchRef []byte) []byte {
	var branchItem []byte
	if len(branchRef) < MaxRefLen {
		branchItem = branchRef
	} else {
		branchItem = rlp.EncodeString(branchRef)
	}
	enc := rlp.EncodeList(rlp.EncodeString(pathCompact), branchItem)
	return ToNodeReference(enc)
}
