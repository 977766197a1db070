package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/monad-crypto/monad-exec/internal/chunk"
	"github.com/monad-crypto/monad-exec/internal/nibble"
)

// Encode serializes n into the on-disk node format from spec.md §6:
//
//	[path_len: u8][mask: u16][n_children x 8B child_ref][leaf_len: u32][leaf_bytes][path_bytes]
//
// Only children that are already resolved to a disk offset are
// encodable; an in-memory child must be flushed to a chunk (obtaining
// its chunk.Offset) before its parent can be serialized. This mirrors
// the storage pool's bottom-up write order (spec.md §4.B).
func Encode(n *Node) ([]byte, error) {
	path := n.Path.Bytes()
	pathLenNibs := n.Path.Len()
	if pathLenNibs > 255 {
		return nil, fmt.Errorf("trie: path length %d exceeds encodable maximum", pathLenNibs)
	}
	nChildren := n.NumChildren()

	buf := make([]byte, 0, 1+2+nChildren*8+4+len(n.Leaf)+len(path))
	// path_len is stored in nibbles, per spec.md §3's nibble path model;
	// the byte count of path_bytes is always ceil(path_len/2).
	buf = append(buf, byte(pathLenNibs))
	buf = binary.BigEndian.AppendUint16(buf, n.Mask)

	for i := byte(0); i < 16; i++ {
		ref, ok := n.ChildAt(i)
		if !ok {
			continue
		}
		if ref.InMemory != nil && !ref.onDisk {
			return nil, fmt.Errorf("trie: cannot encode node with unflushed in-memory child at nibble %d", i)
		}
		buf = binary.BigEndian.AppendUint64(buf, uint64(ref.Disk))
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.Leaf)))
	buf = append(buf, n.Leaf...)
	buf = append(buf, path...)
	return buf, nil
}

// Decode parses the on-disk node format produced by Encode. Children
// are left as on-disk references (ChildRef.InMemory == nil); callers
// resolve them lazily through a NodeSource, per spec.md §4.B's
// "async node materialization".
func Decode(b []byte, version uint64) (*Node, error) {
	if len(b) < 1+2+4 {
		return nil, fmt.Errorf("trie: encoded node too short: %d bytes", len(b))
	}
	pathLenNibs := int(b[0])
	pathLenBytes := (pathLenNibs + 1) / 2
	mask := binary.BigEndian.Uint16(b[1:3])
	off := 3

	n := &Node{Mask: mask, Version: version}
	nChildren := popcount16(mask)
	if len(b) < off+nChildren*8+4 {
		return nil, fmt.Errorf("trie: encoded node truncated in child-ref section")
	}
	for i := byte(0); i < 16; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		raw := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		n.Children[i] = DiskRef(chunk.Offset(raw))
	}

	if len(b) < off+4 {
		return nil, fmt.Errorf("trie: encoded node truncated before leaf length")
	}
	leafLen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) < off+leafLen+pathLenBytes {
		return nil, fmt.Errorf("trie: encoded node truncated in leaf/path section")
	}
	if leafLen > 0 {
		n.HasLeaf = true
		n.Leaf = append([]byte(nil), b[off:off+leafLen]...)
	} else if mask == 0 {
		// mask==0 with zero-length leaf is still a leaf with an empty value.
		n.HasLeaf = true
		n.Leaf = []byte{}
	}
	off += leafLen

	pathBytes := b[off : off+pathLenBytes]
	off += pathLenBytes
	n.Path = nibble.FromBytes(pathBytes).Slice(0, pathLenNibs)

	return n, nil
}
