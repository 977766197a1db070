// Package nibble implements the 4-bit addressing unit used throughout the
// trie: paths of 0-64 nibbles, packed two-per-byte, plus the compact
// (hex-prefix) wire encoding used by the Yellow Paper's Merkle-Patricia
// trie node serialization.
package nibble

import (
	"bytes"
	"fmt"
)

// MaxNibbles is the longest path addressable inside the trie: a
// keccak256 digest is 32 bytes, i.e. 64 nibbles.
const MaxNibbles = 64

// Path is an immutable sequence of 4-bit values. The zero value is the
// empty path. Paths are compared and concatenated frequently on the
// upsert hot path, so Path stores nibbles packed two-per-byte rather
// than one nibble per byte.
type Path struct {
	packed []byte // ceil(n/2) bytes, high nibble first
	n      int    // number of nibbles
}

// FromNibbles builds a Path from a slice of individual nibble values
// (each must be in [0,16)).
func FromNibbles(ns []byte) Path {
	p := Path{packed: make([]byte, (len(ns)+1)/2), n: len(ns)}
	for i, v := range ns {
		p.set(i, v)
	}
	return p
}

// FromBytes builds a Path by expanding each input byte into two
// nibbles (high nibble first) — this is how a key's keccak256 digest
// becomes a trie path.
func FromBytes(bs []byte) Path {
	ns := make([]byte, 0, len(bs)*2)
	for _, b := range bs {
		ns = append(ns, b>>4, b&0x0f)
	}
	return FromNibbles(ns)
}

func (p Path) set(i int, v byte) {
	byteIdx := i / 2
	if i%2 == 0 {
		p.packed[byteIdx] = (p.packed[byteIdx] & 0x0f) | (v << 4)
	} else {
		p.packed[byteIdx] = (p.packed[byteIdx] & 0xf0) | (v & 0x0f)
	}
}

// Len returns the number of nibbles in the path.
func (p Path) Len() int { return p.n }

// Empty reports whether the path has zero nibbles.
func (p Path) Empty() bool { return p.n == 0 }

// At returns the nibble at index i.
func (p Path) At(i int) byte {
	if i < 0 || i >= p.n {
		panic(fmt.Sprintf("nibble.Path.At: index %d out of range [0,%d)", i, p.n))
	}
	b := p.packed[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// Substr returns the nibble subrange [from, p.Len()).
func (p Path) Substr(from int) Path { return p.Slice(from, p.n) }

// Slice returns the nibble subrange [from, to).
func (p Path) Slice(from, to int) Path {
	if from < 0 || to > p.n || from > to {
		panic(fmt.Sprintf("nibble.Path.Slice: invalid range [%d,%d) for length %d", from, to, p.n))
	}
	out := make([]byte, to-from)
	for i := range out {
		out[i] = p.At(from + i)
	}
	return FromNibbles(out)
}

// Concat returns a new path which is the receiver followed by other.
func (p Path) Concat(other Path) Path {
	out := make([]byte, 0, p.n+other.n)
	for i := 0; i < p.n; i++ {
		out = append(out, p.At(i))
	}
	for i := 0; i < other.n; i++ {
		out = append(out, other.At(i))
	}
	return FromNibbles(out)
}

// Prepend returns a new path which is nib followed by the receiver.
func (p Path) Prepend(nib byte) Path {
	out := make([]byte, 0, p.n+1)
	out = append(out, nib)
	for i := 0; i < p.n; i++ {
		out = append(out, p.At(i))
	}
	return FromNibbles(out)
}

// Equal reports whether p and other describe the same nibble sequence.
func (p Path) Equal(other Path) bool {
	if p.n != other.n {
		return false
	}
	return bytes.Equal(p.packed, other.packed)
}

// Compare orders paths lexicographically by nibble, matching the
// sorted-path-order requirement on upsert update batches (spec.md §4.C.1).
func (p Path) Compare(other Path) int {
	n := p.n
	if other.n < n {
		n = other.n
	}
	for i := 0; i < n; i++ {
		a, b := p.At(i), other.At(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case p.n < other.n:
		return -1
	case p.n > other.n:
		return 1
	default:
		return 0
	}
}

// Less reports whether p sorts before other.
func (p Path) Less(other Path) bool { return p.Compare(other) < 0 }

// CommonPrefixLen returns the length, in nibbles, of the longest
// common prefix of p and other.
func (p Path) CommonPrefixLen(other Path) int {
	n := p.n
	if other.n < n {
		n = other.n
	}
	i := 0
	for i < n && p.At(i) == other.At(i) {
		i++
	}
	return i
}

// HasPrefix reports whether prefix is a prefix of p.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.n > p.n {
		return false
	}
	return p.CommonPrefixLen(prefix) == prefix.n
}

// Bytes returns the big-endian packed serialization used on disk: the
// raw packed nibble bytes, with the final nibble zero-padded when the
// length is odd. Use Len() alongside Bytes() to recover nibble count.
func (p Path) Bytes() []byte {
	out := make([]byte, len(p.packed))
	copy(out, p.packed)
	return out
}

// String renders the path as a hex string for debugging.
func (p Path) String() string {
	var buf bytes.Buffer
	for i := 0; i < p.n; i++ {
		fmt.Fprintf(&buf, "%x", p.At(i))
	}
	return buf.String()
}

// CompactEncode implements the Yellow Paper hex-prefix encoding: a
// single leading nibble encodes parity (odd/even nibble count) and
// whether the path terminates at a leaf, packed into the path's
// leading byte (and consuming the spare nibble when the count is
// even), per spec.md §3 "compact-encoding".
func (p Path) CompactEncode(leaf bool) []byte {
	terminator := byte(0)
	if leaf {
		terminator = 2
	}
	odd := p.n % 2
	flags := terminator + byte(odd)

	var out []byte
	if odd == 1 {
		out = make([]byte, (p.n+1)/2)
		out[0] = (flags << 4) | p.At(0)
		for i := 1; i < p.n; i += 2 {
			hi := p.At(i)
			lo := byte(0)
			if i+1 < p.n {
				lo = p.At(i + 1)
			}
			out[(i+1)/2] = (hi << 4) | lo
		}
	} else {
		out = make([]byte, p.n/2+1)
		out[0] = flags << 4
		for i := 0; i < p.n; i += 2 {
			out[i/2+1] = (p.At(i) << 4) | p.At(i+1)
		}
	}
	return out
}

// CompactDecode is the inverse of CompactEncode: it returns the
// decoded path and whether the encoded path terminates at a leaf.
func CompactDecode(enc []byte) (p Path, leaf bool, err error) {
	if len(enc) == 0 {
		return Path{}, false, fmt.Errorf("nibble: empty compact encoding")
	}
	flags := enc[0] >> 4
	leaf = flags&0x02 != 0
	odd := flags&0x01 != 0

	ns := make([]byte, 0, len(enc)*2)
	if odd {
		ns = append(ns, enc[0]&0x0f)
	}
	for _, b := range enc[1:] {
		ns = append(ns, b>>4, b&0x0f)
	}
	return FromNibbles(ns), leaf, nil
}
