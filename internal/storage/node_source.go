package storage

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/monad-crypto/monad-exec/internal/chunk"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// nodeCacheSize bounds the number of decoded nodes NodeStore keeps
// warm by chunk.Offset. A node-id MPT re-resolves the same hot
// interior nodes (account-trie root and its upper levels) on every
// block, so a small LRU avoids re-reading and re-decoding them from
// the chunk pool on every Resolve.
const nodeCacheSize = 4096

// zstdEncoder/zstdDecoder are process-wide: EncodeAll/DecodeAll are
// documented safe for concurrent use by multiple goroutines sharing
// one instance, which is what the pipeline's concurrent
// WriteNode/Resolve calls need.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// NodeStore adapts a Pool into trie.NodeSource and provides the
// write-side counterpart: WriteNode serializes a node (spec.md §6's
// node format, via internal/trie.Encode) prefixed by a 4-byte length
// so that a later read does not need to already know the node's
// encoded size. WriteNode's version argument is not used: the wire
// format does not carry a version (spec.md §6's layout has no version
// field), and Resolve decodes nodes with Version 0; only a cache hit
// returns the node as it was written.
type NodeStore struct {
	stream *Stream
	cache  *lru.Cache[chunk.Offset, *trie.Node]
}

// NewNodeStore wraps stream (Pool.Fast or Pool.Slow) as a trie node
// source/sink.
func NewNodeStore(stream *Stream) *NodeStore {
	cache, err := lru.New[chunk.Offset, *trie.Node](nodeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// nodeCacheSize never is.
		panic(err)
	}
	return &NodeStore{stream: stream, cache: cache}
}

// WriteNode encodes n, zstd-compresses the encoding, and appends it to
// the stream prefixed by the compressed length, returning the
// chunk.Offset a parent node can store as this node's on-disk
// reference. The decoded node is seeded into the resolve cache under
// that offset, since the caller already holds it.
func (ns *NodeStore) WriteNode(n *trie.Node, version uint64) (chunk.Offset, error) {
	enc, err := trie.Encode(n)
	if err != nil {
		return 0, fmt.Errorf("storage: encode node: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(enc, nil)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(compressed)))

	v := ns.stream.ReserveVirtual(uint64(len(lenPrefix) + len(compressed)))
	if err := ns.stream.Write(v, append(lenPrefix[:], compressed...)); err != nil {
		return 0, err
	}
	off, ok := ns.stream.Translate(v)
	if !ok {
		return 0, fmt.Errorf("storage: translate virtual offset %d: not yet flushed", v)
	}
	ns.cache.Add(off, n)
	return off, nil
}

// Resolve implements trie.NodeSource: it checks the decoded-node
// cache first, then falls back to reading the 4-byte compressed
// length prefix, the zstd-compressed body, and decoding it.
func (ns *NodeStore) Resolve(off chunk.Offset) (*trie.Node, error) {
	if n, ok := ns.cache.Get(off); ok {
		return n, nil
	}

	header, err := ns.stream.pool.ReadSync(off, 4)
	if err != nil {
		return nil, fmt.Errorf("storage: read node length: %w", err)
	}
	length := binary.BigEndian.Uint32(header)

	bodyOff, err := chunk.New(off.Count(), off.ByteOffset()+4, off.IsFast())
	if err != nil {
		return nil, err
	}
	compressed, err := ns.stream.pool.ReadSync(bodyOff, length)
	if err != nil {
		return nil, fmt.Errorf("storage: read node body: %w", err)
	}
	body, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress node body: %w", err)
	}
	n, err := trie.Decode(body, 0)
	if err != nil {
		return nil, err
	}
	ns.cache.Add(off, n)
	return n, nil
}
