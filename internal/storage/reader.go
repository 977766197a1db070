package storage

import (
	"context"
	"fmt"

	"github.com/monad-crypto/monad-exec/internal/chunk"
)

// ReadFuture is the result of a scheduled read, resolved
// asynchronously (spec.md §4.B "read(chunk_offset, len) -> future<bytes>").
// In the fiber model described by the spec this suspends the calling
// fiber; here the equivalent suspension point is simply receiving from
// Done, which every caller does via Await (a goroutine-blocking
// operation, matching internal/trie.NodeSource's documented choice to
// use a blocking call since Go's goroutines already provide the
// suspension point).
type ReadFuture struct {
	Done chan struct{}
	data []byte
	err  error
}

// Await blocks until the read completes or ctx is cancelled.
func (f *ReadFuture) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-f.Done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read schedules an asynchronous read of length bytes at off,
// returning a future resolved on a background goroutine (spec.md
// §4.B "Read path": "Reads are scheduled on an I/O ring ... Multiple
// concurrent reads within one upsert are allowed").
func (p *Pool) Read(off chunk.Offset, length uint32) *ReadFuture {
	f := &ReadFuture{Done: make(chan struct{})}
	go func() {
		defer close(f.Done)
		if uint64(off.Count()) >= uint64(len(p.meta)) {
			f.err = fmt.Errorf("storage: chunk index %d out of range", off.Count())
			return
		}
		src := p.chunkBytes(off.Count())
		start := off.ByteOffset()
		end := uint64(start) + uint64(length)
		if end > p.chunkSize {
			f.err = fmt.Errorf("storage: read [%d,%d) exceeds chunk size %d", start, end, p.chunkSize)
			return
		}
		buf := make([]byte, length)
		copy(buf, src[start:end])
		f.data = buf
	}()
	return f
}

// ReadSync is the blocking convenience form of Read, used by
// NodeSource.Resolve implementations that do not need to overlap
// multiple reads.
func (p *Pool) ReadSync(off chunk.Offset, length uint32) ([]byte, error) {
	return p.Read(off, length).Await(context.Background())
}
