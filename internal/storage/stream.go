package storage

import (
	"sync"

	"github.com/monad-crypto/monad-exec/internal/chunk"
)

// WriteSize is the default DMA-aligned write buffer size (spec.md
// §4.B "Write buffers": "default size WRITE_SIZE, e.g. 2 MiB").
const WriteSize = 2 << 20

// Stream is one of the pool's two logical append streams (fast or
// slow), owned by a single writer at a time (spec.md §4.B: "A fixed
// ring of DMA-aligned buffers ... is owned by a single writer fiber
// per stream").
type Stream struct {
	pool *Pool
	fast bool
	zone chunk.Zone

	mu sync.Mutex

	virtualCursor uint64 // next virtual offset to hand out

	curChunk    uint32
	haveChunk   bool
	chunkCursor uint32 // write position within the current chunk

	active []byte // the current DMA-aligned write buffer
	filled int

	// translation table: virtual offset (rounded down to buffer
	// granularity) -> chunk.Offset of the start of that buffer.
	translateMu sync.Mutex
	translation map[uint64]chunk.Offset
}

func newStream(p *Pool, zone chunk.Zone, fast bool) *Stream {
	return &Stream{
		pool:        p,
		fast:        fast,
		zone:        zone,
		active:      make([]byte, WriteSize),
		translation: make(map[uint64]chunk.Offset),
	}
}

// ReserveVirtual allocates n bytes of virtual address space in this
// stream, returning the offset the caller owns (spec.md §4.B
// "reserve_virtual(zone, bytes) -> virtual_offset").
func (s *Stream) ReserveVirtual(n uint64) chunk.Virtual {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.virtualCursor
	s.virtualCursor += n
	return chunk.Virtual(v)
}

// Write appends bytes at virtualOffset into the active write buffer,
// rolling to a new buffer (and, if necessary, a new chunk) as it
// fills (spec.md §4.B "Write buffers", "Chunk rollover"). Completion
// is synchronous in this implementation: once Write returns, the bytes
// are in the active in-memory write buffer; they are copied into the
// mmap'd chunk only when that buffer is flushed (when it fills, or on
// AdvanceWriteCursor).
func (s *Stream) Write(virtualOffset chunk.Virtual, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveChunk {
		if err := s.rollChunkLocked(); err != nil {
			return err
		}
	}

	bufStart := uint64(virtualOffset) - uint64(virtualOffset)%WriteSize
	s.translateMu.Lock()
	if _, ok := s.translation[bufStart]; !ok {
		s.translation[bufStart] = mustOffset(s.pool, s.curChunk, s.chunkCursor, s.fast)
	}
	s.translateMu.Unlock()

	for len(data) > 0 {
		remaining := WriteSize - s.filled
		if remaining == 0 {
			if err := s.flushActiveLocked(); err != nil {
				return err
			}
			remaining = WriteSize
		}
		// A node that would straddle the buffer boundary is written
		// fully into the next buffer (spec.md §4.B): only split writes
		// here when the buffer is entirely empty, never partially, so a
		// record never straddles two buffers unless it is larger than
		// one buffer.
		if len(data) > remaining && s.filled > 0 {
			if err := s.flushActiveLocked(); err != nil {
				return err
			}
			remaining = WriteSize
		}
		n := len(data)
		if n > remaining {
			n = remaining
		}
		copy(s.active[s.filled:], data[:n])
		s.filled += n
		data = data[n:]
	}
	return nil
}

// flushActiveLocked submits the active buffer for I/O (here, a direct
// copy into the mmap'd chunk region) and starts a new one, rolling to
// a fresh chunk if the current one cannot hold another full buffer
// (spec.md §4.B "Chunk rollover").
func (s *Stream) flushActiveLocked() error {
	chunkSize := s.pool.ChunkSize()
	if uint64(s.chunkCursor)+WriteSize > chunkSize {
		// Pad the remainder of the current chunk, then roll.
		if err := s.rollChunkLocked(); err != nil {
			return err
		}
	}
	dst := s.pool.chunkBytes(s.curChunk)
	copy(dst[s.chunkCursor:], s.active[:s.filled])
	s.chunkCursor += uint32(s.filled)
	s.filled = 0
	return nil
}

// rollChunkLocked closes the current chunk (if any) and acquires a
// fresh one from the pool's free list.
func (s *Stream) rollChunkLocked() error {
	idx, err := s.pool.AllocateChunk(s.fast)
	if err != nil {
		return err
	}
	s.curChunk = idx
	s.chunkCursor = 0
	s.haveChunk = true
	return nil
}

// AdvanceWriteCursor flushes whatever is in the active buffer even if
// it is not full, making it durable and available for translation
// (spec.md §4.B "advance_write_cursor()"). Used at block boundaries
// so a crash cannot lose a fully-committed block's writes.
func (s *Stream) AdvanceWriteCursor() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled == 0 {
		return nil
	}
	return s.flushActiveLocked()
}

// Translate resolves a virtual offset to its physical chunk.Offset
// (spec.md §4.B "translate(virtual_offset) -> chunk_offset").
func (s *Stream) Translate(v chunk.Virtual) (chunk.Offset, bool) {
	bufStart := uint64(v) - uint64(v)%WriteSize
	s.translateMu.Lock()
	defer s.translateMu.Unlock()
	base, ok := s.translation[bufStart]
	if !ok {
		return 0, false
	}
	delta := uint32(uint64(v) - bufStart)
	off, err := chunk.New(base.Count(), base.ByteOffset()+delta, s.fast)
	if err != nil {
		return 0, false
	}
	return off, true
}

func mustOffset(p *Pool, chunkIdx uint32, byteOff uint32, fast bool) chunk.Offset {
	off, err := chunk.New(chunkIdx, byteOff, fast)
	if err != nil {
		// chunkIdx/byteOff are always produced by this package's own
		// bookkeeping within the documented bounds; a failure here means
		// a prior invariant was already violated.
		panic(err)
	}
	return off
}
