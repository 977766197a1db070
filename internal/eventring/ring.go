package eventring

import (
	"fmt"
	"sync/atomic"

	"github.com/monad-crypto/monad-exec/internal/chunk"
)

// Ring is the shared memory layout header plus control state
// (spec.md §3 "Event ring"): a power-of-two descriptor array and a
// power-of-two payload buffer, both addressed by masking a
// monotonically increasing cursor rather than a modulo.
type Ring struct {
	descriptors []Descriptor
	descMask    uint64

	payload     []byte
	payloadMask uint64

	contentType ContentType

	writeSeq    uint64 // atomic: next descriptor sequence number to hand out
	payloadPos  uint64 // atomic: next payload buffer byte offset to hand out
	windowStart uint64 // atomic: oldest sequence number not yet overwritten
}

// New allocates a ring with 2^descCountLog2 descriptors and a
// 2^payloadLog2-byte payload buffer.
func New(descCountLog2, payloadLog2 uint, contentType ContentType) (*Ring, error) {
	if descCountLog2 == 0 || descCountLog2 > 32 {
		return nil, fmt.Errorf("eventring: descCountLog2 out of range: %d", descCountLog2)
	}
	if payloadLog2 == 0 || payloadLog2 > 40 {
		return nil, fmt.Errorf("eventring: payloadLog2 out of range: %d", payloadLog2)
	}
	descCount := uint64(1) << descCountLog2
	payloadSize := uint64(1) << payloadLog2
	return &Ring{
		descriptors: make([]Descriptor, descCount),
		descMask:    descCount - 1,
		payload:     make([]byte, payloadSize),
		payloadMask: payloadSize - 1,
		contentType: contentType,
	}, nil
}

// DescriptorCapacity returns the number of descriptor slots.
func (r *Ring) DescriptorCapacity() uint64 { return r.descMask + 1 }

// LastPublished returns the most recently reserved sequence number
// (writeSeq-1, whether or not its writer has committed it yet; 0 if
// nothing has been reserved), used by a new reader to pick a starting
// point.
func (r *Ring) LastPublished() uint64 {
	w := atomic.LoadUint64(&r.writeSeq)
	if w == 0 {
		return 0
	}
	return w - 1
}

// virtualPayloadWrite copies data into the circular payload buffer at
// the given virtual cursor position, wrapping as needed, and returns
// the chunk.Virtual offset that identifies it for readers.
func (r *Ring) virtualPayloadWrite(pos uint64, data []byte) chunk.Virtual {
	start := pos & r.payloadMask
	n := copy(r.payload[start:], data)
	if n < len(data) {
		copy(r.payload[0:], data[n:])
	}
	return chunk.Virtual(pos)
}

func (r *Ring) virtualPayloadRead(off chunk.Virtual, length uint32) []byte {
	pos := uint64(off)
	start := pos & r.payloadMask
	out := make([]byte, length)
	n := copy(out, r.payload[start:])
	if uint32(n) < length {
		copy(out[n:], r.payload[0:])
	}
	return out
}
