package eventring

import "sync/atomic"

// Reserve claims the next descriptor slot and payload region for a
// new event, marking the slot's seqno odd so concurrent readers treat
// it as not-yet-committed (spec.md §4.A.1 "reserve"). Multiple
// producers may call Reserve concurrently: the global atomic
// increment of writeSeq hands out a distinct slot to each caller, the
// same way a single seqlock writer flips its lone slot from
// even-to-odd, generalized to a whole array addressed by cursor.
func (r *Ring) Reserve(payloadLen uint32) *Reservation {
	seq := atomic.AddUint64(&r.writeSeq, 1) - 1
	pos := atomic.AddUint64(&r.payloadPos, uint64(payloadLen)) - uint64(payloadLen)
	slot := &r.descriptors[seq&r.descMask]

	// Advance the sliding window: once seq occupies a slot, any event
	// older than seq-capacity+1 has just been overwritten and can no
	// longer be read (spec.md §4.A.2 "sliding window advance via CAS").
	if cap := r.descMask + 1; seq+1 > cap {
		newStart := seq + 1 - cap
		for {
			cur := atomic.LoadUint64(&r.windowStart)
			if cur >= newStart {
				break
			}
			if atomic.CompareAndSwapUint64(&r.windowStart, cur, newStart) {
				break
			}
		}
	}

	// Phase 1: mark in-progress. committedSeqno(seq) is always even;
	// committedSeqno(seq)-1 is the corresponding odd in-progress value.
	atomic.StoreUint64(&slot.Seqno, committedSeqno(seq)-1)

	return &Reservation{ring: r, slot: slot, seq: seq, payloadPos: pos, payloadLen: payloadLen}
}

// Reservation is a claimed, not-yet-committed descriptor slot.
type Reservation struct {
	ring       *Ring
	slot       *Descriptor
	seq        uint64
	payloadPos uint64
	payloadLen uint32
}

// Commit writes payload into the reserved region and publishes the
// slot by storing its even seqno (spec.md §4.A.1 "commit": "zero-then
// -populate-then-store seqno with release ordering"). payload must
// not exceed the length reserved.
func (res *Reservation) Commit(payload []byte) {
	if uint32(len(payload)) > res.payloadLen {
		panic("eventring: commit payload exceeds reserved length")
	}
	off := res.ring.virtualPayloadWrite(res.payloadPos, payload)

	res.slot.PayloadOff = off
	res.slot.PayloadLen = uint32(len(payload))
	res.slot.ContentType = res.ring.contentType

	// Phase 3: publish. This store must be ordered after the payload
	// writes above from the reader's point of view; Go's memory model
	// guarantees that for a plain atomic store observed via a matching
	// atomic load (sync/atomic provides sequential consistency among
	// atomic operations), so no explicit release/acquire annotation is
	// needed here beyond using the atomic package throughout.
	atomic.StoreUint64(&res.slot.Seqno, committedSeqno(res.seq))
}

// Seq returns the descriptor sequence number this reservation will
// publish under.
func (res *Reservation) Seq() uint64 { return res.seq }

func committedSeqno(seq uint64) uint64 { return (seq + 1) * 2 }
