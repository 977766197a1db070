// Package eventring implements the lock-free multi-producer event ring
// (spec.md §4.A): a fixed-size descriptor array plus a payload buffer,
// written via a reserve/commit protocol and read via a try-copy
// protocol that can detect both "not yet written" and "overwritten
// since I last looked" (gap) conditions.
//
// The reserve/commit/try-copy sequence-number protocol is grounded on
// the seqlock pattern in
// _examples/AlephTX-aleph-tx/feeder/shm/seqlock.go (odd-during-write,
// even-when-stable, atomic load/store pairs with no reader-side
// locking), generalized from that file's single fixed-size slot to a
// descriptor array addressing a separate variable-length payload
// buffer, per spec.md §3's "Event descriptor" / "Event ring" data
// model.
package eventring

import "github.com/monad-crypto/monad-exec/internal/chunk"

// ContentType tags the payload format of a descriptor, set once per
// ring at construction (spec.md §3 "Event ring": "a ring carries a
// single content type for its lifetime").
type ContentType uint16

// Descriptor is one fixed-size slot of the descriptor array. Seqno
// encodes the reserve/commit protocol: even means stable (readable),
// odd means a writer currently holds the slot (spec.md §4.A.1).
type Descriptor struct {
	Seqno       uint64
	ContentType ContentType
	PayloadOff  chunk.Virtual
	PayloadLen  uint32
}

// notReadySeqno is never a valid committed seqno (commit always writes an
// even number >= 2); it marks a slot that a reader must treat as
// NOT_READY rather than GAP when first encountered.
const notReadySeqno = 0
