package eventring

import "sync/atomic"

// Status is the outcome of a single TryCopy attempt (spec.md §4.A.2).
type Status int

const (
	// StatusNotReady means the requested sequence number has not been
	// committed yet; the reader should retry the same seq later.
	StatusNotReady Status = iota
	// StatusGap means the requested sequence number has already been
	// overwritten (or never existed within the current window); the
	// reader must call Reset to resynchronize.
	StatusGap
	// StatusSuccess means the event was copied out successfully.
	StatusSuccess
)

// MaxSyncSpin is the distance between the newest reserved sequence
// number and the window start that Reset compares against. Reset does
// not scan descriptor slots, and it lands on the window start on both
// sides of this bound.
const MaxSyncSpin = 1 << 16

// Event is a successfully copied-out event.
type Event struct {
	Seq         uint64
	ContentType ContentType
	Payload     []byte
}

// Reader tracks one consumer's position in the ring. Readers do not
// coordinate with each other or with writers beyond the lock-free
// protocol in TryCopy; each reader owns its own cursor.
type Reader struct {
	ring *Ring
	next uint64
}

// NewReader creates a reader starting at the given sequence number
// (typically Ring.LastPublished()+1 for a reader that wants to follow
// new events, or 0 to attempt replay from the start of the window).
func NewReader(ring *Ring, start uint64) *Reader {
	return &Reader{ring: ring, next: start}
}

// TryCopy attempts to read the next event. On StatusSuccess the
// reader's cursor advances; on StatusNotReady or StatusGap it does
// not, so the caller can retry (StatusNotReady) or call Reset
// (StatusGap).
func (rd *Reader) TryCopy() (Event, Status) {
	seq := rd.next
	slot := &rd.ring.descriptors[seq&rd.ring.descMask]

	observed := atomic.LoadUint64(&slot.Seqno)
	if observed == notReadySeqno {
		return Event{}, StatusNotReady
	}
	if observed&1 == 1 {
		// A writer currently holds this slot.
		return Event{}, StatusNotReady
	}
	committedSeq := observed/2 - 1
	if committedSeq != seq {
		// Either the slot was never this seq (not ready, if
		// committedSeq < seq and within a single wrap) or it has
		// already moved on to a later event (overwritten). Either way
		// this reader cannot trust the slot for `seq` without resyncing.
		if committedSeq > seq {
			return Event{}, StatusGap
		}
		return Event{}, StatusNotReady
	}

	contentType := slot.ContentType
	payloadOff := slot.PayloadOff
	payloadLen := slot.PayloadLen
	payload := rd.ring.virtualPayloadRead(payloadOff, payloadLen)

	// Re-check: if the slot was overwritten while we copied the
	// payload out, the bytes we just read may be a torn mix of two
	// events and must be discarded.
	if atomic.LoadUint64(&slot.Seqno) != observed {
		return Event{}, StatusGap
	}

	rd.next = seq + 1
	return Event{Seq: seq, ContentType: contentType, Payload: payload}, StatusSuccess
}

// Reset resynchronizes the reader after a gap by moving its cursor to
// the writer-reported window start, the oldest sequence number not yet
// overwritten (or to 0 if nothing has been reserved). It does not scan
// descriptor slots or wait for an in-progress commit; a slot whose
// writer has not committed yet shows up as StatusNotReady on the next
// TryCopy.
func (rd *Reader) Reset() {
	writeSeq := atomic.LoadUint64(&rd.ring.writeSeq)
	windowStart := atomic.LoadUint64(&rd.ring.windowStart)

	if writeSeq == 0 {
		rd.next = 0
		return
	}
	candidate := writeSeq - 1
	if candidate > windowStart+MaxSyncSpin {
		// Far behind the writer; jump straight to the window start.
		rd.next = windowStart
		return
	}
	rd.next = windowStart
}

// Lag reports how many committed events this reader is behind the
// writer (0 if caught up).
func (rd *Reader) Lag() uint64 {
	writeSeq := atomic.LoadUint64(&rd.ring.writeSeq)
	if writeSeq <= rd.next {
		return 0
	}
	return writeSeq - rd.next
}
