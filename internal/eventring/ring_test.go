package eventring

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReserveCommitTryCopy(t *testing.T) {
	r, err := New(4, 12, ContentType(1))
	require.NoError(t, err)

	res := r.Reserve(5)
	res.Commit([]byte("hello"))

	rd := NewReader(r, 0)
	ev, status := rd.TryCopy()
	require.Equal(t, StatusSuccess, status)

	want := Event{Seq: 0, ContentType: ContentType(1), Payload: []byte("hello")}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestTryCopyNotReadyBeforeCommit(t *testing.T) {
	r, err := New(4, 12, ContentType(1))
	require.NoError(t, err)
	_ = r.Reserve(4) // reserved but never committed

	rd := NewReader(r, 0)
	_, status := rd.TryCopy()
	require.Equal(t, StatusNotReady, status)
}

func TestTryCopyDetectsGapAfterOverwrite(t *testing.T) {
	r, err := New(2, 12, ContentType(1)) // capacity 4 descriptors
	require.NoError(t, err)

	rd := NewReader(r, 0)
	for i := 0; i < 8; i++ {
		res := r.Reserve(1)
		res.Commit([]byte{byte(i)})
	}

	// rd.next is still 0, but 8 events have been committed into a
	// 4-slot ring: slot 0 now holds event 4, so reading seq 0 is a gap.
	_, status := rd.TryCopy()
	require.Equal(t, StatusGap, status)

	rd.Reset()
	// After reset, the reader should land on a sequence number it can
	// actually make progress from.
	ev, status := rd.TryCopy()
	require.Equal(t, StatusSuccess, status)
	require.GreaterOrEqual(t, ev.Seq, uint64(4))
}

func TestMultipleEventsInOrder(t *testing.T) {
	r, err := New(4, 16, ContentType(2))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res := r.Reserve(1)
		res.Commit([]byte{byte(i)})
	}

	rd := NewReader(r, 0)
	for i := 0; i < 5; i++ {
		ev, status := rd.TryCopy()
		require.Equal(t, StatusSuccess, status)
		require.Equal(t, uint64(i), ev.Seq)
		require.Equal(t, []byte{byte(i)}, ev.Payload)
	}
}

// TestRingSequencePropertyNeverOutOfOrderOrDuplicated is spec.md §8's
// S6 scenario: a writer commits N events (seqnos 0..N-1) into a ring much smaller
// than N (so overwrite-driven gaps are common); a reader starting from
// 0 must observe either events strictly in order, or a GAP followed by
// a resynchronized seqno strictly greater than the last one observed
// — never an out-of-order or duplicated seqno.
func TestRingSequencePropertyNeverOutOfOrderOrDuplicated(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		descCountLog2 := rapid.IntRange(1, 4).Draw(t, "descCountLog2") // 2..16 slots
		numEvents := rapid.IntRange(1, 64).Draw(t, "numEvents")

		r, err := New(uint(descCountLog2), 12, ContentType(3))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		for i := 0; i < numEvents; i++ {
			res := r.Reserve(1)
			res.Commit([]byte{byte(i)})
		}

		rd := NewReader(r, 0)
		var lastObserved uint64
		haveObserved := false
		observedAny := false
		for spins := 0; spins < numEvents*2+8; spins++ {
			ev, status := rd.TryCopy()
			switch status {
			case StatusSuccess:
				if haveObserved && ev.Seq <= lastObserved {
					t.Fatalf("out-of-order or duplicated seqno: last=%d, got=%d", lastObserved, ev.Seq)
				}
				lastObserved = ev.Seq
				haveObserved = true
				observedAny = true
			case StatusGap:
				rd.Reset()
			case StatusNotReady:
				// All events are already committed in this test, so a
				// well-behaved reader never blocks here once it has
				// resynchronized past the last written seqno.
				if rd.next <= uint64(numEvents-1) {
					t.Fatalf("NotReady for seq %d with %d events committed", rd.next, numEvents)
				}
			}
			if rd.next >= uint64(numEvents) && status != StatusGap {
				break
			}
		}
		if !observedAny {
			t.Fatalf("reader never observed a single event out of %d committed", numEvents)
		}
	})
}
