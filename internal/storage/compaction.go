package storage

import (
	"context"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/monad-crypto/monad-exec/internal/chunk"
	"github.com/monad-crypto/monad-exec/internal/logging"
)

// Compactor runs the background compaction pass described in spec.md
// §4.B: it walks the in-use chunks and frees every chunk older than
// the protected floor outright; it never rewrites (promotes) live
// nodes into the active stream, and it never frees a
// chunk referenced by any root within [version-MIN_HISTORY_LENGTH,
// version] (spec.md's "Compaction" invariant).
//
// Grounded in structure on turbo/snapshotsync/snapshotsync.go's
// window/retention management (the teacher's closest analog to a
// retention-windowed background maintenance task), adapted here from
// snapshot-file housekeeping to in-process chunk free-list
// housekeeping.
type Compactor struct {
	pool     *Pool
	meta     *DbMetadata
	log      interface {
		Infow(msg string, kv ...interface{})
	}
	disabled bool

	// liveRoots reports, for the current compaction pass, the oldest
	// block version whose chunks must be preserved.
	liveRoots func() (oldest, newest uint64)
}

// NewCompactor constructs a compactor over pool's chunks, using meta
// for the retention-window/min-history-length configuration and
// liveRoots to learn the currently-protected version range.
func NewCompactor(pool *Pool, meta *DbMetadata, liveRoots func() (oldest, newest uint64)) *Compactor {
	return &Compactor{
		pool:      pool,
		meta:      meta,
		log:       logging.Named("compaction"),
		liveRoots: liveRoots,
	}
}

// Disable turns off compaction entirely, for the --no-compaction CLI
// flag (spec.md §6 CLI surface).
func (c *Compactor) Disable() { c.disabled = true }

// Run executes compaction passes on an interval until ctx is
// cancelled (spec.md §5 "compaction is cooperatively cancellable on
// shutdown").
func (c *Compactor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// RunOnce performs a single compaction sweep: every in-use chunk whose
// insertion_count is below the protected floor, max(newest -
// MinHistoryLength, oldest) from liveRoots, is freed (spec.md §4.B:
// "the set of all chunks referenced by any root in [root.version -
// MIN_HISTORY_LENGTH, root.version] is never freed"). Free-list levels
// and the retention window setting are not consulted.
func (c *Compactor) RunOnce() {
	if c.disabled {
		return
	}
	oldest, newest := c.liveRoots()
	protectedFloor := uint64(0)
	if newest > c.meta.MinHistoryLength() {
		protectedFloor = newest - c.meta.MinHistoryLength()
	}
	if oldest > protectedFloor {
		protectedFloor = oldest
	}

	// candidates is a sparse set of chunk indices, the same shape a
	// free list has; a roaring bitmap holds it far more compactly than
	// a []uint32 once the pool spans millions of chunks, and its
	// iterator below is just as cheap to walk in order.
	candidates := roaring.New()
	c.pool.metaMu.Lock()
	for idx, m := range c.pool.meta {
		if m.State != ChunkInUse {
			continue
		}
		if m.InsertionCount < protectedFloor {
			candidates.Add(uint32(idx))
		}
	}
	c.pool.metaMu.Unlock()

	it := candidates.Iterator()
	for it.HasNext() {
		idx := it.Next()
		meta := c.pool.Meta(idx)
		c.pool.FreeChunk(idx, meta.Zone == chunk.ZoneFast)
	}

	c.log.Infow("compaction pass complete",
		"freed", candidates.GetCardinality(), "protected_floor", protectedFloor)
}
