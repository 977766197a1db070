package storage

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/monad-crypto/monad-exec/internal/chunk"
)

// FormatVersion is the current on-disk DbMetadata format version
// (spec.md §6 "Persisted state layout": "format version").
const FormatVersion = 1

var (
	bucketMeta  = []byte("meta")
	bucketRoots = []byte("roots")

	keyFormatVersion     = []byte("format_version")
	keyMinHistoryLength  = []byte("min_history_length")
	keyRetentionWindow   = []byte("retention_window")
)

// DbMetadata persists the fixed-size header spec.md §6 describes:
// format version, min_history_length, and the main root chain (a ring
// of (block_number, chunk_offset) indexed by block_number mod
// history_length). Per-chunk {zone, insertion_count, state} is held
// only in the in-memory Pool and is not persisted here.
//
// go.etcd.io/bbolt (teacher go.mod dependency) is used narrowly for
// this header/metadata store only — the trie's own node data lives in
// the chunk-addressed append stream managed by Stream/Pool, not in
// bbolt, since that data is neither key-value shaped nor small enough
// to be a good fit for a B+tree page store (see DESIGN.md for why
// bbolt was not chosen as the primary store).
type DbMetadata struct {
	db                *bolt.DB
	minHistoryLength  uint64
	retentionWindow   uint64
}

// OpenMetadata opens (creating if absent) the metadata database at
// path.
func OpenMetadata(path string, minHistoryLength, retentionWindow uint64) (*DbMetadata, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open metadata db: %w", err)
	}
	m := &DbMetadata{db: db, minHistoryLength: minHistoryLength, retentionWindow: retentionWindow}
	err = db.Update(func(tx *bolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRoots); err != nil {
			return err
		}
		if mb.Get(keyFormatVersion) == nil {
			if err := putUint64(mb, keyFormatVersion, FormatVersion); err != nil {
				return err
			}
		}
		if err := putUint64(mb, keyMinHistoryLength, minHistoryLength); err != nil {
			return err
		}
		return putUint64(mb, keyRetentionWindow, retentionWindow)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the underlying bbolt database.
func (m *DbMetadata) Close() error { return m.db.Close() }

// MinHistoryLength is the minimum number of recent versions whose
// chunks must never be freed by compaction (spec.md §4.B).
func (m *DbMetadata) MinHistoryLength() uint64 { return m.minHistoryLength }

// RetentionWindow is the compaction lag threshold (spec.md §4.B).
func (m *DbMetadata) RetentionWindow() uint64 { return m.retentionWindow }

// PutRoot records the chunk offset of block blockNumber's trie root
// in the main root chain, keyed by blockNumber mod history_length
// (spec.md §6 "main root chain").
func (m *DbMetadata) PutRoot(blockNumber uint64, off chunk.Offset) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoots)
		key := slotKey(blockNumber, m.minHistoryLength)
		var val [16]byte
		binary.BigEndian.PutUint64(val[:8], blockNumber)
		binary.BigEndian.PutUint64(val[8:], uint64(off))
		return b.Put(key, val[:])
	})
}

// Root looks up the chunk offset most recently recorded for
// blockNumber, returning ok=false if the slot now holds a different
// (newer) block number — i.e. blockNumber has fallen out of the
// history window.
func (m *DbMetadata) Root(blockNumber uint64) (chunk.Offset, bool, error) {
	var off chunk.Offset
	var ok bool
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoots)
		key := slotKey(blockNumber, m.minHistoryLength)
		val := b.Get(key)
		if val == nil || len(val) != 16 {
			return nil
		}
		storedBlock := binary.BigEndian.Uint64(val[:8])
		if storedBlock != blockNumber {
			return nil
		}
		off = chunk.Offset(binary.BigEndian.Uint64(val[8:]))
		ok = true
		return nil
	})
	return off, ok, err
}

func slotKey(blockNumber, historyLength uint64) []byte {
	if historyLength == 0 {
		historyLength = 1
	}
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], blockNumber%historyLength)
	return k[:]
}

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(key, buf[:])
}
