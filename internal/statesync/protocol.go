// Package statesync implements the state-sync wire protocol v1 named
// in spec.md §6: fixed-width range requests and tagged upsert/delete
// frames that bring a fresh node's trie up to date without replaying
// every historical block. Transport (sockets, framing over a stream)
// is an external collaborator per spec.md §1; this package only
// encodes/decodes frames and applies them to a trie-backed Overlay.
//
// Grounded on _examples/original_source/category/statesync's
// statesync_protocol.cpp: StatesyncProtocolV1::send_request's
// from/until windowing and handle_upsert's per-SyncType dispatch,
// reworked here as pure encode/decode functions plus an Applier type
// instead of a stateful client context object.
package statesync

import (
	"encoding/binary"
	"fmt"

	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/execution"
	"github.com/monad-crypto/monad-exec/internal/rlp"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// InvalidBlockNum marks "no progress yet" / "no prior target", mirroring
// the original's INVALID_BLOCK_NUM sentinel.
const InvalidBlockNum = ^uint64(0)

// Request is a state-sync range request for one prefix shard (spec.md
// §6: "{prefix_u64, prefix_bytes_u8, target_u64, from_u64, until_u64,
// old_target_u64} requests").
type Request struct {
	Prefix      uint64
	PrefixBytes uint8
	Target      uint64
	From        uint64
	Until       uint64
	OldTarget   uint64
}

// requestWireLen is the fixed encoded size of a Request: five uint64
// fields plus one byte.
const requestWireLen = 8*5 + 1

// EncodeRequest serializes r into its fixed-width wire form.
func EncodeRequest(r Request) []byte {
	buf := make([]byte, requestWireLen)
	binary.BigEndian.PutUint64(buf[0:8], r.Prefix)
	buf[8] = r.PrefixBytes
	binary.BigEndian.PutUint64(buf[9:17], r.Target)
	binary.BigEndian.PutUint64(buf[17:25], r.From)
	binary.BigEndian.PutUint64(buf[25:33], r.Until)
	binary.BigEndian.PutUint64(buf[33:41], r.OldTarget)
	return buf
}

// DecodeRequest parses a Request from its fixed-width wire form.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) != requestWireLen {
		return Request{}, fmt.Errorf("statesync: request frame length %d, want %d", len(b), requestWireLen)
	}
	return Request{
		Prefix:      binary.BigEndian.Uint64(b[0:8]),
		PrefixBytes: b[8],
		Target:      binary.BigEndian.Uint64(b[9:17]),
		From:        binary.BigEndian.Uint64(b[17:25]),
		Until:       binary.BigEndian.Uint64(b[25:33]),
		OldTarget:   binary.BigEndian.Uint64(b[33:41]),
	}, nil
}

// NextRequest builds the request for one prefix shard given its prior
// progress and old_target, mirroring send_request's windowing:
// "from = progress+1 (or 0), until = min(target, 99% of target) unless
// from has already passed that point, in which case until = target."
func NextRequest(prefix uint64, prefixBytes uint8, progress, oldTarget, target uint64) Request {
	from := uint64(0)
	if progress != InvalidBlockNum {
		from = progress + 1
	}
	ninetyNinePct := target * 99 / 100
	until := ninetyNinePct
	if from >= ninetyNinePct {
		until = target
	}
	return Request{Prefix: prefix, PrefixBytes: prefixBytes, Target: target, From: from, Until: until, OldTarget: oldTarget}
}

// SyncType tags an upsert frame's payload shape (spec.md §6).
type SyncType uint8

const (
	SyncTypeUpsertAccount SyncType = iota
	SyncTypeUpsertStorage
	SyncTypeUpsertCode
	SyncTypeUpsertHeader
	SyncTypeAccountDelete
	SyncTypeStorageDelete
)

// EncodeAccountUpsert builds a SYNC_TYPE_UPSERT_ACCOUNT frame: tag,
// the 20-byte address, then the account's RLP leaf encoding.
func EncodeAccountUpsert(addr state.Address, rec execution.AccountRecord) []byte {
	body := execution.EncodeAccountRecord(rec)
	out := make([]byte, 0, 1+len(addr)+len(body))
	out = append(out, byte(SyncTypeUpsertAccount))
	out = append(out, addr[:]...)
	return append(out, body...)
}

// EncodeStorageUpsert builds a SYNC_TYPE_UPSERT_STORAGE frame: tag,
// address, then an RLP 2-list of the compact-encoded key and value.
func EncodeStorageUpsert(addr state.Address, key, value state.Hash) []byte {
	out := make([]byte, 0, 1+len(addr)+70)
	out = append(out, byte(SyncTypeUpsertStorage))
	out = append(out, addr[:]...)
	return append(out, rlp.EncodeList(rlp.EncodeString(trimZeros(key[:])), rlp.EncodeString(trimZeros(value[:])))...)
}

// EncodeCodeUpsert builds a SYNC_TYPE_UPSERT_CODE frame: tag followed
// directly by the raw code bytes (the receiving end derives the code
// hash itself via keccak256, matching the original's "code is
// immutable once inserted" comment).
func EncodeCodeUpsert(code []byte) []byte {
	out := make([]byte, 0, 1+len(code))
	out = append(out, byte(SyncTypeUpsertCode))
	return append(out, code...)
}

// EncodeHeaderUpsert builds a SYNC_TYPE_UPSERT_HEADER frame: tag
// followed by the standard RLP block header bytes.
func EncodeHeaderUpsert(rlpHeader []byte) []byte {
	out := make([]byte, 0, 1+len(rlpHeader))
	out = append(out, byte(SyncTypeUpsertHeader))
	return append(out, rlpHeader...)
}

// EncodeAccountDelete builds a SYNC_TYPE_UPSERT_ACCOUNT_DELETE frame:
// tag followed by the 20-byte address (spec.md §6: "Deletions carry
// the 20-byte address as a prefix").
func EncodeAccountDelete(addr state.Address) []byte {
	out := make([]byte, 0, 1+len(addr))
	out = append(out, byte(SyncTypeAccountDelete))
	return append(out, addr[:]...)
}

// EncodeStorageDelete builds a SYNC_TYPE_UPSERT_STORAGE_DELETE frame:
// tag, address, then the RLP-encoded compact storage key.
func EncodeStorageDelete(addr state.Address, key state.Hash) []byte {
	out := make([]byte, 0, 1+len(addr)+34)
	out = append(out, byte(SyncTypeStorageDelete))
	out = append(out, addr[:]...)
	return append(out, rlp.EncodeString(trimZeros(key[:]))...)
}

func trimZeros(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

// CodeSink persists a code blob keyed by its keccak256 hash, the
// write-side counterpart of execution.CodeStore.
type CodeSink interface {
	PutCode(hash state.Hash, code []byte) error
}

// HeaderSink persists a synced block header, keyed by block number
// (spec.md §6's "Headers are standard RLP block headers"; the
// original keeps a fixed-size ring `hdrs[number % hdrs.size()]`, left
// to the sink implementation here since ring capacity is a deployment
// concern, not a protocol one).
type HeaderSink interface {
	PutHeader(number uint64, rlpHeader []byte) error
}

// Applier decodes and applies a stream of upsert/delete frames into a
// trie-backed Overlay, committing a new account-trie root on demand
// (spec.md §6 External Interfaces; grounded on handle_upsert's
// per-SyncType dispatch, adapted from a stateful client context into
// calls against execution.Overlay's existing write methods).
type Applier struct {
	ov       *execution.Overlay
	codes    CodeSink
	headers  HeaderSink
	nUpserts uint64
}

// NewApplier constructs an Applier over ov. codes/headers may be nil,
// in which case CODE and HEADER frames are decoded but dropped.
func NewApplier(ov *execution.Overlay, codes CodeSink, headers HeaderSink) *Applier {
	return &Applier{ov: ov, codes: codes, headers: headers}
}

// commitEvery mirrors the original's "(++ctx->n_upserts % (1 << 20))
// == 0" periodic-commit cadence; ApplyFrame reports when this frame
// crossed that boundary so the caller knows a Commit() is due.
const commitEvery = 1 << 20

// ApplyFrame decodes one tagged frame and applies it to the Applier's
// overlay, returning whether a periodic commit point was just
// reached.
func (a *Applier) ApplyFrame(frame []byte) (commitDue bool, err error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("statesync: empty frame")
	}
	typ := SyncType(frame[0])
	body := frame[1:]

	switch typ {
	case SyncTypeUpsertCode:
		if a.codes != nil {
			if err := a.codes.PutCode(crypto.Keccak256(body), body); err != nil {
				return false, fmt.Errorf("statesync: put code: %w", err)
			}
		}

	case SyncTypeUpsertAccount:
		addr, rest, err := splitAddr(body)
		if err != nil {
			return false, err
		}
		rec, err := execution.DecodeAccountRecord(rest)
		if err != nil {
			return false, fmt.Errorf("statesync: decode account upsert: %w", err)
		}
		a.ov.SetAccountRecord(addr, rec.Nonce, rec.Balance, rec.CodeHash)

	case SyncTypeUpsertStorage:
		addr, rest, err := splitAddr(body)
		if err != nil {
			return false, err
		}
		key, value, err := decodeStorageKV(rest)
		if err != nil {
			return false, err
		}
		a.ov.SetStorage(addr, key, value)

	case SyncTypeAccountDelete:
		addr, _, err := splitAddr(body)
		if err != nil {
			return false, err
		}
		a.ov.DeleteAccount(addr)

	case SyncTypeStorageDelete:
		addr, rest, err := splitAddr(body)
		if err != nil {
			return false, err
		}
		key, err := decodeCompactHash(rest)
		if err != nil {
			return false, err
		}
		a.ov.SetStorage(addr, key, state.Hash{})

	case SyncTypeUpsertHeader:
		number, err := headerNumber(body)
		if err != nil {
			return false, err
		}
		if a.headers != nil {
			if err := a.headers.PutHeader(number, body); err != nil {
				return false, fmt.Errorf("statesync: put header: %w", err)
			}
		}

	default:
		return false, fmt.Errorf("statesync: unknown sync type %d", typ)
	}

	a.nUpserts++
	return a.nUpserts%commitEvery == 0, nil
}

// Commit folds every frame applied so far into a new persistent
// account-trie root.
func (a *Applier) Commit() (*trie.Node, error) { return a.ov.Commit() }

func splitAddr(body []byte) (state.Address, []byte, error) {
	var addr state.Address
	if len(body) < len(addr) {
		return addr, nil, fmt.Errorf("statesync: frame too short for address: %d bytes", len(body))
	}
	copy(addr[:], body[:len(addr)])
	return addr, body[len(addr):], nil
}

func decodeStorageKV(b []byte) (key, value state.Hash, err error) {
	item, decErr := rlp.DecodeExact(b)
	if decErr != nil {
		return key, value, fmt.Errorf("statesync: decode storage upsert: %w", decErr)
	}
	if !item.IsList() || len(item.List) != 2 {
		return key, value, fmt.Errorf("statesync: storage upsert: want 2-item list")
	}
	if len(item.List[0].Bytes) > len(key) || len(item.List[1].Bytes) > len(value) {
		return key, value, fmt.Errorf("statesync: storage upsert: field longer than 32 bytes")
	}
	copy(key[32-len(item.List[0].Bytes):], item.List[0].Bytes)
	copy(value[32-len(item.List[1].Bytes):], item.List[1].Bytes)
	return key, value, nil
}

func decodeCompactHash(b []byte) (state.Hash, error) {
	item, err := rlp.DecodeExact(b)
	if err != nil {
		return state.Hash{}, fmt.Errorf("statesync: decode storage delete key: %w", err)
	}
	var out state.Hash
	if len(item.Bytes) > len(out) {
		return out, fmt.Errorf("statesync: storage key longer than 32 bytes")
	}
	copy(out[32-len(item.Bytes):], item.Bytes)
	return out, nil
}

// headerNumber extracts the block number field (the ninth element of
// the standard RLP header list: parent_hash, ommers_hash, beneficiary,
// state_root, transactions_root, receipts_root, logs_bloom,
// difficulty, number, ...) without decoding the rest of the header,
// mirroring the original's `res.value().number` after a full decode —
// here a full typed header decode is unnecessary since the Applier
// only needs the number to key HeaderSink.PutHeader.
func headerNumber(rlpHeader []byte) (uint64, error) {
	item, err := rlp.DecodeExact(rlpHeader)
	if err != nil {
		return 0, fmt.Errorf("statesync: decode header: %w", err)
	}
	const numberFieldIndex = 8
	if !item.IsList() || len(item.List) <= numberFieldIndex {
		return 0, fmt.Errorf("statesync: header: want at least %d list items", numberFieldIndex+1)
	}
	return execution.DecodeUint(item.List[numberFieldIndex].Bytes), nil
}
