// Package execution implements the speculative parallel transaction
// execution pipeline (spec.md §4.D): block/transaction static and
// dynamic validation, per-transaction execution over a trie-backed
// overlay with conflict detection and deterministic commit ordering,
// post-block receipt/root assembly, and event emission into the event
// ring.
package execution

import (
	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/state"
)

// Header is the subset of a block header that static validation
// (spec.md §4.D.1) and post-block root assembly (spec.md §4.D.5)
// operate on. Consensus/Monad-chain-specific header fields (round,
// epoch, qc, author, ...) are out of scope per spec.md §1 ("The
// consensus/Monad-chain block header formats ... are described only
// at the boundary with the execution pipeline") and are not modeled
// here; a caller supplies a Header already stripped to its execution
// payload.
type Header struct {
	ParentHash  state.Hash
	Beneficiary state.Address
	GasLimit    uint64
	GasUsed     uint64
	ExtraData   []byte
	OmmersHash  state.Hash
	Ommers      []*Header

	Difficulty uint256.Int
	Nonce      [8]byte

	BaseFeePerGas *uint256.Int // London+

	WithdrawalsRoot *state.Hash // Shanghai+

	BlobGasUsed           *uint64     // Cancun+
	ExcessBlobGas         *uint64     // Cancun+
	ParentBeaconBlockRoot *state.Hash // Cancun+

	RequestsHash *state.Hash // Prague+
}

// MinGasLimit and MaxGasLimit bound spec.md §4.D.1's
// `gas_limit ∈ [5000, 2^63)`.
const (
	MinGasLimit = 5000
	MaxGasLimit = uint64(1) << 63
	MaxExtraDataLen = 32
	MaxOmmers       = 2
)

// ValidateBlockStatic performs the static, revision-gated header
// checks of spec.md §4.D.1, adapted from the field-presence checks in
// consensus/misc/eip4844.go (VerifyPresenceOfCancunHeaderFields and
// its siblings) generalized across every fork boundary the spec names
// rather than only Cancun, and expressed over this package's own
// Header type instead of erigon's types.Header.
func ValidateBlockStatic(h *Header, rev evmiface.Revision, ommersHash func([]*Header) state.Hash) error {
	if h.GasLimit < MinGasLimit || h.GasLimit >= MaxGasLimit {
		return newBlockErr(kindInvalidGasLimit, "gas_limit %d out of range [%d, 2^63)", h.GasLimit, MinGasLimit)
	}
	if len(h.ExtraData) > MaxExtraDataLen {
		return newBlockErr(kindExtraDataTooLong, "extra_data length %d exceeds %d", len(h.ExtraData), MaxExtraDataLen)
	}
	if got := ommersHash(h.Ommers); got != h.OmmersHash {
		return newBlockErr(kindWrongOmmersHash, "ommers_hash mismatch: have %x want %x", h.OmmersHash, got)
	}

	if rev.AtLeast(evmiface.Paris) {
		if !h.Difficulty.IsZero() {
			return newBlockErr(kindFieldBeforeFork, "post-Paris header has nonzero difficulty")
		}
		if h.Nonce != ([8]byte{}) {
			return newBlockErr(kindFieldBeforeFork, "post-Paris header has nonzero nonce")
		}
		if len(h.Ommers) != 0 {
			return newBlockErr(kindFieldBeforeFork, "post-Paris header has ommers")
		}
	}

	if rev.AtLeast(evmiface.London) {
		if h.BaseFeePerGas == nil {
			return newBlockErr(kindMissingField, "missing base_fee_per_gas post-London")
		}
	}

	if rev.AtLeast(evmiface.Shanghai) {
		if h.WithdrawalsRoot == nil {
			return newBlockErr(kindMissingField, "missing withdrawals_root post-Shanghai")
		}
	} else if h.WithdrawalsRoot != nil {
		return newBlockErr(kindFieldBeforeFork, "withdrawals_root present before Shanghai")
	}

	if rev.AtLeast(evmiface.Cancun) {
		if h.BlobGasUsed == nil || h.ExcessBlobGas == nil || h.ParentBeaconBlockRoot == nil {
			return newBlockErr(kindMissingField, "missing blob_gas_used/excess_blob_gas/parent_beacon_block_root post-Cancun")
		}
	} else if h.BlobGasUsed != nil || h.ExcessBlobGas != nil || h.ParentBeaconBlockRoot != nil {
		return newBlockErr(kindFieldBeforeFork, "Cancun fields present before Cancun")
	}

	if rev.AtLeast(evmiface.Prague) {
		if h.RequestsHash == nil {
			return newBlockErr(kindMissingField, "missing requests_hash post-Prague")
		}
	} else if h.RequestsHash != nil {
		return newBlockErr(kindFieldBeforeFork, "requests_hash present before Prague")
	}

	if len(h.Ommers) > MaxOmmers {
		return newBlockErr(kindTooManyOmmers, "ommer count %d exceeds %d", len(h.Ommers), MaxOmmers)
	}
	if err := checkDistinctOmmers(h.Ommers); err != nil {
		return err
	}
	for _, o := range h.Ommers {
		if err := ValidateBlockStatic(o, rev, ommersHash); err != nil {
			return newBlockErr(kindInvalidOmmerHeader, "ommer failed standalone validation: %v", err)
		}
	}
	return nil
}

func checkDistinctOmmers(ommers []*Header) error {
	seen := make(map[state.Hash]struct{}, len(ommers))
	for _, o := range ommers {
		h := hashHeaderIdentity(o)
		if _, dup := seen[h]; dup {
			return newBlockErr(kindDuplicateOmmers, "duplicate ommer header")
		}
		seen[h] = struct{}{}
	}
	return nil
}

// hashHeaderIdentity distinguishes ommers by beneficiary + the first
// 12 bytes of the parent hash, a cheap proxy for full header equality for
// duplicate detection without requiring a full RLP hash of every
// ommer here (the caller's ommersHash callback already provides a real
// hash where the spec requires one).
func hashHeaderIdentity(h *Header) state.Hash {
	var out state.Hash
	copy(out[:20], h.Beneficiary[:])
	copy(out[20:], h.ParentHash[:12])
	return out
}
