package execution

import (
	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/rlp"
	"github.com/monad-crypto/monad-exec/internal/state"
)

// TxType enumerates the transaction envelope types spec.md §4.D.2
// gates per revision.
type TxType uint8

const (
	TxLegacy TxType = iota
	TxAccessList
	TxDynamicFee
	TxBlob
	TxSetCode
)

// AccessTuple is one entry of an EIP-2930 access list.
type AccessTuple struct {
	Address     state.Address
	StorageKeys []state.Hash
}

// Transaction is the subset of transaction fields the execution
// pipeline needs; RLP decoding into this shape and signature
// verification are handled by the out-of-scope collaborators named in
// spec.md §1 (RLP codec, secp256k1 sender recovery via
// internal/crypto.RecoverSender).
type Transaction struct {
	Type TxType

	ChainID *uint256.Int // nil if the transaction carries no chain id (legacy, no EIP-155)

	Nonce    uint64
	GasLimit uint64

	GasPrice             *uint256.Int // legacy/access-list transactions
	MaxFeePerGas         *uint256.Int // dynamic-fee+ transactions
	MaxPriorityFeePerGas *uint256.Int // dynamic-fee+ transactions

	To    *state.Address // nil for a contract-creation transaction
	Value uint256.Int
	Data  []byte

	AccessList []AccessTuple

	Sender state.Address // populated by sender recovery before dynamic validation
}

// IsCreate reports whether this transaction creates a contract.
func (t *Transaction) IsCreate() bool { return t.To == nil }

// Hash identifies this transaction for event-ring emission
// (spec.md §4.D.6's TXN_HEADER_START "RLP-hash of canonical tx
// bytes"). It hashes the fields this rewrite actually carries rather
// than the canonical signed EIP-2718 envelope, since that exact wire
// encoding is an out-of-scope collaborator's concern (spec.md §1); as
// an event-flow identifier it only needs to be stable and unique per
// transaction, not bit-compatible with the real network hash.
func (t *Transaction) Hash() state.Hash {
	toBytes := []byte{}
	if t.To != nil {
		toBytes = t.To[:]
	}
	return crypto.Keccak256(
		rlp.EncodeUint(t.Nonce),
		rlp.EncodeUint(uint64(t.Type)),
		rlp.EncodeString(toBytes),
		rlp.EncodeString(t.Value.Bytes()),
		rlp.EncodeString(t.Data),
		rlp.EncodeUint(t.GasLimit),
		rlp.EncodeString(t.Sender[:]),
	)
}

// EffectiveGasPrice returns the per-revision gas price used for
// balance checks and refunds (spec.md §4.D.3/§4.D.4).
func (t *Transaction) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	if t.Type == TxLegacy || t.Type == TxAccessList {
		return t.GasPrice
	}
	tip := new(uint256.Int).Sub(t.MaxFeePerGas, baseFee)
	if tip.Gt(t.MaxPriorityFeePerGas) {
		tip = t.MaxPriorityFeePerGas
	}
	return new(uint256.Int).Add(baseFee, tip)
}
