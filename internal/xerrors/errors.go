// Package xerrors defines the three disjoint error taxonomies named in
// spec.md §7: transaction errors (recoverable at block granularity),
// block errors (fatal to the block), and decode errors (surfaced to
// the RLP/ABI caller). Each taxonomy is a Kind enum plus a typed error
// wrapping it, following the plain errors.New/fmt.Errorf idiom used by
// the teacher's consensus/misc/eip4844.go and tests/state_test_util.go.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// TxnKind enumerates transaction-level validation failures that
// surface as TXN_REJECT events and never touch state.
type TxnKind int

const (
	MissingSender TxnKind = iota
	SenderNotEoa
	BadNonce
	InsufficientBalance
	IntrinsicGasGreaterThanLimit
	MaxFeeLessThanBase
	PriorityFeeGreaterThanMax
	TypeNotSupported
	WrongChainId
	InitCodeLimitExceeded
	NonceExceedsMax
)

func (k TxnKind) String() string {
	switch k {
	case MissingSender:
		return "MissingSender"
	case SenderNotEoa:
		return "SenderNotEoa"
	case BadNonce:
		return "BadNonce"
	case InsufficientBalance:
		return "InsufficientBalance"
	case IntrinsicGasGreaterThanLimit:
		return "IntrinsicGasGreaterThanLimit"
	case MaxFeeLessThanBase:
		return "MaxFeeLessThanBase"
	case PriorityFeeGreaterThanMax:
		return "PriorityFeeGreaterThanMax"
	case TypeNotSupported:
		return "TypeNotSupported"
	case WrongChainId:
		return "WrongChainId"
	case InitCodeLimitExceeded:
		return "InitCodeLimitExceeded"
	case NonceExceedsMax:
		return "NonceExceedsMax"
	default:
		return "UnknownTxnKind"
	}
}

// TxnError is a transaction-validation failure. It is never fatal to
// the block: the offending transaction is rejected and excluded.
type TxnError struct {
	Kind TxnKind
	Msg  string
}

func (e *TxnError) Error() string { return fmt.Sprintf("txn rejected: %s: %s", e.Kind, e.Msg) }

// NewTxnError constructs a TxnError with a formatted message.
func NewTxnError(kind TxnKind, format string, args ...any) *TxnError {
	return &TxnError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// BlockKind enumerates block-level validation failures that reject
// the entire block.
type BlockKind int

const (
	GasAboveLimit BlockKind = iota
	InvalidGasLimit
	ExtraDataTooLong
	WrongOmmersHash
	WrongParentHash
	FieldBeforeFork
	MissingField
	PowBlockAfterMerge
	InvalidNonce
	TooManyOmmers
	DuplicateOmmers
	InvalidOmmerHeader
	WrongDaoExtraData
	WrongLogsBloom
	InvalidGasUsed
	WrongMerkleRoot
)

func (k BlockKind) String() string {
	names := [...]string{
		"GasAboveLimit", "InvalidGasLimit", "ExtraDataTooLong", "WrongOmmersHash",
		"WrongParentHash", "FieldBeforeFork", "MissingField", "PowBlockAfterMerge",
		"InvalidNonce", "TooManyOmmers", "DuplicateOmmers", "InvalidOmmerHeader",
		"WrongDaoExtraData", "WrongLogsBloom", "InvalidGasUsed", "WrongMerkleRoot",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UnknownBlockKind"
	}
	return names[k]
}

// BlockError rejects the entire block.
type BlockError struct {
	Kind BlockKind
	Msg  string
}

func (e *BlockError) Error() string { return fmt.Sprintf("block rejected: %s: %s", e.Kind, e.Msg) }

func NewBlockError(kind BlockKind, format string, args ...any) *BlockError {
	return &BlockError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// DecodeKind enumerates RLP/ABI decode failures.
type DecodeKind int

const (
	InputTooShort DecodeKind = iota
	InputTooLong
	LeadingZero
	LengthMismatch
	UnknownType
)

func (k DecodeKind) String() string {
	names := [...]string{"InputTooShort", "InputTooLong", "LeadingZero", "LengthMismatch", "UnknownType"}
	if int(k) < 0 || int(k) >= len(names) {
		return "UnknownDecodeKind"
	}
	return names[k]
}

// DecodeError is surfaced to the caller of the RLP/ABI codec.
type DecodeError struct {
	Kind DecodeKind
	Msg  string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode error: %s: %s", e.Kind, e.Msg) }

func NewDecodeError(kind DecodeKind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapStorage wraps a lower-level storage/I/O failure with a stack
// trace via github.com/pkg/errors, matching spec.md §7's propagation
// policy: "Inner MPT I/O errors are fatal to the current upsert and
// are reported up; the prior root remains valid."
func WrapStorage(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// PrunedError indicates a read targeted state older than the
// retained history window; it is not a taxonomy member because it is
// a storage-layer condition, not a validation failure, mirroring the
// teacher's standalone PrunedError in core/state/history_reader_v3.go.
var PrunedError = errors.New("monad-exec: requested version older than retained history window")
