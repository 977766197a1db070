package execution

import "github.com/monad-crypto/monad-exec/internal/xerrors"

// Local aliases keep header.go and validate_tx.go readable without a
// xerrors.-qualifier on every kind constant; the underlying taxonomy
// is defined once in internal/xerrors per spec.md §7.
const (
	kindMissingSender                = xerrors.MissingSender
	kindSenderNotEoa                 = xerrors.SenderNotEoa
	kindBadNonce                     = xerrors.BadNonce
	kindInsufficientBalance          = xerrors.InsufficientBalance
	kindIntrinsicGasGreaterThanLimit = xerrors.IntrinsicGasGreaterThanLimit
	kindMaxFeeLessThanBase           = xerrors.MaxFeeLessThanBase
	kindPriorityFeeGreaterThanMax    = xerrors.PriorityFeeGreaterThanMax
	kindTypeNotSupported             = xerrors.TypeNotSupported
	kindWrongChainId                 = xerrors.WrongChainId
	kindInitCodeLimitExceeded        = xerrors.InitCodeLimitExceeded
	kindNonceExceedsMax              = xerrors.NonceExceedsMax

	kindGasAboveLimit      = xerrors.GasAboveLimit
	kindInvalidGasLimit    = xerrors.InvalidGasLimit
	kindExtraDataTooLong   = xerrors.ExtraDataTooLong
	kindWrongOmmersHash    = xerrors.WrongOmmersHash
	kindFieldBeforeFork    = xerrors.FieldBeforeFork
	kindMissingField       = xerrors.MissingField
	kindTooManyOmmers      = xerrors.TooManyOmmers
	kindDuplicateOmmers    = xerrors.DuplicateOmmers
	kindInvalidOmmerHeader = xerrors.InvalidOmmerHeader
	kindInvalidGasUsed     = xerrors.InvalidGasUsed
	kindWrongMerkleRoot    = xerrors.WrongMerkleRoot
	kindWrongLogsBloom     = xerrors.WrongLogsBloom
)

func newBlockErr(kind xerrors.BlockKind, format string, args ...any) error {
	return xerrors.NewBlockError(kind, format, args...)
}

func newTxnErr(kind xerrors.TxnKind, format string, args ...any) error {
	return xerrors.NewTxnError(kind, format, args...)
}
