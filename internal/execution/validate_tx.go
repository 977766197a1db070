package execution

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/state"
)

// MaxCodeSize bounds contract code; post-Shanghai init code may be up
// to 2x that (spec.md §4.D.2: "For creates post-Shanghai: data.len <=
// 2*MAX_CODE_SIZE").
const MaxCodeSize = 24576

// MaxNonce is the largest representable nonce (spec.md §4.D.2:
// "nonce < 2^64-1").
const MaxNonce = uint64(math.MaxUint64) - 1

// intrinsic gas constants (spec.md §4.D.2).
const (
	gasTransaction       = 21000
	gasTransactionCreate = 32000
	gasTxDataZero        = 4
	gasTxDataNonZeroPre  = 68
	gasTxDataNonZeroPost = 16
	gasAccessListAddress = 2400
	gasAccessListStorage = 1900
	// EIP-7623 (Prague+) floor price per non-zero calldata token.
	floorTokenCost = 10
	floorBaseGas   = 21000
)

// typeAllowed reports whether tx type t is permitted at revision rev
// (spec.md §4.D.2: "type in the set permitted at rev").
func typeAllowed(t TxType, rev evmiface.Revision) bool {
	switch t {
	case TxLegacy:
		return true
	case TxAccessList:
		return rev.AtLeast(evmiface.Berlin)
	case TxDynamicFee:
		return rev.AtLeast(evmiface.London)
	case TxBlob:
		return rev.AtLeast(evmiface.Cancun)
	case TxSetCode:
		return rev.AtLeast(evmiface.Prague)
	default:
		return false
	}
}

// ValidateStatic implements spec.md §4.D.2's per-revision checks that
// do not require account state.
func ValidateStatic(tx *Transaction, rev evmiface.Revision, chainID *uint256.Int, baseFeePerGas *uint256.Int) error {
	if !typeAllowed(tx.Type, rev) {
		return newTxnErr(kindTypeNotSupported, "transaction type %d not permitted at this revision", tx.Type)
	}

	if rev.AtLeast(evmiface.London) && (tx.Type == TxDynamicFee || tx.Type == TxBlob || tx.Type == TxSetCode) {
		if tx.MaxFeePerGas.Lt(baseFeePerGas) {
			return newTxnErr(kindMaxFeeLessThanBase, "max_fee_per_gas %s < base_fee_per_gas %s", tx.MaxFeePerGas, baseFeePerGas)
		}
		if tx.MaxPriorityFeePerGas.Gt(tx.MaxFeePerGas) {
			return newTxnErr(kindPriorityFeeGreaterThanMax, "max_priority_fee_per_gas %s > max_fee_per_gas %s", tx.MaxPriorityFeePerGas, tx.MaxFeePerGas)
		}
	}

	if tx.IsCreate() && rev.AtLeast(evmiface.Shanghai) && len(tx.Data) > 2*MaxCodeSize {
		return newTxnErr(kindInitCodeLimitExceeded, "init code length %d exceeds %d", len(tx.Data), 2*MaxCodeSize)
	}

	gas := IntrinsicGas(tx, rev)
	if gas > tx.GasLimit {
		return newTxnErr(kindIntrinsicGasGreaterThanLimit, "intrinsic gas %d exceeds gas_limit %d", gas, tx.GasLimit)
	}

	if tx.Nonce >= MaxNonce {
		return newTxnErr(kindNonceExceedsMax, "nonce %d exceeds maximum", tx.Nonce)
	}

	if chainID != nil && tx.ChainID != nil && !tx.ChainID.Eq(chainID) {
		return newTxnErr(kindWrongChainId, "chain id %s does not match configured chain %s", tx.ChainID, chainID)
	}

	return nil
}

// IntrinsicGas computes the minimum gas a transaction must provide,
// per spec.md §4.D.2's formula, including the Prague+ EIP-7623 floor.
func IntrinsicGas(tx *Transaction, rev evmiface.Revision) uint64 {
	gas := uint64(gasTransaction)
	if tx.IsCreate() {
		gas += gasTransactionCreate
	}

	var zeroBytes, nonZeroBytes uint64
	for _, b := range tx.Data {
		if b == 0 {
			zeroBytes++
		} else {
			nonZeroBytes++
		}
	}
	nonZeroCost := uint64(gasTxDataNonZeroPre)
	if rev.AtLeast(evmiface.Istanbul) {
		nonZeroCost = gasTxDataNonZeroPost
	}
	gas += zeroBytes*gasTxDataZero + nonZeroBytes*nonZeroCost

	if len(tx.AccessList) > 0 {
		keys := 0
		for _, a := range tx.AccessList {
			keys += len(a.StorageKeys)
		}
		gas += uint64(len(tx.AccessList))*gasAccessListAddress + uint64(keys)*gasAccessListStorage
	}

	if rev.AtLeast(evmiface.Prague) {
		tokens := zeroBytes + nonZeroBytes*4
		floor := uint64(floorBaseGas) + tokens*floorTokenCost
		if tx.IsCreate() {
			floor += gasTransactionCreate
		}
		if floor > gas {
			gas = floor
		}
	}

	return gas
}

// ValidateDynamic implements spec.md §4.D.3's post-sender-recovery
// checks against current account state.
func ValidateDynamic(tx *Transaction, sender *state.Account, senderHasCode bool, gasPrice *uint256.Int) error {
	if senderHasCode {
		return newTxnErr(kindSenderNotEoa, "sender %x has code (EIP-3607)", tx.Sender)
	}
	if sender.Nonce != tx.Nonce {
		return newTxnErr(kindBadNonce, "nonce mismatch: account has %d, transaction has %d", sender.Nonce, tx.Nonce)
	}

	need := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit), gasPrice)
	need.Add(need, &tx.Value)
	if sender.Balance.Lt(need) {
		return newTxnErr(kindInsufficientBalance, "balance %s below required %s", sender.Balance.String(), need.String())
	}
	return nil
}
