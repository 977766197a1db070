package execution

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/xerrors"
)

func u256(v uint64) *uint256.Int { return uint256.NewInt(v) }

func u256FromDecimal(t *testing.T, dec string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(dec)
	require.NoError(t, err)
	return v
}

func distinctOmmersHash([]*Header) state.Hash { return state.Hash{0xaa} }

// S4 from spec.md §8: gas_limit=4999 in a header must fail static
// validation with InvalidGasLimit.
func TestValidateBlockStaticRejectsGasLimitBelowFloor(t *testing.T) {
	h := &Header{
		GasLimit:   4999,
		OmmersHash: distinctOmmersHash(nil),
	}
	err := ValidateBlockStatic(h, evmiface.Shanghai, distinctOmmersHash)
	require.Error(t, err)

	var blockErr *xerrors.BlockError
	require.ErrorAs(t, err, &blockErr)
	require.Equal(t, xerrors.InvalidGasLimit, blockErr.Kind)
}

func TestValidateBlockStaticRejectsGasLimitAtOrAboveCeiling(t *testing.T) {
	h := &Header{
		GasLimit:   uint64(1) << 63,
		OmmersHash: distinctOmmersHash(nil),
	}
	err := ValidateBlockStatic(h, evmiface.Shanghai, distinctOmmersHash)
	require.Error(t, err)
	var blockErr *xerrors.BlockError
	require.ErrorAs(t, err, &blockErr)
	require.Equal(t, xerrors.InvalidGasLimit, blockErr.Kind)
}

func TestValidateBlockStaticAcceptsMinimalValidHeader(t *testing.T) {
	h := &Header{
		GasLimit:        MinGasLimit,
		OmmersHash:      distinctOmmersHash(nil),
		BaseFeePerGas:   u256(1),
		WithdrawalsRoot: &state.Hash{},
	}
	err := ValidateBlockStatic(h, evmiface.Shanghai, distinctOmmersHash)
	require.NoError(t, err)
}

func TestValidateBlockStaticRejectsMissingBaseFeePostLondon(t *testing.T) {
	h := &Header{
		GasLimit:   MinGasLimit,
		OmmersHash: distinctOmmersHash(nil),
	}
	err := ValidateBlockStatic(h, evmiface.London, distinctOmmersHash)
	require.Error(t, err)
	var blockErr *xerrors.BlockError
	require.ErrorAs(t, err, &blockErr)
	require.Equal(t, xerrors.MissingField, blockErr.Kind)
}

func TestValidateBlockStaticRejectsTooManyOmmers(t *testing.T) {
	h := &Header{
		GasLimit: MinGasLimit,
		Ommers:   []*Header{{}, {}, {}},
	}
	h.OmmersHash = distinctOmmersHash(h.Ommers)
	err := ValidateBlockStatic(h, evmiface.Frontier, func([]*Header) state.Hash { return h.OmmersHash })
	require.Error(t, err)
	var blockErr *xerrors.BlockError
	require.ErrorAs(t, err, &blockErr)
	require.Equal(t, xerrors.TooManyOmmers, blockErr.Kind)
}

// S5 from spec.md §8: {max_fee:29_443_849_433, max_priority:100_000_000_000,
// base_fee:29_000_000_000} must fail static tx validation with
// PriorityFeeGreaterThanMax.
func TestValidateStaticRejectsPriorityFeeAboveMax(t *testing.T) {
	tx := &Transaction{
		Type:                 TxDynamicFee,
		Nonce:                0,
		GasLimit:             21000,
		MaxFeePerGas:         u256FromDecimal(t, "29443849433"),
		MaxPriorityFeePerGas: u256FromDecimal(t, "100000000000"),
	}
	baseFee := u256FromDecimal(t, "29000000000")
	err := ValidateStatic(tx, evmiface.London, nil, baseFee)
	require.Error(t, err)

	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.PriorityFeeGreaterThanMax, txnErr.Kind)
}

func TestValidateStaticRejectsMaxFeeBelowBaseFee(t *testing.T) {
	tx := &Transaction{
		Type:                 TxDynamicFee,
		GasLimit:             21000,
		Nonce:                0,
		MaxFeePerGas:         u256(10),
		MaxPriorityFeePerGas: u256(1),
	}
	err := ValidateStatic(tx, evmiface.London, nil, u256(20))
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.MaxFeeLessThanBase, txnErr.Kind)
}

func TestValidateStaticRejectsTypeNotPermittedAtRevision(t *testing.T) {
	tx := &Transaction{Type: TxBlob, GasLimit: 21000, MaxFeePerGas: u256(10), MaxPriorityFeePerGas: u256(1)}
	err := ValidateStatic(tx, evmiface.London, nil, u256(1))
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.TypeNotSupported, txnErr.Kind)
}

func TestValidateStaticRejectsIntrinsicGasAboveLimit(t *testing.T) {
	tx := &Transaction{Type: TxLegacy, GasLimit: 100, GasPrice: u256(1)}
	err := ValidateStatic(tx, evmiface.Frontier, nil, nil)
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.IntrinsicGasGreaterThanLimit, txnErr.Kind)
}

func TestIntrinsicGasLegacyBaseline(t *testing.T) {
	to := state.Address{}
	tx := &Transaction{Type: TxLegacy, GasLimit: 21000, To: &to}
	require.Equal(t, uint64(21000), IntrinsicGas(tx, evmiface.Frontier))
}

func TestIntrinsicGasCreateAddsCreateCost(t *testing.T) {
	tx := &Transaction{Type: TxLegacy, To: nil, GasLimit: 53000}
	require.Equal(t, uint64(21000+32000), IntrinsicGas(tx, evmiface.Frontier))
}

func TestIntrinsicGasDataBytesPostIstanbul(t *testing.T) {
	to := state.Address{}
	tx := &Transaction{Type: TxLegacy, To: &to, Data: []byte{0x00, 0x01, 0x02}}
	got := IntrinsicGas(tx, evmiface.Istanbul)
	require.Equal(t, uint64(21000+4+16+16), got)
}

func TestValidateDynamicRejectsSenderWithCode(t *testing.T) {
	tx := &Transaction{Nonce: 0}
	sender := &state.Account{Nonce: 0, Balance: *u256(1_000_000)}
	err := ValidateDynamic(tx, sender, true, u256(1))
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.SenderNotEoa, txnErr.Kind)
}

func TestValidateDynamicRejectsNonceMismatch(t *testing.T) {
	tx := &Transaction{Nonce: 5}
	sender := &state.Account{Nonce: 4, Balance: *u256(1_000_000)}
	err := ValidateDynamic(tx, sender, false, u256(1))
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.BadNonce, txnErr.Kind)
}

func TestValidateDynamicRejectsInsufficientBalance(t *testing.T) {
	tx := &Transaction{Nonce: 0, GasLimit: 21000, Value: *u256(1_000_000)}
	sender := &state.Account{Nonce: 0, Balance: *u256(100)}
	err := ValidateDynamic(tx, sender, false, u256(1))
	require.Error(t, err)
	var txnErr *xerrors.TxnError
	require.ErrorAs(t, err, &txnErr)
	require.Equal(t, xerrors.InsufficientBalance, txnErr.Kind)
}

func TestValidateDynamicAcceptsSufficientBalance(t *testing.T) {
	tx := &Transaction{Nonce: 0, GasLimit: 21000, Value: *u256(1_000_000)}
	sender := &state.Account{Nonce: 0, Balance: *u256(100_000_000)}
	err := ValidateDynamic(tx, sender, false, u256(1))
	require.NoError(t, err)
}
