package execution

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/rlp"
	"github.com/monad-crypto/monad-exec/internal/state"
)

// maxRefundQuotient bounds the EIP-3529 gas refund: gas_used/quotient,
// 2 pre-London and 5 post-London (spec.md §4.D.4 step 4).
func maxRefundQuotient(rev evmiface.Revision) uint64 {
	if rev.AtLeast(evmiface.London) {
		return 5
	}
	return 2
}

// ApplyRefund caps result.GasRefund per spec.md §4.D.4 step 4 and
// returns the final gas used after the capped refund is subtracted.
func ApplyRefund(rev evmiface.Revision, gasLimit uint64, result evmiface.Result) (gasUsed uint64, refund uint64) {
	gasUsed = gasLimit - result.GasRemaining
	maxRefund := gasUsed / maxRefundQuotient(rev)
	refund = result.GasRefund
	if refund > maxRefund {
		refund = maxRefund
	}
	return gasUsed - refund, refund
}

// Receipt is the per-transaction outcome spec.md §4.D.4 step 5 names:
// "status, gas_used, logs, type".
type Receipt struct {
	Status  bool
	GasUsed uint64
	Logs    []evmiface.Log
	Type    TxType
}

// logsBloom computes the 256-byte Bloom filter over a set of logs'
// address and topics, per the Yellow Paper's M3:2048 construction
// (three bits set per element via keccak256, folded into 2048 bits).
func logsBloom(logsSet [][]evmiface.Log) [256]byte {
	var bloom [256]byte
	add := func(data []byte) {
		h := crypto.Keccak256(data)
		for _, i := range []int{0, 2, 4} {
			bit := (int(h[i])<<8 | int(h[i+1])) & 2047
			bloom[256-1-bit/8] |= 1 << (bit % 8)
		}
	}
	for _, logs := range logsSet {
		for _, l := range logs {
			add(l.Address[:])
			for _, t := range l.Topics {
				add(t[:])
			}
		}
	}
	return bloom
}

// BlockRewardConstants (pre-Paris only; spec.md §4.D.5 "Block award").
var (
	blockRewardWei  = mustUint("2000000000000000000") // 2 ETH in wei
	ommerShareEighths = uint64(8)
)

func mustUint(dec string) *uint256.Int {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		panic(fmt.Sprintf("execution: bad decimal constant %q: %v", dec, err))
	}
	return v
}

// ApplyBlockReward credits the beneficiary and each ommer's
// beneficiary per spec.md §4.D.5: "beneficiary += 2 ETH +
// floor(reward/32)*ommers.len; each ommer's beneficiary receives a
// graduated share." Only called pre-Paris; post-Paris blocks carry no
// block reward (validator rewards are a consensus-layer concern).
func ApplyBlockReward(ov *Overlay, beneficiary state.Address, ommers []*Header, blockNumber uint64) {
	total := new(uint256.Int).Set(blockRewardWei)
	ommerBonus := new(uint256.Int).Div(blockRewardWei, uint256.NewInt(32))
	ommerBonus.Mul(ommerBonus, uint256.NewInt(uint64(len(ommers))))
	total.Add(total, ommerBonus)

	acc := ov.ensureAccount(beneficiary)
	acc.Balance.Add(&acc.Balance, total)
	ov.writeAccount(beneficiary, acc)

	for _, o := range ommers {
		// graduated share: (8 + ommer_number - block_number) * reward / 8,
		// the Yellow Paper's uncle reward formula; ommer_number is not
		// modeled on Header here (§1 leaves consensus-chain specifics
		// out of scope for this package), so callers wanting the exact
		// per-ommer number must supply it through a richer Header in a
		// future revision — share defaults to the maximum (8/8) absent it.
		share := new(uint256.Int).Mul(blockRewardWei, uint256.NewInt(ommerShareEighths))
		share.Div(share, uint256.NewInt(8))
		oAcc := ov.ensureAccount(o.Beneficiary)
		oAcc.Balance.Add(&oAcc.Balance, share)
		ov.writeAccount(o.Beneficiary, oAcc)
	}
}

// Withdrawal is an EIP-4895 validator withdrawal credited directly to
// a recipient's balance without going through the EVM (spec.md §4.D.5
// "Withdrawals (Shanghai+): credit balances").
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        state.Address
	AmountGwei     uint64
}

// ApplyWithdrawals credits each withdrawal's amount (converted from
// Gwei to Wei). It returns nothing; the withdrawals_root is computed
// separately by WithdrawalsRoot.
func ApplyWithdrawals(ov *Overlay, withdrawals []Withdrawal) {
	for _, w := range withdrawals {
		amount := new(uint256.Int).Mul(uint256.NewInt(w.AmountGwei), uint256.NewInt(1_000_000_000))
		acc := ov.ensureAccount(w.Address)
		acc.Balance.Add(&acc.Balance, amount)
		ov.writeAccount(w.Address, acc)
	}
}

// WithdrawalsRoot computes a flat Merkle-Patricia-style root over the
// RLP encoding of withdrawals keyed by their index, mirroring how
// transactions_root/receipts_root are computed (spec.md §4.D.5):
// index i's RLP-encoded key is rlp(i), matching the Yellow Paper's
// ordered-list trie construction for these three per-block tries.
func WithdrawalsRoot(withdrawals []Withdrawal, emptyTrieRoot func() []byte, insert func(key []byte, value []byte) error) ([]byte, error) {
	for i, w := range withdrawals {
		key := rlp.EncodeUint(uint64(i))
		val := rlp.EncodeList(
			rlp.EncodeUint(w.Index),
			rlp.EncodeUint(w.ValidatorIndex),
			rlp.EncodeString(w.Address[:]),
			rlp.EncodeUint(w.AmountGwei),
		)
		if err := insert(key, val); err != nil {
			return nil, fmt.Errorf("execution: withdrawals root insert %d: %w", i, err)
		}
	}
	return emptyTrieRoot(), nil
}

// BlockOutcome is the aggregate spec.md §4.D.5 checks against the
// header: gas_used, logs_bloom, and the three per-block trie roots.
type BlockOutcome struct {
	GasUsed         uint64
	LogsBloom       [256]byte
	TransactionsRoot []byte
	ReceiptsRoot     []byte
	StateRoot        []byte
}

// CheckBlockOutcome compares a computed BlockOutcome against the
// header's claimed values, per spec.md §4.D.5: "on mismatch, block
// rejected."
func CheckBlockOutcome(got BlockOutcome, headerGasUsed uint64, headerLogsBloom [256]byte, headerTxRoot, headerReceiptsRoot, headerStateRoot []byte) error {
	if got.GasUsed != headerGasUsed {
		return newBlockErr(kindInvalidGasUsed, "gas_used mismatch: computed %d, header %d", got.GasUsed, headerGasUsed)
	}
	if got.LogsBloom != headerLogsBloom {
		return newBlockErr(kindWrongLogsBloom, "logs_bloom mismatch")
	}
	if !bytesEq(got.TransactionsRoot, headerTxRoot) {
		return newBlockErr(kindWrongMerkleRoot, "transactions_root mismatch")
	}
	if !bytesEq(got.ReceiptsRoot, headerReceiptsRoot) {
		return newBlockErr(kindWrongMerkleRoot, "receipts_root mismatch")
	}
	if !bytesEq(got.StateRoot, headerStateRoot) {
		return newBlockErr(kindWrongMerkleRoot, "state_root mismatch")
	}
	return nil
}

func bytesEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AggregateLogsBloom folds every transaction's logs into one block
// logs_bloom.
func AggregateLogsBloom(receipts []Receipt) [256]byte {
	logsSet := make([][]evmiface.Log, len(receipts))
	for i, r := range receipts {
		logsSet[i] = r.Logs
	}
	return logsBloom(logsSet)
}
