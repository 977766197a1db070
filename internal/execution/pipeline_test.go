package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// transferInterpreter is a fake evmiface.Interpreter standing in for
// the EVM collaborator spec.md §1 treats as out of scope: it performs
// only the value transfer a plain call carries, crediting msg.To with
// msg.Value and reporting the 21000 intrinsic gas as the only gas
// spent. Sender-side debits (value + gas cost) are the pipeline's own
// responsibility (executeOne), not the interpreter's.
type transferInterpreter struct{}

func (transferInterpreter) Execute(rev evmiface.Revision, host evmiface.Host, msg evmiface.Message, code []byte) evmiface.Result {
	if msg.To != nil {
		bal := host.GetBalance(*msg.To)
		bal.Add(&bal, &msg.Value)
		host.SetBalance(*msg.To, bal)
	}
	return evmiface.Result{Exit: evmiface.Success, GasRemaining: msg.GasLimit - gasTransaction}
}

// S3 from spec.md §8: a plain value transfer {nonce:0, max_fee:10,
// gas_limit:25000, value:1_000_000, type:eip155} from a sender with
// balance 10_000_000 leaves balance(sender)=8_790_000,
// balance(to)=1_000_000, gas_used=21000.
func TestPipelineRunValueTransferMatchesScenarioS3(t *testing.T) {
	var sender, to state.Address
	sender[0] = 0xaa
	to[0] = 0xbe
	to[19] = 0xbe

	senderLeaf := encodeAccount(accountEncoding{
		Nonce:    0,
		Balance:  *u256(10_000_000),
		CodeHash: state.EmptyCodeHash,
	})
	root, err := trie.Upsert(nil, []trie.Update{{Path: accountPath(sender), Value: senderLeaf}}, 0, trie.MerkleCompute{}, nil)
	require.NoError(t, err)

	tx := &Transaction{
		Type:     TxLegacy,
		Nonce:    0,
		GasLimit: 25000,
		GasPrice: u256(10),
		To:       &to,
		Value:    *u256(1_000_000),
		Sender:   sender,
	}

	p := NewPipeline(PipelineConfig{Workers: 1}, transferInterpreter{}, evmiface.Byzantium, nil, nil, nil, state.Address{}, nil)
	results, newRoot, err := p.Run(context.Background(), 1, root, []*Transaction{tx}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.NoError(t, r.Rejected)
	require.NoError(t, r.Err)

	gasUsed := tx.GasLimit - r.Result.GasRemaining
	require.Equal(t, uint64(21000), gasUsed)

	senderEnc, ok, err := trie.Get(newRoot, accountPath(sender), nil)
	require.NoError(t, err)
	require.True(t, ok)
	senderAcct, err := decodeAccount(senderEnc)
	require.NoError(t, err)
	require.Equal(t, u256(8_790_000).String(), senderAcct.Balance.String())

	toEnc, ok, err := trie.Get(newRoot, accountPath(to), nil)
	require.NoError(t, err)
	require.True(t, ok)
	toAcct, err := decodeAccount(toEnc)
	require.NoError(t, err)
	require.Equal(t, u256(1_000_000).String(), toAcct.Balance.String())
}

// warmCheckInterpreter records, at EVM entry, whether the sender, the
// block beneficiary, and a fixed access-list address were already warm
// — exercising spec.md §4.D.4 step 2's pre-EVM warm-up pass.
type warmCheckInterpreter struct {
	sender, beneficiary, accessListAddr state.Address
	senderWarm, beneficiaryWarm, accessListWarm bool
}

func (w *warmCheckInterpreter) Execute(rev evmiface.Revision, host evmiface.Host, msg evmiface.Message, code []byte) evmiface.Result {
	w.senderWarm = host.AccessAccount(w.sender)
	w.beneficiaryWarm = host.AccessAccount(w.beneficiary)
	w.accessListWarm = host.AccessAccount(w.accessListAddr)
	return evmiface.Result{Exit: evmiface.Success, GasRemaining: msg.GasLimit - gasTransaction}
}

func TestPipelineWarmsSenderBeneficiaryAndAccessList(t *testing.T) {
	var sender, beneficiary, accessListAddr state.Address
	sender[0] = 0xaa
	beneficiary[0] = 0xbb
	accessListAddr[0] = 0xcc

	var to state.Address
	to[0] = 0xde

	senderLeaf := encodeAccount(accountEncoding{Nonce: 0, Balance: *u256(10_000_000), CodeHash: state.EmptyCodeHash})
	root, err := trie.Upsert(nil, []trie.Update{{Path: accountPath(sender), Value: senderLeaf}}, 0, trie.MerkleCompute{}, nil)
	require.NoError(t, err)

	tx := &Transaction{
		Type:       TxAccessList,
		Nonce:      0,
		GasLimit:   25000,
		GasPrice:   u256(10),
		To:         &to,
		Value:      *u256(0),
		Sender:     sender,
		AccessList: []AccessTuple{{Address: accessListAddr}},
	}

	interp := &warmCheckInterpreter{sender: sender, beneficiary: beneficiary, accessListAddr: accessListAddr}
	p := NewPipeline(PipelineConfig{Workers: 1}, interp, evmiface.Byzantium, nil, nil, nil, beneficiary, nil)
	results, _, err := p.Run(context.Background(), 1, root, []*Transaction{tx}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Rejected)

	require.True(t, interp.senderWarm, "sender should already be warm at EVM entry")
	require.True(t, interp.beneficiaryWarm, "block beneficiary should already be warm at EVM entry (EIP-3651)")
	require.True(t, interp.accessListWarm, "declared access-list address should already be warm at EVM entry")
}

// A rejected transaction (failing static validation) does not abort
// the pipeline run nor mutate state, per spec.md §4.D.4's failure
// semantics.
func TestPipelineRunRejectedTransactionDoesNotAbortOrMutate(t *testing.T) {
	var sender, to state.Address
	sender[0] = 0xaa
	to[0] = 0xcc
	senderLeaf := encodeAccount(accountEncoding{Nonce: 0, Balance: *u256(10_000_000), CodeHash: state.EmptyCodeHash})
	root, err := trie.Upsert(nil, []trie.Update{{Path: accountPath(sender), Value: senderLeaf}}, 0, trie.MerkleCompute{}, nil)
	require.NoError(t, err)

	tx := &Transaction{
		Type:     TxLegacy,
		Nonce:    0,
		GasLimit: 100, // below the 21000 intrinsic floor
		GasPrice: u256(10),
		To:       &to,
		Sender:   sender,
	}

	p := NewPipeline(PipelineConfig{Workers: 1}, transferInterpreter{}, evmiface.Byzantium, nil, nil, nil, state.Address{}, nil)
	results, newRoot, err := p.Run(context.Background(), 1, root, []*Transaction{tx}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Rejected)
	require.NoError(t, results[0].Err)

	senderEnc, ok, err := trie.Get(newRoot, accountPath(sender), nil)
	require.NoError(t, err)
	require.True(t, ok)
	senderAcct, err := decodeAccount(senderEnc)
	require.NoError(t, err)
	require.Equal(t, u256(10_000_000).String(), senderAcct.Balance.String())
}
