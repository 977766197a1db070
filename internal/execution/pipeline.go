package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/metrics"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// TxResult is one transaction's speculative execution outcome before
// commit ordering has been applied (spec.md §4.D.4).
type TxResult struct {
	Index   int
	Overlay *Overlay
	Delta   *state.Delta
	Result  evmiface.Result

	// Rejected is set when static/dynamic validation failed: per
	// spec.md §4.D.4 "Failure semantics", this produces a TXN_REJECT
	// event and no state change, but is not a pipeline error — the
	// block continues processing subsequent transactions.
	Rejected error

	// Err is a fatal pipeline error (e.g. a trie I/O failure building
	// the commit delta); unlike Rejected, this aborts the whole block.
	Err error

	Attempts int
}

// PipelineConfig bounds the worker pool speculatively executing a
// block's transactions (spec.md §4.D.4: "transactions execute
// speculatively in parallel against a shared base view, ... a
// scheduler detects conflicts and re-executes as needed").
type PipelineConfig struct {
	Workers int // goroutine fan-out; 0 selects a sane default
}

// Pipeline runs one block's transactions through speculative parallel
// execution, grounded on the worker-pool/errgroup pattern in
// eth/stagedsync's blocksReadAhead (fan out over a bounded pool,
// propagate the first error via the group's context) generalized from
// read-ahead prefetch to speculative transaction execution with
// conflict detection and deterministic re-commit.
type Pipeline struct {
	cfg         PipelineConfig
	interp      evmiface.Interpreter
	rev         evmiface.Revision
	baseFee     *uint256.Int
	codes       CodeStore
	source      trie.NodeSource
	maxRetries  int
	beneficiary state.Address
	recorder    *Recorder
}

// NewPipeline constructs a Pipeline. maxRetries (fixed at 8 here) bounds re-execution
// attempts per transaction before the pipeline gives up and reports
// the conflict as a fatal error (a defensive bound; in practice
// transactions converge in O(1) retries once earlier ones have
// committed). beneficiary is the block's coinbase, warmed per
// EIP-3651 ahead of every transaction; recorder may be nil, in which
// case event emission is a no-op (spec.md §5's disabled lifecycle).
func NewPipeline(cfg PipelineConfig, interp evmiface.Interpreter, rev evmiface.Revision, baseFee *uint256.Int, codes CodeStore, source trie.NodeSource, beneficiary state.Address, recorder *Recorder) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{cfg: cfg, interp: interp, rev: rev, baseFee: baseFee, codes: codes, source: source, maxRetries: 8, beneficiary: beneficiary, recorder: recorder}
}

// Run speculatively executes txns against baseRoot in parallel, then
// serially validates and commits them in transaction order, retrying
// any transaction whose read set was invalidated by an
// earlier-ordered commit (spec.md §4.D.4 steps 1-5). It returns each
// transaction's final (non-speculative, committed) result in order.
//
// The BLOCK_START...BLOCK_END event sequence (spec.md §4.D.6) is
// emitted around the whole run, with one TXN_HEADER_START...TXN_END
// (or TXN_REJECT) sub-sequence per transaction in final transaction
// order — emitted once the scheduler has resolved each transaction's
// last, committed attempt, not once per speculative/discarded retry.
func (p *Pipeline) Run(ctx context.Context, blockNumber uint64, root *trie.Node, txns []*Transaction, version uint64) ([]*TxResult, *trie.Node, error) {
	flow := p.recorder.EmitBlockStart(blockNumber)
	results := make([]*TxResult, len(txns))
	committedWrites := state.NewWriteSet()
	var mu sync.Mutex // guards committedWrites during the speculative fan-out's early (optimistic) reads

	sched := newScheduler(len(txns), p.cfg.Workers)

	for sched.hasPending() {
		batch := sched.nextBatch()
		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range batch {
			idx := idx
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				ov := NewOverlay(root, p.source, p.codes, version)
				res := p.executeOne(ov, txns[idx])
				results[idx] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, fmt.Errorf("execution: pipeline batch: %w", err)
		}

		mu.Lock()
		for _, idx := range batch {
			r := results[idx]
			if r.Err != nil {
				mu.Unlock()
				return nil, nil, fmt.Errorf("execution: transaction %d: %w", idx, r.Err)
			}
			if r.Rejected != nil {
				sched.markCommitted(idx)
				continue
			}
			if r.Overlay.ReadSet().Intersects(committedWrites) {
				metrics.PipelineRetries.Inc()
				r.Attempts++
				if r.Attempts > p.maxRetries {
					mu.Unlock()
					return nil, nil, fmt.Errorf("execution: transaction %d exceeded %d re-execution attempts", idx, p.maxRetries)
				}
				sched.requeue(idx)
				continue
			}
			r.Overlay.WriteSet().UnionInto(committedWrites)
			sched.markCommitted(idx)
		}
		mu.Unlock()
	}

	newRoot, err := p.mergeCommitted(root, results, version)
	if err != nil {
		return nil, nil, err
	}

	var blockGasUsed uint64
	for idx, r := range results {
		if r.Rejected != nil {
			p.recorder.EmitTxnReject(flow, idx, r.Rejected.Error())
			continue
		}
		tx := txns[idx]
		p.recorder.EmitTxnHeaderStart(flow, idx, tx.Hash())
		p.recorder.EmitAccessListEntry(flow, idx, tx.Sender)
		for _, entry := range tx.AccessList {
			p.recorder.EmitAccessListEntry(flow, idx, entry.Address)
		}
		p.recorder.EmitTxnHeaderEnd(flow, idx)

		gasUsed := tx.GasLimit - r.Result.GasRemaining
		blockGasUsed += gasUsed
		p.recorder.EmitTxnEVMOutput(flow, idx, int(r.Result.Exit), gasUsed)
		for _, lg := range r.Result.Logs {
			topics := make([][32]byte, len(lg.Topics))
			for i, t := range lg.Topics {
				topics[i] = t
			}
			p.recorder.EmitTxnLog(flow, idx, lg.Address, topics, lg.Data)
		}
		p.recorder.EmitTxnEnd(flow, idx)
	}
	p.recorder.EmitBlockEnd(flow, blockGasUsed, newRoot.Ref)

	return results, newRoot, nil
}

// executeOne runs a single transaction's static/dynamic validation and
// EVM execution against its own overlay, never touching shared state
// (spec.md §4.D.4 step 1: "no shared mutable state is written until
// commit").
func (p *Pipeline) executeOne(ov *Overlay, tx *Transaction) *TxResult {
	if err := ValidateStatic(tx, p.rev, tx.ChainID, p.baseFee); err != nil {
		metrics.PipelineTxnRejected.WithLabelValues("validation").Inc()
		return &TxResult{Overlay: ov, Rejected: err}
	}
	senderAcct := &state.Account{Balance: ov.GetBalance(tx.Sender), Nonce: ov.GetNonce(tx.Sender), CodeHash: ov.GetCodeHash(tx.Sender)}
	hasCode := senderAcct.CodeHash != state.EmptyCodeHash
	gasPrice := tx.EffectiveGasPrice(p.baseFee)
	if err := ValidateDynamic(tx, senderAcct, hasCode, gasPrice); err != nil {
		metrics.PipelineTxnRejected.WithLabelValues("validation").Inc()
		return &TxResult{Overlay: ov, Rejected: err}
	}

	// Warm-up pass (spec.md §4.D.4 step 2): the sender, the declared
	// access list, and the block beneficiary (EIP-3651) are all marked
	// warm before EVM entry, so the interpreter's own EIP-2929 cold/warm
	// gas accounting sees them as already-accessed.
	ov.AccessAccount(tx.Sender)
	ov.AccessAccount(p.beneficiary)
	for _, entry := range tx.AccessList {
		ov.AccessAccount(entry.Address)
		for _, key := range entry.StorageKeys {
			ov.AccessStorage(entry.Address, key)
		}
	}

	msg := evmiface.Message{
		Sender:   tx.Sender,
		To:       tx.To,
		Value:    tx.Value,
		GasLimit: tx.GasLimit,
		GasPrice: *gasPrice,
		Data:     tx.Data,
		IsCreate: tx.IsCreate(),
	}
	result := p.interp.Execute(p.rev, ov, msg, ov.GetCode(deref(tx.To)))

	ov.SetNonce(tx.Sender, senderAcct.Nonce+1)
	// Re-read the sender's balance rather than reusing the pre-call
	// senderAcct snapshot: Execute may have credited tx.Sender mid-call
	// (a SELFDESTRUCT beneficiary, a nested CALL paying value back), and
	// the gas/value debit below must apply on top of that, not discard it.
	cost := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit-result.GasRemaining), gasPrice)
	currentBal := ov.GetBalance(tx.Sender)
	newBal := new(uint256.Int).Sub(&currentBal, cost)
	newBal.Sub(newBal, &tx.Value)
	ov.SetBalance(tx.Sender, *newBal)

	delta, err := ov.ToDelta()
	return &TxResult{Overlay: ov, Delta: delta, Result: result, Err: err}
}

func deref(a *state.Address) state.Address {
	if a == nil {
		return state.Address{}
	}
	return *a
}

// mergeCommitted folds every committed transaction's overlay into a
// single account-trie Upsert call, in transaction order, so the
// resulting root matches exactly what sequential execution would have
// produced (spec.md §4.D.4 step 5: "the final root is
// order-deterministic regardless of execution parallelism").
func (p *Pipeline) mergeCommitted(root *trie.Node, results []*TxResult, version uint64) (*trie.Node, error) {
	var updates []trie.Update
	seen := make(map[state.Address]*state.Account)
	var deletedOrder []state.Address
	for _, r := range results {
		if r.Rejected != nil || r.Delta == nil {
			continue
		}
		for addr, u := range r.Delta.Accounts {
			if u.New == nil {
				deletedOrder = append(deletedOrder, addr)
				delete(seen, addr)
				continue
			}
			seen[addr] = u.New
		}
	}
	for addr, a := range seen {
		var storageRoot []byte
		for _, r := range results {
			if n := r.Overlay.StorageRootNode(addr); n != nil {
				storageRoot = n.Ref
			}
		}
		leaf := encodeAccount(accountEncoding{Nonce: a.Nonce, Balance: a.Balance, StorageRoot: storageRoot, CodeHash: a.CodeHash})
		updates = append(updates, trie.Update{Path: accountPath(addr), Value: leaf})
	}
	for _, addr := range deletedOrder {
		updates = append(updates, trie.Update{Path: accountPath(addr), Delete: true})
	}
	return trie.Upsert(root, updates, version, trie.MerkleCompute{}, p.source)
}
