// Package blockio defines the JSON interchange formats replay_ethereum
// and monad read from --genesis_file and --block_db (spec.md §6): a
// genesis allocation file and a directory of per-block fixture files.
// Ethereum's actual wire encodings (signed RLP transactions, p2p block
// bodies) are out of scope per spec.md §1 ("networking/P2P dissemination
// ... are external interfaces only"), so this package defines its own
// plain-JSON substitute, grounded in the shape tests/state_test_util.go
// already uses for its General State Test fixtures (a "pre" allocation
// map plus hex/decimal-encoded transaction fields) rather than
// translating a binary block format neither binary needs to speak on
// the wire.
package blockio

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"github.com/monad-crypto/monad-exec/internal/mathutil"

	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/execution"
	"github.com/monad-crypto/monad-exec/internal/nibble"
	"github.com/monad-crypto/monad-exec/internal/rlp"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// OrderedRootRef computes the ordered-list trie root reference over
// items keyed by their RLP-encoded index, the same construction
// spec.md §4.D.5 uses for transactions_root/receipts_root/
// withdrawals_root. A nil return means the empty list (no header
// comparison is attempted for it; see CLI callers).
func OrderedRootRef(items [][]byte) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	updates := make([]trie.Update, len(items))
	for i, item := range items {
		updates[i] = trie.Update{Path: nibble.FromBytes(rlp.EncodeUint(uint64(i))), Value: item}
	}
	root, err := trie.Upsert(nil, updates, 0, trie.MerkleCompute{}, nil)
	if err != nil {
		return nil, fmt.Errorf("blockio: ordered root: %w", err)
	}
	return root.Ref, nil
}

// MemCodeStore is an in-memory execution.CodeStore, populated from
// genesis allocations and from contract-creation receipts as blocks
// are replayed. The real deployment's code store (spec.md §1) is an
// external concern; this is the minimal stand-in a single-process CLI
// needs to run at all.
type MemCodeStore struct {
	code map[state.Hash][]byte
}

// NewMemCodeStore returns an empty store.
func NewMemCodeStore() *MemCodeStore {
	return &MemCodeStore{code: make(map[state.Hash][]byte)}
}

// Code implements execution.CodeStore.
func (m *MemCodeStore) Code(hash state.Hash) ([]byte, bool) {
	c, ok := m.code[hash]
	return c, ok
}

// Put records code under its keccak256 hash. Callers pass the hash
// they already computed (genesis loading, post-execution code capture)
// rather than have the store recompute it.
func (m *MemCodeStore) Put(hash state.Hash, code []byte) {
	m.code[hash] = append([]byte(nil), code...)
}

// PutCode implements internal/statesync.CodeSink.
func (m *MemCodeStore) PutCode(hash state.Hash, code []byte) error {
	m.Put(hash, code)
	return nil
}

// AbsorbDelta copies every code blob a committed transaction deployed
// this block into the store, since Overlay.Commit folds account/storage
// writes into the trie but (unlike Pipeline's ToDelta-based merge path)
// does not itself own a code store to write through to.
func (m *MemCodeStore) AbsorbDelta(d *state.Delta) {
	if d == nil {
		return
	}
	for hash, code := range d.NewCode {
		m.Put(hash, code)
	}
}

// GenesisAccount is one entry of a genesis allocation, keyed by
// address in the surrounding map.
type GenesisAccount struct {
	Balance string            `json:"balance"`
	Nonce   uint64            `json:"nonce"`
	Code    string            `json:"code"`
	Storage map[string]string `json:"storage"`
}

// Genesis is the top-level --genesis_file document: an address ->
// account allocation map, matching the "pre" section shape of
// tests/state_test_util.go's stJSON.
type Genesis struct {
	Alloc map[string]GenesisAccount `json:"alloc"`
}

// LoadGenesis reads and parses path. An empty path is not an error —
// callers treat it as an empty genesis (no pre-funded accounts).
func LoadGenesis(path string) (*Genesis, error) {
	g := &Genesis{Alloc: map[string]GenesisAccount{}}
	if path == "" {
		return g, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blockio: reading genesis %s: %w", path, err)
	}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("blockio: parsing genesis %s: %w", path, err)
	}
	return g, nil
}

// Apply writes every genesis allocation into ov and codes, returning
// ov itself; no trie root is computed here.
func (g *Genesis) Apply(ov *execution.Overlay, codes *MemCodeStore) (*execution.Overlay, error) {
	for addrHex, acct := range g.Alloc {
		addr, err := parseAddress(addrHex)
		if err != nil {
			return nil, fmt.Errorf("blockio: genesis address %q: %w", addrHex, err)
		}
		balance, err := parseU256(acct.Balance)
		if err != nil {
			return nil, fmt.Errorf("blockio: genesis balance for %q: %w", addrHex, err)
		}
		ov.SetBalance(addr, *balance)
		ov.SetNonce(addr, acct.Nonce)
		if acct.Code != "" {
			code, err := parseBytes(acct.Code)
			if err != nil {
				return nil, fmt.Errorf("blockio: genesis code for %q: %w", addrHex, err)
			}
			ov.SetCode(addr, code)
			codes.Put(crypto.Keccak256(code), code)
		}
		for keyHex, valHex := range acct.Storage {
			key, err := parseHash(keyHex)
			if err != nil {
				return nil, fmt.Errorf("blockio: genesis storage key for %q: %w", addrHex, err)
			}
			val, err := parseHash(valHex)
			if err != nil {
				return nil, fmt.Errorf("blockio: genesis storage value for %q: %w", addrHex, err)
			}
			ov.SetStorage(addr, key, val)
		}
	}
	return ov, nil
}

// CheckOutcome aggregates a block's committed TxResults into receipts,
// computes transactions_root/receipts_root the way spec.md §4.D.5
// describes (an ordered trie keyed by rlp(index)), and compares the
// result against whatever header fields the fixture actually supplied.
// A header field left as the empty string skips that comparison, so
// minimal fixtures (most tests) need not hand-compute exact roots.
func CheckOutcome(h HeaderFixture, txns []*execution.Transaction, results []*execution.TxResult, rev evmiface.Revision, stateRoot []byte) error {
	var receipts []execution.Receipt
	var gasUsed uint64
	var txEncodings, receiptEncodings [][]byte
	for i, r := range results {
		if r.Rejected != nil {
			continue
		}
		used, _ := execution.ApplyRefund(rev, txns[i].GasLimit, r.Result)
		gasUsed += used
		receipts = append(receipts, execution.Receipt{
			Status:  r.Result.Exit.Ok(),
			GasUsed: used,
			Logs:    r.Result.Logs,
			Type:    txns[i].Type,
		})
		txEncodings = append(txEncodings, encodeTxPlaceholder(txns[i]))
		receiptEncodings = append(receiptEncodings, encodeReceiptPlaceholder(receipts[len(receipts)-1]))
	}

	if h.GasUsed != 0 && gasUsed != h.GasUsed {
		return fmt.Errorf("gas_used mismatch: computed %d, header %d", gasUsed, h.GasUsed)
	}

	if h.TxRoot != "" {
		got, err := OrderedRootRef(txEncodings)
		if err != nil {
			return err
		}
		want, err := parseBytes(h.TxRoot)
		if err != nil {
			return fmt.Errorf("transactionsRoot: %w", err)
		}
		if got != nil && !bytesEqual(got, want) {
			return fmt.Errorf("transactions_root mismatch")
		}
	}
	if h.ReceiptsRoot != "" {
		got, err := OrderedRootRef(receiptEncodings)
		if err != nil {
			return err
		}
		want, err := parseBytes(h.ReceiptsRoot)
		if err != nil {
			return fmt.Errorf("receiptsRoot: %w", err)
		}
		if got != nil && !bytesEqual(got, want) {
			return fmt.Errorf("receipts_root mismatch")
		}
	}
	if h.StateRoot != "" {
		want, err := parseBytes(h.StateRoot)
		if err != nil {
			return fmt.Errorf("stateRoot: %w", err)
		}
		if !bytesEqual(stateRoot, want) {
			return fmt.Errorf("state_root mismatch")
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
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

// encodeTxPlaceholder and encodeReceiptPlaceholder produce the bytes
// CheckOutcome's ordered trie keys on. A full signed-RLP transaction
// encoding and typed receipt encoding are out of scope here (spec.md
// §1 leaves the RLP codec's exact transaction/receipt wire formats to
// an external collaborator); this rewrite hashes a stable field
// summary instead, sufficient to detect reordering/tampering within a
// single replay run without reimplementing EIP-2718 envelope framing.
func encodeTxPlaceholder(tx *execution.Transaction) []byte {
	return rlp.EncodeList(
		rlp.EncodeUint(uint64(tx.Type)),
		rlp.EncodeUint(tx.Nonce),
		rlp.EncodeUint(tx.GasLimit),
		rlp.EncodeString(tx.Sender[:]),
		rlp.EncodeString(tx.Value.Bytes()),
		rlp.EncodeString(tx.Data),
	)
}

func encodeReceiptPlaceholder(r execution.Receipt) []byte {
	status := uint64(0)
	if r.Status {
		status = 1
	}
	return rlp.EncodeList(rlp.EncodeUint(status), rlp.EncodeUint(r.GasUsed), rlp.EncodeUint(uint64(len(r.Logs))))
}

// TxFixture is one transaction within a BlockFixture. Sender is
// carried explicitly rather than recovered from a signature: this
// rewrite's block interchange format stores the already-recovered
// sender address, so internal/crypto.RecoverSender is not called when
// a fixture is loaded.
type TxFixture struct {
	Type     string `json:"type"` // "legacy", "eip2930", "eip1559", "eip4844", "eip7702"
	Nonce    uint64 `json:"nonce"`
	GasLimit uint64 `json:"gasLimit"`
	GasPrice string `json:"gasPrice,omitempty"`
	GasFeeCap string `json:"maxFeePerGas,omitempty"`
	GasTipCap string `json:"maxPriorityFeePerGas,omitempty"`
	To       string `json:"to,omitempty"` // empty => contract creation
	Value    string `json:"value"`
	Data     string `json:"data"`
	Sender   string `json:"sender"`
}

// HeaderFixture mirrors execution.Header with JSON-friendly field
// encodings.
type HeaderFixture struct {
	ParentHash    string  `json:"parentHash"`
	Beneficiary   string  `json:"beneficiary"`
	Number        uint64  `json:"number"`
	GasLimit      uint64  `json:"gasLimit"`
	GasUsed       uint64  `json:"gasUsed"`
	Timestamp     uint64  `json:"timestamp"`
	ExtraData     string  `json:"extraData"`
	BaseFeePerGas string  `json:"baseFeePerGas,omitempty"`
	StateRoot     string  `json:"stateRoot"`
	TxRoot        string  `json:"transactionsRoot"`
	ReceiptsRoot  string  `json:"receiptsRoot"`
	LogsBloom     string  `json:"logsBloom"`
}

// BlockFixture is one replayable block: a header plus its ordered
// transaction list.
type BlockFixture struct {
	Header       HeaderFixture `json:"header"`
	Transactions []TxFixture   `json:"transactions"`
}

// LoadBlocks reads every *.json file in dir, sorted by filename (block
// files are expected to be named so that lexical order is execution
// order, e.g. "00000001.json"), up to limit files (limit<=0 means no
// limit).
func LoadBlocks(dir string, limit int) ([]BlockFixture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("blockio: reading block dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	blocks := make([]BlockFixture, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("blockio: reading block file %s: %w", name, err)
		}
		var b BlockFixture
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("blockio: parsing block file %s: %w", name, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// ToHeader converts the JSON fixture into an execution.Header.
func (h HeaderFixture) ToHeader() (execution.Header, error) {
	var out execution.Header
	var err error
	if out.ParentHash, err = parseHash(h.ParentHash); err != nil {
		return out, fmt.Errorf("blockio: parentHash: %w", err)
	}
	if out.Beneficiary, err = parseAddress(h.Beneficiary); err != nil {
		return out, fmt.Errorf("blockio: beneficiary: %w", err)
	}
	out.GasLimit = h.GasLimit
	out.GasUsed = h.GasUsed
	if h.ExtraData != "" {
		if out.ExtraData, err = parseBytes(h.ExtraData); err != nil {
			return out, fmt.Errorf("blockio: extraData: %w", err)
		}
	}
	if h.BaseFeePerGas != "" {
		fee, err := parseU256(h.BaseFeePerGas)
		if err != nil {
			return out, fmt.Errorf("blockio: baseFeePerGas: %w", err)
		}
		out.BaseFeePerGas = fee
	}
	return out, nil
}

// ToTransaction converts the JSON fixture into an execution.Transaction.
func (t TxFixture) ToTransaction() (*execution.Transaction, error) {
	tx := &execution.Transaction{
		Nonce:    t.Nonce,
		GasLimit: t.GasLimit,
	}
	switch strings.ToLower(t.Type) {
	case "", "legacy":
		tx.Type = execution.TxLegacy
	case "eip2930":
		tx.Type = execution.TxAccessList
	case "eip1559":
		tx.Type = execution.TxDynamicFee
	case "eip4844":
		tx.Type = execution.TxBlob
	case "eip7702":
		tx.Type = execution.TxSetCode
	default:
		return nil, fmt.Errorf("blockio: unknown transaction type %q", t.Type)
	}

	sender, err := parseAddress(t.Sender)
	if err != nil {
		return nil, fmt.Errorf("blockio: sender: %w", err)
	}
	tx.Sender = sender

	if t.To != "" {
		to, err := parseAddress(t.To)
		if err != nil {
			return nil, fmt.Errorf("blockio: to: %w", err)
		}
		tx.To = &to
	}

	value, err := parseU256(t.Value)
	if err != nil {
		return nil, fmt.Errorf("blockio: value: %w", err)
	}
	tx.Value = *value

	if t.Data != "" {
		if tx.Data, err = parseBytes(t.Data); err != nil {
			return nil, fmt.Errorf("blockio: data: %w", err)
		}
	}

	if tx.Type == execution.TxLegacy || tx.Type == execution.TxAccessList {
		price, err := parseU256(t.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("blockio: gasPrice: %w", err)
		}
		tx.GasPrice = price
	} else {
		feeCap, err := parseU256(t.GasFeeCap)
		if err != nil {
			return nil, fmt.Errorf("blockio: maxFeePerGas: %w", err)
		}
		tipCap, err := parseU256(t.GasTipCap)
		if err != nil {
			return nil, fmt.Errorf("blockio: maxPriorityFeePerGas: %w", err)
		}
		tx.MaxFeePerGas = feeCap
		tx.MaxPriorityFeePerGas = tipCap
	}

	return tx, nil
}

func parseAddress(s string) (state.Address, error) {
	var a state.Address
	b, err := parseBytes(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("want %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

func parseHash(s string) (state.Hash, error) {
	var h state.Hash
	b, err := parseBytes(s)
	if err != nil {
		return h, err
	}
	if len(b) > len(h) {
		return h, fmt.Errorf("want at most %d bytes, got %d", len(h), len(b))
	}
	copy(h[len(h)-len(b):], b)
	return h, nil
}

func parseBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func parseU256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		v, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("integer %q overflows 256 bits", s)
		}
		return v, nil
	}
	v, ok := mathutil.ParseUint64(s)
	if !ok {
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal integer %q", s)
		}
		u, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("integer %q overflows 256 bits", s)
		}
		return u, nil
	}
	return uint256.NewInt(v), nil
}
