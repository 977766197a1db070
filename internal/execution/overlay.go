package execution

import (
	"fmt"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/crypto"
	"github.com/monad-crypto/monad-exec/internal/nibble"
	"github.com/monad-crypto/monad-exec/internal/rlp"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// CodeStore resolves a code hash to its bytecode; the execution
// pipeline never owns code storage itself (spec.md §1 names the code
// blob store as an external concern), so Overlay reads through this
// narrow interface plus whatever a transaction itself deploys this
// block (tracked in newCode below).
type CodeStore interface {
	Code(hash state.Hash) ([]byte, bool)
}

// codeCacheSize bounds CachedCodeStore's ARC cache. Contract bytecode
// lookups mix a few hot, repeatedly-called contracts (favors recency)
// with long sweeps over many distinct contracts during block replay
// (favors frequency) — ARC's point of adapting between the two fits
// better here than a plain LRU.
const codeCacheSize = 2048

// CachedCodeStore wraps a backing CodeStore with an adaptive-
// replacement cache, so repeated lookups of the same contract's
// bytecode across transactions and blocks avoid re-hitting the
// backing store (spec.md §1 names the code blob store as an external
// concern; this only caches in front of it).
type CachedCodeStore struct {
	backing CodeStore
	cache   *arc.ARCCache[state.Hash, []byte]
}

// NewCachedCodeStore wraps backing with a bounded ARC cache.
func NewCachedCodeStore(backing CodeStore) *CachedCodeStore {
	cache, err := arc.NewARC[state.Hash, []byte](codeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// codeCacheSize never is.
		panic(err)
	}
	return &CachedCodeStore{backing: backing, cache: cache}
}

// Code implements CodeStore.
func (c *CachedCodeStore) Code(hash state.Hash) ([]byte, bool) {
	if code, ok := c.cache.Get(hash); ok {
		return code, true
	}
	code, ok := c.backing.Code(hash)
	if ok {
		c.cache.Add(hash, code)
	}
	return code, ok
}

// accountEncoding mirrors the four-field Yellow Paper account record
// (nonce, balance, storage_root, code_hash) that becomes a trie leaf
// value, per spec.md §3 "Trie node" / §4.C.4. storageRoot is the
// 32-byte node reference of the account's storage trie ToNodeReference
// output, independent of whether that storage trie is itself only a
// single in-memory node.
type accountEncoding struct {
	Nonce       uint64
	Balance     uint256.Int
	StorageRoot []byte
	CodeHash    state.Hash
}

func encodeAccount(a accountEncoding) []byte {
	return rlp.EncodeList(
		rlp.EncodeUint(a.Nonce),
		rlp.EncodeString(a.Balance.Bytes()),
		rlp.EncodeString(a.StorageRoot),
		rlp.EncodeString(a.CodeHash[:]),
	)
}

func decodeAccount(enc []byte) (accountEncoding, error) {
	item, err := rlp.DecodeExact(enc)
	if err != nil {
		return accountEncoding{}, fmt.Errorf("execution: decode account: %w", err)
	}
	if !item.IsList() || len(item.List) != 4 {
		return accountEncoding{}, fmt.Errorf("execution: account encoding: want 4-item list")
	}
	fields := item.List
	var out accountEncoding
	out.Nonce = decodeUint(fields[0].Bytes)
	out.Balance.SetBytes(fields[1].Bytes)
	out.StorageRoot = append([]byte(nil), fields[2].Bytes...)
	copy(out.CodeHash[:], fields[3].Bytes)
	return out, nil
}

// decodeUint parses RLP's minimal big-endian unsigned integer
// encoding, the inverse of rlp.EncodeUint.
func decodeUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// DecodeUint exposes decodeUint to external callers (internal/statesync
// needs it to read a block number out of an RLP header's field list).
func DecodeUint(b []byte) uint64 { return decodeUint(b) }

// AccountRecord is the exported name for the account's four-field trie
// leaf encoding (nonce, balance, storage_root, code_hash); exported so
// internal/statesync can decode SYNC_TYPE_UPSERT_ACCOUNT frames without
// reaching into Overlay's internals.
type AccountRecord = accountEncoding

// EncodeAccountRecord and DecodeAccountRecord expose encodeAccount and
// decodeAccount to external callers.
func EncodeAccountRecord(r AccountRecord) []byte            { return encodeAccount(r) }
func DecodeAccountRecord(enc []byte) (AccountRecord, error) { return decodeAccount(enc) }

// AccountPath and StoragePath expose the secure-trie path functions so
// external callers (internal/statesync) address the same trie without
// duplicating the keccak256-then-nibble-expand logic.
func AccountPath(addr state.Address) nibble.Path { return accountPath(addr) }
func StoragePath(key state.Hash) nibble.Path     { return storagePath(key) }

// accountPath is the secure-trie path for an address: keccak256(addr)
// expanded into 64 nibbles (spec.md §3's trie keys are always hashed
// paths, matching the Yellow Paper's secure state trie).
func accountPath(addr state.Address) nibble.Path {
	h := crypto.Keccak256(addr[:])
	return nibble.FromBytes(h[:])
}

func storagePath(key state.Hash) nibble.Path {
	h := crypto.Keccak256(key[:])
	return nibble.FromBytes(h[:])
}

// storageTrie is one account's lazily-materialized storage subtrie,
// kept separate from the account trie as spec.md §3 describes
// ("Account / Storage / Code" are three distinct namespaces joined
// only through the account's storage_root field).
type storageTrie struct {
	root    *trie.Node
	version uint64
}

// Overlay is the per-transaction state view the speculative pipeline
// hands to the EVM collaborator as an evmiface.Host (spec.md §4.D.4
// "each transaction executes against ... an overlay"). It is grounded
// on core/state/history_reader_v3.go's HistoryReaderV3: a thin,
// lazily-populated reader/writer pair scoped to one versioned view
// (there, a txNum; here, a trie root + in-flight dirty set), plus a
// read/write set accumulated for the conflict detector instead of
// HistoryReaderV3's flat ReadSet() map.
type Overlay struct {
	root    *trie.Node
	source  trie.NodeSource
	codes   CodeStore
	version uint64

	accounts map[state.Address]*state.Account
	deleted  map[state.Address]struct{}
	storage  map[state.Address]*storageTrie
	newCode  map[state.Hash][]byte

	reads  *state.ReadSet
	writes *state.WriteSet
}

// NewOverlay opens a transaction-scoped view against root (the
// account trie as of the parent transaction's commit, or the block's
// opening root for the first transaction in a speculative group).
func NewOverlay(root *trie.Node, source trie.NodeSource, codes CodeStore, version uint64) *Overlay {
	return &Overlay{
		root:     root,
		source:   source,
		codes:    codes,
		version:  version,
		accounts: make(map[state.Address]*state.Account),
		deleted:  make(map[state.Address]struct{}),
		storage:  make(map[state.Address]*storageTrie),
		newCode:  make(map[state.Hash][]byte),
		reads:    state.NewReadSet(),
		writes:   state.NewWriteSet(),
	}
}

// ReadSet / WriteSet expose the accumulated access sets to the
// pipeline's conflict detector (spec.md §4.D.4 step 3).
func (o *Overlay) ReadSet() *state.ReadSet   { return o.reads }
func (o *Overlay) WriteSet() *state.WriteSet { return o.writes }

// readAccount resolves addr's current account record, checking the
// dirty overlay first and falling back to the base trie, tracking the
// read for conflict detection (spec.md §4.D.4 "R_i": the set of
// (address, slot) pairs a transaction observed).
func (o *Overlay) readAccount(addr state.Address) (*state.Account, error) {
	o.reads.AddAccount(addr)
	if _, gone := o.deleted[addr]; gone {
		return nil, nil
	}
	if a, ok := o.accounts[addr]; ok {
		return a, nil
	}
	enc, ok, err := trie.Get(o.root, accountPath(addr), o.source)
	if err != nil {
		return nil, fmt.Errorf("execution: overlay read account %x: %w", addr, err)
	}
	if !ok {
		return nil, nil
	}
	dec, err := decodeAccount(enc)
	if err != nil {
		return nil, err
	}
	a := &state.Account{Balance: dec.Balance, Nonce: dec.Nonce, CodeHash: dec.CodeHash}
	o.accounts[addr] = a
	if len(dec.StorageRoot) > 0 {
		// the storage trie itself is not materialized here; its root
		// reference is only consulted if a write forces a recompute.
		o.storage[addr] = &storageTrie{root: nil, version: o.version}
	}
	return a, nil
}

func (o *Overlay) writeAccount(addr state.Address, a *state.Account) {
	o.writes.AddAccount(addr)
	delete(o.deleted, addr)
	o.accounts[addr] = a
}

// GetBalance implements evmiface.Host.
func (o *Overlay) GetBalance(addr state.Address) uint256.Int {
	a, err := o.readAccount(addr)
	if err != nil || a == nil {
		return uint256.Int{}
	}
	return a.Balance
}

// GetNonce implements evmiface.Host.
func (o *Overlay) GetNonce(addr state.Address) uint64 {
	a, err := o.readAccount(addr)
	if err != nil || a == nil {
		return 0
	}
	return a.Nonce
}

// GetCodeHash implements evmiface.Host.
func (o *Overlay) GetCodeHash(addr state.Address) state.Hash {
	a, err := o.readAccount(addr)
	if err != nil || a == nil {
		return state.EmptyCodeHash
	}
	return a.CodeHash
}

// GetCode implements evmiface.Host.
func (o *Overlay) GetCode(addr state.Address) []byte {
	hash := o.GetCodeHash(addr)
	if hash == state.EmptyCodeHash {
		return nil
	}
	if code, ok := o.newCode[hash]; ok {
		return code
	}
	if o.codes != nil {
		if code, ok := o.codes.Code(hash); ok {
			return code
		}
	}
	return nil
}

// SetBalance implements evmiface.Host.
func (o *Overlay) SetBalance(addr state.Address, v uint256.Int) {
	a := o.ensureAccount(addr)
	a.Balance = v
	o.writeAccount(addr, a)
}

// SetNonce implements evmiface.Host.
func (o *Overlay) SetNonce(addr state.Address, n uint64) {
	a := o.ensureAccount(addr)
	a.Nonce = n
	o.writeAccount(addr, a)
}

// SetCode implements evmiface.Host.
func (o *Overlay) SetCode(addr state.Address, code []byte) {
	hash := crypto.Keccak256(code)
	o.newCode[hash] = code
	a := o.ensureAccount(addr)
	a.CodeHash = hash
	o.writeAccount(addr, a)
}

// SetAccountRecord overwrites addr's nonce/balance/code_hash directly,
// for callers (internal/statesync) that receive a fully-formed account
// record from a remote peer rather than deriving it through EVM
// execution.
func (o *Overlay) SetAccountRecord(addr state.Address, nonce uint64, balance uint256.Int, codeHash state.Hash) {
	a := o.ensureAccount(addr)
	a.Nonce = nonce
	a.Balance = balance
	a.CodeHash = codeHash
	o.writeAccount(addr, a)
}

// DeleteAccount marks addr deleted without crediting any beneficiary,
// unlike Selfdestruct (spec.md §6's SYNC_TYPE_UPSERT_ACCOUNT_DELETE
// frame: the remote peer has already applied the balance effects of
// whatever destroyed this account).
func (o *Overlay) DeleteAccount(addr state.Address) {
	o.writes.AddAccount(addr)
	delete(o.accounts, addr)
	delete(o.storage, addr)
	o.deleted[addr] = struct{}{}
}

func (o *Overlay) ensureAccount(addr state.Address) *state.Account {
	a, err := o.readAccount(addr)
	if err != nil || a == nil {
		a = &state.Account{CodeHash: state.EmptyCodeHash}
	}
	cp := *a
	return &cp
}

// GetStorage implements evmiface.Host.
func (o *Overlay) GetStorage(addr state.Address, key state.Hash) state.Hash {
	o.reads.AddStorage(addr, key)
	st, ok := o.storage[addr]
	if !ok || st.root == nil {
		return state.Hash{}
	}
	enc, found, err := trie.Get(st.root, storagePath(key), o.source)
	if err != nil || !found {
		return state.Hash{}
	}
	var out state.Hash
	copy(out[32-len(enc):], enc)
	return out
}

// SetStorage implements evmiface.Host.
func (o *Overlay) SetStorage(addr state.Address, key, value state.Hash) {
	o.writes.AddStorage(addr, key)
	st, ok := o.storage[addr]
	if !ok {
		st = &storageTrie{version: o.version}
		o.storage[addr] = st
	}
	upd := trie.Update{Path: storagePath(key), Value: trimLeadingZeros(value[:])}
	if upd.Value == nil {
		upd.Delete = true
	}
	newRoot, err := trie.Upsert(st.root, []trie.Update{upd}, o.version, trie.MerkleCompute{}, o.source)
	if err != nil {
		// A storage write that fails structural invariants indicates a
		// programming error upstream (corrupt overlay state), not a
		// recoverable execution outcome; the caller's EVM host contract
		// has no error return here so the write is simply dropped and
		// the transaction will fail its root check downstream.
		return
	}
	st.root = newRoot
	o.ensureAccountTouched(addr)
}

// ensureAccountTouched makes sure SetStorage registers a write against
// the account record too, so ToDelta lists the account and the
// committing caller (Pipeline.mergeCommitted or Commit) folds its
// storage_root into the account trie.
func (o *Overlay) ensureAccountTouched(addr state.Address) {
	if _, ok := o.accounts[addr]; ok {
		return
	}
	a, _ := o.readAccount(addr)
	if a == nil {
		a = &state.Account{CodeHash: state.EmptyCodeHash}
	}
	o.accounts[addr] = a
}

func trimLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	if i == len(b) {
		return nil
	}
	return b[i:]
}

// Selfdestruct implements evmiface.Host: beneficiary receives the
// selfdestructed account's balance, and addr is marked deleted
// (finalized when the overlay is committed; EIP-6780 post-Cancun in-same-transaction-only
// semantics are the EVM collaborator's responsibility per spec.md §1,
// not this overlay's).
func (o *Overlay) Selfdestruct(addr, beneficiary state.Address) {
	a, _ := o.readAccount(addr)
	if a != nil && addr != beneficiary {
		ben := o.ensureAccount(beneficiary)
		ben.Balance.Add(&ben.Balance, &a.Balance)
		o.writeAccount(beneficiary, ben)
	}
	o.writes.AddAccount(addr)
	delete(o.accounts, addr)
	delete(o.storage, addr)
	o.deleted[addr] = struct{}{}
}

// AccessAccount implements evmiface.Host's EIP-2929 warm/cold tracking
// at the overlay granularity: within one transaction's overlay, the
// first access to an address is cold, every subsequent one warm.
func (o *Overlay) AccessAccount(addr state.Address) (warmAlready bool) {
	_, warm := o.reads.Accounts[addr]
	o.reads.AddAccount(addr)
	return warm
}

// AccessStorage mirrors AccessAccount for a storage slot.
func (o *Overlay) AccessStorage(addr state.Address, key state.Hash) (warmAlready bool) {
	_, warm := o.reads.Storage[state.StorageKey{Address: addr, Key: key}]
	o.reads.AddStorage(addr, key)
	return warm
}

// ToDelta flattens the overlay's dirty set into a state.Delta ready
// for merge into the block-level accumulator (spec.md §4.D.4 step 5
// "commit: merge delta_i into the block-level accumulator"): each
// dirty account's new record (with a nil old record), each deleted
// account, and each new code blob. It does not compute storage roots
// or record storage-slot changes; the committing caller reads each
// account's storage root from the overlay via StorageRootNode.
func (o *Overlay) ToDelta() (*state.Delta, error) {
	d := state.NewDelta()
	for addr, a := range o.accounts {
		// storage_root/code are folded into the account's trie leaf by
		// the caller's own account-trie Upsert (which needs encodeAccount
		// below); ToDelta only hands the caller the new account record.
		d.SetAccount(addr, nil, a)
	}
	for addr := range o.deleted {
		d.SetAccount(addr, nil, nil)
	}
	for hash, code := range o.newCode {
		d.SetCode(hash, code)
	}
	return d, nil
}

// StorageRoot returns addr's current storage trie root reference
// (nil if the account has no storage), for the caller assembling the
// account trie leaf via encodeAccount.
func (o *Overlay) StorageRoot(addr state.Address) []byte {
	if st, ok := o.storage[addr]; ok && st.root != nil {
		return st.root.Ref
	}
	return nil
}

// StorageRootNode returns addr's current storage trie root node, for
// callers that need to merge it into the persistent trie on commit.
func (o *Overlay) StorageRootNode(addr state.Address) *trie.Node {
	if st, ok := o.storage[addr]; ok {
		return st.root
	}
	return nil
}

// EncodeAccountLeaf renders a as the trie leaf bytes for addr, using
// its current overlay-visible storage root (spec.md §4.D.4 step 5).
func (o *Overlay) EncodeAccountLeaf(addr state.Address, a *state.Account) []byte {
	return encodeAccount(accountEncoding{Nonce: a.Nonce, Balance: a.Balance, StorageRoot: o.StorageRoot(addr), CodeHash: a.CodeHash})
}

// Commit folds this overlay's entire dirty set into a single new
// account-trie root, for callers that apply a batch of changes to the
// persistent trie directly rather than through Pipeline's multi-
// overlay merge (internal/statesync's bulk account/storage/delete
// frame application, spec.md §6).
func (o *Overlay) Commit() (*trie.Node, error) {
	var updates []trie.Update
	for addr, a := range o.accounts {
		updates = append(updates, trie.Update{Path: accountPath(addr), Value: o.EncodeAccountLeaf(addr, a)})
	}
	for addr := range o.deleted {
		updates = append(updates, trie.Update{Path: accountPath(addr), Delete: true})
	}
	newRoot, err := trie.Upsert(o.root, updates, o.version, trie.MerkleCompute{}, o.source)
	if err != nil {
		return nil, fmt.Errorf("execution: overlay commit: %w", err)
	}
	o.root = newRoot
	return newRoot, nil
}
