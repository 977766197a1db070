// Package state defines the account/storage/code data model
// (spec.md §3 "Account / Storage / Code") and the per-block state
// delta the execution pipeline materializes into the trie engine.
package state

import (
	"github.com/holiman/uint256"
)

// Address is a 20-byte Ethereum account address.
type Address [20]byte

// Hash is a 32-byte digest: a storage key, a storage value, or a
// code hash.
type Hash [32]byte

// Incarnation disambiguates destroyed-and-recreated accounts for
// storage keying (spec.md GLOSSARY).
type Incarnation struct {
	Block uint64
	Txn   uint32
}

// Account is the per-address account record.
type Account struct {
	Balance     uint256.Int
	Nonce       uint64
	CodeHash    Hash
	Incarnation Incarnation
}

// IsEmpty reports whether the account is "touched-dead": zero
// balance, zero nonce, and empty code hash, the condition under which
// Spurious-Dragon-and-later destroys touched accounts (spec.md §4.D.4
// step 4).
func (a Account) IsEmpty() bool {
	return a.Balance.IsZero() && a.Nonce == 0 && a.CodeHash == EmptyCodeHash
}

// EmptyCodeHash is keccak256(nil), the code hash of an EOA.
var EmptyCodeHash = Hash{
	0xc5, 0xd2, 0x46, 0x01, 0x86, 0xf7, 0x23, 0x3c, 0x92, 0x7e, 0x7d, 0xb2, 0xdc, 0xc7, 0x03, 0xc0,
	0xe5, 0x00, 0xb6, 0x53, 0xca, 0x82, 0x27, 0x3b, 0x7b, 0xfa, 0xd8, 0x04, 0x5d, 0x85, 0xa4, 0x70,
}

// StorageKey pairs an address with a 32-byte slot key for the sparse
// storage mapping in spec.md §3.
type StorageKey struct {
	Address Address
	Key     Hash
}

// AccountUpdate is one account's before/after pair inside a StateDelta.
type AccountUpdate struct {
	Old *Account // nil if the account did not previously exist
	New *Account // nil if the account was destroyed
}

// StorageUpdate is one storage slot's before/after pair.
type StorageUpdate struct {
	Old Hash
	New Hash
}

// Delta is the per-block state delta (spec.md §3 "State delta"): the
// set of account/storage/code changes the execution pipeline
// materializes into the trie engine on merge.
type Delta struct {
	Accounts map[Address]AccountUpdate
	Storage  map[Address]map[Hash]StorageUpdate
	NewCode  map[Hash][]byte
}

// NewDelta returns an empty, ready-to-use Delta.
func NewDelta() *Delta {
	return &Delta{
		Accounts: make(map[Address]AccountUpdate),
		Storage:  make(map[Address]map[Hash]StorageUpdate),
		NewCode:  make(map[Hash][]byte),
	}
}

// SetAccount records an account-level change.
func (d *Delta) SetAccount(addr Address, old, new *Account) {
	d.Accounts[addr] = AccountUpdate{Old: old, New: new}
}

// SetStorage records a single storage-slot change.
func (d *Delta) SetStorage(addr Address, key Hash, old, new Hash) {
	m, ok := d.Storage[addr]
	if !ok {
		m = make(map[Hash]StorageUpdate)
		d.Storage[addr] = m
	}
	m[key] = StorageUpdate{Old: old, New: new}
}

// SetCode records a new code blob keyed by its hash.
func (d *Delta) SetCode(hash Hash, code []byte) {
	d.NewCode[hash] = code
}

// Merge folds other into d, with other's entries winning on
// collision (used to fold a committed transaction's delta into the
// block-level accumulator during pipeline merge, spec.md §4.D.4).
func (d *Delta) Merge(other *Delta) {
	for addr, u := range other.Accounts {
		d.Accounts[addr] = u
	}
	for addr, slots := range other.Storage {
		m, ok := d.Storage[addr]
		if !ok {
			m = make(map[Hash]StorageUpdate, len(slots))
			d.Storage[addr] = m
		}
		for k, v := range slots {
			m[k] = v
		}
	}
	for h, code := range other.NewCode {
		d.NewCode[h] = code
	}
}

// ReadSet / WriteSet describe the (address, storage-key) pairs a
// transaction touched, used by the speculative pipeline's conflict
// detector (spec.md §4.D.4).
type ReadSet struct {
	Accounts map[Address]struct{}
	Storage  map[StorageKey]struct{}
}

func NewReadSet() *ReadSet {
	return &ReadSet{Accounts: make(map[Address]struct{}), Storage: make(map[StorageKey]struct{})}
}

func (r *ReadSet) AddAccount(a Address)              { r.Accounts[a] = struct{}{} }
func (r *ReadSet) AddStorage(a Address, k Hash)       { r.Storage[StorageKey{a, k}] = struct{}{} }

// WriteSet mirrors ReadSet for the set of addresses/slots a
// transaction wrote.
type WriteSet = ReadSet

func NewWriteSet() *WriteSet { return NewReadSet() }

// Intersects reports whether r and w share any account or storage
// key, the conflict test in spec.md §4.D.4: "R_i ∩ (∪_{j<i} W_j) = ∅".
func (r *ReadSet) Intersects(w *WriteSet) bool {
	for a := range r.Accounts {
		if _, ok := w.Accounts[a]; ok {
			return true
		}
	}
	for k := range r.Storage {
		if _, ok := w.Storage[k]; ok {
			return true
		}
	}
	return false
}

// UnionInto merges w into the accumulator acc (used to build
// ∪_{j<i} W_j incrementally as each transaction commits).
func (w *WriteSet) UnionInto(acc *WriteSet) {
	for a := range w.Accounts {
		acc.Accounts[a] = struct{}{}
	}
	for k := range w.Storage {
		acc.Storage[k] = struct{}{}
	}
}
