// Package evmiface describes the EVM bytecode interpreter/JIT
// boundary. Per spec.md §1 the interpreter and compiler are
// deliberately out of scope — "treated as a pure
// execute(rev, host, msg, code) -> Result" — so this package defines
// only the interface the execution pipeline calls against; no
// interpreter is implemented here.
package evmiface

import (
	"github.com/holiman/uint256"

	"github.com/monad-crypto/monad-exec/internal/state"
)

// Revision names an Ethereum protocol version (spec.md GLOSSARY).
type Revision int

const (
	Frontier Revision = iota
	Homestead
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Paris
	Shanghai
	Cancun
	Prague
)

func (r Revision) AtLeast(other Revision) bool { return r >= other }

// Message is the call/create request handed to the EVM collaborator.
type Message struct {
	Sender    state.Address
	To        *state.Address // nil on contract creation
	Value     uint256.Int
	GasLimit  uint64
	GasPrice  uint256.Int
	Data      []byte
	IsCreate  bool
	AccessSet AccessSet
}

// AccessSet is the EIP-2930 access list, present on the message so
// the EVM collaborator can warm the listed slots (spec.md §4.D.4 step 2).
type AccessSet struct {
	Addresses []state.Address
	Storage   map[state.Address][]state.Hash
}

// ExitReason is the receipt-level outcome of a call, per spec.md §7:
// "EVM exit codes (OutOfGas, Revert, StackOverflow, etc.) are
// receipt-level outcomes, not errors."
type ExitReason int

const (
	Success ExitReason = iota
	Revert
	OutOfGas
	StackOverflow
	StackUnderflow
	InvalidOpcode
	InvalidJump
	StaticStateChange
	PrecompileFailure
	OutOfOffset
	CallDepthExceeded
	InvalidMemoryAccess
)

func (r ExitReason) Ok() bool { return r == Success }

// Log is one EVM LOG record, surfaced into TXN_LOG events (spec.md §4.D.6).
type Log struct {
	Address state.Address
	Topics  []state.Hash
	Data    []byte
}

// Result is the pure output of one call/create.
type Result struct {
	Exit         ExitReason
	GasRemaining uint64
	GasRefund    uint64
	ReturnData   []byte
	Logs         []Log
	CreatedAddr  *state.Address
	Selfdestruct []state.Address
}

// Host is the minimal state-access surface the EVM collaborator needs;
// implementations are backed by the execution pipeline's per-txn
// overlay (spec.md §4.D.4).
type Host interface {
	GetBalance(addr state.Address) uint256.Int
	GetNonce(addr state.Address) uint64
	GetCode(addr state.Address) []byte
	GetCodeHash(addr state.Address) state.Hash
	GetStorage(addr state.Address, key state.Hash) state.Hash
	SetStorage(addr state.Address, key, value state.Hash)
	SetBalance(addr state.Address, v uint256.Int)
	SetNonce(addr state.Address, n uint64)
	SetCode(addr state.Address, code []byte)
	Selfdestruct(addr, beneficiary state.Address)
	AccessAccount(addr state.Address) (warmAlready bool)
	AccessStorage(addr state.Address, key state.Hash) (warmAlready bool)
}

// Interpreter is the pure boundary named in spec.md §1. A rewrite
// never implements this; it is injected by the binary's wiring layer.
type Interpreter interface {
	Execute(rev Revision, host Host, msg Message, code []byte) Result
}
