package execution

import (
	"encoding/binary"

	"github.com/monad-crypto/monad-exec/internal/eventring"
)

// EventType enumerates the event kinds spec.md §4.D.6's emission
// sequence names, carried in each descriptor's ContentType field.
// BLOCK_START/END and the per-transaction lifecycle markers are
// encoded directly; event payloads are a minimal, self-contained
// binary encoding (flow id + fields) rather than a full RLP
// transaction/log encoding, since event-ring consumers are external
// observers (spec.md §1) whose exact wire schema is out of scope here.
type EventType = eventring.ContentType

const (
	EventBlockStart EventType = iota + 1
	EventTxnHeaderStart
	EventAccessListEntry
	EventAuthListEntry
	EventTxnHeaderEnd
	EventTxnEVMOutput
	EventTxnLog
	EventTxnEnd
	EventTxnReject
	EventEVMError
	EventBlockEnd
	EventRecordError
)

// Recorder emits the ordered event sequence of spec.md §4.D.6 into an
// event ring. It is the narrow "global event recorder" of spec.md §5
// ("g_exec_event_recorder ... a None-means-disabled lifecycle"),
// modeled here as an explicit nilable pointer the pipeline holds
// rather than process-wide global state, since Go code should not
// reach for package-level mutable singletons where a constructor
// argument serves the same purpose.
type Recorder struct {
	ring *eventring.Ring
}

// NewRecorder wraps ring; a nil ring yields a Recorder whose emit
// calls are no-ops, matching spec.md §5's disabled lifecycle.
func NewRecorder(ring *eventring.Ring) *Recorder { return &Recorder{ring: ring} }

func (r *Recorder) emit(evt EventType, payload []byte) uint64 {
	if r == nil || r.ring == nil {
		return 0
	}
	res := r.ring.Reserve(uint32(len(payload)))
	res.Commit(payload)
	return res.Seq()
}

// blockFlow carries the originating BLOCK_START's seqno, per spec.md
// §4.D.6: "each event carries the seqno of the originating BLOCK_START
// as a flow id and the txn index+1 (or 0 for block-level events)".
type blockFlow struct {
	flowSeqno uint64
}

func encodeFlowHeader(flowSeqno uint64, txnIndexPlus1 uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], flowSeqno)
	binary.BigEndian.PutUint32(buf[8:12], txnIndexPlus1)
	return buf
}

// EmitBlockStart begins a block's event sequence and returns the flow
// id subsequent calls must pass to EmitTxn*/EmitBlockEnd.
func (r *Recorder) EmitBlockStart(blockNumber uint64) blockFlow {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, blockNumber)
	seq := r.emit(EventBlockStart, payload)
	return blockFlow{flowSeqno: seq}
}

// EmitBlockEnd closes the block's event sequence.
func (r *Recorder) EmitBlockEnd(flow blockFlow, gasUsed uint64, stateRoot []byte) {
	payload := append(encodeFlowHeader(flow.flowSeqno, 0), make([]byte, 8)...)
	binary.BigEndian.PutUint64(payload[12:20], gasUsed)
	payload = append(payload, stateRoot...)
	r.emit(EventBlockEnd, payload)
}

// EmitTxnHeaderStart records a transaction's canonical RLP hash ahead
// of execution, per spec.md §4.D.6 "one TXN_HEADER_START per tx (with
// RLP-hash of canonical tx bytes)".
func (r *Recorder) EmitTxnHeaderStart(flow blockFlow, txnIndex int, txnHash [32]byte) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), txnHash[:]...)
	r.emit(EventTxnHeaderStart, payload)
}

// EmitAccessListEntry/EmitAuthListEntry emit one event per access-list
// or auth-list (EIP-7702) entry, per spec.md §4.D.6. The pipeline also
// emits one EmitAccessListEntry event for the transaction's sender
// ahead of the declared access-list entries.
func (r *Recorder) EmitAccessListEntry(flow blockFlow, txnIndex int, addr [20]byte) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), addr[:]...)
	r.emit(EventAccessListEntry, payload)
}

func (r *Recorder) EmitAuthListEntry(flow blockFlow, txnIndex int, addr [20]byte) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), addr[:]...)
	r.emit(EventAuthListEntry, payload)
}

func (r *Recorder) EmitTxnHeaderEnd(flow blockFlow, txnIndex int) {
	r.emit(EventTxnHeaderEnd, encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)))
}

// EmitTxnEVMOutput records the terminal EVM exit reason and gas used.
func (r *Recorder) EmitTxnEVMOutput(flow blockFlow, txnIndex int, exitReason int, gasUsed uint64) {
	payload := encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1))
	tail := make([]byte, 12)
	binary.BigEndian.PutUint32(tail[0:4], uint32(exitReason))
	binary.BigEndian.PutUint64(tail[4:12], gasUsed)
	r.emit(EventTxnEVMOutput, append(payload, tail...))
}

// EmitTxnLog emits one LOG record.
func (r *Recorder) EmitTxnLog(flow blockFlow, txnIndex int, address [20]byte, topics [][32]byte, data []byte) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), address[:]...)
	payload = append(payload, byte(len(topics)))
	for _, t := range topics {
		payload = append(payload, t[:]...)
	}
	payload = append(payload, data...)
	r.emit(EventTxnLog, payload)
}

func (r *Recorder) EmitTxnEnd(flow blockFlow, txnIndex int) {
	r.emit(EventTxnEnd, encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)))
}

// EmitTxnReject records a TXN_REJECT per spec.md §4.D.4's failure
// semantics: "Transaction-validation failures produce TXN_REJECT
// events ... A rejected transaction produces no state change and no
// receipt."
func (r *Recorder) EmitTxnReject(flow blockFlow, txnIndex int, reason string) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), []byte(reason)...)
	r.emit(EventTxnReject, payload)
}

func (r *Recorder) EmitEVMError(flow blockFlow, txnIndex int, reason string) {
	payload := append(encodeFlowHeader(flow.flowSeqno, uint32(txnIndex+1)), []byte(reason)...)
	r.emit(EventEVMError, payload)
}
