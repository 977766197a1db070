// Package metrics exposes the Prometheus counters/gauges that
// instrument the event ring, storage pool compaction, and execution
// pipeline, grounded on the teacher's erigon-lib dependency on
// github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventRingDropped counts RECORD_ERROR drops from reserve failures
	// (payload too large, or backpressure) per spec.md §7.
	EventRingDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "eventring",
		Name:      "dropped_total",
		Help:      "Events dropped at reserve time (oversize payload or backpressure).",
	}, []string{"reason"})

	// EventRingCommitted counts successfully committed events.
	EventRingCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "eventring",
		Name:      "committed_total",
		Help:      "Events committed to the ring.",
	})

	// CompactionChunksFreed counts chunks returned to a free list by
	// the background compaction task.
	CompactionChunksFreed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "storage",
		Name:      "compaction_chunks_freed_total",
		Help:      "Chunks freed by compaction, by zone.",
	}, []string{"zone"})

	// CompactionNodesPromoted counts live nodes rewritten forward
	// during compaction.
	CompactionNodesPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "storage",
		Name:      "compaction_nodes_promoted_total",
		Help:      "Live nodes rewritten into the active stream by compaction.",
	})

	// PipelineRetries counts transaction re-executions caused by
	// read/write set conflicts on merge (spec.md §4.D.4).
	PipelineRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "execution",
		Name:      "txn_retries_total",
		Help:      "Transactions re-executed due to a read/write conflict at merge time.",
	})

	// PipelineTxnRejected counts TXN_REJECT outcomes.
	PipelineTxnRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monad",
		Subsystem: "execution",
		Name:      "txn_rejected_total",
		Help:      "Transactions rejected during static or dynamic validation.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		EventRingDropped,
		EventRingCommitted,
		CompactionChunksFreed,
		CompactionNodesPromoted,
		PipelineRetries,
		PipelineTxnRejected,
	)
}
