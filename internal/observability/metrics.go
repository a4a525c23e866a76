package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for YokoFund.
type Metrics struct {
	// --- Core Processing ---
	CoreTxApplied       *prometheus.CounterVec
	CoreTxFailed        *prometheus.CounterVec
	CoreTxRejected      *prometheus.CounterVec
	CoreTxDuration      *prometheus.HistogramVec
	CoreJournals        *prometheus.CounterVec
	CoreStateHashDur    prometheus.Histogram
	CoreSequence        prometheus.Gauge
	CoreInvariantChecks prometheus.Counter

	// --- Fund domain ---
	SwapRealizedOutput *prometheus.CounterVec
	PayoutAmount       *prometheus.CounterVec
	ClaimAmount        *prometheus.CounterVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	NonceGap              *prometheus.CounterVec
	NonceOutOfOrder       *prometheus.CounterVec

	// --- Ingestion ---
	IngestReceived  *prometheus.CounterVec
	IngestMalformed *prometheus.CounterVec

	// --- Persistence ---
	PersistTxWritten       prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayTxTotal     prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreTxApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_core_tx_applied_total",
			Help: "Transactions applied by core",
		}, []string{"tx_type"}),

		CoreTxFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_core_tx_failed_total",
			Help: "Transactions sequenced but rolled back",
		}, []string{"tx_type", "category", "reason"}),

		CoreTxRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_core_tx_rejected_total",
			Help: "Transactions rejected before sequencing (dedup, nonce, shape)",
		}, []string{"tx_type", "reason"}),

		CoreTxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoko_core_tx_apply_duration_seconds",
			Help:    "Time to execute one transaction in core",
			Buckets: latencyBuckets,
		}, []string{"tx_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "yoko_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoko_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreInvariantChecks: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_core_supply_checks_total",
			Help: "Periodic supply and reconciliation checks run",
		}),

		// Fund domain
		SwapRealizedOutput: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_swap_realized_output_total",
			Help: "Swap output credited to funds, base units",
		}, []string{"mint"}),

		PayoutAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_payout_amount_total",
			Help: "Payout legs, base units",
		}, []string{"leg"}),

		ClaimAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_claim_amount_total",
			Help: "Claimed payout amounts, base units",
		}, []string{"mint"}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoko_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"tx_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "yoko_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "yoko_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoko_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_projection_errors_total",
			Help: "Projection updates that failed and were skipped",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yoko_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_publish_drops_total",
			Help: "Results dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"tx_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoko_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		NonceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_nonce_gap_total",
			Help: "Payer nonce gaps",
		}, []string{"partition"}),

		NonceOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_nonce_out_of_order_total",
			Help: "Out-of-order payer nonces",
		}, []string{"partition"}),

		// Ingestion
		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_ingest_received_total",
			Help: "Messages received",
		}, []string{"source"}),

		IngestMalformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_ingest_malformed_total",
			Help: "Messages that failed to parse or verify",
		}, []string{"source", "reason"}),

		// Persistence
		PersistTxWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_persist_tx_written_total",
			Help: "Transactions written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "yoko_persist_batch_size",
			Help:    "Transactions per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_persist_retry_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoko_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_snapshot_taken_total",
			Help: "Snapshots taken",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "yoko_snapshot_duration_seconds",
			Help:    "Time to take snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoko_snapshot_size_bytes",
			Help: "Snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoko_snapshot_last_sequence",
			Help: "Sequence of latest snapshot",
		}),

		ReplayTxTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yoko_replay_tx_total",
			Help: "Transactions replayed on startup",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoko_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoko_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "error_type"}),
	}
}
