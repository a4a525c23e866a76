package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"YokoFund/internal/observability"
)

// CoreOutput is the storage form of one core output.
// The orchestrator (cmd/yokod) bridges between core.CoreOutput and this.
type CoreOutput struct {
	TxRow       TxRow
	JournalRows []JournalRow
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with blocking sends, so if this worker
// falls behind the core stalls and no transaction is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		baseBackoff:  100 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		log:          logger,
	}
}

// SetBackoff overrides the retry backoff bounds.
func (pw *PersistenceWorker) SetBackoff(base, max time.Duration) {
	pw.baseBackoff = base
	pw.maxBackoff = max
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	txBatch := make([]TxRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*4) // ~4 journals per tx avg

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	reset := func() {
		txBatch = txBatch[:0]
		journalBatch = journalBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(txBatch) > 0 {
				if err := pw.flush(context.Background(), txBatch, journalBatch); err != nil {
					pw.log.Error().Err(err).Int("txs", len(txBatch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(txBatch) > 0 {
					if err := pw.flushWithRetry(ctx, txBatch, journalBatch); err != nil {
						pw.log.Error().Err(err).Int("txs", len(txBatch)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			txBatch = append(txBatch, output.TxRow)
			journalBatch = append(journalBatch, output.JournalRows...)
			if pw.metrics != nil {
				pw.metrics.ChannelSize.WithLabelValues("persist").Set(float64(len(pw.inputChan)))
			}

			if len(txBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, txBatch, journalBatch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(txBatch) > 0 {
				if err := pw.flushWithRetry(ctx, txBatch, journalBatch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// ctx is cancelled. The worker never drops a batch: on cancellation it makes
// one last attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, txs []TxRow, journals []JournalRow) error {
	backoff := pw.baseBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("txs", len(txs)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), txs, journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, txs, journals)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Error().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, txs []TxRow, journals []JournalRow) error {
	start := time.Now()

	// Transactions and journals commit together
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteTxBatch(ctx, tx, txs); err != nil {
		pw.countError("write_transactions")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(txs)))
		pw.metrics.PersistTxWritten.Add(float64(len(txs)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(txs) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(txs[len(txs)-1].Sequence))
		}
	}

	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}

// GetWriter returns the underlying writer.
func (pw *PersistenceWorker) GetWriter() *EventLogWriter {
	return pw.writer
}
