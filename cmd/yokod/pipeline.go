package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"YokoFund/internal/core"
	"YokoFund/internal/ingestion"
	"YokoFund/internal/observability"
	"YokoFund/internal/persistence"
	"YokoFund/internal/projection"
)

// bridgeCoreOutputs converts core outputs into the persistence, projection and
// publish formats. core cannot import its consumers, so the conversion lives
// here. It returns once both core channels are closed or ctx is done, after
// closing its own outputs.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableResult,
	publish bool,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			select {
			case persistOut <- persistence.CoreOutput{
				TxRow:       persistence.NewTxRow(output.Envelope),
				JournalRows: persistence.NewJournalRows(output.Batch),
			}:
			case <-ctx.Done():
				return
			}

			if !publish {
				continue
			}
			select {
			case publishOut <- ingestion.NewPublishableResult(output.Envelope):
			default:
				metrics.PublishDrops.Inc()
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				TxID:      output.Envelope.IdempotencyKey,
				EventType: output.Envelope.EventType.String(),
				Changes:   output.Changes,
				Timestamp: output.Envelope.Timestamp,
			}
			if output.Batch != nil {
				pOutput.Journals = output.Batch.Journals
			}

			select {
			case projectionOut <- pOutput:
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

// runPeriodicSnapshots checks every checkEvery and snapshots once interval
// sequences have been applied since the last one. A snapshot taken ahead of
// the persisted log is verified on a later tick.
func runPeriodicSnapshots(
	ctx context.Context,
	engine *guardedCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	checkEvery time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := engine.snapshot().Sequence
	var pending *persistence.SnapshotData
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pending != nil {
				verified, err := snapMgr.VerifyAgainstLog(ctx, pending.Sequence, pending.StateHash)
				switch {
				case err != nil:
					log.Warn().Err(err).Int64("sequence", pending.Sequence).Msg("snapshot verification failed")
				case verified:
					log.Info().Int64("sequence", pending.Sequence).Msg("snapshot verified")
					pending = nil
				}
			}

			snap := engine.snapshot()
			if snap.Sequence-lastSnapshotSeq < interval {
				continue
			}
			data, verified, err := saveSnapshot(ctx, snap, snapMgr, metrics, log)
			if err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = snap.Sequence
			if !verified {
				pending = data
			}
		}
	}
}

// takeSnapshot captures the core's state and persists it.
func takeSnapshot(ctx context.Context, engine *guardedCore, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics, log zerolog.Logger) error {
	_, _, err := saveSnapshot(ctx, engine.snapshot(), snapMgr, metrics, log)
	return err
}

// saveSnapshot writes snap and verifies it against the logged hash at the
// same sequence. Unverified snapshots are never loaded on restart.
func saveSnapshot(ctx context.Context, snap *core.SnapshotState, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics, log zerolog.Logger) (*persistence.SnapshotData, bool, error) {
	if snap.Sequence == 0 {
		return nil, false, nil
	}
	start := time.Now()

	data := persistence.SnapshotFromCore(snap, time.Now().UTC())
	size, err := snapMgr.SaveSnapshot(ctx, data)
	if err != nil {
		return nil, false, err
	}

	verified, err := snapMgr.VerifyAgainstLog(ctx, data.Sequence, data.StateHash)
	if err != nil {
		return nil, false, fmt.Errorf("verify snapshot at seq=%d: %w", data.Sequence, err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(data.Sequence))

	log.Info().
		Int64("sequence", data.Sequence).
		Int("bytes", size).
		Bool("verified", verified).
		Msg("snapshot saved")
	return data, verified, nil
}
