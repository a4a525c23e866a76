package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"YokoFund/internal/observability"
)

// RunIntake decodes and verifies raw NATS messages and forwards them to the
// sequencer.
//
// Messages are acked once they are queued for the sequencer, not after the
// core applies them, so a slow core never trips AckWait; backpressure comes
// from the blocking send. Malformed messages are acked and dropped since a
// redelivery would fail the same way.
func RunIntake(
	ctx context.Context,
	raw <-chan RawEvent,
	out chan<- Submission,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-raw:
			if !ok {
				return nil
			}
			if metrics != nil {
				metrics.IngestReceived.WithLabelValues(SourceNATS).Inc()
			}

			tx, err := ParseTransaction(msg.Data)
			if err == nil {
				err = VerifySignatures(tx)
			}
			if err != nil {
				reason := "signature"
				if errors.Is(err, ErrMalformed) {
					reason = "parse"
				}
				if metrics != nil {
					metrics.IngestMalformed.WithLabelValues(SourceNATS, reason).Inc()
				}
				logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping transaction")
				msg.AckFunc()
				continue
			}

			select {
			case out <- Submission{Tx: tx, Source: SourceNATS, ReceivedAt: msg.Timestamp}:
				msg.AckFunc()
			case <-ctx.Done():
				msg.NakFunc()
				return ctx.Err()
			}
		}
	}
}
