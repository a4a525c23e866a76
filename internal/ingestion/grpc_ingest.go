package ingestion

import (
	"context"
	"fmt"
	"time"

	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/observability"
)

const (
	SourceGRPC = "grpc"
	SourceNATS = "nats"
)

// SubmitService is the synchronous ingress used by the RPC server: it verifies
// a transaction, queues it for the sequencer and waits for the receipt.
type SubmitService struct {
	out     chan<- Submission
	metrics *observability.Metrics
}

func NewSubmitService(out chan<- Submission, metrics *observability.Metrics) *SubmitService {
	return &SubmitService{out: out, metrics: metrics}
}

// Submit blocks until the core has sequenced tx or ctx is done. An error
// means the transaction was never sequenced; execution failures come back in
// the receipt.
func (s *SubmitService) Submit(ctx context.Context, tx *event.Transaction) (*core.Receipt, error) {
	if s.metrics != nil {
		s.metrics.IngestReceived.WithLabelValues(SourceGRPC).Inc()
	}
	if err := tx.Validate(); err != nil {
		s.malformed("invalid")
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := VerifySignatures(tx); err != nil {
		s.malformed("signature")
		return nil, err
	}

	reply := make(chan Result, 1)
	sub := Submission{Tx: tx, Source: SourceGRPC, ReceivedAt: time.Now(), Reply: reply}

	select {
	case s.out <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SubmitService) malformed(reason string) {
	if s.metrics != nil {
		s.metrics.IngestMalformed.WithLabelValues(SourceGRPC, reason).Inc()
	}
}
