package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/observability"
)

// ErrShuttingDown is returned for submissions the core never saw because the
// sequencer stopped.
var ErrShuttingDown = errors.New("sequencer shutting down")

// Processor is the single-threaded core.
type Processor interface {
	ProcessTransaction(tx *event.Transaction) (*core.Receipt, error)
}

// Submission is a verified transaction queued for the core.
type Submission struct {
	Tx         *event.Transaction
	Source     string
	ReceivedAt time.Time
	// Reply receives exactly one Result when non-nil. It must be buffered.
	Reply chan<- Result
}

// Result is the outcome of one Submission.
type Result struct {
	Receipt *core.Receipt
	Err     error
}

// Sequencer is the only goroutine that calls into the core. Every ingress
// surface funnels its Submissions through it.
type Sequencer struct {
	proc    Processor
	in      <-chan Submission
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewSequencer(proc Processor, in <-chan Submission, metrics *observability.Metrics, logger zerolog.Logger) *Sequencer {
	return &Sequencer{proc: proc, in: in, metrics: metrics, log: logger}
}

// Run drains submissions until ctx is done or the input channel closes.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.rejectQueued(ctx.Err())
			return ctx.Err()
		case sub, ok := <-s.in:
			if !ok {
				return nil
			}
			s.process(sub)
		}
	}
}

func (s *Sequencer) process(sub Submission) {
	receipt, err := s.proc.ProcessTransaction(sub.Tx)
	if err != nil {
		s.log.Warn().Err(err).
			Str("tx_id", sub.Tx.IdempotencyKey()).
			Str("source", sub.Source).
			Msg("transaction rejected")
	} else if s.metrics != nil && !sub.ReceivedAt.IsZero() {
		s.metrics.IngestToApply.WithLabelValues(sub.Tx.EventType().String()).
			Observe(time.Since(sub.ReceivedAt).Seconds())
	}

	if sub.Reply != nil {
		sub.Reply <- Result{Receipt: receipt, Err: err}
	}
}

// rejectQueued answers every submission still buffered when the sequencer
// stops.
func (s *Sequencer) rejectQueued(err error) {
	for {
		select {
		case sub := <-s.in:
			if sub.Reply != nil {
				sub.Reply <- Result{Err: fmt.Errorf("%w: %w", ErrShuttingDown, err)}
			}
		default:
			return
		}
	}
}
