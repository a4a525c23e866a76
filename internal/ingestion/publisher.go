package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"YokoFund/internal/address"
	"YokoFund/internal/event"
)

// ResultSubjectPrefix is followed by the transaction type.
const ResultSubjectPrefix = "yoko.ledger.tx."

// streamPublisher is the slice of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes sequenced transaction results for downstream
// consumers on yoko.ledger.tx.{type}.
type OutboundPublisher struct {
	js        streamPublisher
	inputChan <-chan PublishableResult
	log       zerolog.Logger
}

// PublishableResult is the outbound record of one sequenced transaction.
type PublishableResult struct {
	Sequence    int64          `json:"sequence"`
	TxID        string         `json:"tx_id"`
	EventType   string         `json:"event_type"`
	Payer       address.Pubkey `json:"payer"`
	Nonce       uint64         `json:"nonce,string"`
	Status      string         `json:"status"`
	ErrorReason string         `json:"error_reason,omitempty"`
	ErrorCode   *uint32        `json:"error_code,omitempty"`
	StateHash   string         `json:"state_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewPublishableResult summarizes an envelope for publishing.
func NewPublishableResult(env *event.EventEnvelope) PublishableResult {
	return PublishableResult{
		Sequence:    env.Sequence,
		TxID:        env.IdempotencyKey,
		EventType:   env.EventType.String(),
		Payer:       env.Payer,
		Nonce:       env.Nonce,
		Status:      env.Status.String(),
		ErrorReason: env.ErrorReason,
		ErrorCode:   env.ErrorCode,
		StateHash:   hex.EncodeToString(env.StateHash[:]),
		Timestamp:   env.Timestamp,
	}
}

// Subject is the NATS subject the result is published on.
func (r PublishableResult) Subject() string {
	return ResultSubjectPrefix + r.EventType
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableResult, logger zerolog.Logger) *OutboundPublisher {
	return newOutboundPublisher(js, inputChan, logger)
}

func newOutboundPublisher(js streamPublisher, inputChan <-chan PublishableResult, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, log: logger}
}

// Run publishes until the input channel closes. Publish failures are logged
// and skipped; consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, res); err != nil {
				op.log.Warn().Err(err).Int64("seq", res.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, res PublishableResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	// Dedup window on the stream keys by tx id.
	_, err = op.js.Publish(ctx, res.Subject(), data, jetstream.WithMsgID(res.TxID))
	return err
}
