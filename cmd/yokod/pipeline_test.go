package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"YokoFund/internal/address"
	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/ingestion"
	"YokoFund/internal/ledger"
	"YokoFund/internal/observability"
	"YokoFund/internal/persistence"
	"YokoFund/internal/projection"
)

func testOutput(seq int64) core.CoreOutput {
	id := uuid.New().String()
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: id,
			EventType:      event.EventTypeDeposit,
			Payer:          address.Labeled("alice"),
			Timestamp:      time.Unix(seq, 0).UTC(),
			Payload:        []byte(`{}`),
		},
		Batch: ledger.NewBatch(id, seq, seq),
	}
}

func TestBridgeConvertsAndCloses(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	persistIn := make(chan core.CoreOutput, 2)
	projectionIn := make(chan core.CoreOutput, 2)
	persistOut := make(chan persistence.CoreOutput, 2)
	projectionOut := make(chan projection.ProjectionOutput, 2)
	publishOut := make(chan ingestion.PublishableResult, 1)

	persistIn <- testOutput(1)
	persistIn <- testOutput(2)
	projectionIn <- testOutput(1)
	close(persistIn)
	close(projectionIn)

	bridgeCoreOutputs(context.Background(), persistIn, projectionIn, persistOut, projectionOut, publishOut, true, metrics)

	var seqs []int64
	for out := range persistOut {
		seqs = append(seqs, out.TxRow.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("persisted sequences = %v, want [1 2]", seqs)
	}

	proj, ok := <-projectionOut
	if !ok || proj.Sequence != 1 || proj.EventType != event.EventTypeDeposit.String() {
		t.Fatalf("unexpected projection output %+v", proj)
	}
	if _, ok := <-projectionOut; ok {
		t.Fatal("projection output not closed")
	}

	// One slot for two results: the second is dropped, not blocked on.
	if got := len(publishOut); got != 1 {
		t.Fatalf("published %d results, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.PublishDrops); got != 1 {
		t.Fatalf("publish drops = %v, want 1", got)
	}
}

func TestBridgeSkipsPublishWhenDisabled(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	persistIn := make(chan core.CoreOutput, 1)
	projectionIn := make(chan core.CoreOutput)
	persistOut := make(chan persistence.CoreOutput, 1)
	publishOut := make(chan ingestion.PublishableResult, 1)

	persistIn <- testOutput(7)
	close(persistIn)
	close(projectionIn)

	bridgeCoreOutputs(context.Background(), persistIn, projectionIn, persistOut, make(chan projection.ProjectionOutput), publishOut, false, metrics)

	if len(publishOut) != 0 {
		t.Fatal("result published with NATS disabled")
	}
	if got := testutil.ToFloat64(metrics.PublishDrops); got != 0 {
		t.Fatalf("publish drops = %v, want 0", got)
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	persistIn := make(chan core.CoreOutput, 1)
	persistIn <- testOutput(1)
	persistOut := make(chan persistence.CoreOutput) // never drained

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridgeCoreOutputs(ctx, persistIn, make(chan core.CoreOutput), persistOut,
			make(chan projection.ProjectionOutput), make(chan ingestion.PublishableResult), false, metrics)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after cancel")
	}
}
