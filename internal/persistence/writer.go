package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"YokoFund/internal/event"
	"YokoFund/internal/ledger"
)

// maxRowsPerInsert keeps multi-row INSERTs under the Postgres bind parameter limit.
const maxRowsPerInsert = 2000

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes transactions and journals to Postgres using multi-row
// INSERT. Writes are idempotent on sequence and journal id.
type EventLogWriter struct {
	db *sql.DB
}

// TxRow represents a row in event_log.transactions
type TxRow struct {
	Sequence    int64
	TxID        string
	TxType      string
	Payer       string
	Nonce       uint64
	Payload     []byte // JSON-encoded transaction
	Status      string
	ErrorReason *string
	ErrorCode   *int64
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	TxRef         string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Mint          string
	Amount        uint64
	JournalType   string
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewTxRow flattens an envelope for storage.
func NewTxRow(env *event.EventEnvelope) TxRow {
	row := TxRow{
		Sequence:  env.Sequence,
		TxID:      env.IdempotencyKey,
		TxType:    env.EventType.String(),
		Payer:     env.Payer.String(),
		Nonce:     env.Nonce,
		Payload:   env.Payload,
		Status:    env.Status.String(),
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: env.Timestamp,
	}
	if env.Status == event.StatusFailed {
		row.ErrorReason = lo.ToPtr(env.ErrorReason)
	}
	if env.ErrorCode != nil {
		row.ErrorCode = lo.ToPtr(int64(*env.ErrorCode))
	}
	return row
}

// NewJournalRows flattens a batch for storage.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	return lo.Map(batch.Journals, func(j ledger.Journal, _ int) JournalRow {
		return JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			TxRef:         j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Mint:          j.Mint.String(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		}
	})
}

// numeric renders a u64 for a NUMERIC column; int64 parameters would
// overflow above 2^63.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// WriteTxBatch writes a batch of rows to event_log.transactions.
func (w *EventLogWriter) WriteTxBatch(ctx context.Context, ex Execer, txs []TxRow) error {
	const cols = 12
	for _, chunk := range lo.Chunk(txs, maxRowsPerInsert/cols) {
		query := `INSERT INTO event_log.transactions
		(sequence, tx_id, tx_type, payer, nonce, payload, status, error_reason, error_code, state_hash, prev_hash, timestamp)
		VALUES `

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*cols)
		for i, t := range chunk {
			values = append(values, placeholders(i*cols, cols))
			args = append(args,
				t.Sequence, t.TxID, t.TxType, t.Payer, numeric(t.Nonce),
				string(t.Payload), t.Status, t.ErrorReason, t.ErrorCode,
				t.StateHash, t.PrevHash, t.Timestamp,
			)
		}

		query += strings.Join(values, ", ")
		query += " ON CONFLICT (sequence) DO NOTHING"

		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
	}
	return nil
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	const cols = 10
	for _, chunk := range lo.Chunk(journals, maxRowsPerInsert/cols) {
		query := `INSERT INTO event_log.journal
		(journal_id, batch_id, tx_ref, sequence, debit_account, credit_account, mint, amount, journal_type, timestamp)
		VALUES `

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*cols)
		for i, j := range chunk {
			values = append(values, placeholders(i*cols, cols))
			args = append(args,
				j.JournalID, j.BatchID, j.TxRef, j.Sequence,
				j.DebitAccount, j.CreditAccount, j.Mint, numeric(j.Amount),
				j.JournalType, j.Timestamp,
			)
		}

		query += strings.Join(values, ", ")
		query += " ON CONFLICT (journal_id) DO NOTHING"

		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert journals: %w", err)
		}
	}
	return nil
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(base + k))
	}
	sb.WriteByte(')')
	return sb.String()
}
