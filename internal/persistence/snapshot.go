package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"YokoFund/internal/address"
	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/runtime"
)

// snapshotFormatVersion v1: JSON-encoded SnapshotData
const snapshotFormatVersion = 1

var ErrSnapshotCorrupt = errors.New("snapshot is corrupt")

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots hold every account, the nonce partitions, recent idempotency keys
// and the hash chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       []byte            `json:"state_hash"`
	Accounts        []AccountSnapshot `json:"accounts"`
	SequenceState   map[string]int64  `json:"sequence_state"`   // partition -> next expected nonce
	IdempotencyKeys []string          `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time         `json:"created_at"`
}

// AccountSnapshot is a serializable account.
type AccountSnapshot struct {
	Address  address.Pubkey `json:"address"`
	Owner    address.Pubkey `json:"owner"`
	Lamports uint64         `json:"lamports,string"`
	Data     []byte         `json:"data"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromCore converts core state to its storage form.
func SnapshotFromCore(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Accounts:        make([]AccountSnapshot, 0, len(s.Accounts)),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, acct := range s.Accounts {
		data.Accounts = append(data.Accounts, AccountSnapshot{
			Address:  key,
			Owner:    acct.Owner,
			Lamports: acct.Lamports,
			Data:     acct.Data,
		})
	}
	return data
}

// ToCore converts a stored snapshot back to core state.
func (s *SnapshotData) ToCore() (*core.SnapshotState, error) {
	if len(s.StateHash) != 32 {
		return nil, fmt.Errorf("%w: state hash is %d bytes", ErrSnapshotCorrupt, len(s.StateHash))
	}
	out := &core.SnapshotState{
		Sequence:        s.Sequence,
		Accounts:        make(map[address.Pubkey]*runtime.Account, len(s.Accounts)),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
	}
	copy(out.StateHash[:], s.StateHash)
	for _, a := range s.Accounts {
		if _, dup := out.Accounts[a.Address]; dup {
			return nil, fmt.Errorf("%w: account %s repeated", ErrSnapshotCorrupt, a.Address)
		}
		out.Accounts[a.Address] = &runtime.Account{Owner: a.Owner, Lamports: a.Lamports, Data: a.Data}
	}
	return out, nil
}

// SaveSnapshot persists a snapshot to Postgres. It stays unverified until a
// replay confirms its hash.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot at seq=%d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. A nil snapshot
// means cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyAgainstLog checks a snapshot's hash against the logged transaction at
// the same sequence and marks it verified on match.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context, sequence int64, stateHash []byte) (bool, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.transactions WHERE sequence = $1
	`, sequence).Scan(&logged)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(logged) != string(stateHash) {
		return false, nil
	}
	return true, sm.MarkVerified(ctx, sequence)
}

// LoadTransactionsFrom loads logged transactions from a given sequence for replay.
func (sm *SnapshotManager) LoadTransactionsFrom(ctx context.Context, fromSequence int64, limit int) ([]TxRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, tx_id, tx_type, payer, nonce, payload, status,
		       error_reason, error_code, state_hash, prev_hash, timestamp
		FROM event_log.transactions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []TxRow
	for rows.Next() {
		var (
			t     TxRow
			nonce string
		)
		if err := rows.Scan(
			&t.Sequence, &t.TxID, &t.TxType, &t.Payer, &nonce, &t.Payload, &t.Status,
			&t.ErrorReason, &t.ErrorCode, &t.StateHash, &t.PrevHash, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscan(nonce, &t.Nonce); err != nil {
			return nil, fmt.Errorf("seq=%d: nonce %q: %w", t.Sequence, nonce, err)
		}
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// Envelope rebuilds the logged envelope for replay.
func (t TxRow) Envelope() (*event.EventEnvelope, error) {
	if len(t.StateHash) != 32 || len(t.PrevHash) != 32 {
		return nil, fmt.Errorf("seq=%d: malformed hashes", t.Sequence)
	}
	payer, err := address.ParsePubkey(t.Payer)
	if err != nil {
		return nil, fmt.Errorf("seq=%d: payer: %w", t.Sequence, err)
	}
	env := &event.EventEnvelope{
		Sequence:       t.Sequence,
		IdempotencyKey: t.TxID,
		EventType:      event.ParseEventType(t.TxType),
		Payer:          payer,
		Nonce:          t.Nonce,
		Timestamp:      t.Timestamp,
		Payload:        t.Payload,
	}
	if t.Status == event.StatusFailed.String() {
		env.Status = event.StatusFailed
	}
	if t.ErrorReason != nil {
		env.ErrorReason = *t.ErrorReason
	}
	if t.ErrorCode != nil {
		code := uint32(*t.ErrorCode)
		env.ErrorCode = &code
	}
	copy(env.StateHash[:], t.StateHash)
	copy(env.PrevHash[:], t.PrevHash)
	return env, nil
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.transactions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
