package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/observability"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

const workerID = "main"

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	TxID      string
	EventType string
	Changes   []runtime.Change
	Journals  []ledger.Journal
	Timestamp time.Time
}

// Programs names the owners the worker uses to recognise account kinds.
type Programs struct {
	Fund  address.Pubkey
	Token address.Pubkey
}

// ProjectionWorker updates projection tables from applied transactions.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from a snapshot of the accounts.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	programs  Programs
	deriver   address.Deriver
	claims    *ClaimHistoryProjection
	lastSeq   atomic.Int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	programs Programs,
	claims *ClaimHistoryProjection,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		programs:  programs,
		deriver:   address.NewDeriver(programs.Fund),
		claims:    claims,
		metrics:   metrics,
		log:       logger,
	}
}

// LastSequence is the last sequence the worker consumed.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.log.Warn().Err(err).Int64("seq", output.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.Inc()
				}
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("accounts").Observe(time.Since(start).Seconds())
			}

			if pw.claims != nil {
				pw.claims.Record(output)
			}
			pw.lastSeq.Store(output.Sequence)
		}
	}
}

// Apply writes one output's account changes and the watermark in one SQL
// transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := pw.applyChanges(ctx, tx, output.Sequence, output.Changes); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) applyChanges(ctx context.Context, tx *sql.Tx, seq int64, changes []runtime.Change) error {
	// A payout record carries neither its fund nor its counter. CreatePayout
	// always bumps the fund counter in the same transaction, so the fund
	// change identifies the new payout.
	payoutIndex := make(map[address.Pubkey]payoutRef)
	for _, ch := range changes {
		if ch.Closed || ch.Account.Owner != pw.programs.Fund {
			continue
		}
		if kind, ok := state.PeekKind(ch.Account.Data); !ok || kind != state.RecordKindFund {
			continue
		}
		var f state.Fund
		if err := f.UnmarshalBinary(ch.Account.Data); err != nil {
			return fmt.Errorf("fund %s: %w", ch.Address, err)
		}
		if f.PayoutsCounter == 0 {
			continue
		}
		addr := pw.deriver.Payout(ch.Address, f.PayoutsCounter).Address
		payoutIndex[addr] = payoutRef{fund: ch.Address, counter: f.PayoutsCounter}
	}

	for _, ch := range changes {
		var err error
		switch {
		case ch.Closed:
			err = markClosed(ctx, tx, seq, ch.Address)
		case ch.Account.Owner == pw.programs.Fund:
			err = pw.applyRecord(ctx, tx, seq, ch, payoutIndex)
		case ch.Account.Owner == pw.programs.Token:
			err = applyTokenAccount(ctx, tx, seq, ch)
		}
		if err != nil {
			return fmt.Errorf("seq=%d account %s: %w", seq, ch.Address, err)
		}
	}
	return nil
}

type payoutRef struct {
	fund    address.Pubkey
	counter uint64
}

func (pw *ProjectionWorker) applyRecord(ctx context.Context, tx *sql.Tx, seq int64, ch runtime.Change, payouts map[address.Pubkey]payoutRef) error {
	kind, ok := state.PeekKind(ch.Account.Data)
	if !ok {
		return nil
	}

	switch kind {
	case state.RecordKindFund:
		var f state.Fund
		if err := f.UnmarshalBinary(ch.Account.Data); err != nil {
			return err
		}
		others := lo.Map(f.OtherMints.Slice(), func(m address.Pubkey, _ int) string { return m.String() })
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.funds
				(address, authority, main_mint, total_deposited, payouts_counter, authority_fee, other_mints, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (address) DO UPDATE SET
				total_deposited = $4, payouts_counter = $5, other_mints = $7, last_sequence = $8
		`, ch.Address.String(), f.Authority.String(), f.MainMint.String(),
			numeric(f.TotalDeposited), numeric(f.PayoutsCounter), int64(f.AuthorityFee),
			pq.Array(others), seq)
		return err

	case state.RecordKindPosition:
		var p state.Position
		if err := p.UnmarshalBinary(ch.Account.Data); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(address, fund, authority, deposited, payouts_counter, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address) DO UPDATE SET
				deposited = $4, payouts_counter = $5, last_sequence = $6
		`, ch.Address.String(), p.Fund.String(), p.Authority.String(),
			numeric(p.Deposited), numeric(p.PayoutsCounter), seq)
		return err

	case state.RecordKindPayout:
		ref, ok := payouts[ch.Address]
		if !ok {
			// Payout records are written once at creation
			return nil
		}
		var p state.Payout
		if err := p.UnmarshalBinary(ch.Account.Data); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.payouts
				(address, fund, counter, total_deposited, amount_transferred_on_creation, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address) DO NOTHING
		`, ch.Address.String(), ref.fund.String(), numeric(ref.counter),
			numeric(p.TotalDeposited), numeric(p.AmountTransferredOnCreation), seq)
		return err
	}
	return nil
}

func applyTokenAccount(ctx context.Context, tx *sql.Tx, seq int64, ch runtime.Change) error {
	switch len(ch.Account.Data) {
	case token.AccountLen:
		a, err := token.DecodeAccount(ch.Account.Data)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.token_accounts (address, mint, owner, amount, closed, last_sequence)
			VALUES ($1, $2, $3, $4, FALSE, $5)
			ON CONFLICT (address) DO UPDATE SET
				owner = $3, amount = $4, closed = FALSE, last_sequence = $5
		`, ch.Address.String(), a.Mint.String(), a.Owner.String(), numeric(a.Amount), seq)
		return err

	case token.MintLen:
		m, err := token.DecodeMint(ch.Account.Data)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.mints (address, decimals, supply, authority, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (address) DO UPDATE SET supply = $3, authority = $4, last_sequence = $5
		`, ch.Address.String(), int64(m.Decimals), numeric(m.Supply), m.Authority.String(), seq)
		return err
	}
	return nil
}

// markClosed flags a deleted account. Only payouts and holding accounts are
// ever closed.
func markClosed(ctx context.Context, tx *sql.Tx, seq int64, addr address.Pubkey) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.payouts SET closed = TRUE, last_sequence = $2 WHERE address = $1
	`, addr.String(), seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.token_accounts SET closed = TRUE, amount = 0, last_sequence = $2 WHERE address = $1
	`, addr.String(), seq)
	return err
}

func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// RebuildProjections rebuilds all projection tables from the committed
// accounts. The caller passes the accounts of a restored or live core and
// the sequence they reflect.
func RebuildProjections(ctx context.Context, db *sql.DB, programs Programs, accounts map[address.Pubkey]*runtime.Account, sequence int64, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.funds`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.payouts`,
		`TRUNCATE projections.token_accounts`,
		`TRUNCATE projections.mints`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	changes := make([]runtime.Change, 0, len(accounts))
	for _, key := range lo.Keys(accounts) {
		acct := accounts[key]
		if acct.Owner != programs.Fund && acct.Owner != programs.Token {
			continue
		}
		changes = append(changes, runtime.Change{Address: key, Account: acct})
	}

	pw := NewProjectionWorker(db, nil, programs, nil, nil, logger)
	if err := pw.Apply(ctx, ProjectionOutput{Sequence: sequence, Changes: changes}); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	// Payout fund and counter are recovered by walking every fund's counter
	if err := pw.rebuildPayoutLinks(ctx, accounts, sequence); err != nil {
		return fmt.Errorf("rebuild payouts: %w", err)
	}

	logger.Info().Int("accounts", len(changes)).Int64("seq", sequence).Msg("projection rebuild complete")
	return nil
}

// rebuildPayoutLinks inserts every live payout of every fund. The regular
// path only links the newest payout of a fund.
func (pw *ProjectionWorker) rebuildPayoutLinks(ctx context.Context, accounts map[address.Pubkey]*runtime.Account, sequence int64) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, acct := range accounts {
		if acct.Owner != pw.programs.Fund {
			continue
		}
		if kind, ok := state.PeekKind(acct.Data); !ok || kind != state.RecordKindFund {
			continue
		}
		var f state.Fund
		if err := f.UnmarshalBinary(acct.Data); err != nil {
			return err
		}
		index := make(map[address.Pubkey]payoutRef)
		var payoutChanges []runtime.Change
		for n := uint64(1); n <= f.PayoutsCounter; n++ {
			addr := pw.deriver.Payout(key, n).Address
			payout, ok := accounts[addr]
			if !ok {
				continue
			}
			index[addr] = payoutRef{fund: key, counter: n}
			payoutChanges = append(payoutChanges, runtime.Change{Address: addr, Account: payout})
		}
		for _, ch := range payoutChanges {
			if err := pw.applyRecord(ctx, tx, sequence, ch, index); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
