package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"

	"YokoFund/internal/address"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/observability"
)

var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables and the event
// log. Queries are served via gRPC and HTTP/JSON (gRPC-Gateway). All
// responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// track records request count and latency for endpoint. Usage:
// defer qs.track("fund")(&err)
func (qs *QueryService) track(endpoint string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		if qs.metrics == nil {
			return
		}
		status := "ok"
		if err := *errp; err != nil {
			status = "error"
			kind := "internal"
			if errors.Is(err, ErrNotFound) {
				status, kind = "not_found", "not_found"
			}
			qs.metrics.QueryErrors.WithLabelValues(endpoint, kind).Inc()
		}
		qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// GetFund returns the fund of an authority with its holdings.
func (qs *QueryService) GetFund(ctx context.Context, authority address.Pubkey) (resp *FundResponse, err error) {
	defer qs.track("fund")(&err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		f              FundResponse
		total, counter string
		fee            int64
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, authority, main_mint, total_deposited, payouts_counter, authority_fee, other_mints
		FROM projections.funds
		WHERE authority = $1
	`, authority.String()).Scan(
		&f.Address, &f.Authority, &f.MainMint, &total, &counter, &fee, pq.Array(&f.OtherMints),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fund of %s: %w", authority, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if f.TotalDeposited, err = parseNumeric(total); err != nil {
		return nil, err
	}
	if f.PayoutsCounter, err = parseNumeric(counter); err != nil {
		return nil, err
	}
	f.AuthorityFee = uint64(fee)

	fundAddr, err := address.ParsePubkey(f.Address)
	if err != nil {
		return nil, err
	}
	if f.Holdings, err = qs.GetHoldings(ctx, fundAddr); err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	f.AsOfSequence = asOfSeq
	return &f, nil
}

// GetPosition returns the position of depositor in fund.
func (qs *QueryService) GetPosition(ctx context.Context, fund, depositor address.Pubkey) (resp *PositionResponse, err error) {
	defer qs.track("position")(&err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var (
		p                        PositionResponse
		deposited, counter, fcnt string
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT p.address, p.fund, p.authority, p.deposited, p.payouts_counter, f.payouts_counter
		FROM projections.positions p
		JOIN projections.funds f ON f.address = p.fund
		WHERE p.fund = $1 AND p.authority = $2
	`, fund.String(), depositor.String()).Scan(
		&p.Address, &p.Fund, &p.Authority, &deposited, &counter, &fcnt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position of %s in %s: %w", depositor, fund, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var fundCounter uint64
	for _, v := range []struct {
		src string
		dst *uint64
	}{{deposited, &p.Deposited}, {counter, &p.PayoutsCounter}, {fcnt, &fundCounter}} {
		if *v.dst, err = parseNumeric(v.src); err != nil {
			return nil, err
		}
	}
	if fundCounter > p.PayoutsCounter {
		p.PendingPayouts = fundCounter - p.PayoutsCounter
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetPayout returns payout number counter of fund.
func (qs *QueryService) GetPayout(ctx context.Context, fund address.Pubkey, counter uint64) (resp *PayoutResponse, err error) {
	defer qs.track("payout")(&err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	payouts, err := qs.queryPayouts(ctx, `
		WHERE p.fund = $1 AND p.counter = $2
	`, fund.String(), fmt.Sprint(counter))
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("payout %d of %s: %w", counter, fund, ErrNotFound)
	}
	payouts[0].AsOfSequence = asOfSeq
	return &payouts[0], nil
}

// ListPayouts returns a fund's payouts, newest first. Pass beforeCounter to
// page backwards.
func (qs *QueryService) ListPayouts(ctx context.Context, fund address.Pubkey, limit int, beforeCounter *uint64) (resp []PayoutResponse, err error) {
	defer qs.track("payouts")(&err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	where := ` WHERE p.fund = $1`
	args := []any{fund.String()}
	argIdx := 2

	if beforeCounter != nil {
		where += fmt.Sprintf(" AND p.counter < $%d", argIdx)
		args = append(args, fmt.Sprint(*beforeCounter))
		argIdx++
	}

	where += " ORDER BY p.counter DESC"
	where += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	payouts, err := qs.queryPayouts(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	return lo.Map(payouts, func(p PayoutResponse, _ int) PayoutResponse {
		p.AsOfSequence = asOfSeq
		return p
	}), nil
}

func (qs *QueryService) queryPayouts(ctx context.Context, where string, args ...any) ([]PayoutResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.address, p.fund, p.counter, p.total_deposited, p.amount_transferred_on_creation,
		       p.closed, COALESCE(ta.amount, 0)
		FROM projections.payouts p
		LEFT JOIN projections.token_accounts ta ON ta.owner = p.address AND NOT ta.closed
	`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []PayoutResponse
	for rows.Next() {
		var (
			p                                PayoutResponse
			counter, total, moved, remaining string
		)
		if err := rows.Scan(&p.Address, &p.Fund, &counter, &total, &moved, &p.Closed, &remaining); err != nil {
			return nil, err
		}
		for _, v := range []struct {
			src string
			dst *uint64
		}{{counter, &p.Counter}, {total, &p.TotalDeposited}, {moved, &p.AmountTransferredOnCreation}, {remaining, &p.Remaining}} {
			if *v.dst, err = parseNumeric(v.src); err != nil {
				return nil, err
			}
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// EstimateClaim computes what depositor would receive from payout counter of
// fund, with the same fixed-point arithmetic as ClaimPayout.
func (qs *QueryService) EstimateClaim(ctx context.Context, fund, depositor address.Pubkey, counter uint64) (resp *ClaimEstimate, err error) {
	defer qs.track("claim_estimate")(&err)

	pos, err := qs.GetPosition(ctx, fund, depositor)
	if err != nil {
		return nil, err
	}
	payout, err := qs.GetPayout(ctx, fund, counter)
	if err != nil {
		return nil, err
	}

	est := &ClaimEstimate{
		Position:     pos.Address,
		Payout:       payout.Address,
		Counter:      counter,
		Claimable:    !payout.Closed && pos.PayoutsCounter+1 == counter,
		AsOfSequence: payout.AsOfSequence,
	}
	if payout.Closed || payout.TotalDeposited == 0 {
		return est, nil
	}
	if est.Amount, err = fpmath.ClaimShare(pos.Deposited, payout.TotalDeposited, payout.AmountTransferredOnCreation); err != nil {
		return nil, fmt.Errorf("claim share: %w", err)
	}
	return est, nil
}

// GetTransaction returns the logged outcome and journal of a transaction.
func (qs *QueryService) GetTransaction(ctx context.Context, txID string) (resp *TransactionResponse, err error) {
	defer qs.track("transaction")(&err)

	var (
		t     TransactionResponse
		nonce string
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT tx_id, sequence, tx_type, payer, nonce, status, error_reason, error_code, timestamp
		FROM event_log.transactions
		WHERE tx_id = $1
	`, txID).Scan(
		&t.TxID, &t.Sequence, &t.TxType, &t.Payer, &nonce, &t.Status, &t.ErrorReason, &t.ErrorCode, &t.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if t.Nonce, err = parseNumeric(nonce); err != nil {
		return nil, err
	}

	if t.Journal, err = qs.GetJournal(ctx, txID); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetJournal returns the journal entries of a transaction.
func (qs *QueryService) GetJournal(ctx context.Context, txID string) ([]JournalHistoryEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, tx_ref, sequence,
		       debit_account, credit_account, mint, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE tx_ref = $1
		ORDER BY timestamp, journal_id
	`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalHistoryEntry, 0)
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount string
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.TxRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Mint, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and supply
// conservation in the projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT t1.sequence
		FROM event_log.transactions t1
		JOIN event_log.transactions t2 ON t2.sequence = t1.sequence - 1
		WHERE t1.prev_hash != t2.state_hash
		ORDER BY t1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	supplyRows, err := qs.db.QueryContext(ctx, `
		SELECT m.address, m.supply::TEXT, COALESCE(SUM(ta.amount), 0)::TEXT
		FROM projections.mints m
		LEFT JOIN projections.token_accounts ta ON ta.mint = m.address AND NOT ta.closed
		GROUP BY m.address, m.supply
		HAVING m.supply != COALESCE(SUM(ta.amount), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer supplyRows.Close()

	for supplyRows.Next() {
		var sm SupplyMismatch
		if err := supplyRows.Scan(&sm.Mint, &sm.Supply, &sm.Holdings); err != nil {
			return nil, err
		}
		report.SupplyMismatch = append(report.SupplyMismatch, sm)
	}
	if err := supplyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SupplyMismatch) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
