package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"YokoFund/internal/address"
	"YokoFund/internal/observability"
)

var (
	manager = address.Labeled("manager")
	fund    = address.Labeled("fund")
	usdc    = address.Labeled("usdc")
	alice   = address.Labeled("alice")
)

func newService(t *testing.T) (*QueryService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueryService(db, observability.NewMetrics(prometheus.NewRegistry())), mock
}

func expectWatermark(mock sqlmock.Sqlmock, seq int64) {
	mock.ExpectQuery(`SELECT last_sequence FROM projections\.watermark`).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(seq))
}

func TestUIAmount(t *testing.T) {
	require.Equal(t, "12.500000", UIAmount(12_500_000, 6))
	require.Equal(t, "0.000001", UIAmount(1, 6))
	require.Equal(t, "18446744073709551615", UIAmount(^uint64(0), 0))
	require.Equal(t, "184467440737.09551615", UIAmount(^uint64(0), 8))
}

func TestGetFundWithHoldings(t *testing.T) {
	qs, mock := newService(t)

	expectWatermark(mock, 12)
	mock.ExpectQuery(`FROM projections\.funds`).
		WithArgs(manager.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"address", "authority", "main_mint", "total_deposited", "payouts_counter", "authority_fee", "other_mints",
		}).AddRow(fund.String(), manager.String(), usdc.String(), "1000", "2", int64(10), []byte("{}")))
	mock.ExpectQuery(`FROM projections\.token_accounts ta`).
		WithArgs(fund.String()).
		WillReturnRows(sqlmock.NewRows([]string{"address", "mint", "amount", "decimals"}).
			AddRow("holding", usdc.String(), "110", int64(2)))

	resp, err := qs.GetFund(context.Background(), manager)
	require.NoError(t, err)
	require.Equal(t, fund.String(), resp.Address)
	require.EqualValues(t, 1000, resp.TotalDeposited)
	require.EqualValues(t, 2, resp.PayoutsCounter)
	require.EqualValues(t, 10, resp.AuthorityFee)
	require.Empty(t, resp.OtherMints)
	require.Len(t, resp.Holdings, 1)
	require.Equal(t, "1.10", resp.Holdings[0].UIAmount)
	require.EqualValues(t, 12, resp.AsOfSequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFundNotFound(t *testing.T) {
	qs, mock := newService(t)

	expectWatermark(mock, 0)
	mock.ExpectQuery(`FROM projections\.funds`).
		WillReturnRows(sqlmock.NewRows([]string{"address"}))

	_, err := qs.GetFund(context.Background(), manager)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetPositionPendingPayouts(t *testing.T) {
	qs, mock := newService(t)

	expectWatermark(mock, 5)
	mock.ExpectQuery(`FROM projections\.positions p`).
		WithArgs(fund.String(), alice.String()).
		WillReturnRows(sqlmock.NewRows([]string{"address", "fund", "authority", "deposited", "pc", "fpc"}).
			AddRow("pos", fund.String(), alice.String(), "300", "1", "3"))

	pos, err := qs.GetPosition(context.Background(), fund, alice)
	require.NoError(t, err)
	require.EqualValues(t, 300, pos.Deposited)
	require.EqualValues(t, 2, pos.PendingPayouts)
}

func payoutRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"address", "fund", "counter", "total", "moved", "closed", "remaining"})
}

func TestEstimateClaimMatchesProgramArithmetic(t *testing.T) {
	qs, mock := newService(t)

	expectWatermark(mock, 8)
	mock.ExpectQuery(`FROM projections\.positions p`).
		WillReturnRows(sqlmock.NewRows([]string{"address", "fund", "authority", "deposited", "pc", "fpc"}).
			AddRow("pos", fund.String(), alice.String(), "300", "0", "1"))
	expectWatermark(mock, 8)
	mock.ExpectQuery(`FROM projections\.payouts p`).
		WithArgs(fund.String(), "1").
		WillReturnRows(payoutRows().AddRow("payout", fund.String(), "1", "1000", "890", false, "890"))

	est, err := qs.EstimateClaim(context.Background(), fund, alice, 1)
	require.NoError(t, err)
	require.EqualValues(t, 267, est.Amount)
	require.True(t, est.Claimable)
	require.EqualValues(t, 8, est.AsOfSequence)
}

func TestEstimateClaimClosedPayout(t *testing.T) {
	qs, mock := newService(t)

	expectWatermark(mock, 8)
	mock.ExpectQuery(`FROM projections\.positions p`).
		WillReturnRows(sqlmock.NewRows([]string{"address", "fund", "authority", "deposited", "pc", "fpc"}).
			AddRow("pos", fund.String(), alice.String(), "300", "0", "1"))
	expectWatermark(mock, 8)
	mock.ExpectQuery(`FROM projections\.payouts p`).
		WillReturnRows(payoutRows().AddRow("payout", fund.String(), "1", "1000", "890", true, "0"))

	est, err := qs.EstimateClaim(context.Background(), fund, alice, 1)
	require.NoError(t, err)
	require.Zero(t, est.Amount)
	require.False(t, est.Claimable)
}

func TestListPayoutsPagination(t *testing.T) {
	qs, mock := newService(t)
	before := uint64(3)

	expectWatermark(mock, 20)
	mock.ExpectQuery(`p\.counter < \$2 ORDER BY p\.counter DESC LIMIT \$3`).
		WithArgs(fund.String(), "3", 2).
		WillReturnRows(payoutRows().
			AddRow("p2", fund.String(), "2", "1000", "890", false, "10").
			AddRow("p1", fund.String(), "1", "500", "445", true, "0"))

	payouts, err := qs.ListPayouts(context.Background(), fund, 2, &before)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	require.EqualValues(t, 2, payouts[0].Counter)
	require.EqualValues(t, 10, payouts[0].Remaining)
	require.True(t, payouts[1].Closed)
	require.EqualValues(t, 20, payouts[1].AsOfSequence)
}

func TestGetTransactionWithJournal(t *testing.T) {
	qs, mock := newService(t)

	mock.ExpectQuery(`FROM event_log\.transactions`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tx_id", "sequence", "tx_type", "payer", "nonce", "status", "error_reason", "error_code", "timestamp",
		}).AddRow("tx-1", int64(4), "Deposit", alice.String(), "2", "applied", nil, nil, time.Unix(100, 0).UTC()))
	mock.ExpectQuery(`FROM event_log\.journal`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"journal_id", "batch_id", "tx_ref", "sequence", "debit", "credit", "mint", "amount", "type", "ts",
		}).AddRow("j", "b", "tx-1", int64(4), "holder:x", "holder:y", usdc.String(), "300", "deposit", int64(1)))

	tx, err := qs.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, tx.Nonce)
	require.Nil(t, tx.ErrorReason)
	require.Len(t, tx.Journal, 1)
	require.EqualValues(t, 300, tx.Journal[0].Amount)
}

func TestGetJournal(t *testing.T) {
	qs, mock := newService(t)

	mock.ExpectQuery(`FROM event_log\.journal`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"journal_id", "batch_id", "tx_ref", "sequence", "debit", "credit", "mint", "amount", "type", "ts",
		}).AddRow("j", "b", "tx-1", int64(4), "holder:x", "holder:y", usdc.String(), "18446744073709551615", "deposit", int64(1)))

	entries, err := qs.GetJournal(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ^uint64(0), entries[0].Amount)
}

func TestVerifyIntegrityHealthy(t *testing.T) {
	qs, mock := newService(t)

	mock.ExpectQuery(`JOIN event_log\.transactions t2`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}))
	mock.ExpectQuery(`FROM projections\.mints m`).
		WillReturnRows(sqlmock.NewRows([]string{"address", "supply", "holdings"}))

	report, err := qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.True(t, report.IsHealthy)
}

func TestVerifyIntegrityReportsBreaks(t *testing.T) {
	qs, mock := newService(t)

	mock.ExpectQuery(`JOIN event_log\.transactions t2`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(17)))
	mock.ExpectQuery(`FROM projections\.mints m`).
		WillReturnRows(sqlmock.NewRows([]string{"address", "supply", "holdings"}).AddRow(usdc.String(), "100", "90"))

	report, err := qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.False(t, report.IsHealthy)
	require.Equal(t, []int64{17}, report.HashChainBreaks)
	require.Equal(t, "90", report.SupplyMismatch[0].Holdings)
}

func TestQueryErrorPropagates(t *testing.T) {
	qs, mock := newService(t)
	mock.ExpectQuery(`SELECT last_sequence`).WillReturnError(errors.New("down"))

	_, err := qs.GetPosition(context.Background(), fund, alice)
	require.Error(t, err)
}
