package projection

import (
	"context"
	"database/sql"
	"encoding/binary"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

var (
	fundProgram  = address.Labeled("fund-program")
	tokenProgram = address.Labeled("token-program")
	usdc         = address.Labeled("usdc")
	manager      = address.Labeled("manager")
)

func programs() Programs {
	return Programs{Fund: fundProgram, Token: tokenProgram}
}

func holdingData(mint, owner address.Pubkey, amount uint64) []byte {
	data := make([]byte, token.AccountLen)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[72] = byte(token.AccountStateInitialized)
	return data
}

func recordChange(t *testing.T, addr address.Pubkey, rec interface{ MarshalBinary() ([]byte, error) }) runtime.Change {
	t.Helper()
	data, err := rec.MarshalBinary()
	require.NoError(t, err)
	return runtime.Change{Address: addr, Account: &runtime.Account{Owner: fundProgram, Lamports: 1, Data: data}}
}

func newWorker(t *testing.T) (*ProjectionWorker, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewProjectionWorker(db, nil, programs(), nil, nil, zerolog.Nop()), db, mock
}

func TestApplyLinksNewPayoutToFund(t *testing.T) {
	pw, db, mock := newWorker(t)
	defer db.Close()

	deriver := address.NewDeriver(fundProgram)
	fundAddr := deriver.Fund(manager).Address
	payoutAddr := deriver.Payout(fundAddr, 1).Address
	payoutHolding := deriver.PayoutAssetAccount(payoutAddr).Address

	changes := []runtime.Change{
		recordChange(t, fundAddr, &state.Fund{
			Authority: manager, TotalDeposited: 1000, PayoutsCounter: 1, AuthorityFee: 10, MainMint: usdc,
		}),
		recordChange(t, payoutAddr, &state.Payout{TotalDeposited: 1000, AmountTransferredOnCreation: 890}),
		{Address: payoutHolding, Account: &runtime.Account{Owner: tokenProgram, Lamports: 1, Data: holdingData(usdc, payoutAddr, 890)}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projections\.funds`).
		WithArgs(fundAddr.String(), manager.String(), usdc.String(), "1000", "1", int64(10), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO projections\.payouts`).
		WithArgs(payoutAddr.String(), fundAddr.String(), "1", "1000", "890", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO projections\.token_accounts`).
		WithArgs(payoutHolding.String(), usdc.String(), payoutAddr.String(), "890", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO projections\.watermark`).
		WithArgs(workerID, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, pw.Apply(context.Background(), ProjectionOutput{Sequence: 7, Changes: changes}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarksClosedAccounts(t *testing.T) {
	pw, db, mock := newWorker(t)
	defer db.Close()

	gone := address.Labeled("drained-payout")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE projections\.payouts SET closed = TRUE`).
		WithArgs(gone.String(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE projections\.token_accounts SET closed = TRUE`).
		WithArgs(gone.String(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO projections\.watermark`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out := ProjectionOutput{Sequence: 9, Changes: []runtime.Change{
		{Address: gone, Account: &runtime.Account{}, Closed: true},
	}}
	require.NoError(t, pw.Apply(context.Background(), out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyIgnoresForeignAccounts(t *testing.T) {
	pw, db, mock := newWorker(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projections\.watermark`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out := ProjectionOutput{Sequence: 2, Changes: []runtime.Change{
		{Address: manager, Account: &runtime.Account{Owner: runtime.SystemProgramID, Lamports: 5}},
	}}
	require.NoError(t, pw.Apply(context.Background(), out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPositionUpsert(t *testing.T) {
	pw, db, mock := newWorker(t)
	defer db.Close()

	deriver := address.NewDeriver(fundProgram)
	fundAddr := deriver.Fund(manager).Address
	alice := address.Labeled("alice")
	posAddr := deriver.Position(fundAddr, alice).Address

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projections\.positions`).
		WithArgs(posAddr.String(), fundAddr.String(), alice.String(), "600", "0", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO projections\.watermark`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out := ProjectionOutput{Sequence: 3, Changes: []runtime.Change{
		recordChange(t, posAddr, &state.Position{Authority: alice, Fund: fundAddr, Deposited: 600}),
	}}
	require.NoError(t, pw.Apply(context.Background(), out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordsClaimsAndStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := make(chan ProjectionOutput, 1)
	claims := NewClaimHistoryProjection(10)
	pw := NewProjectionWorker(db, in, programs(), claims, nil, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projections\.watermark`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payoutHolding := address.Labeled("payout-holding")
	aliceHolding := address.Labeled("alice-holding")
	in <- ProjectionOutput{
		Sequence: 11,
		TxID:     "tx-11",
		Journals: []ledger.Journal{
			{
				DebitAccount:  ledger.HolderKey(aliceHolding, usdc),
				CreditAccount: ledger.HolderKey(payoutHolding, usdc),
				Mint:          usdc,
				Amount:        267,
				JournalType:   ledger.JournalTypePayoutClaim,
			},
			{
				DebitAccount:  ledger.HolderKey(payoutHolding, usdc),
				CreditAccount: ledger.HolderKey(aliceHolding, usdc),
				Mint:          usdc,
				Amount:        1,
				JournalType:   ledger.JournalTypeTransfer,
			},
		},
		Timestamp: time.Unix(100, 0),
	}
	close(in)

	require.NoError(t, pw.Run(context.Background()))
	require.EqualValues(t, 11, pw.LastSequence())
	require.Equal(t, 1, claims.Len())

	got := claims.QueryByAccount(aliceHolding, 5)
	require.Len(t, got, 1)
	require.EqualValues(t, 267, got[0].Amount)
	require.Equal(t, payoutHolding, got[0].Payout)
	require.Equal(t, "tx-11", got[0].TxID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimHistoryEvictsOldest(t *testing.T) {
	claims := NewClaimHistoryProjection(2)
	holder := address.Labeled("h")
	for i := int64(1); i <= 3; i++ {
		claims.Record(ProjectionOutput{Sequence: i, Journals: []ledger.Journal{{
			DebitAccount: ledger.HolderKey(holder, usdc),
			Amount:       uint64(i),
			JournalType:  ledger.JournalTypePayoutClaim,
		}}})
	}

	got := claims.QueryByAccount(holder, 10)
	require.Len(t, got, 2)
	require.EqualValues(t, 3, got[0].Sequence)
	require.EqualValues(t, 2, got[1].Sequence)
}
