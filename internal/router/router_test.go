package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/runtime"
	"YokoFund/internal/token"
)

var (
	routerID = address.Labeled("router")
	tokenID  = address.MustParse(token.DefaultProgramID)
	payer    = address.Labeled("payer")
	usdc     = address.Labeled("usdc")
	sol      = address.Labeled("sol")
	trader   = address.Labeled("trader")
)

type fixture struct {
	db     *runtime.AccountsDB
	tok    *token.Program
	router *ConstantProduct
	pool   address.Pubkey
}

func newFixture(t *testing.T, reserveUSDC, reserveSOL uint64) *fixture {
	t.Helper()
	f := &fixture{db: runtime.NewAccountsDB(), tok: token.NewProgram(tokenID)}
	f.router = NewConstantProduct(routerID, f.tok)
	f.db.Put(payer, &runtime.Account{Owner: runtime.SystemProgramID, Lamports: 10_000_000_000})

	txn := f.begin(payer, usdc, sol)
	require.NoError(t, f.tok.CreateMint(txn, payer, usdc, 6, payer))
	require.NoError(t, f.tok.CreateMint(txn, payer, sol, 9, payer))
	pool, err := f.router.CreatePool(txn, payer, usdc, sol, 30)
	require.NoError(t, err)
	f.pool = pool
	require.NoError(t, f.tok.MintTo(txn, usdc, VaultAddress(routerID, pool, usdc).Address, token.SignedBy(payer), reserveUSDC))
	require.NoError(t, f.tok.MintTo(txn, sol, VaultAddress(routerID, pool, sol).Address, token.SignedBy(payer), reserveSOL))
	txn.Commit()
	return f
}

func (f *fixture) begin(signers ...address.Pubkey) *runtime.Txn {
	return f.db.Begin(signers, ledger.NewBatch("test", 1, 0), runtime.DefaultRent)
}

func (f *fixture) holding(t *testing.T, owner, mint address.Pubkey, amount uint64) address.Pubkey {
	t.Helper()
	txn := f.begin(payer)
	ix := f.tok.CreateAssociatedAccountInstruction(payer, owner, mint)
	require.NoError(t, txn.Invoke(tokenID, func() error { return f.tok.Process(txn, ix.Accounts, ix.Data) }))
	addr := ix.Accounts[1].Pubkey
	if amount > 0 {
		require.NoError(t, f.tok.MintTo(txn, mint, addr, token.SignedBy(payer), amount))
	}
	txn.Commit()
	return addr
}

func (f *fixture) balance(t *testing.T, addr address.Pubkey) uint64 {
	t.Helper()
	ha, err := f.tok.ReadAccount(f.begin(), addr)
	require.NoError(t, err)
	return ha.Amount
}

func TestQuote_ConstantProductWithFee(t *testing.T) {
	out, err := Quote(1_000_000, 1_000_000, 1_000, 30)
	require.NoError(t, err)
	require.Equal(t, uint64(996), out)

	out, err = Quote(1_000_000, 1_000_000, 1_000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(999), out)

	_, err = Quote(0, 1_000, 10, 30)
	require.ErrorIs(t, err, ErrEmptyReserves)
}

func TestDecodeRoute(t *testing.T) {
	p, err := DecodeRoute(EncodeRoute(500, 490))
	require.NoError(t, err)
	require.Equal(t, RouteParams{InAmount: 500, MinOut: 490}, p)

	_, err = DecodeRoute([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.ErrorIs(t, err, ErrInvalidPayload)

	bad := EncodeRoute(1, 1)
	bad[0] ^= 0xff
	_, err = DecodeRoute(bad)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPoolAddress_OrderIndependent(t *testing.T) {
	require.Equal(t, PoolAddress(routerID, usdc, sol).Address, PoolAddress(routerID, sol, usdc).Address)
}

func TestInvoke_SwapsAgainstPool(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000)
	src := f.holding(t, trader, usdc, 5_000)
	dst := f.holding(t, trader, sol, 0)

	txn := f.begin(trader)
	accounts := f.router.Accounts(trader, src, dst, usdc, sol)
	err := txn.Invoke(routerID, func() error {
		return f.router.Invoke(txn, routerID, accounts, EncodeRoute(1_000, 990))
	})
	require.NoError(t, err)
	require.Len(t, txn.Batch.Journals, 2)
	for _, j := range txn.Batch.Journals {
		require.Equal(t, ledger.JournalTypeRouterLeg, j.JournalType)
	}
	txn.Commit()

	require.Equal(t, uint64(4_000), f.balance(t, src))
	require.Equal(t, uint64(996), f.balance(t, dst))
	require.Equal(t, uint64(1_001_000), f.balance(t, VaultAddress(routerID, f.pool, usdc).Address))
	require.Equal(t, uint64(999_004), f.balance(t, VaultAddress(routerID, f.pool, sol).Address))
}

func TestInvoke_SlippageRejected(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000)
	src := f.holding(t, trader, usdc, 5_000)
	dst := f.holding(t, trader, sol, 0)

	txn := f.begin(trader)
	accounts := f.router.Accounts(trader, src, dst, usdc, sol)
	err := txn.Invoke(routerID, func() error {
		return f.router.Invoke(txn, routerID, accounts, EncodeRoute(1_000, 997))
	})
	require.ErrorIs(t, err, ErrSlippage)
}

func TestInvoke_RequiresRouterIdentity(t *testing.T) {
	f := newFixture(t, 1_000, 1_000)
	src := f.holding(t, trader, usdc, 10)
	dst := f.holding(t, trader, sol, 0)

	txn := f.begin(trader)
	accounts := f.router.Accounts(trader, src, dst, usdc, sol)
	err := f.router.Invoke(txn, routerID, accounts, EncodeRoute(10, 0))
	require.ErrorIs(t, err, ErrWrongIdentity)
}

func TestInvoke_PoolSignerRequiresRouterContext(t *testing.T) {
	f := newFixture(t, 1_000, 1_000)
	dst := f.holding(t, trader, sol, 0)
	vault := VaultAddress(routerID, f.pool, sol).Address

	// Another program cannot present the pool capability.
	txn := f.begin(trader)
	err := txn.Invoke(address.Labeled("thief"), func() error {
		return f.tok.Transfer(txn, ledger.JournalTypeTransfer, vault, dst,
			token.SignedWith(PoolAddress(routerID, usdc, sol)), 1)
	})
	require.ErrorIs(t, err, runtime.ErrInvalidProgramCapability)
}

func TestCreatePool_Validation(t *testing.T) {
	f := newFixture(t, 1, 1)
	txn := f.begin(payer)

	_, err := f.router.CreatePool(txn, payer, usdc, usdc, 30)
	require.ErrorIs(t, err, ErrPoolMints)

	_, err = f.router.CreatePool(txn, payer, usdc, sol, BpsDenominator)
	require.ErrorIs(t, err, ErrPoolFee)

	_, err = f.router.CreatePool(txn, payer, sol, usdc, 30)
	require.ErrorIs(t, err, runtime.ErrAccountAlreadyInUse)
}
