package program_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	"YokoFund/internal/ledger"
	"YokoFund/internal/program"
	"YokoFund/internal/router"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

var (
	tokenID = address.MustParse(token.DefaultProgramID)
	payer   = address.Labeled("payer")
	usdc    = address.Labeled("usdc")
	sol     = address.Labeled("sol")
	manager = address.Labeled("manager")
	alice   = address.Labeled("alice")
	bob     = address.Labeled("bob")
)

// ====================================================================
// Fixture
// ====================================================================

type fixture struct {
	cfg     program.Config
	db      *runtime.AccountsDB
	tok     *token.Program
	cp      *router.ConstantProduct
	prog    *program.Program
	b       *instruction.Builder
	fund    address.Pubkey
	feeAcct address.Pubkey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := program.DefaultConfig()
	f := &fixture{
		cfg: cfg,
		db:  runtime.NewAccountsDB(),
		tok: token.NewProgram(tokenID),
	}
	f.cp = router.NewConstantProduct(cfg.RouterID, f.tok)
	f.prog = program.New(cfg, f.tok, f.cp)
	f.b = instruction.NewBuilder(cfg.ProgramID, tokenID)
	f.fund = f.b.Deriver().Fund(manager).Address

	for _, w := range []address.Pubkey{payer, manager, alice, bob} {
		f.db.Put(w, &runtime.Account{Owner: runtime.SystemProgramID, Lamports: 100_000_000_000})
	}

	txn := f.begin(payer, usdc, sol)
	require.NoError(t, f.tok.CreateMint(txn, payer, usdc, 6, payer))
	require.NoError(t, f.tok.CreateMint(txn, payer, sol, 9, payer))
	txn.Commit()

	f.feeAcct = f.associated(t, cfg.ProtocolFeeOwner, usdc, 0)
	return f
}

func (f *fixture) withRouter(r program.SwapRouter) {
	f.prog = program.New(f.cfg, f.tok, r)
}

func (f *fixture) begin(signers ...address.Pubkey) *runtime.Txn {
	return f.db.Begin(signers, ledger.NewBatch("test", 1, 0), runtime.DefaultRent)
}

// exec runs ix as one transaction and commits only on success.
func (f *fixture) exec(ix runtime.Instruction, signers ...address.Pubkey) error {
	txn := f.begin(signers...)
	err := txn.Invoke(f.prog.ID(), func() error {
		return f.prog.Process(txn, ix.Accounts, ix.Data)
	})
	if err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (f *fixture) mustExec(t *testing.T, ix runtime.Instruction, ixErr error, signers ...address.Pubkey) {
	t.Helper()
	require.NoError(t, ixErr)
	require.NoError(t, f.exec(ix, signers...))
}

func (f *fixture) associated(t *testing.T, owner, mint address.Pubkey, amount uint64) address.Pubkey {
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

func (f *fixture) mintTo(t *testing.T, mint, dst address.Pubkey, amount uint64) {
	t.Helper()
	txn := f.begin(payer)
	require.NoError(t, f.tok.MintTo(txn, mint, dst, token.SignedBy(payer), amount))
	txn.Commit()
}

func (f *fixture) balance(t *testing.T, addr address.Pubkey) uint64 {
	t.Helper()
	ha, err := f.tok.ReadAccount(f.begin(), addr)
	require.NoError(t, err)
	return ha.Amount
}

func (f *fixture) exists(addr address.Pubkey) bool {
	_, ok := f.db.Get(addr)
	return ok
}

func (f *fixture) fundRecord(t *testing.T) *state.Fund {
	t.Helper()
	acct, ok := f.db.Get(f.fund)
	require.True(t, ok)
	fund := new(state.Fund)
	require.NoError(t, fund.UnmarshalBinary(acct.Data))
	return fund
}

func (f *fixture) positionRecord(t *testing.T, depositor address.Pubkey) *state.Position {
	t.Helper()
	acct, ok := f.db.Get(f.b.Deriver().Position(f.fund, depositor).Address)
	require.True(t, ok)
	pos := new(state.Position)
	require.NoError(t, pos.UnmarshalBinary(acct.Data))
	return pos
}

func (f *fixture) fundAsset(mint address.Pubkey) address.Pubkey {
	return f.b.Deriver().FundAssetAccount(f.fund, mint).Address
}

func (f *fixture) payoutAsset(counter uint64) address.Pubkey {
	payout := f.b.Deriver().Payout(f.fund, counter).Address
	return f.b.Deriver().PayoutAssetAccount(payout).Address
}

func (f *fixture) createFund(t *testing.T, fee uint64) {
	t.Helper()
	ix, err := f.b.CreateFund(manager, usdc, fee)
	f.mustExec(t, ix, err, manager)
}

// join creates depositor's position and deposits amount from a freshly funded wallet.
func (f *fixture) join(t *testing.T, depositor address.Pubkey, amount uint64) address.Pubkey {
	t.Helper()
	wallet := f.associated(t, depositor, usdc, amount)
	ix, err := f.b.CreatePosition(depositor, f.fund)
	f.mustExec(t, ix, err, depositor)
	if amount > 0 {
		ix, err = f.b.Deposit(depositor, f.fund, usdc, wallet, amount)
		f.mustExec(t, ix, err, depositor)
	}
	return wallet
}

func (f *fixture) payout(t *testing.T, managerWallet address.Pubkey, amount uint64) error {
	t.Helper()
	counter := f.fundRecord(t).PayoutsCounter + 1
	ix, err := f.b.CreatePayout(manager, managerWallet, usdc, f.feeAcct, counter, amount)
	require.NoError(t, err)
	return f.exec(ix, manager)
}

func (f *fixture) claim(t *testing.T, depositor, wallet address.Pubkey) error {
	t.Helper()
	counter := f.positionRecord(t, depositor).PayoutsCounter + 1
	ix, err := f.b.ClaimPayout(depositor, f.fund, wallet, counter)
	require.NoError(t, err)
	return f.exec(ix, depositor)
}

// ====================================================================
// CreateFund
// ====================================================================

func TestCreateFund_InitializesRecordAndMainAccount(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)

	fund := f.fundRecord(t)
	require.Equal(t, manager, fund.Authority)
	require.Equal(t, uint64(10), fund.AuthorityFee)
	require.Equal(t, usdc, fund.MainMint)
	require.Zero(t, fund.TotalDeposited)
	require.Zero(t, fund.PayoutsCounter)
	require.True(t, fund.OtherMints.IsEmpty())

	ha, err := f.tok.ReadAccount(f.begin(), f.fundAsset(usdc))
	require.NoError(t, err)
	require.Equal(t, f.fund, ha.Owner)
	require.Equal(t, usdc, ha.Mint)
	require.Zero(t, ha.Amount)
}

func TestCreateFund_FeeBound(t *testing.T) {
	f := newFixture(t)

	ix, err := f.b.CreateFund(manager, usdc, 100)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, manager), program.ErrInvalidAmount)
	require.False(t, f.exists(f.fund))

	f.createFund(t, 99)
	require.Equal(t, uint64(99), f.fundRecord(t).AuthorityFee)
}

func TestCreateFund_Twice(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)

	ix, err := f.b.CreateFund(manager, usdc, 10)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, manager), runtime.ErrAccountAlreadyInUse)
}

func TestCreateFund_ForgedAddress(t *testing.T) {
	f := newFixture(t)

	ix, err := f.b.CreateFund(manager, usdc, 10)
	require.NoError(t, err)
	ix.Accounts[0].Pubkey = f.b.Deriver().Fund(alice).Address

	err = f.exec(ix, manager)
	require.ErrorIs(t, err, program.ErrInvalidSeeds)
	cat, reason := program.Classify(err)
	require.Equal(t, program.CategoryStructural, cat)
	require.Equal(t, "invalid_seeds", reason)
}

func TestCreateFund_RequiresAuthoritySignature(t *testing.T) {
	f := newFixture(t)

	ix, err := f.b.CreateFund(manager, usdc, 10)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix), program.ErrMissingRequiredSignature)
}

// ====================================================================
// Positions and deposits
// ====================================================================

func TestDeposit_Accumulates(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	wallet := f.join(t, alice, 0)
	f.mintTo(t, usdc, wallet, 100)

	for _, amount := range []uint64{30, 20} {
		ix, err := f.b.Deposit(alice, f.fund, usdc, wallet, amount)
		f.mustExec(t, ix, err, alice)
	}

	require.Equal(t, uint64(50), f.positionRecord(t, alice).Deposited)
	require.Equal(t, uint64(50), f.fundRecord(t).TotalDeposited)
	require.Equal(t, uint64(50), f.balance(t, f.fundAsset(usdc)))
	require.Equal(t, uint64(50), f.balance(t, wallet))
}

func TestDeposit_ZeroRejected(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	wallet := f.join(t, alice, 10)

	ix, err := f.b.Deposit(alice, f.fund, usdc, wallet, 0)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, alice), program.ErrInvalidAmount)
}

func TestDeposit_InsufficientBalanceRollsBack(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	wallet := f.join(t, alice, 10)

	ix, err := f.b.Deposit(alice, f.fund, usdc, wallet, 11)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, alice), token.ErrInsufficientFunds)

	require.Equal(t, uint64(10), f.positionRecord(t, alice).Deposited)
	require.Equal(t, uint64(10), f.fundRecord(t).TotalDeposited)
}

func TestCreatePosition_StartsLevelWithFund(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	f.join(t, alice, 100)
	f.mintTo(t, usdc, f.fundAsset(usdc), 1_000)
	require.NoError(t, f.payout(t, f.associated(t, manager, usdc, 0), 500))

	f.join(t, bob, 0)
	require.Equal(t, uint64(1), f.positionRecord(t, bob).PayoutsCounter)
	require.Equal(t, uint64(0), f.positionRecord(t, alice).PayoutsCounter)
}

// ====================================================================
// Payouts
// ====================================================================

func TestPayout_SplitsAndClaimsProRata(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	aliceWallet := f.join(t, alice, 30)
	bobWallet := f.join(t, bob, 70)
	managerWallet := f.associated(t, manager, usdc, 0)
	f.mintTo(t, usdc, f.fundAsset(usdc), 1_000)

	require.NoError(t, f.payout(t, managerWallet, 1_000))
	require.Equal(t, uint64(100), f.balance(t, managerWallet))
	require.Equal(t, uint64(10), f.balance(t, f.feeAcct))
	require.Equal(t, uint64(890), f.balance(t, f.payoutAsset(1)))
	require.Equal(t, uint64(100), f.balance(t, f.fundAsset(usdc)))
	require.Equal(t, uint64(1), f.fundRecord(t).PayoutsCounter)

	payoutKey := f.b.Deriver().Payout(f.fund, 1).Address
	acct, ok := f.db.Get(payoutKey)
	require.True(t, ok)
	payout := new(state.Payout)
	require.NoError(t, payout.UnmarshalBinary(acct.Data))
	require.Equal(t, uint64(100), payout.TotalDeposited)
	require.Equal(t, uint64(890), payout.AmountTransferredOnCreation)

	require.NoError(t, f.claim(t, alice, aliceWallet))
	require.Equal(t, uint64(267), f.balance(t, aliceWallet))
	require.True(t, f.exists(payoutKey))

	require.NoError(t, f.claim(t, bob, bobWallet))
	require.Equal(t, uint64(623), f.balance(t, bobWallet))

	// Drained payouts are torn down.
	require.False(t, f.exists(payoutKey))
	require.False(t, f.exists(f.payoutAsset(1)))
	require.Equal(t, uint64(1), f.positionRecord(t, alice).PayoutsCounter)
	require.Equal(t, uint64(1), f.positionRecord(t, bob).PayoutsCounter)
}

func TestPayout_RejectsZeroAmountAndEmptyFund(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	managerWallet := f.associated(t, manager, usdc, 0)

	require.ErrorIs(t, f.payout(t, managerWallet, 0), program.ErrInvalidAmount)

	f.mintTo(t, usdc, f.fundAsset(usdc), 1_000)
	require.ErrorIs(t, f.payout(t, managerWallet, 100), program.ErrInvalidAmount)
	require.Zero(t, f.fundRecord(t).PayoutsCounter)
}

func TestPayout_ProtocolFeeAccountValidated(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	f.join(t, alice, 100)
	managerWallet := f.associated(t, manager, usdc, 0)

	// Right mint, wrong owner.
	f.feeAcct = f.associated(t, bob, usdc, 0)
	err := f.payout(t, managerWallet, 50)
	require.ErrorIs(t, err, program.ErrInvalidAccountData)

	// Right owner, wrong mint.
	f.feeAcct = f.associated(t, f.cfg.ProtocolFeeOwner, sol, 0)
	require.ErrorIs(t, f.payout(t, managerWallet, 50), program.ErrInvalidAccountData)
}

func TestPayout_OnlyAuthority(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	f.join(t, alice, 100)
	bobWallet := f.associated(t, bob, usdc, 0)

	ix, err := f.b.CreatePayout(manager, bobWallet, usdc, f.feeAcct, 1, 50)
	require.NoError(t, err)
	ix.Accounts[0].Pubkey = bob
	require.ErrorIs(t, f.exec(ix, bob), program.ErrInvalidSeeds)
}

func TestClaim_NothingToClaim(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	wallet := f.join(t, alice, 100)

	err := f.claim(t, alice, wallet)
	require.ErrorIs(t, err, program.ErrNoUnclaimedPayout)
	cat, reason := program.Classify(err)
	require.Equal(t, program.CategoryDomain, cat)
	require.Equal(t, "custom_4", reason)
}

func TestClaim_StrictlyInOrder(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 0)
	wallet := f.join(t, alice, 50)
	f.join(t, bob, 50)
	managerWallet := f.associated(t, manager, usdc, 0)
	f.mintTo(t, usdc, f.fundAsset(usdc), 10_000)
	require.NoError(t, f.payout(t, managerWallet, 1_000))
	require.NoError(t, f.payout(t, managerWallet, 2_000))

	// Skipping ahead to payout 2 is refused.
	ix, err := f.b.ClaimPayout(alice, f.fund, wallet, 2)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, alice), program.ErrInvalidAccountData)

	require.NoError(t, f.claim(t, alice, wallet))
	require.Equal(t, uint64(495), f.balance(t, wallet))
	require.NoError(t, f.claim(t, alice, wallet))
	require.Equal(t, uint64(495+990), f.balance(t, wallet))
	require.ErrorIs(t, f.claim(t, alice, wallet), program.ErrNoUnclaimedPayout)
}

func TestDeposit_BlockedWhilePayoutPending(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	wallet := f.join(t, alice, 100)
	f.mintTo(t, usdc, wallet, 100)
	f.mintTo(t, usdc, f.fundAsset(usdc), 1_000)
	require.NoError(t, f.payout(t, f.associated(t, manager, usdc, 0), 1_000))

	ix, err := f.b.Deposit(alice, f.fund, usdc, wallet, 10)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, alice), program.ErrUnclaimedPayoutPending)

	require.NoError(t, f.claim(t, alice, wallet))
	require.NoError(t, f.exec(ix, alice))
	require.Equal(t, uint64(110), f.positionRecord(t, alice).Deposited)
}

func TestClaim_DrainedPayoutStillAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)
	aliceWallet := f.join(t, alice, 100)
	bobWallet := f.join(t, bob, 0)
	require.NoError(t, f.payout(t, f.associated(t, manager, usdc, 0), 100))

	require.NoError(t, f.claim(t, alice, aliceWallet))
	require.Equal(t, uint64(89), f.balance(t, aliceWallet))
	require.False(t, f.exists(f.payoutAsset(1)))

	require.NoError(t, f.claim(t, bob, bobWallet))
	require.Zero(t, f.balance(t, bobWallet))
	require.Equal(t, uint64(1), f.positionRecord(t, bob).PayoutsCounter)
	require.ErrorIs(t, f.claim(t, bob, bobWallet), program.ErrNoUnclaimedPayout)
}

// ====================================================================
// Secondary asset set
// ====================================================================

func TestCreateFundTokenAccount_TracksMint(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)

	ix, err := f.b.CreateFundTokenAccount(manager, sol)
	f.mustExec(t, ix, err, manager)
	require.True(t, f.fundRecord(t).OtherMints.Contains(sol))
	ha, err := f.tok.ReadAccount(f.begin(), f.fundAsset(sol))
	require.NoError(t, err)
	require.Equal(t, f.fund, ha.Owner)

	require.ErrorIs(t, f.exec(ix, manager), program.ErrInsertingOtherMint)
}

func TestCreateFundTokenAccount_SetFull(t *testing.T) {
	f := newFixture(t)
	f.createFund(t, 10)

	mints := make([]address.Pubkey, state.AssetSetCapacity+1)
	for i := range mints {
		mints[i] = address.Labeled(fmt.Sprintf("mint-%d", i))
		txn := f.begin(payer, mints[i])
		require.NoError(t, f.tok.CreateMint(txn, payer, mints[i], 0, payer))
		txn.Commit()
	}

	for _, m := range mints[:state.AssetSetCapacity] {
		ix, err := f.b.CreateFundTokenAccount(manager, m)
		f.mustExec(t, ix, err, manager)
	}
	require.True(t, f.fundRecord(t).OtherMints.IsFull())

	ix, err := f.b.CreateFundTokenAccount(manager, mints[state.AssetSetCapacity])
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, manager), program.ErrInsertingOtherMint)
	require.False(t, f.exists(f.fundAsset(mints[state.AssetSetCapacity])))
}

// ====================================================================
// Swap
// ====================================================================

// swapFixture is a fund holding 10_000 usdc with a sol account and a
// 1_000_000/1_000_000 pool.
func swapFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.createFund(t, 10)
	f.join(t, alice, 10_000)
	ix, err := f.b.CreateFundTokenAccount(manager, sol)
	f.mustExec(t, ix, err, manager)

	txn := f.begin(payer)
	pool, err := f.cp.CreatePool(txn, payer, usdc, sol, 30)
	require.NoError(t, err)
	require.NoError(t, f.tok.MintTo(txn, usdc, router.VaultAddress(f.cfg.RouterID, pool, usdc).Address, token.SignedBy(payer), 1_000_000))
	require.NoError(t, f.tok.MintTo(txn, sol, router.VaultAddress(f.cfg.RouterID, pool, sol).Address, token.SignedBy(payer), 1_000_000))
	txn.Commit()
	return f
}

func (f *fixture) swap(t *testing.T, from, to address.Pubkey, in uint64, payload []byte) error {
	t.Helper()
	scratchSrc := f.associated(t, manager, from, 0)
	scratchDst := f.associated(t, manager, to, 0)
	accounts := f.cp.Accounts(manager, scratchSrc, scratchDst, from, to)
	ix, err := f.b.Swap(manager, to, from, f.cfg.RouterID, in, accounts, payload)
	require.NoError(t, err)
	return f.exec(ix, manager)
}

func TestSwap_CreditsMeasuredOutput(t *testing.T) {
	f := swapFixture(t)
	want, err := router.Quote(1_000_000, 1_000_000, 1_000, 30)
	require.NoError(t, err)

	require.NoError(t, f.swap(t, usdc, sol, 1_000, router.EncodeRoute(1_000, 0)))
	require.Equal(t, uint64(9_000), f.balance(t, f.fundAsset(usdc)))
	require.Equal(t, want, f.balance(t, f.fundAsset(sol)))

	// Emptied scratch accounts are closed.
	require.False(t, f.exists(f.tok.AssociatedAddress(manager, usdc).Address))
	require.False(t, f.exists(f.tok.AssociatedAddress(manager, sol).Address))
	require.True(t, f.fundRecord(t).OtherMints.Contains(sol))
}

func TestSwap_DrainedSecondaryAccountIsRemoved(t *testing.T) {
	f := swapFixture(t)
	require.NoError(t, f.swap(t, usdc, sol, 1_000, router.EncodeRoute(1_000, 0)))
	held := f.balance(t, f.fundAsset(sol))

	require.NoError(t, f.swap(t, sol, usdc, held, router.EncodeRoute(held, 0)))
	require.False(t, f.exists(f.fundAsset(sol)))
	require.True(t, f.fundRecord(t).OtherMints.IsEmpty())
	require.True(t, f.exists(f.fundAsset(usdc)))
}

func TestSwap_MainAccountNeverClosed(t *testing.T) {
	f := swapFixture(t)
	require.NoError(t, f.swap(t, usdc, sol, 10_000, router.EncodeRoute(10_000, 0)))
	require.Zero(t, f.balance(t, f.fundAsset(usdc)))
	require.True(t, f.exists(f.fundAsset(usdc)))
}

func TestSwap_RemoveUntrackedMintFails(t *testing.T) {
	f := swapFixture(t)
	require.NoError(t, f.swap(t, usdc, sol, 1_000, router.EncodeRoute(1_000, 0)))

	// Drop sol from the tracked set behind the program's back.
	acct, ok := f.db.Get(f.fund)
	require.True(t, ok)
	fund := f.fundRecord(t)
	require.NoError(t, fund.OtherMints.Remove(sol))
	acct.Data, _ = fund.MarshalBinary()
	f.db.Put(f.fund, acct)

	held := f.balance(t, f.fundAsset(sol))
	err := f.swap(t, sol, usdc, held, router.EncodeRoute(held, 0))
	require.ErrorIs(t, err, program.ErrRemovingOtherMint)
	require.True(t, f.exists(f.fundAsset(sol)))
}

func TestSwap_WrongRouterRejected(t *testing.T) {
	f := swapFixture(t)
	scratchSrc := f.associated(t, manager, usdc, 0)
	scratchDst := f.associated(t, manager, sol, 0)
	accounts := f.cp.Accounts(manager, scratchSrc, scratchDst, usdc, sol)

	ix, err := f.b.Swap(manager, sol, usdc, address.Labeled("impostor"), 100, accounts, router.EncodeRoute(100, 0))
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(ix, manager), program.ErrInvalidAccount)
}

func TestSwap_ShortPayloadRejected(t *testing.T) {
	f := swapFixture(t)
	scratchSrc := f.associated(t, manager, usdc, 0)
	scratchDst := f.associated(t, manager, sol, 0)
	accounts := f.cp.Accounts(manager, scratchSrc, scratchDst, usdc, sol)
	ix, err := f.b.Swap(manager, sol, usdc, f.cfg.RouterID, 100, accounts, router.EncodeRoute(100, 0))
	require.NoError(t, err)

	ix.Data = ix.Data[:1+8+instruction.MinRoutePayloadLen-1]
	require.ErrorIs(t, f.exec(ix, manager), program.ErrInvalidInstructionData)
}

// routerFunc adapts a function to program.SwapRouter.
type routerFunc func(txn *runtime.Txn, accounts []runtime.AccountMeta) error

func (fn routerFunc) Invoke(txn *runtime.Txn, _ address.Pubkey, accounts []runtime.AccountMeta, _ []byte) error {
	return fn(txn, accounts)
}

func TestSwap_RouterMustConsumeExactly(t *testing.T) {
	f := swapFixture(t)
	sink := f.associated(t, bob, usdc, 0)

	for name, take := range map[string]uint64{"under": 99, "over": 101, "none": 0} {
		t.Run(name, func(t *testing.T) {
			f.withRouter(routerFunc(func(txn *runtime.Txn, accounts []runtime.AccountMeta) error {
				return f.tok.Transfer(txn, ledger.JournalTypeRouterLeg, accounts[2].Pubkey, sink, token.SignedBy(manager), take)
			}))

			// Over-consumption needs more in scratch than was staged in.
			scratchSrc := f.associated(t, manager, usdc, 5)
			scratchDst := f.associated(t, manager, sol, 0)
			accounts := f.cp.Accounts(manager, scratchSrc, scratchDst, usdc, sol)
			ix, err := f.b.Swap(manager, sol, usdc, f.cfg.RouterID, 100, accounts, router.EncodeRoute(100, 0))
			require.NoError(t, err)

			require.ErrorIs(t, f.exec(ix, manager), program.ErrInvalidAmount)
			require.Equal(t, uint64(10_000), f.balance(t, f.fundAsset(usdc)))
			require.Zero(t, f.balance(t, sink))
		})
	}
}

func TestSwap_OutputIsMeasuredNotReported(t *testing.T) {
	f := swapFixture(t)
	sink := f.associated(t, bob, usdc, 0)

	// Consumes the input and delivers 7 sol regardless of what it claims.
	f.withRouter(routerFunc(func(txn *runtime.Txn, accounts []runtime.AccountMeta) error {
		if err := f.tok.Transfer(txn, ledger.JournalTypeRouterLeg, accounts[2].Pubkey, sink, token.SignedBy(manager), 500); err != nil {
			return err
		}
		return f.tok.MintTo(txn, sol, accounts[3].Pubkey, token.SignedBy(payer), 7)
	}))

	scratchSrc := f.associated(t, manager, usdc, 0)
	scratchDst := f.associated(t, manager, sol, 0)
	accounts := f.cp.Accounts(manager, scratchSrc, scratchDst, usdc, sol)
	ix, err := f.b.Swap(manager, sol, usdc, f.cfg.RouterID, 500, accounts, router.EncodeRoute(500, 1_000_000))
	require.NoError(t, err)
	require.NoError(t, f.exec(ix, manager, payer))

	require.Equal(t, uint64(7), f.balance(t, f.fundAsset(sol)))
	require.Equal(t, uint64(9_500), f.balance(t, f.fundAsset(usdc)))
}

func TestSwap_FundCapabilityNotUsableByRouter(t *testing.T) {
	f := swapFixture(t)
	deriver := f.b.Deriver()
	sink := f.associated(t, bob, usdc, 0)

	f.withRouter(routerFunc(func(txn *runtime.Txn, _ []runtime.AccountMeta) error {
		return f.tok.Transfer(txn, ledger.JournalTypeRouterLeg, f.fundAsset(usdc), sink,
			token.SignedWith(deriver.Fund(manager)), 1)
	}))

	err := f.swap(t, usdc, sol, 100, router.EncodeRoute(100, 0))
	require.ErrorIs(t, err, runtime.ErrInvalidProgramCapability)
	require.Zero(t, f.balance(t, sink))
}
