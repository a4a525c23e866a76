package program

import (
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	"YokoFund/internal/ledger"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

// createPayout accounts: [fund_authority, fund_authority_token_account, fund,
// fund_main_token_account, payout, payout_main_token_account, main_mint,
// protocol_fee_token_account, token_program, system_program]
func (c *invocation) createPayout(ix instruction.CreatePayout) error {
	if ix.Amount == 0 {
		return fmt.Errorf("%w: zero payout", ErrInvalidAmount)
	}
	if err := c.expect(10); err != nil {
		return err
	}

	authority, err := c.signer(0)
	if err != nil {
		return err
	}
	keys, err := c.writableKeys(1, 2, 3, 4, 5, 7)
	if err != nil {
		return err
	}
	authorityAccount, fundKey, fundMainAccount := keys[0], keys[1], keys[2]
	payoutKey, payoutMainAccount, protocolFeeAccount := keys[3], keys[4], keys[5]
	mainMint := c.key(6)
	if err := c.programAt(8, c.p.tokens.ID()); err != nil {
		return err
	}
	if err := c.programAt(9, runtime.SystemProgramID); err != nil {
		return err
	}

	feeHolding, err := c.p.tokens.ReadAccount(c.txn, protocolFeeAccount)
	if err != nil {
		return fmt.Errorf("protocol fee account: %w: %v", ErrInvalidAccountData, err)
	}
	if feeHolding.Owner != c.p.cfg.ProtocolFeeOwner {
		return fmt.Errorf("protocol fee account owner %s: %w", feeHolding.Owner, ErrInvalidAccountData)
	}
	if feeHolding.Mint != mainMint {
		return fmt.Errorf("protocol fee account mint %s: %w", feeHolding.Mint, ErrInvalidAccountData)
	}

	fundSeeds := c.p.deriver.Fund(authority)
	if err := hasSeeds(fundKey, fundSeeds); err != nil {
		return err
	}
	fund, err := c.loadFund(fundKey)
	if err != nil {
		return err
	}
	if fund.Authority != authority {
		return fmt.Errorf("fund authority: %w", ErrInvalidAccountData)
	}
	if fund.MainMint != mainMint {
		return fmt.Errorf("fund main mint: %w", ErrInvalidAccountData)
	}
	if fund.TotalDeposited == 0 {
		return fmt.Errorf("%w: fund has no deposits to pay out against", ErrInvalidAmount)
	}
	if err := hasSeeds(fundMainAccount, c.p.deriver.FundAssetAccount(fundKey, mainMint)); err != nil {
		return err
	}

	counter, err := fpmath.CheckedAdd(fund.PayoutsCounter, 1)
	if err != nil {
		return fmt.Errorf("payouts counter: %w", err)
	}
	fund.PayoutsCounter = counter

	payoutSeeds := c.p.deriver.Payout(fundKey, counter)
	if err := hasSeeds(payoutKey, payoutSeeds); err != nil {
		return err
	}
	if err := c.createRecord(authority, payoutSeeds, state.PayoutSize); err != nil {
		return err
	}

	holdingSeeds := c.p.deriver.PayoutAssetAccount(payoutKey)
	if err := hasSeeds(payoutMainAccount, holdingSeeds); err != nil {
		return err
	}
	if err := c.p.tokens.CreateAccount(c.txn, authority, payoutMainAccount, mainMint, payoutKey, &holdingSeeds); err != nil {
		return err
	}

	split, err := fpmath.ComputeFeeSplit(ix.Amount, fund.AuthorityFee)
	if err != nil {
		return fmt.Errorf("fee split: %w", err)
	}

	if err := c.storeRecord(payoutKey, &state.Payout{
		TotalDeposited:              fund.TotalDeposited,
		AmountTransferredOnCreation: split.Rest,
	}); err != nil {
		return err
	}
	if err := c.storeRecord(fundKey, fund); err != nil {
		return err
	}

	fundSigner := token.SignedWith(fundSeeds)
	legs := []struct {
		to     address.Pubkey
		amount uint64
		jt     ledger.JournalType
	}{
		{authorityAccount, split.Authority, ledger.JournalTypeAuthorityFee},
		{protocolFeeAccount, split.Protocol, ledger.JournalTypeProtocolFee},
		{payoutMainAccount, split.Rest, ledger.JournalTypePayoutFunding},
	}
	for _, leg := range legs {
		if err := c.p.tokens.Transfer(c.txn, leg.jt, fundMainAccount, leg.to, fundSigner, leg.amount); err != nil {
			return fmt.Errorf("%s leg: %w", leg.jt, err)
		}
	}
	return nil
}

// claimPayout accounts: [position, position_authority, payout,
// payout_main_token_account, depositor_main_token_account, fund, token_program]
func (c *invocation) claimPayout() error {
	if err := c.expect(7); err != nil {
		return err
	}

	claimant, err := c.signer(1)
	if err != nil {
		return err
	}
	keys, err := c.writableKeys(0, 2, 3, 4)
	if err != nil {
		return err
	}
	positionKey, payoutKey, payoutMainAccount, claimantAccount := keys[0], keys[1], keys[2], keys[3]
	fundKey := c.key(5)
	if err := c.programAt(6, c.p.tokens.ID()); err != nil {
		return err
	}

	fund, err := c.loadFund(fundKey)
	if err != nil {
		return err
	}
	if err := hasSeeds(positionKey, c.p.deriver.Position(fundKey, claimant)); err != nil {
		return err
	}
	position, err := c.loadPosition(positionKey)
	if err != nil {
		return err
	}
	if position.Authority != claimant {
		return fmt.Errorf("position authority: %w", ErrInvalidAccountData)
	}
	if position.Fund != fundKey {
		return fmt.Errorf("position fund: %w", ErrInvalidAccountData)
	}
	if position.PayoutsCounter >= fund.PayoutsCounter {
		return fmt.Errorf("%w: position at %d, fund at %d",
			ErrNoUnclaimedPayout, position.PayoutsCounter, fund.PayoutsCounter)
	}

	counter, err := fpmath.CheckedAdd(position.PayoutsCounter, 1)
	if err != nil {
		return fmt.Errorf("position counter: %w", err)
	}
	position.PayoutsCounter = counter
	if err := c.storeRecord(positionKey, position); err != nil {
		return err
	}

	payoutSeeds := c.p.deriver.Payout(fundKey, counter)
	if payoutKey != payoutSeeds.Address {
		return fmt.Errorf("payout %d at %s: %w", counter, payoutKey, ErrInvalidAccountData)
	}
	if err := hasSeeds(payoutMainAccount, c.p.deriver.PayoutAssetAccount(payoutKey)); err != nil {
		return err
	}

	// Torn down by the claim that drained it: every remaining share is zero.
	if !c.txn.Load(payoutKey).Exists() {
		return nil
	}

	payout, err := c.loadPayout(payoutKey)
	if err != nil {
		return err
	}
	amount, err := fpmath.ClaimShare(position.Deposited, payout.TotalDeposited, payout.AmountTransferredOnCreation)
	if err != nil {
		return fmt.Errorf("claim amount: %w", err)
	}

	payoutSigner := token.SignedWith(payoutSeeds)
	if err := c.p.tokens.Transfer(c.txn, ledger.JournalTypePayoutClaim,
		payoutMainAccount, claimantAccount, payoutSigner, amount); err != nil {
		return err
	}

	holding, err := c.p.tokens.ReadAccount(c.txn, payoutMainAccount)
	if err != nil {
		return err
	}
	if holding.Amount != 0 {
		return nil
	}

	if err := c.p.tokens.CloseAccount(c.txn, payoutMainAccount, claimant, payoutSigner); err != nil {
		return err
	}
	return c.txn.CloseAccount(payoutKey, claimant)
}
