package program

import (
	"fmt"

	"YokoFund/internal/instruction"
	"YokoFund/internal/ledger"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

// createPosition accounts: [position, fund, authority, system_program]
func (c *invocation) createPosition() error {
	if err := c.expect(4); err != nil {
		return err
	}

	positionKey, err := c.writable(0)
	if err != nil {
		return err
	}
	fundKey := c.key(1)
	authority, err := c.signer(2)
	if err != nil {
		return err
	}
	if err := c.programAt(3, runtime.SystemProgramID); err != nil {
		return err
	}

	fund, err := c.loadFund(fundKey)
	if err != nil {
		return err
	}

	seeds := c.p.deriver.Position(fundKey, authority)
	if err := hasSeeds(positionKey, seeds); err != nil {
		return err
	}
	if err := c.createRecord(authority, seeds, state.PositionSize); err != nil {
		return err
	}

	// A new position starts level with the fund: earlier payouts are not its to claim.
	return c.storeRecord(positionKey, &state.Position{
		Authority:      authority,
		Fund:           fundKey,
		PayoutsCounter: fund.PayoutsCounter,
	})
}

// deposit accounts: [position, fund, fund_main_token_account, depositor, depositor_token_account, token_program]
func (c *invocation) deposit(ix instruction.Deposit) error {
	if ix.Amount == 0 {
		return fmt.Errorf("%w: zero deposit", ErrInvalidAmount)
	}
	if err := c.expect(6); err != nil {
		return err
	}

	depositor, err := c.signer(3)
	if err != nil {
		return err
	}
	keys, err := c.writableKeys(0, 1, 2, 4)
	if err != nil {
		return err
	}
	positionKey, fundKey, fundMainAccount, depositorAccount := keys[0], keys[1], keys[2], keys[3]
	if err := c.programAt(5, c.p.tokens.ID()); err != nil {
		return err
	}

	fund, err := c.loadFund(fundKey)
	if err != nil {
		return err
	}
	if err := hasSeeds(positionKey, c.p.deriver.Position(fundKey, depositor)); err != nil {
		return err
	}
	position, err := c.loadPosition(positionKey)
	if err != nil {
		return err
	}
	if position.Authority != depositor {
		return fmt.Errorf("position authority: %w", ErrInvalidAccountData)
	}
	if position.Fund != fundKey {
		return fmt.Errorf("position fund: %w", ErrInvalidAccountData)
	}

	holding, err := c.p.tokens.ReadAccount(c.txn, fundMainAccount)
	if err != nil {
		return fmt.Errorf("fund main token account: %w: %v", ErrInvalidAccountData, err)
	}
	if holding.Mint != fund.MainMint {
		return fmt.Errorf("fund main token account mint: %w", ErrInvalidAccountData)
	}
	if err := hasSeeds(fundMainAccount, c.p.deriver.FundAssetAccount(fundKey, fund.MainMint)); err != nil {
		return err
	}

	if position.PayoutsCounter != fund.PayoutsCounter {
		return fmt.Errorf("%w: position at %d, fund at %d",
			ErrUnclaimedPayoutPending, position.PayoutsCounter, fund.PayoutsCounter)
	}

	if position.Deposited, err = fpmath.CheckedAdd(position.Deposited, ix.Amount); err != nil {
		return fmt.Errorf("position deposited: %w", err)
	}
	if fund.TotalDeposited, err = fpmath.CheckedAdd(fund.TotalDeposited, ix.Amount); err != nil {
		return fmt.Errorf("fund total deposited: %w", err)
	}
	if err := c.storeRecord(positionKey, position); err != nil {
		return err
	}
	if err := c.storeRecord(fundKey, fund); err != nil {
		return err
	}

	return c.p.tokens.Transfer(c.txn, ledger.JournalTypeDeposit,
		depositorAccount, fundMainAccount, token.SignedBy(depositor), ix.Amount)
}
