package program

import (
	"fmt"

	"YokoFund/internal/instruction"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
)

// createFund accounts: [fund, authority, main_mint, main_token_account, token_program, system_program]
func (c *invocation) createFund(ix instruction.CreateFund) error {
	if ix.AuthorityFee >= state.MaxAuthorityFee {
		return fmt.Errorf("%w: authority fee %d", ErrInvalidAmount, ix.AuthorityFee)
	}
	if err := c.expect(6); err != nil {
		return err
	}

	authority, err := c.signer(1)
	if err != nil {
		return err
	}
	keys, err := c.writableKeys(0, 3)
	if err != nil {
		return err
	}
	fundKey, mainTokenAccount := keys[0], keys[1]
	mainMint := c.key(2)
	if err := c.programAt(4, c.p.tokens.ID()); err != nil {
		return err
	}
	if err := c.programAt(5, runtime.SystemProgramID); err != nil {
		return err
	}

	fundSeeds := c.p.deriver.Fund(authority)
	if err := hasSeeds(fundKey, fundSeeds); err != nil {
		return err
	}
	tokenSeeds := c.p.deriver.FundAssetAccount(fundKey, mainMint)
	if err := hasSeeds(mainTokenAccount, tokenSeeds); err != nil {
		return err
	}

	if err := c.createRecord(authority, fundSeeds, state.FundSize); err != nil {
		return err
	}
	fund := &state.Fund{
		Authority:    authority,
		AuthorityFee: ix.AuthorityFee,
		MainMint:     mainMint,
	}
	if err := c.storeRecord(fundKey, fund); err != nil {
		return err
	}

	return c.p.tokens.CreateAccount(c.txn, authority, mainTokenAccount, mainMint, fundKey, &tokenSeeds)
}

// createFundTokenAccount accounts: [fund, authority, fund_token_account, mint, token_program, system_program]
func (c *invocation) createFundTokenAccount() error {
	if err := c.expect(6); err != nil {
		return err
	}

	authority, err := c.signer(1)
	if err != nil {
		return err
	}
	keys, err := c.writableKeys(0, 2)
	if err != nil {
		return err
	}
	fundKey, fundTokenAccount := keys[0], keys[1]
	mint := c.key(3)
	if err := c.programAt(4, c.p.tokens.ID()); err != nil {
		return err
	}
	if err := c.programAt(5, runtime.SystemProgramID); err != nil {
		return err
	}

	if err := hasSeeds(fundKey, c.p.deriver.Fund(authority)); err != nil {
		return err
	}
	fund, err := c.loadFund(fundKey)
	if err != nil {
		return err
	}
	if fund.Authority != authority {
		return fmt.Errorf("fund authority: %w", ErrInvalidAccountData)
	}

	if err := fund.OtherMints.Insert(mint); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInsertingOtherMint, mint, err)
	}

	seeds := c.p.deriver.FundAssetAccount(fundKey, mint)
	if err := hasSeeds(fundTokenAccount, seeds); err != nil {
		return err
	}
	if err := c.p.tokens.CreateAccount(c.txn, authority, fundTokenAccount, mint, fundKey, &seeds); err != nil {
		return err
	}

	return c.storeRecord(fundKey, fund)
}
