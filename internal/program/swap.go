package program

import (
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	"YokoFund/internal/ledger"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
	"YokoFund/internal/token"
)

// Positions inside the forwarded router account list.
const (
	routerTokenProgramIdx       = 0
	routerScratchSourceIdx      = 2
	routerScratchDestinationIdx = 3
	routerMinAccounts           = 4

	swapFixedAccounts = 5
)

// swapAccounts is the validated account set of one swap.
type swapAccounts struct {
	authority          address.Pubkey
	fund               address.Pubkey
	fundDestination    address.Pubkey
	fundSource         address.Pubkey
	routerID           address.Pubkey
	routerAccounts     []runtime.AccountMeta
	scratchSource      address.Pubkey
	scratchDestination address.Pubkey
}

// swap accounts: [fund_authority, fund, fund_destination_token_account,
// fund_source_token_account, router_program, router accounts...]
//
// The router is opaque. Its effect is measured on the scratch accounts and
// only the measured delta is credited back to the fund.
func (c *invocation) swap(ix instruction.Swap) error {
	accts, err := c.validateSwap()
	if err != nil {
		return err
	}

	if err := c.swapStageIn(accts, ix.InAmount); err != nil {
		return err
	}

	output, err := c.swapExchange(accts, ix)
	if err != nil {
		return err
	}

	if err := c.swapStageOut(accts, output); err != nil {
		return err
	}

	return c.swapCleanup(accts)
}

func (c *invocation) validateSwap() (*swapAccounts, error) {
	if err := c.expect(swapFixedAccounts + routerMinAccounts); err != nil {
		return nil, err
	}

	authority, err := c.signer(0)
	if err != nil {
		return nil, err
	}
	keys, err := c.writableKeys(1, 2, 3)
	if err != nil {
		return nil, err
	}
	accts := &swapAccounts{
		authority:       authority,
		fund:            keys[0],
		fundDestination: keys[1],
		fundSource:      keys[2],
		routerID:        c.key(4),
		routerAccounts:  c.accounts[swapFixedAccounts:],
	}
	accts.scratchSource = accts.routerAccounts[routerScratchSourceIdx].Pubkey
	accts.scratchDestination = accts.routerAccounts[routerScratchDestinationIdx].Pubkey

	if accts.routerID != c.p.cfg.RouterID {
		return nil, fmt.Errorf("router %s: %w", accts.routerID, ErrInvalidAccount)
	}
	if accts.routerAccounts[routerTokenProgramIdx].Pubkey != c.p.tokens.ID() {
		return nil, fmt.Errorf("router token program: %w", ErrIncorrectProgramID)
	}

	fundSeeds := c.p.deriver.Fund(authority)
	if accts.fund != fundSeeds.Address {
		return nil, fmt.Errorf("fund %s: %w", accts.fund, ErrInvalidAccount)
	}
	fund, err := c.loadFund(accts.fund)
	if err != nil {
		return nil, err
	}
	if fund.Authority != authority {
		return nil, fmt.Errorf("fund authority: %w", ErrInvalidAccountData)
	}

	for _, fundSide := range []address.Pubkey{accts.fundSource, accts.fundDestination} {
		for _, scratch := range []address.Pubkey{accts.scratchSource, accts.scratchDestination} {
			if fundSide == scratch {
				return nil, fmt.Errorf("scratch account %s is a fund account: %w", scratch, ErrInvalidAccount)
			}
		}
	}

	destination, err := c.p.tokens.ReadAccount(c.txn, accts.fundDestination)
	if err != nil {
		return nil, fmt.Errorf("fund destination: %w: %v", ErrInvalidAccount, err)
	}
	if destination.Owner != accts.fund {
		return nil, fmt.Errorf("fund destination owner %s: %w", destination.Owner, ErrInvalidAccount)
	}
	if err := hasSeeds(accts.fundDestination, c.p.deriver.FundAssetAccount(accts.fund, destination.Mint)); err != nil {
		return nil, err
	}

	source, err := c.p.tokens.ReadAccount(c.txn, accts.fundSource)
	if err != nil {
		return nil, fmt.Errorf("fund source: %w: %v", ErrInvalidAccount, err)
	}
	if err := hasSeeds(accts.fundSource, c.p.deriver.FundAssetAccount(accts.fund, source.Mint)); err != nil {
		return nil, err
	}

	return accts, nil
}

// swapStageIn moves in_amount from the fund into the authority's scratch source.
func (c *invocation) swapStageIn(accts *swapAccounts, inAmount uint64) error {
	fundSigner := token.SignedWith(c.p.deriver.Fund(accts.authority))
	if err := c.p.tokens.Transfer(c.txn, ledger.JournalTypeSwapStageIn,
		accts.fundSource, accts.scratchSource, fundSigner, inAmount); err != nil {
		return fmt.Errorf("stage in: %w", err)
	}
	return nil
}

func (c *invocation) scratchBalances(accts *swapAccounts) (src, dst uint64, err error) {
	source, err := c.p.tokens.ReadAccount(c.txn, accts.scratchSource)
	if err != nil {
		return 0, 0, fmt.Errorf("scratch source: %w", err)
	}
	destination, err := c.p.tokens.ReadAccount(c.txn, accts.scratchDestination)
	if err != nil {
		return 0, 0, fmt.Errorf("scratch destination: %w", err)
	}
	return source.Amount, destination.Amount, nil
}

// swapExchange calls the router and returns the measured output. The source
// side must have been consumed by exactly in_amount.
func (c *invocation) swapExchange(accts *swapAccounts, ix instruction.Swap) (uint64, error) {
	srcBefore, dstBefore, err := c.scratchBalances(accts)
	if err != nil {
		return 0, err
	}

	err = c.txn.Invoke(accts.routerID, func() error {
		return c.p.router.Invoke(c.txn, accts.routerID, accts.routerAccounts, ix.Payload)
	})
	if err != nil {
		return 0, fmt.Errorf("router: %w", err)
	}

	srcAfter, dstAfter, err := c.scratchBalances(accts)
	if err != nil {
		return 0, err
	}

	consumed, err := fpmath.CheckedSub(srcBefore, srcAfter)
	if err != nil {
		return 0, fmt.Errorf("%w: scratch source grew from %d to %d", ErrInvalidAmount, srcBefore, srcAfter)
	}
	if consumed != ix.InAmount {
		return 0, fmt.Errorf("%w: router consumed %d, expected %d", ErrInvalidAmount, consumed, ix.InAmount)
	}

	output, err := fpmath.CheckedSub(dstAfter, dstBefore)
	if err != nil {
		return 0, fmt.Errorf("%w: scratch destination shrank from %d to %d", ErrInvalidAmount, dstBefore, dstAfter)
	}
	return output, nil
}

// swapStageOut returns the realized output to the fund.
func (c *invocation) swapStageOut(accts *swapAccounts, output uint64) error {
	if err := c.p.tokens.Transfer(c.txn, ledger.JournalTypeSwapStageOut,
		accts.scratchDestination, accts.fundDestination, token.SignedBy(accts.authority), output); err != nil {
		return fmt.Errorf("stage out: %w", err)
	}
	return nil
}

// swapCleanup closes emptied scratch accounts and a drained secondary fund
// account. The fund record and its signer are re-read after the router call.
func (c *invocation) swapCleanup(accts *swapAccounts) error {
	scratch := []address.Pubkey{accts.scratchSource}
	if accts.scratchDestination != accts.scratchSource {
		scratch = append(scratch, accts.scratchDestination)
	}
	for _, key := range scratch {
		holding, err := c.p.tokens.ReadAccount(c.txn, key)
		if err != nil {
			return fmt.Errorf("cleanup %s: %w", key, err)
		}
		if holding.Amount != 0 {
			continue
		}
		if err := c.p.tokens.CloseAccount(c.txn, key, accts.authority, token.SignedBy(accts.authority)); err != nil {
			return fmt.Errorf("cleanup %s: %w", key, err)
		}
	}

	fund, err := c.loadFund(accts.fund)
	if err != nil {
		return err
	}
	source, err := c.p.tokens.ReadAccount(c.txn, accts.fundSource)
	if err != nil {
		return fmt.Errorf("cleanup fund source: %w", err)
	}
	if source.Mint == fund.MainMint || source.Amount != 0 {
		return nil
	}

	fundSigner := token.SignedWith(c.p.deriver.Fund(fund.Authority))
	if err := c.p.tokens.CloseAccount(c.txn, accts.fundSource, accts.authority, fundSigner); err != nil {
		return fmt.Errorf("cleanup fund source: %w", err)
	}
	if err := fund.OtherMints.Remove(source.Mint); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRemovingOtherMint, source.Mint, err)
	}
	return c.storeRecord(accts.fund, fund)
}
