package program

import (
	"encoding"
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
)

// invocation is the execution context of one instruction.
type invocation struct {
	p        *Program
	txn      *runtime.Txn
	accounts []runtime.AccountMeta
}

func (c *invocation) expect(n int) error {
	if len(c.accounts) < n {
		return fmt.Errorf("%w: want %d, got %d", ErrNotEnoughAccountKeys, n, len(c.accounts))
	}
	return nil
}

func (c *invocation) key(i int) address.Pubkey {
	return c.accounts[i].Pubkey
}

func (c *invocation) signer(i int) (address.Pubkey, error) {
	meta := c.accounts[i]
	if !meta.IsSigner || !c.txn.IsSigner(meta.Pubkey) {
		return meta.Pubkey, fmt.Errorf("account %d (%s): %w", i, meta.Pubkey, ErrMissingRequiredSignature)
	}
	return meta.Pubkey, nil
}

func (c *invocation) writable(i int) (address.Pubkey, error) {
	meta := c.accounts[i]
	if !meta.IsWritable {
		return meta.Pubkey, fmt.Errorf("account %d (%s): %w", i, meta.Pubkey, ErrAccountNotWritable)
	}
	return meta.Pubkey, nil
}

// writableKeys returns the keys at idx, failing on the first read-only one.
func (c *invocation) writableKeys(idx ...int) ([]address.Pubkey, error) {
	out := make([]address.Pubkey, len(idx))
	for n, i := range idx {
		k, err := c.writable(i)
		if err != nil {
			return nil, err
		}
		out[n] = k
	}
	return out, nil
}

func (c *invocation) programAt(i int, id address.Pubkey) error {
	if c.accounts[i].Pubkey != id {
		return fmt.Errorf("account %d: %w: got %s, want %s", i, ErrIncorrectProgramID, c.accounts[i].Pubkey, id)
	}
	return nil
}

func hasSeeds(key address.Pubkey, seeds address.SignerSeeds) error {
	if key != seeds.Address {
		return fmt.Errorf("%s %s: %w: derived %s", seeds.Tag, key, ErrInvalidSeeds, seeds.Address)
	}
	return nil
}

// createRecord allocates a program-owned record at a derived address.
func (c *invocation) createRecord(payer address.Pubkey, seeds address.SignerSeeds, size int) error {
	return c.txn.CreateAccount(payer, seeds.Address, size, c.p.cfg.ProgramID, &seeds)
}

func (c *invocation) loadRecord(key address.Pubkey, rec encoding.BinaryUnmarshaler) error {
	acct := c.txn.Load(key)
	if acct.Owner != c.p.cfg.ProgramID {
		return fmt.Errorf("%s: %w: not owned by program", key, ErrInvalidAccountData)
	}
	if err := rec.UnmarshalBinary(acct.Data); err != nil {
		return fmt.Errorf("%s: %w: %v", key, ErrInvalidAccountData, err)
	}
	return nil
}

func (c *invocation) storeRecord(key address.Pubkey, rec encoding.BinaryMarshaler) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	acct := c.txn.Load(key)
	if len(acct.Data) != len(data) {
		return fmt.Errorf("%s: %w: size changed", key, ErrInvalidAccountData)
	}
	copy(acct.Data, data)
	return nil
}

// loadFund reads a fund record and confirms it sits at its authority's derived address.
func (c *invocation) loadFund(key address.Pubkey) (*state.Fund, error) {
	fund := new(state.Fund)
	if err := c.loadRecord(key, fund); err != nil {
		return nil, err
	}
	if err := hasSeeds(key, c.p.deriver.Fund(fund.Authority)); err != nil {
		return nil, err
	}
	return fund, nil
}

func (c *invocation) loadPosition(key address.Pubkey) (*state.Position, error) {
	pos := new(state.Position)
	if err := c.loadRecord(key, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

func (c *invocation) loadPayout(key address.Pubkey) (*state.Payout, error) {
	payout := new(state.Payout)
	if err := c.loadRecord(key, payout); err != nil {
		return nil, err
	}
	return payout, nil
}
