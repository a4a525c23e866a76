package runtime

import (
	"errors"
	"fmt"

	"YokoFund/internal/address"
	fpmath "YokoFund/internal/math"
)

const accountStorageOverhead = 128

// Rent prices account storage. Every allocated account must hold at least
// MinimumBalance lamports; closing returns them.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

var DefaultRent = Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}

func (r Rent) MinimumBalance(dataLen int) uint64 {
	return (accountStorageOverhead + uint64(dataLen)) * r.LamportsPerByteYear * r.ExemptionYears
}

var (
	ErrAccountAlreadyInUse       = errors.New("account already in use")
	ErrInsufficientLamports      = errors.New("insufficient lamports")
	ErrMissingRequiredSignature  = errors.New("missing required signature")
	ErrInvalidProgramCapability  = errors.New("derived-address capability does not match executing program")
	ErrAccountNotSystemOwned     = errors.New("account not owned by the system program")
	ErrCloseDestinationIsAccount = errors.New("cannot close an account into itself")
)

// VerifyCapability checks that seeds authorize addr for the executing program.
func (t *Txn) VerifyCapability(seeds address.SignerSeeds) error {
	if err := seeds.Verify(t.CurrentProgram()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgramCapability, err)
	}
	return nil
}

// CreateAccount allocates space bytes at addr owned by owner, funding the rent
// minimum from payer. addr must sign, either as a transaction signer or through
// a capability of the executing program.
func (t *Txn) CreateAccount(payer, addr address.Pubkey, space int, owner address.Pubkey, addrSigner *address.SignerSeeds) error {
	if !t.IsSigner(payer) {
		return fmt.Errorf("payer %s: %w", payer, ErrMissingRequiredSignature)
	}
	if addrSigner != nil {
		if addrSigner.Address != addr {
			return fmt.Errorf("new account %s: %w", addr, ErrInvalidProgramCapability)
		}
		if err := t.VerifyCapability(*addrSigner); err != nil {
			return err
		}
	} else if !t.IsSigner(addr) {
		return fmt.Errorf("new account %s: %w", addr, ErrMissingRequiredSignature)
	}

	target := t.Load(addr)
	if len(target.Data) > 0 || target.Owner != SystemProgramID {
		return fmt.Errorf("create %s: %w", addr, ErrAccountAlreadyInUse)
	}

	required := t.Rent.MinimumBalance(space)
	if target.Lamports < required {
		if err := t.TransferLamports(payer, addr, required-target.Lamports); err != nil {
			return err
		}
	}

	target.Data = make([]byte, space)
	target.Owner = owner
	return nil
}

// TransferLamports moves lamports out of a system-owned signer account.
func (t *Txn) TransferLamports(from, to address.Pubkey, amount uint64) error {
	if !t.IsSigner(from) {
		return fmt.Errorf("lamport source %s: %w", from, ErrMissingRequiredSignature)
	}
	src := t.Load(from)
	if src.Owner != SystemProgramID || len(src.Data) > 0 {
		return fmt.Errorf("lamport source %s: %w", from, ErrAccountNotSystemOwned)
	}
	return t.moveLamports(src, t.Load(to), amount)
}

func (t *Txn) moveLamports(src, dst *Account, amount uint64) error {
	remaining, err := fpmath.CheckedSub(src.Lamports, amount)
	if err != nil {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientLamports, src.Lamports, amount)
	}
	credited, err := fpmath.CheckedAdd(dst.Lamports, amount)
	if err != nil {
		return err
	}
	src.Lamports = remaining
	dst.Lamports = credited
	return nil
}

// CloseAccount drains addr's lamports into refundTo and releases its storage.
// The caller is responsible for having authorized the close.
func (t *Txn) CloseAccount(addr, refundTo address.Pubkey) error {
	if addr == refundTo {
		return ErrCloseDestinationIsAccount
	}
	acct := t.Load(addr)
	if err := t.moveLamports(acct, t.Load(refundTo), acct.Lamports); err != nil {
		return err
	}
	acct.Data = nil
	acct.Owner = SystemProgramID
	return nil
}
