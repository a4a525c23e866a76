package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/runtime"
)

// InstructionKind is the first byte of a top-level token instruction.
type InstructionKind uint8

const (
	InstructionCreateAssociatedAccount InstructionKind = iota
	InstructionTransfer
	InstructionMintTo
	InstructionCloseAccount
)

var (
	ErrInvalidInstruction = errors.New("invalid token instruction")
	ErrNotEnoughAccounts  = errors.New("not enough account keys")
)

// Process executes a top-level token instruction.
func (p *Program) Process(txn *runtime.Txn, accounts []runtime.AccountMeta, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}

	switch InstructionKind(data[0]) {
	case InstructionCreateAssociatedAccount:
		// [payer, associated, owner, mint]
		if len(accounts) < 4 {
			return ErrNotEnoughAccounts
		}
		return p.createAssociated(txn, accounts[0].Pubkey, accounts[1].Pubkey, accounts[2].Pubkey, accounts[3].Pubkey)

	case InstructionTransfer:
		// [source, destination, owner]
		amount, err := amountArg(data)
		if err != nil {
			return err
		}
		if len(accounts) < 3 {
			return ErrNotEnoughAccounts
		}
		return p.Transfer(txn, ledger.JournalTypeTransfer, accounts[0].Pubkey, accounts[1].Pubkey,
			SignedBy(accounts[2].Pubkey), amount)

	case InstructionMintTo:
		// [mint, destination, mint authority]
		amount, err := amountArg(data)
		if err != nil {
			return err
		}
		if len(accounts) < 3 {
			return ErrNotEnoughAccounts
		}
		return p.MintTo(txn, accounts[0].Pubkey, accounts[1].Pubkey, SignedBy(accounts[2].Pubkey), amount)

	case InstructionCloseAccount:
		// [account, refund destination, owner]
		if len(accounts) < 3 {
			return ErrNotEnoughAccounts
		}
		return p.CloseAccount(txn, accounts[0].Pubkey, accounts[1].Pubkey, SignedBy(accounts[2].Pubkey))
	}

	return fmt.Errorf("%w: kind %d", ErrInvalidInstruction, data[0])
}

// createAssociated is idempotent: an existing matching account is accepted.
func (p *Program) createAssociated(txn *runtime.Txn, payer, addr, owner, mint address.Pubkey) error {
	seeds := p.AssociatedAddress(owner, mint)
	if seeds.Address != addr {
		return fmt.Errorf("associated account %s does not match derived %s", addr, seeds.Address)
	}

	if txn.Load(addr).Owner == p.id {
		existing, err := p.ReadAccount(txn, addr)
		if err != nil {
			return err
		}
		if existing.Mint != mint || existing.Owner != owner {
			return fmt.Errorf("associated account %s holds a different mint or owner", addr)
		}
		return nil
	}

	return txn.Invoke(p.id, func() error {
		return p.CreateAccount(txn, payer, addr, mint, owner, &seeds)
	})
}

func amountArg(data []byte) (uint64, error) {
	if len(data) != 9 {
		return 0, fmt.Errorf("%w: want 9 bytes, got %d", ErrInvalidInstruction, len(data))
	}
	return binary.LittleEndian.Uint64(data[1:]), nil
}

// CreateAssociatedAccountInstruction builds an idempotent associated-account creation.
func (p *Program) CreateAssociatedAccountInstruction(payer, owner, mint address.Pubkey) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: p.id,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(payer, true),
			runtime.Writable(p.AssociatedAddress(owner, mint).Address, false),
			runtime.ReadOnly(owner),
			runtime.ReadOnly(mint),
		},
		Data: []byte{byte(InstructionCreateAssociatedAccount)},
	}
}

func (p *Program) TransferInstruction(src, dst, owner address.Pubkey, amount uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: p.id,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(src, false),
			runtime.Writable(dst, false),
			{Pubkey: owner, IsSigner: true},
		},
		Data: binary.LittleEndian.AppendUint64([]byte{byte(InstructionTransfer)}, amount),
	}
}

func (p *Program) MintToInstruction(mint, dst, authority address.Pubkey, amount uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: p.id,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(mint, false),
			runtime.Writable(dst, false),
			{Pubkey: authority, IsSigner: true},
		},
		Data: binary.LittleEndian.AppendUint64([]byte{byte(InstructionMintTo)}, amount),
	}
}
