package token

import (
	"errors"
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
)

// DefaultProgramID is the canonical token program identity.
const DefaultProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

var (
	ErrNotTokenAccount     = errors.New("account is not owned by the token program")
	ErrUninitialized       = errors.New("token record is not initialized")
	ErrAlreadyInitialized  = errors.New("token record already initialized")
	ErrAccountFrozen       = errors.New("token account is frozen")
	ErrMintMismatch        = errors.New("token accounts have different mints")
	ErrOwnerMismatch       = errors.New("authority is not the account owner")
	ErrInsufficientFunds   = errors.New("insufficient token balance")
	ErrNonZeroBalance      = errors.New("cannot close an account with a balance")
	ErrMintAuthority       = errors.New("authority is not the mint authority")
	ErrSelfTransferInvalid = errors.New("source and destination are the same account")
)

// Authority proves the right to move or close a holding account: either a
// transaction signature or a derived-address capability of the calling program.
type Authority struct {
	key   address.Pubkey
	seeds *address.SignerSeeds
}

// SignedBy authorizes with a transaction signature of key.
func SignedBy(key address.Pubkey) Authority {
	return Authority{key: key}
}

// SignedWith authorizes with a capability for a derived address.
func SignedWith(seeds address.SignerSeeds) Authority {
	return Authority{key: seeds.Address, seeds: &seeds}
}

func (a Authority) Key() address.Pubkey {
	return a.key
}

func (a Authority) verify(txn *runtime.Txn, owner address.Pubkey) error {
	if a.key != owner {
		return fmt.Errorf("%w: %s is not %s", ErrOwnerMismatch, a.key, owner)
	}
	if a.seeds != nil {
		return txn.VerifyCapability(*a.seeds)
	}
	if !txn.IsSigner(a.key) {
		return fmt.Errorf("%s: %w", a.key, runtime.ErrMissingRequiredSignature)
	}
	return nil
}

// Program is the asset holding-account service.
type Program struct {
	id address.Pubkey
}

func NewProgram(id address.Pubkey) *Program {
	return &Program{id: id}
}

func (p *Program) ID() address.Pubkey {
	return p.id
}

func (p *Program) load(txn *runtime.Txn, addr address.Pubkey) (*runtime.Account, error) {
	acct := txn.Load(addr)
	if acct.Owner != p.id {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotTokenAccount)
	}
	return acct, nil
}

// ReadAccount returns an initialized holding account.
func (p *Program) ReadAccount(txn *runtime.Txn, addr address.Pubkey) (*HoldingAccount, error) {
	acct, err := p.load(txn, addr)
	if err != nil {
		return nil, err
	}
	ha, err := decodeAccount(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	if ha.State == AccountStateUninitialized {
		return nil, fmt.Errorf("%s: %w", addr, ErrUninitialized)
	}
	return ha, nil
}

// ReadMint returns an initialized mint.
func (p *Program) ReadMint(txn *runtime.Txn, addr address.Pubkey) (*Mint, error) {
	acct, err := p.load(txn, addr)
	if err != nil {
		return nil, err
	}
	m, err := decodeMint(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	if !m.IsInitialized {
		return nil, fmt.Errorf("%s: %w", addr, ErrUninitialized)
	}
	return m, nil
}

func (p *Program) writeAccount(txn *runtime.Txn, addr address.Pubkey, ha *HoldingAccount) {
	ha.encode(txn.Load(addr).Data)
}

// InitializeMint sets up a freshly allocated mint record.
func (p *Program) InitializeMint(txn *runtime.Txn, addr address.Pubkey, decimals uint8, authority address.Pubkey) error {
	acct, err := p.load(txn, addr)
	if err != nil {
		return err
	}
	if len(acct.Data) != MintLen {
		return fmt.Errorf("%s: %w", addr, ErrInvalidLayout)
	}
	if acct.Data[41] == 1 {
		return fmt.Errorf("%s: %w", addr, ErrAlreadyInitialized)
	}
	m := Mint{Authority: authority, Decimals: decimals, IsInitialized: true}
	m.encode(acct.Data)
	return nil
}

// CreateMint allocates and initializes a mint at addr. addr must sign.
func (p *Program) CreateMint(txn *runtime.Txn, payer, addr address.Pubkey, decimals uint8, authority address.Pubkey) error {
	if err := txn.CreateAccount(payer, addr, MintLen, p.id, nil); err != nil {
		return err
	}
	return p.InitializeMint(txn, addr, decimals, authority)
}

// InitializeAccount binds a freshly allocated holding account to mint and owner.
func (p *Program) InitializeAccount(txn *runtime.Txn, addr, mint, owner address.Pubkey) error {
	acct, err := p.load(txn, addr)
	if err != nil {
		return err
	}
	if len(acct.Data) != AccountLen {
		return fmt.Errorf("%s: %w", addr, ErrInvalidLayout)
	}
	if AccountState(acct.Data[72]) != AccountStateUninitialized {
		return fmt.Errorf("%s: %w", addr, ErrAlreadyInitialized)
	}
	if _, err := p.ReadMint(txn, mint); err != nil {
		return err
	}
	ha := HoldingAccount{Mint: mint, Owner: owner, State: AccountStateInitialized}
	ha.encode(acct.Data)
	return nil
}

// CreateAccount allocates and initializes a holding account at addr.
func (p *Program) CreateAccount(txn *runtime.Txn, payer, addr, mint, owner address.Pubkey, addrSigner *address.SignerSeeds) error {
	if err := txn.CreateAccount(payer, addr, AccountLen, p.id, addrSigner); err != nil {
		return err
	}
	return p.InitializeAccount(txn, addr, mint, owner)
}

// Transfer moves amount from src to dst. auth must own src.
func (p *Program) Transfer(txn *runtime.Txn, jt ledger.JournalType, src, dst address.Pubkey, auth Authority, amount uint64) error {
	if src == dst {
		return ErrSelfTransferInvalid
	}
	from, err := p.ReadAccount(txn, src)
	if err != nil {
		return err
	}
	to, err := p.ReadAccount(txn, dst)
	if err != nil {
		return err
	}
	if from.State == AccountStateFrozen || to.State == AccountStateFrozen {
		return ErrAccountFrozen
	}
	if from.Mint != to.Mint {
		return fmt.Errorf("%w: %s vs %s", ErrMintMismatch, from.Mint, to.Mint)
	}
	if err := auth.verify(txn, from.Owner); err != nil {
		return fmt.Errorf("transfer from %s: %w", src, err)
	}

	remaining, err := fpmath.CheckedSub(from.Amount, amount)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w: have %d, need %d", src, ErrInsufficientFunds, from.Amount, amount)
	}
	credited, err := fpmath.CheckedAdd(to.Amount, amount)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", dst, err)
	}
	from.Amount = remaining
	to.Amount = credited
	p.writeAccount(txn, src, from)
	p.writeAccount(txn, dst, to)

	if txn.Batch != nil {
		txn.Batch.Append(ledger.HolderKey(dst, to.Mint), ledger.HolderKey(src, from.Mint), from.Mint, amount, jt)
	}
	return nil
}

// CloseAccount releases an empty holding account and refunds its lamports.
func (p *Program) CloseAccount(txn *runtime.Txn, addr, refundTo address.Pubkey, auth Authority) error {
	ha, err := p.ReadAccount(txn, addr)
	if err != nil {
		return err
	}
	if ha.Amount != 0 {
		return fmt.Errorf("close %s: %w: %d", addr, ErrNonZeroBalance, ha.Amount)
	}
	if err := auth.verify(txn, ha.Owner); err != nil {
		return fmt.Errorf("close %s: %w", addr, err)
	}
	return txn.CloseAccount(addr, refundTo)
}

// MintTo issues new units into dst.
func (p *Program) MintTo(txn *runtime.Txn, mintAddr, dst address.Pubkey, auth Authority, amount uint64) error {
	m, err := p.ReadMint(txn, mintAddr)
	if err != nil {
		return err
	}
	if auth.Key() != m.Authority {
		return ErrMintAuthority
	}
	if err := auth.verify(txn, m.Authority); err != nil {
		return err
	}
	to, err := p.ReadAccount(txn, dst)
	if err != nil {
		return err
	}
	if to.Mint != mintAddr {
		return ErrMintMismatch
	}

	if m.Supply, err = fpmath.CheckedAdd(m.Supply, amount); err != nil {
		return err
	}
	if to.Amount, err = fpmath.CheckedAdd(to.Amount, amount); err != nil {
		return err
	}
	m.encode(txn.Load(mintAddr).Data)
	p.writeAccount(txn, dst, to)

	if txn.Batch != nil {
		txn.Batch.Append(ledger.HolderKey(dst, mintAddr), ledger.IssuanceKey(mintAddr), mintAddr, amount, ledger.JournalTypeIssuance)
	}
	return nil
}

// AssociatedAddress derives the canonical holding account of owner for mint.
func (p *Program) AssociatedAddress(owner, mint address.Pubkey) address.SignerSeeds {
	seeds := [][]byte{owner.Bytes(), p.id.Bytes(), mint.Bytes()}
	addr, bump := address.FindProgramAddress(seeds, p.id)
	return address.SignerSeeds{Tag: "associated", Address: addr, Seeds: seeds, Bump: bump}
}
