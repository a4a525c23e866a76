package instruction

import (
	"YokoFund/internal/address"
	"YokoFund/internal/runtime"
)

// Builder assembles fund program instructions with the account order each
// processor expects.
type Builder struct {
	deriver        address.Deriver
	tokenProgramID address.Pubkey
}

func NewBuilder(programID, tokenProgramID address.Pubkey) *Builder {
	return &Builder{
		deriver:        address.NewDeriver(programID),
		tokenProgramID: tokenProgramID,
	}
}

func (b *Builder) Deriver() address.Deriver {
	return b.deriver
}

func (b *Builder) build(ix Instruction, accounts ...runtime.AccountMeta) (runtime.Instruction, error) {
	data, err := ix.MarshalBinary()
	if err != nil {
		return runtime.Instruction{}, err
	}
	return runtime.Instruction{
		ProgramID: b.deriver.ProgramID(),
		Accounts:  accounts,
		Data:      data,
	}, nil
}

func (b *Builder) CreateFund(authority, mainMint address.Pubkey, authorityFee uint64) (runtime.Instruction, error) {
	fund := b.deriver.Fund(authority).Address
	return b.build(CreateFund{AuthorityFee: authorityFee},
		runtime.Writable(fund, false),
		runtime.Writable(authority, true),
		runtime.ReadOnly(mainMint),
		runtime.Writable(b.deriver.FundAssetAccount(fund, mainMint).Address, false),
		runtime.ReadOnly(b.tokenProgramID),
		runtime.ReadOnly(runtime.SystemProgramID),
	)
}

func (b *Builder) CreatePosition(depositor, fund address.Pubkey) (runtime.Instruction, error) {
	return b.build(CreatePosition{},
		runtime.Writable(b.deriver.Position(fund, depositor).Address, false),
		runtime.ReadOnly(fund),
		runtime.Writable(depositor, true),
		runtime.ReadOnly(runtime.SystemProgramID),
	)
}

func (b *Builder) Deposit(depositor, fund, mainMint, depositorTokenAccount address.Pubkey, amount uint64) (runtime.Instruction, error) {
	return b.build(Deposit{Amount: amount},
		runtime.Writable(b.deriver.Position(fund, depositor).Address, false),
		runtime.Writable(fund, false),
		runtime.Writable(b.deriver.FundAssetAccount(fund, mainMint).Address, false),
		runtime.Writable(depositor, true),
		runtime.Writable(depositorTokenAccount, false),
		runtime.ReadOnly(b.tokenProgramID),
	)
}

// CreatePayout builds the payout numbered counter; counter must be the fund's
// current counter plus one.
func (b *Builder) CreatePayout(authority, authorityTokenAccount, mainMint, protocolFeeTokenAccount address.Pubkey, counter, amount uint64) (runtime.Instruction, error) {
	fund := b.deriver.Fund(authority).Address
	payout := b.deriver.Payout(fund, counter).Address
	return b.build(CreatePayout{Amount: amount},
		runtime.Writable(authority, true),
		runtime.Writable(authorityTokenAccount, false),
		runtime.Writable(fund, false),
		runtime.Writable(b.deriver.FundAssetAccount(fund, mainMint).Address, false),
		runtime.Writable(payout, false),
		runtime.Writable(b.deriver.PayoutAssetAccount(payout).Address, false),
		runtime.ReadOnly(mainMint),
		runtime.Writable(protocolFeeTokenAccount, false),
		runtime.ReadOnly(b.tokenProgramID),
		runtime.ReadOnly(runtime.SystemProgramID),
	)
}

// ClaimPayout builds a claim of the payout numbered counter; counter must be the
// position's watermark plus one.
func (b *Builder) ClaimPayout(depositor, fund, depositorTokenAccount address.Pubkey, counter uint64) (runtime.Instruction, error) {
	payout := b.deriver.Payout(fund, counter).Address
	return b.build(ClaimPayout{},
		runtime.Writable(b.deriver.Position(fund, depositor).Address, false),
		runtime.Writable(depositor, true),
		runtime.Writable(payout, false),
		runtime.Writable(b.deriver.PayoutAssetAccount(payout).Address, false),
		runtime.Writable(depositorTokenAccount, false),
		runtime.ReadOnly(fund),
		runtime.ReadOnly(b.tokenProgramID),
	)
}

func (b *Builder) CreateFundTokenAccount(authority, mint address.Pubkey) (runtime.Instruction, error) {
	fund := b.deriver.Fund(authority).Address
	return b.build(CreateFundTokenAccount{},
		runtime.Writable(fund, false),
		runtime.Writable(authority, true),
		runtime.Writable(b.deriver.FundAssetAccount(fund, mint).Address, false),
		runtime.ReadOnly(mint),
		runtime.ReadOnly(b.tokenProgramID),
		runtime.ReadOnly(runtime.SystemProgramID),
	)
}

// Swap builds an exchange of inAmount of sourceMint into destinationMint
// through the router. routerAccounts are forwarded verbatim: index 0 is the
// token program, 2 the scratch source and 3 the scratch destination.
func (b *Builder) Swap(authority, destinationMint, sourceMint, routerID address.Pubkey, inAmount uint64, routerAccounts []runtime.AccountMeta, payload []byte) (runtime.Instruction, error) {
	fund := b.deriver.Fund(authority).Address
	accounts := []runtime.AccountMeta{
		runtime.Writable(authority, true),
		runtime.Writable(fund, false),
		runtime.Writable(b.deriver.FundAssetAccount(fund, destinationMint).Address, false),
		runtime.Writable(b.deriver.FundAssetAccount(fund, sourceMint).Address, false),
		runtime.ReadOnly(routerID),
	}
	accounts = append(accounts, routerAccounts...)
	return b.build(Swap{InAmount: inAmount, Payload: payload}, accounts...)
}
