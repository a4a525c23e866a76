package program

import (
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	"YokoFund/internal/runtime"
	"YokoFund/internal/token"
)

// Default identities of a mainnet deployment.
const (
	DefaultProgramID        = "4NmD5nA9Rd8SCgW6kXyG1zzUGkfDg3TUiZTmPEMM3ZLU"
	DefaultRouterID         = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	DefaultProtocolFeeOwner = "H61JjSDPCwvAs1k2vaPAX6d917Pu4dPWykcexvXXzGph"
)

// Config holds the fixed identities the program trusts.
type Config struct {
	ProgramID        address.Pubkey
	RouterID         address.Pubkey
	ProtocolFeeOwner address.Pubkey
}

// DefaultConfig returns the mainnet identities.
func DefaultConfig() Config {
	return Config{
		ProgramID:        address.MustParse(DefaultProgramID),
		RouterID:         address.MustParse(DefaultRouterID),
		ProtocolFeeOwner: address.MustParse(DefaultProtocolFeeOwner),
	}
}

// SwapRouter executes an exchange on behalf of the fund. Nothing it returns is
// trusted: the swap adapter measures the outcome from balances.
type SwapRouter interface {
	Invoke(txn *runtime.Txn, identity address.Pubkey, accounts []runtime.AccountMeta, payload []byte) error
}

// Program is the fund state-transition engine.
type Program struct {
	cfg     Config
	deriver address.Deriver
	tokens  *token.Program
	router  SwapRouter
}

func New(cfg Config, tokens *token.Program, router SwapRouter) *Program {
	return &Program{
		cfg:     cfg,
		deriver: address.NewDeriver(cfg.ProgramID),
		tokens:  tokens,
		router:  router,
	}
}

func (p *Program) ID() address.Pubkey {
	return p.cfg.ProgramID
}

func (p *Program) Deriver() address.Deriver {
	return p.deriver
}

// Process decodes and executes one instruction. The caller runs it inside
// txn.Invoke(p.ID(), ...) and discards txn on error.
func (p *Program) Process(txn *runtime.Txn, accounts []runtime.AccountMeta, data []byte) error {
	ix, err := instruction.Parse(data)
	if err != nil {
		return err
	}

	ctx := &invocation{p: p, txn: txn, accounts: accounts}

	switch ix := ix.(type) {
	case instruction.CreateFund:
		err = ctx.createFund(ix)
	case instruction.CreatePosition:
		err = ctx.createPosition()
	case instruction.Deposit:
		err = ctx.deposit(ix)
	case instruction.CreatePayout:
		err = ctx.createPayout(ix)
	case instruction.ClaimPayout:
		err = ctx.claimPayout()
	case instruction.Swap:
		err = ctx.swap(ix)
	case instruction.CreateFundTokenAccount:
		err = ctx.createFundTokenAccount()
	default:
		err = fmt.Errorf("%w: unhandled %s", ErrInvalidInstructionData, ix.Kind())
	}

	if err != nil {
		return fmt.Errorf("%s: %w", ix.Kind(), err)
	}
	return nil
}
