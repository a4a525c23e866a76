package router

import (
	"encoding/binary"
	"errors"
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
	"YokoFund/internal/token"
)

// SwapDiscriminator prefixes every route payload.
var SwapDiscriminator = [8]byte{'y', 'k', 'r', 'o', 'u', 't', 'e', 1}

// RoutePayloadLen is discriminator + in_amount + min_out.
const RoutePayloadLen = 8 + 8 + 8

// Route accounts.
const (
	accTokenProgram = iota
	accUserAuthority
	accUserSource
	accUserDestination
	accPool
	accVaultIn
	accVaultOut
	routeAccounts
)

var (
	ErrInvalidPayload  = errors.New("invalid route payload")
	ErrWrongIdentity   = errors.New("router invoked under a foreign identity")
	ErrAccounts        = errors.New("invalid route accounts")
	ErrSlippage        = errors.New("output below minimum")
	ErrEmptyReserves   = errors.New("pool has no liquidity")
	ErrZeroOutput      = errors.New("swap output rounds to zero")
	ErrUnsupportedPair = errors.New("pool does not trade this pair")
)

// RouteParams is the decoded route payload.
type RouteParams struct {
	InAmount uint64
	MinOut   uint64
}

// EncodeRoute builds a route payload.
func EncodeRoute(inAmount, minOut uint64) []byte {
	buf := make([]byte, RoutePayloadLen)
	copy(buf[0:8], SwapDiscriminator[:])
	binary.LittleEndian.PutUint64(buf[8:16], inAmount)
	binary.LittleEndian.PutUint64(buf[16:24], minOut)
	return buf
}

// DecodeRoute parses a route payload. Trailing bytes are ignored.
func DecodeRoute(payload []byte) (RouteParams, error) {
	if len(payload) < RoutePayloadLen {
		return RouteParams{}, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(payload))
	}
	if [8]byte(payload[0:8]) != SwapDiscriminator {
		return RouteParams{}, fmt.Errorf("%w: discriminator", ErrInvalidPayload)
	}
	return RouteParams{
		InAmount: binary.LittleEndian.Uint64(payload[8:16]),
		MinOut:   binary.LittleEndian.Uint64(payload[16:24]),
	}, nil
}

// Quote returns the constant-product output for amountIn against the given
// reserves after deducting feeBps from the input.
func Quote(reserveIn, reserveOut, amountIn, feeBps uint64) (uint64, error) {
	if reserveIn == 0 || reserveOut == 0 {
		return 0, ErrEmptyReserves
	}
	if feeBps >= BpsDenominator {
		return 0, ErrPoolFee
	}
	effective, err := fpmath.MulDivFloor(amountIn, BpsDenominator-feeBps, BpsDenominator)
	if err != nil {
		return 0, err
	}
	denom, err := fpmath.CheckedAdd(reserveIn, effective)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivFloor(reserveOut, effective, denom)
}

// ConstantProduct is a router over x*y=k pools it owns.
type ConstantProduct struct {
	id     address.Pubkey
	tokens *token.Program
}

func NewConstantProduct(id address.Pubkey, tokens *token.Program) *ConstantProduct {
	return &ConstantProduct{id: id, tokens: tokens}
}

func (r *ConstantProduct) ID() address.Pubkey {
	return r.id
}

// Accounts builds the route account list for a user swapping from userSource
// to userDestination.
func (r *ConstantProduct) Accounts(user, userSource, userDestination, sourceMint, destinationMint address.Pubkey) []runtime.AccountMeta {
	pool := PoolAddress(r.id, sourceMint, destinationMint).Address
	return []runtime.AccountMeta{
		runtime.ReadOnly(r.tokens.ID()),
		runtime.ReadOnly(user),
		runtime.Writable(userSource, false),
		runtime.Writable(userDestination, false),
		runtime.ReadOnly(pool),
		runtime.Writable(VaultAddress(r.id, pool, sourceMint).Address, false),
		runtime.Writable(VaultAddress(r.id, pool, destinationMint).Address, false),
	}
}

// LoadPool reads the pool record at addr.
func (r *ConstantProduct) LoadPool(txn *runtime.Txn, addr address.Pubkey) (*Pool, error) {
	acct := txn.Load(addr)
	if acct.Owner != r.id || !acct.Exists() {
		return nil, fmt.Errorf("%s: %w", addr, ErrPoolNotFound)
	}
	pool := new(Pool)
	if err := pool.UnmarshalBinary(acct.Data); err != nil {
		return nil, err
	}
	return pool, nil
}

// CreatePool allocates a pool for a mint pair and its two empty vaults. The
// payer funds rent and must sign.
func (r *ConstantProduct) CreatePool(txn *runtime.Txn, payer, mintA, mintB address.Pubkey, feeBps uint64) (address.Pubkey, error) {
	if mintA == mintB {
		return address.Zero, ErrPoolMints
	}
	if feeBps >= BpsDenominator {
		return address.Zero, ErrPoolFee
	}

	var poolAddr address.Pubkey
	err := txn.Invoke(r.id, func() error {
		lo, hi := orderedMints(mintA, mintB)
		poolSeeds := PoolAddress(r.id, lo, hi)
		poolAddr = poolSeeds.Address
		if err := txn.CreateAccount(payer, poolAddr, PoolSize, r.id, &poolSeeds); err != nil {
			return err
		}

		pool := &Pool{MintA: lo, MintB: hi, FeeBps: feeBps}
		for _, side := range []struct {
			mint  address.Pubkey
			vault *address.Pubkey
		}{{lo, &pool.VaultA}, {hi, &pool.VaultB}} {
			vaultSeeds := VaultAddress(r.id, poolAddr, side.mint)
			if err := r.tokens.CreateAccount(txn, payer, vaultSeeds.Address, side.mint, poolAddr, &vaultSeeds); err != nil {
				return fmt.Errorf("vault %s: %w", side.mint, err)
			}
			*side.vault = vaultSeeds.Address
		}

		data, err := pool.MarshalBinary()
		if err != nil {
			return err
		}
		copy(txn.Load(poolAddr).Data, data)
		return nil
	})
	return poolAddr, err
}

// Invoke executes one route. The caller must already have entered the router
// identity through txn.Invoke.
func (r *ConstantProduct) Invoke(txn *runtime.Txn, identity address.Pubkey, accounts []runtime.AccountMeta, payload []byte) error {
	if identity != r.id || txn.CurrentProgram() != r.id {
		return ErrWrongIdentity
	}
	params, err := DecodeRoute(payload)
	if err != nil {
		return err
	}
	if len(accounts) < routeAccounts {
		return fmt.Errorf("%w: want %d, got %d", ErrAccounts, routeAccounts, len(accounts))
	}
	if accounts[accTokenProgram].Pubkey != r.tokens.ID() {
		return fmt.Errorf("%w: token program", ErrAccounts)
	}

	user := accounts[accUserAuthority].Pubkey
	userSrc := accounts[accUserSource].Pubkey
	userDst := accounts[accUserDestination].Pubkey
	poolAddr := accounts[accPool].Pubkey
	vaultIn := accounts[accVaultIn].Pubkey
	vaultOut := accounts[accVaultOut].Pubkey

	pool, err := r.LoadPool(txn, poolAddr)
	if err != nil {
		return err
	}
	srcHolding, err := r.tokens.ReadAccount(txn, userSrc)
	if err != nil {
		return err
	}
	dstHolding, err := r.tokens.ReadAccount(txn, userDst)
	if err != nil {
		return err
	}
	wantIn, okIn := pool.VaultFor(srcHolding.Mint)
	wantOut, okOut := pool.VaultFor(dstHolding.Mint)
	if !okIn || !okOut || srcHolding.Mint == dstHolding.Mint {
		return ErrUnsupportedPair
	}
	if vaultIn != wantIn || vaultOut != wantOut {
		return fmt.Errorf("%w: vaults", ErrAccounts)
	}

	reserveIn, err := r.tokens.ReadAccount(txn, vaultIn)
	if err != nil {
		return err
	}
	reserveOut, err := r.tokens.ReadAccount(txn, vaultOut)
	if err != nil {
		return err
	}
	out, err := Quote(reserveIn.Amount, reserveOut.Amount, params.InAmount, pool.FeeBps)
	if err != nil {
		return err
	}
	if out == 0 {
		return ErrZeroOutput
	}
	if out < params.MinOut {
		return fmt.Errorf("%w: %d < %d", ErrSlippage, out, params.MinOut)
	}

	if err := r.tokens.Transfer(txn, ledger.JournalTypeRouterLeg, userSrc, vaultIn, token.SignedBy(user), params.InAmount); err != nil {
		return fmt.Errorf("route in: %w", err)
	}
	poolSigner := token.SignedWith(PoolAddress(r.id, pool.MintA, pool.MintB))
	if err := r.tokens.Transfer(txn, ledger.JournalTypeRouterLeg, vaultOut, userDst, poolSigner, out); err != nil {
		return fmt.Errorf("route out: %w", err)
	}
	return nil
}
