package router

import (
	"encoding/binary"
	"errors"
	"fmt"

	"YokoFund/internal/address"
)

const (
	// PoolSize is the stored size of a pool record.
	PoolSize = 8 + 4*32 + 8

	// BpsDenominator is the fee unit: 10_000 bps = 100%.
	BpsDenominator = 10_000
)

var poolDiscriminator = [8]byte{'y', 'k', 'p', 'o', 'o', 'l', 0, 1}

var (
	SeedPool  = []byte("pool")
	SeedVault = []byte("vault")
)

var (
	ErrPoolLayout   = errors.New("invalid pool record")
	ErrPoolFee      = errors.New("pool fee must be below 100%")
	ErrPoolMints    = errors.New("pool mints must differ")
	ErrPoolNotFound = errors.New("pool not found")
)

// Pool is a two-sided constant-product reserve. Reserves live in the vaults;
// the record only names them.
type Pool struct {
	MintA  address.Pubkey
	MintB  address.Pubkey
	VaultA address.Pubkey
	VaultB address.Pubkey
	FeeBps uint64
}

// VaultFor returns the vault holding mint, or false if the pool does not trade it.
func (p *Pool) VaultFor(mint address.Pubkey) (address.Pubkey, bool) {
	switch mint {
	case p.MintA:
		return p.VaultA, true
	case p.MintB:
		return p.VaultB, true
	}
	return address.Zero, false
}

func (p *Pool) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PoolSize)
	copy(buf[0:8], poolDiscriminator[:])
	copy(buf[8:40], p.MintA[:])
	copy(buf[40:72], p.MintB[:])
	copy(buf[72:104], p.VaultA[:])
	copy(buf[104:136], p.VaultB[:])
	binary.LittleEndian.PutUint64(buf[136:144], p.FeeBps)
	return buf, nil
}

func (p *Pool) UnmarshalBinary(data []byte) error {
	if len(data) != PoolSize {
		return fmt.Errorf("%w: %d bytes", ErrPoolLayout, len(data))
	}
	if [8]byte(data[0:8]) != poolDiscriminator {
		return fmt.Errorf("%w: discriminator", ErrPoolLayout)
	}
	p.MintA = address.Pubkey(data[8:40])
	p.MintB = address.Pubkey(data[40:72])
	p.VaultA = address.Pubkey(data[72:104])
	p.VaultB = address.Pubkey(data[104:136])
	p.FeeBps = binary.LittleEndian.Uint64(data[136:144])
	return nil
}

// orderedMints puts a pair in canonical order so either direction finds the same pool.
func orderedMints(a, b address.Pubkey) (address.Pubkey, address.Pubkey) {
	if a.Compare(b) > 0 {
		return b, a
	}
	return a, b
}

// PoolAddress derives the pool of a mint pair under routerID.
func PoolAddress(routerID, mintA, mintB address.Pubkey) address.SignerSeeds {
	lo, hi := orderedMints(mintA, mintB)
	seeds := [][]byte{SeedPool, lo.Bytes(), hi.Bytes()}
	addr, bump := address.FindProgramAddress(seeds, routerID)
	return address.SignerSeeds{Tag: "pool", Address: addr, Seeds: seeds, Bump: bump}
}

// VaultAddress derives the pool's holding account for mint.
func VaultAddress(routerID, pool, mint address.Pubkey) address.SignerSeeds {
	seeds := [][]byte{SeedVault, pool.Bytes(), mint.Bytes()}
	addr, bump := address.FindProgramAddress(seeds, routerID)
	return address.SignerSeeds{Tag: "vault", Address: addr, Seeds: seeds, Bump: bump}
}
