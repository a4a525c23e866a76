package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	MaxSeeds   = 16
	MaxSeedLen = 32

	derivationMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLengthExceeded = errors.New("derivation seed exceeds maximum length")
	ErrInvalidSeeds          = errors.New("seeds produce an on-curve address")
)

// CreateProgramAddress hashes seeds (bump included by the caller) under a program
// identity. The result must not be a valid ed25519 point, so nobody holds its key.
func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Zero, fmt.Errorf("%w: %d seeds", ErrMaxSeedLengthExceeded, len(seeds))
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Zero, fmt.Errorf("%w: %d bytes", ErrMaxSeedLengthExceeded, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(derivationMarker))

	var out Pubkey
	copy(out[:], h.Sum(nil))

	if isOnCurve(out[:]) {
		return Zero, ErrInvalidSeeds
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 downward and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump)
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			panic(fmt.Sprintf("FATAL: derivation seeds rejected: %v", err))
		}
	}
	panic("FATAL: no viable bump for derived address")
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
