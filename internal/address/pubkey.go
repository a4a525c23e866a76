package address

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLen is the size of every account address in bytes.
const PubkeyLen = 32

// Pubkey identifies an account: a wallet, a record, a holding account or a program.
type Pubkey [PubkeyLen]byte

// Zero is the all-zero address. It is also the system program identity.
var Zero Pubkey

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid base58 address %q: %w", s, err)
	}
	if len(raw) != PubkeyLen {
		return pk, fmt.Errorf("invalid address %q: decoded to %d bytes, want %d", s, len(raw), PubkeyLen)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParse is ParsePubkey for compile-time constants. Panics on bad input.
func MustParse(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// FromBytes copies a 32-byte slice into a Pubkey.
func FromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("address must be %d bytes, got %d", PubkeyLen, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// Labeled returns a deterministic address for a human label.
// Used for development wallets and test fixtures; never for derived records.
func Labeled(label string) Pubkey {
	return Pubkey(sha256.Sum256([]byte("yoko:label:" + label)))
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte {
	return p[:]
}

func (p Pubkey) IsZero() bool {
	return p == Zero
}

// Compare orders addresses lexicographically by their raw bytes.
func (p Pubkey) Compare(other Pubkey) int {
	return bytes.Compare(p[:], other[:])
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}
