package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"YokoFund/internal/address"
)

const (
	MintLen    = 32 + 8 + 1 + 1
	AccountLen = 32 + 32 + 8 + 1
)

// AccountState of a holding account.
type AccountState uint8

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

var ErrInvalidLayout = errors.New("invalid token record layout")

// Mint describes one asset.
type Mint struct {
	Authority     address.Pubkey
	Supply        uint64
	Decimals      uint8
	IsInitialized bool
}

// HoldingAccount holds a balance of one mint for one owner.
type HoldingAccount struct {
	Mint   address.Pubkey
	Owner  address.Pubkey
	Amount uint64
	State  AccountState
}

func (m *Mint) encode(dst []byte) {
	copy(dst[0:32], m.Authority[:])
	binary.LittleEndian.PutUint64(dst[32:40], m.Supply)
	dst[40] = m.Decimals
	dst[41] = boolByte(m.IsInitialized)
}

func decodeMint(data []byte) (*Mint, error) {
	if len(data) != MintLen {
		return nil, fmt.Errorf("%w: mint is %d bytes", ErrInvalidLayout, len(data))
	}
	m := &Mint{
		Supply:        binary.LittleEndian.Uint64(data[32:40]),
		Decimals:      data[40],
		IsInitialized: data[41] == 1,
	}
	copy(m.Authority[:], data[0:32])
	return m, nil
}

func (a *HoldingAccount) encode(dst []byte) {
	copy(dst[0:32], a.Mint[:])
	copy(dst[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(dst[64:72], a.Amount)
	dst[72] = byte(a.State)
}

func decodeAccount(data []byte) (*HoldingAccount, error) {
	if len(data) != AccountLen {
		return nil, fmt.Errorf("%w: account is %d bytes", ErrInvalidLayout, len(data))
	}
	a := &HoldingAccount{
		Amount: binary.LittleEndian.Uint64(data[64:72]),
		State:  AccountState(data[72]),
	}
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	return a, nil
}

// DecodeAccount parses raw holding-account data. Used by projections.
func DecodeAccount(data []byte) (*HoldingAccount, error) {
	return decodeAccount(data)
}

// DecodeMint parses raw mint data. Used by projections.
func DecodeMint(data []byte) (*Mint, error) {
	return decodeMint(data)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
