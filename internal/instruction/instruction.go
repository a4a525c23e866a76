package instruction

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the leading discriminator byte of every fund program instruction.
type Kind uint8

const (
	KindCreateFund Kind = iota
	KindCreatePosition
	KindDeposit
	KindCreatePayout
	KindClaimPayout
	KindSwap
	KindCreateFundTokenAccount
)

// MinRoutePayloadLen is the shortest routing payload a swap accepts.
const MinRoutePayloadLen = 8

var ErrInvalidInstructionData = errors.New("invalid instruction data")

func (k Kind) String() string {
	switch k {
	case KindCreateFund:
		return "CreateFund"
	case KindCreatePosition:
		return "CreatePosition"
	case KindDeposit:
		return "Deposit"
	case KindCreatePayout:
		return "CreatePayout"
	case KindClaimPayout:
		return "ClaimPayout"
	case KindSwap:
		return "Swap"
	case KindCreateFundTokenAccount:
		return "CreateFundTokenAccount"
	default:
		return "Unknown"
	}
}

// Instruction is a decoded fund program instruction.
type Instruction interface {
	Kind() Kind
	MarshalBinary() ([]byte, error)
}

type CreateFund struct {
	AuthorityFee uint64
}

type CreatePosition struct{}

type Deposit struct {
	Amount uint64
}

type CreatePayout struct {
	Amount uint64
}

type ClaimPayout struct{}

type Swap struct {
	InAmount uint64
	Payload  []byte
}

type CreateFundTokenAccount struct{}

func (CreateFund) Kind() Kind             { return KindCreateFund }
func (CreatePosition) Kind() Kind         { return KindCreatePosition }
func (Deposit) Kind() Kind                { return KindDeposit }
func (CreatePayout) Kind() Kind           { return KindCreatePayout }
func (ClaimPayout) Kind() Kind            { return KindClaimPayout }
func (Swap) Kind() Kind                   { return KindSwap }
func (CreateFundTokenAccount) Kind() Kind { return KindCreateFundTokenAccount }

func withU64(k Kind, v uint64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{byte(k)}, v)
}

func (i CreateFund) MarshalBinary() ([]byte, error) {
	return withU64(KindCreateFund, i.AuthorityFee), nil
}

func (CreatePosition) MarshalBinary() ([]byte, error) {
	return []byte{byte(KindCreatePosition)}, nil
}

func (i Deposit) MarshalBinary() ([]byte, error) {
	return withU64(KindDeposit, i.Amount), nil
}

func (i CreatePayout) MarshalBinary() ([]byte, error) {
	return withU64(KindCreatePayout, i.Amount), nil
}

func (ClaimPayout) MarshalBinary() ([]byte, error) {
	return []byte{byte(KindClaimPayout)}, nil
}

func (i Swap) MarshalBinary() ([]byte, error) {
	if len(i.Payload) < MinRoutePayloadLen {
		return nil, fmt.Errorf("%w: route payload of %d bytes", ErrInvalidInstructionData, len(i.Payload))
	}
	return append(withU64(KindSwap, i.InAmount), i.Payload...), nil
}

func (CreateFundTokenAccount) MarshalBinary() ([]byte, error) {
	return []byte{byte(KindCreateFundTokenAccount)}, nil
}

// Parse decodes instruction data.
func Parse(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidInstructionData)
	}
	kind, body := Kind(data[0]), data[1:]

	u64 := func() (uint64, error) {
		if len(body) != 8 {
			return 0, fmt.Errorf("%w: %s wants 8 bytes, got %d", ErrInvalidInstructionData, kind, len(body))
		}
		return binary.LittleEndian.Uint64(body), nil
	}
	empty := func() error {
		if len(body) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidInstructionData, kind)
		}
		return nil
	}

	switch kind {
	case KindCreateFund:
		v, err := u64()
		return CreateFund{AuthorityFee: v}, err
	case KindCreatePosition:
		return CreatePosition{}, empty()
	case KindDeposit:
		v, err := u64()
		return Deposit{Amount: v}, err
	case KindCreatePayout:
		v, err := u64()
		return CreatePayout{Amount: v}, err
	case KindClaimPayout:
		return ClaimPayout{}, empty()
	case KindSwap:
		if len(body) < 8+MinRoutePayloadLen {
			return nil, fmt.Errorf("%w: swap data of %d bytes", ErrInvalidInstructionData, len(body))
		}
		return Swap{
			InAmount: binary.LittleEndian.Uint64(body[:8]),
			Payload:  append([]byte(nil), body[8:]...),
		}, nil
	case KindCreateFundTokenAccount:
		return CreateFundTokenAccount{}, empty()
	}
	return nil, fmt.Errorf("%w: unknown discriminator %d", ErrInvalidInstructionData, data[0])
}

// PeekKind returns the discriminator without decoding arguments.
func PeekKind(data []byte) (Kind, bool) {
	if len(data) == 0 || data[0] > byte(KindCreateFundTokenAccount) {
		return 0, false
	}
	return Kind(data[0]), true
}
