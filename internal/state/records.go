// internal/state/records.go
package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"YokoFund/internal/address"
)

// RecordKind is the 8-byte discriminator at the head of every program record.
type RecordKind uint8

const (
	RecordKindFund RecordKind = iota
	RecordKindPosition
	RecordKindPayout
)

func (k RecordKind) String() string {
	switch k {
	case RecordKindFund:
		return "Fund"
	case RecordKindPosition:
		return "Position"
	case RecordKindPayout:
		return "Payout"
	default:
		return "Unknown"
	}
}

const (
	discriminatorLen = 8

	FundSize     = discriminatorLen + 32 + 8 + 8 + 8 + 32 + AssetSetCapacity*32 + 8
	PositionSize = discriminatorLen + 32 + 32 + 8 + 8
	PayoutSize   = discriminatorLen + 8 + 8

	// MaxAuthorityFee is exclusive: fees are whole percent in [0, 100).
	MaxAuthorityFee = 100
)

var (
	ErrRecordSize          = errors.New("record has wrong size")
	ErrRecordDiscriminator = errors.New("record has wrong discriminator")
)

// Fund is the per-authority investment vehicle.
type Fund struct {
	Authority      address.Pubkey
	TotalDeposited uint64
	PayoutsCounter uint64
	AuthorityFee   uint64
	MainMint       address.Pubkey
	OtherMints     AssetSet
}

// Position is one depositor's stake in one fund.
type Position struct {
	Authority      address.Pubkey
	Fund           address.Pubkey
	Deposited      uint64
	PayoutsCounter uint64
}

// Payout is a numbered distribution round.
type Payout struct {
	TotalDeposited              uint64
	AmountTransferredOnCreation uint64
}

// PeekKind reports the record kind stored in data without decoding it.
func PeekKind(data []byte) (RecordKind, bool) {
	if len(data) < discriminatorLen {
		return 0, false
	}
	for _, b := range data[1:discriminatorLen] {
		if b != 0 {
			return 0, false
		}
	}
	kind := RecordKind(data[0])
	switch {
	case kind == RecordKindFund && len(data) == FundSize,
		kind == RecordKindPosition && len(data) == PositionSize,
		kind == RecordKindPayout && len(data) == PayoutSize:
		return kind, true
	}
	return 0, false
}

func checkHeader(data []byte, kind RecordKind, size int) error {
	if len(data) != size {
		return fmt.Errorf("%s: %w: %d bytes, want %d", kind, ErrRecordSize, len(data), size)
	}
	if got, ok := PeekKind(data); !ok || got != kind {
		return fmt.Errorf("%s: %w", kind, ErrRecordDiscriminator)
	}
	return nil
}

func putHeader(buf []byte, kind RecordKind) []byte {
	var disc [discriminatorLen]byte
	disc[0] = byte(kind)
	return append(buf, disc[:]...)
}

// MarshalBinary encodes the fund in its fixed little-endian layout.
func (f *Fund) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, FundSize)
	buf = putHeader(buf, RecordKindFund)
	buf = append(buf, f.Authority[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, f.TotalDeposited)
	buf = binary.LittleEndian.AppendUint64(buf, f.PayoutsCounter)
	buf = binary.LittleEndian.AppendUint64(buf, f.AuthorityFee)
	buf = append(buf, f.MainMint[:]...)
	for i := range f.OtherMints.data {
		buf = append(buf, f.OtherMints.data[i][:]...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, f.OtherMints.len)
	return buf, nil
}

func (f *Fund) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RecordKindFund, FundSize); err != nil {
		return err
	}
	r := reader{buf: data[discriminatorLen:]}
	f.Authority = r.pubkey()
	f.TotalDeposited = r.u64()
	f.PayoutsCounter = r.u64()
	f.AuthorityFee = r.u64()
	f.MainMint = r.pubkey()
	for i := range f.OtherMints.data {
		f.OtherMints.data[i] = r.pubkey()
	}
	f.OtherMints.len = r.u64()
	return f.OtherMints.Validate()
}

// Validate checks the fund's standalone invariants.
func (f *Fund) Validate() error {
	if f.AuthorityFee >= MaxAuthorityFee {
		return fmt.Errorf("fund %s: authority fee %d out of range", f.Authority, f.AuthorityFee)
	}
	if f.OtherMints.Contains(f.MainMint) {
		return fmt.Errorf("fund %s: main mint tracked as secondary asset", f.Authority)
	}
	return f.OtherMints.Validate()
}

func (p *Position) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, PositionSize)
	buf = putHeader(buf, RecordKindPosition)
	buf = append(buf, p.Authority[:]...)
	buf = append(buf, p.Fund[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.Deposited)
	buf = binary.LittleEndian.AppendUint64(buf, p.PayoutsCounter)
	return buf, nil
}

func (p *Position) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RecordKindPosition, PositionSize); err != nil {
		return err
	}
	r := reader{buf: data[discriminatorLen:]}
	p.Authority = r.pubkey()
	p.Fund = r.pubkey()
	p.Deposited = r.u64()
	p.PayoutsCounter = r.u64()
	return nil
}

// ValidateAgainst checks the position's invariants relative to its fund.
func (p *Position) ValidateAgainst(fund *Fund) error {
	if p.PayoutsCounter > fund.PayoutsCounter {
		return fmt.Errorf("position %s: watermark %d ahead of fund counter %d",
			p.Authority, p.PayoutsCounter, fund.PayoutsCounter)
	}
	if p.Deposited > fund.TotalDeposited {
		return fmt.Errorf("position %s: deposited %d exceeds fund total %d",
			p.Authority, p.Deposited, fund.TotalDeposited)
	}
	return nil
}

func (p *Payout) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, PayoutSize)
	buf = putHeader(buf, RecordKindPayout)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalDeposited)
	buf = binary.LittleEndian.AppendUint64(buf, p.AmountTransferredOnCreation)
	return buf, nil
}

func (p *Payout) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RecordKindPayout, PayoutSize); err != nil {
		return err
	}
	r := reader{buf: data[discriminatorLen:]}
	p.TotalDeposited = r.u64()
	p.AmountTransferredOnCreation = r.u64()
	return nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) pubkey() address.Pubkey {
	var pk address.Pubkey
	copy(pk[:], r.buf[r.off:r.off+address.PubkeyLen])
	r.off += address.PubkeyLen
	return pk
}
