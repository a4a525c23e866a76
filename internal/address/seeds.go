package address

import (
	"encoding/binary"
	"fmt"
)

// Seed tags. Each derived record kind is namespaced by its tag.
var (
	SeedFund         = []byte("fund")
	SeedPosition     = []byte("position")
	SeedTokenAccount = []byte("token_account")
	SeedPayout       = []byte("payout")
)

// SignerSeeds is the capability a program presents to act for one of its derived
// addresses. Whoever verifies it re-derives the address from Seeds and Bump.
type SignerSeeds struct {
	Tag     string
	Address Pubkey
	Seeds   [][]byte
	Bump    uint8
}

// WithBump returns the full seed list used for derivation.
func (s SignerSeeds) WithBump() [][]byte {
	out := make([][]byte, 0, len(s.Seeds)+1)
	out = append(out, s.Seeds...)
	return append(out, []byte{s.Bump})
}

// Verify checks that the capability derives Address under programID.
func (s SignerSeeds) Verify(programID Pubkey) error {
	derived, err := CreateProgramAddress(s.WithBump(), programID)
	if err != nil {
		return fmt.Errorf("%s signer: %w", s.Tag, err)
	}
	if derived != s.Address {
		return fmt.Errorf("%s signer: seeds derive %s, not %s", s.Tag, derived, s.Address)
	}
	return nil
}

// Deriver computes every derived address of one program.
type Deriver struct {
	programID Pubkey
}

func NewDeriver(programID Pubkey) Deriver {
	return Deriver{programID: programID}
}

func (d Deriver) ProgramID() Pubkey {
	return d.programID
}

func (d Deriver) signer(tag string, seeds ...[]byte) SignerSeeds {
	addr, bump := FindProgramAddress(seeds, d.programID)
	return SignerSeeds{Tag: tag, Address: addr, Seeds: seeds, Bump: bump}
}

// Fund derives (FUND, authority).
func (d Deriver) Fund(authority Pubkey) SignerSeeds {
	return d.signer("fund", SeedFund, authority.Bytes())
}

// Position derives (POSITION, fund, authority).
func (d Deriver) Position(fund, authority Pubkey) SignerSeeds {
	return d.signer("position", SeedPosition, fund.Bytes(), authority.Bytes())
}

// FundAssetAccount derives (TOKEN_ACCOUNT, fund, mint).
func (d Deriver) FundAssetAccount(fund, mint Pubkey) SignerSeeds {
	return d.signer("fund_token_account", SeedTokenAccount, fund.Bytes(), mint.Bytes())
}

// Payout derives (PAYOUT, fund, counter as 8 little-endian bytes).
func (d Deriver) Payout(fund Pubkey, counter uint64) SignerSeeds {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], counter)
	return d.signer("payout", SeedPayout, fund.Bytes(), le[:])
}

// PayoutAssetAccount derives (PAYOUT, payout).
func (d Deriver) PayoutAssetAccount(payout Pubkey) SignerSeeds {
	return d.signer("payout_token_account", SeedPayout, payout.Bytes())
}
