package address_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"YokoFund/internal/address"
)

var programID = address.MustParse("4NmD5nA9Rd8SCgW6kXyG1zzUGkfDg3TUiZTmPEMM3ZLU")

func TestPubkey_Base58RoundTrip(t *testing.T) {
	const s = "H61JjSDPCwvAs1k2vaPAX6d917Pu4dPWykcexvXXzGph"
	pk, err := address.ParsePubkey(s)
	require.NoError(t, err)
	require.Equal(t, s, pk.String())

	text, err := pk.MarshalText()
	require.NoError(t, err)
	var back address.Pubkey
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, pk, back)
}

func TestPubkey_RejectsWrongLength(t *testing.T) {
	_, err := address.ParsePubkey("abc")
	require.Error(t, err)

	_, err = address.ParsePubkey("0OIl")
	require.Error(t, err, "non-base58 alphabet must fail")
}

func TestSystemProgramIsZero(t *testing.T) {
	pk, err := address.ParsePubkey("11111111111111111111111111111111")
	require.NoError(t, err)
	require.True(t, pk.IsZero())
}

func TestFindProgramAddress_DeterministicAndOffCurve(t *testing.T) {
	authority := address.Labeled("alice")
	seeds := [][]byte{address.SeedFund, authority.Bytes()}

	a1, bump1 := address.FindProgramAddress(seeds, programID)
	a2, bump2 := address.FindProgramAddress(seeds, programID)
	require.Equal(t, a1, a2)
	require.Equal(t, bump1, bump2)

	again, err := address.CreateProgramAddress(append(seeds, []byte{bump1}), programID)
	require.NoError(t, err)
	require.Equal(t, a1, again)
}

func TestDeriver_DistinctTagsDistinctAddresses(t *testing.T) {
	d := address.NewDeriver(programID)
	alice := address.Labeled("alice")
	mint := address.Labeled("usdc")

	fund := d.Fund(alice).Address
	position := d.Position(fund, alice).Address
	asset := d.FundAssetAccount(fund, mint).Address
	payout1 := d.Payout(fund, 1).Address
	payout2 := d.Payout(fund, 2).Address
	payoutAsset := d.PayoutAssetAccount(payout1).Address

	all := []address.Pubkey{fund, position, asset, payout1, payout2, payoutAsset}
	seen := map[address.Pubkey]bool{}
	for _, a := range all {
		require.False(t, seen[a], "collision on %s", a)
		seen[a] = true
	}
}

func TestDeriver_DependsOnProgram(t *testing.T) {
	alice := address.Labeled("alice")
	other := address.Labeled("other-program")

	require.NotEqual(t,
		address.NewDeriver(programID).Fund(alice).Address,
		address.NewDeriver(other).Fund(alice).Address)
}

func TestSignerSeeds_Verify(t *testing.T) {
	d := address.NewDeriver(programID)
	signer := d.Fund(address.Labeled("alice"))

	require.NoError(t, signer.Verify(programID))
	require.Error(t, signer.Verify(address.Labeled("router")), "capability is bound to its program")

	forged := signer
	forged.Address = address.Labeled("mallory")
	require.Error(t, forged.Verify(programID))
}

func TestCreateProgramAddress_SeedLimits(t *testing.T) {
	_, err := address.CreateProgramAddress([][]byte{make([]byte, 33)}, programID)
	require.ErrorIs(t, err, address.ErrMaxSeedLengthExceeded)
}
