package math

import "math/big"

const (
	// ProportionScale is the fixed-point denominator of a claim proportion.
	ProportionScale = 1_000_000_000

	// FeeDenominator expresses fees as whole percentages.
	FeeDenominator = 100

	// ProtocolFeePercent is charged on every payout.
	ProtocolFeePercent = 1
)

// FeeSplit is the division of a payout amount between the fund authority,
// the protocol and the payout holding account.
type FeeSplit struct {
	Authority uint64
	Protocol  uint64
	Rest      uint64
}

// ComputeFeeSplit divides amount by whole-percent fees. Both fee legs round
// down; the remainder goes to Rest. Products are computed in 64 bits and fail
// on overflow.
func ComputeFeeSplit(amount, authorityFee uint64) (FeeSplit, error) {
	var split FeeSplit

	product, err := CheckedMul(amount, authorityFee)
	if err != nil {
		return split, err
	}
	split.Authority = product / FeeDenominator

	product, err = CheckedMul(amount, ProtocolFeePercent)
	if err != nil {
		return split, err
	}
	split.Protocol = product / FeeDenominator

	rest, err := CheckedSub(amount, split.Authority)
	if err != nil {
		return split, err
	}
	split.Rest, err = CheckedSub(rest, split.Protocol)
	if err != nil {
		return split, err
	}
	return split, nil
}

// ComputeProportion returns floor(deposited * 1e9 / totalDeposited) in u128.
// The caller owns the returned value.
func ComputeProportion(deposited, totalDeposited uint64) (*big.Int, error) {
	if totalDeposited == 0 {
		return nil, ErrOverflow
	}

	scaled := getInt128()
	defer putInt128(scaled)
	if !mulU128(scaled, new(big.Int).SetUint64(deposited), big.NewInt(ProportionScale)) {
		return nil, ErrOverflow
	}

	return new(big.Int).Quo(scaled, new(big.Int).SetUint64(totalDeposited)), nil
}

// ComputeClaimAmount returns floor(transferred * proportion / 1e9) narrowed to u64.
func ComputeClaimAmount(transferred uint64, proportion *big.Int) (uint64, error) {
	product := getInt128()
	defer putInt128(product)
	if !mulU128(product, new(big.Int).SetUint64(transferred), proportion) {
		return 0, ErrOverflow
	}

	quotient := getInt128()
	defer putInt128(quotient)
	quotient.Quo(product, big.NewInt(ProportionScale))

	return narrowU64(quotient)
}

// ClaimShare chains ComputeProportion and ComputeClaimAmount.
func ClaimShare(deposited, snapshotTotal, transferred uint64) (uint64, error) {
	proportion, err := ComputeProportion(deposited, snapshotTotal)
	if err != nil {
		return 0, err
	}
	return ComputeClaimAmount(transferred, proportion)
}
