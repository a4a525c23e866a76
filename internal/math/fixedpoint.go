package math

import (
	"errors"
	"math/big"
	"math/bits"
	"sync"
)

// ErrOverflow is returned by every checked operation in this package.
var ErrOverflow = errors.New("arithmetic overflow")

// u128 bounds intermediate products. Anything wider is an overflow, matching
// the 128-bit unsigned arithmetic the accounting formulas are specified in.
const u128Bits = 128

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// MulDivFloor computes floor(a * b / d) with a 128-bit intermediate product
// and fails if the quotient does not fit in 64 bits.
func MulDivFloor(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, d)
	return quo, nil
}

// mulU128 multiplies in place and reports whether the result still fits in u128.
func mulU128(dst, a, b *big.Int) bool {
	dst.Mul(a, b)
	return dst.BitLen() <= u128Bits
}

// narrowU64 converts a non-negative big.Int to uint64.
func narrowU64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}
