// Package bitmag implements the order-of-magnitude primitive shared by bid
// scaling, reputation scaling, entropy gating and batch-id derivation. All of
// those must agree bit-for-bit, so the rule lives here and nowhere else.
package bitmag

import (
	"math/big"
	"math/bits"
)

// Width is the word width of the value domain. Scaling formulas divide by it.
const Width = 256

// Order returns the zero-based index of the most significant set bit of x,
// or 0 when x is zero or negative.
func Order(x *big.Int) uint {
	if x == nil || x.Sign() <= 0 {
		return 0
	}
	return uint(x.BitLen() - 1)
}

// OrderUint64 is a convenience wrapper for native-width values. It follows the
// same rule as Order.
func OrderUint64(x uint64) uint {
	if x == 0 {
		return 0
	}
	return uint(bits.Len64(x) - 1)
}

// Scale applies the engine's magnitude scaling: v * Order(v) / Width. The
// result is a fresh big.Int; v is not modified. The formula is intentionally
// asymmetric (small values collapse to zero, large ones keep most of their
// weight) and must not be "corrected".
func Scale(v *big.Int) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(v, big.NewInt(int64(Order(v))))
	return scaled.Quo(scaled, big.NewInt(Width))
}
