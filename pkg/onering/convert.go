package onering

import (
	"fmt"
	"math/bits"
)

// maxPow10 is the largest exponent whose power of ten fits in a uint64.
const maxPow10 = 19

func pow10(n uint8) uint64 {
	p := uint64(1)
	for i := uint8(0); i < n; i++ {
		p *= 10
	}
	return p
}

// rescale converts amount between two decimal precisions, 1:1 in whole units.
// Scaling up fails on overflow; scaling down must divide exactly so the
// inverse conversion reproduces the input.
func rescale(amount uint64, from, to uint8) (uint64, error) {
	switch {
	case from == to:
		return amount, nil
	case to > from:
		diff := to - from
		if diff > maxPow10 {
			return 0, ErrArithmeticOverflow
		}
		hi, lo := bits.Mul64(amount, pow10(diff))
		if hi != 0 {
			return 0, ErrArithmeticOverflow
		}
		return lo, nil
	default:
		diff := from - to
		if diff > maxPow10 {
			return 0, fmt.Errorf("%w: %d is below the smallest unit", ErrInvalidAmount, amount)
		}
		q, r := bits.Div64(0, amount, pow10(diff))
		if r != 0 || q == 0 {
			return 0, fmt.Errorf("%w: %d does not convert exactly", ErrInvalidAmount, amount)
		}
		return q, nil
	}
}

// ToSynthetic converts a collateral amount to the synthetic amount it issues.
func ToSynthetic(collateral uint64, collateralDecimals, syntheticDecimals uint8) (uint64, error) {
	return rescale(collateral, collateralDecimals, syntheticDecimals)
}

// ToCollateral converts a synthetic amount to the collateral it redeems for.
func ToCollateral(synthetic uint64, collateralDecimals, syntheticDecimals uint8) (uint64, error) {
	return rescale(synthetic, syntheticDecimals, collateralDecimals)
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticUnderflow
	}
	return diff, nil
}
