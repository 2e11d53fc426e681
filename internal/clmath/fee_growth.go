package clmath

import (
	"github.com/holiman/uint256"
)

// FeeGrowthOutside holds one tick's feeGrowthOutside accumulators.
type FeeGrowthOutside struct {
	Token0 *uint256.Int
	Token1 *uint256.Int
}

// FeeGrowthInside derives per-liquidity fee growth inside [tickLower, tickUpper)
// from the global accumulators and the outside values at both boundaries.
// All subtraction wraps modulo 2^256, matching the pool contracts.
func FeeGrowthInside(lower, upper FeeGrowthOutside, tickLower, tickUpper, tickCurrent int32, global0, global1 *uint256.Int) (inside0, inside1 *uint256.Int) {
	inside0 = feeGrowthInside(lower.Token0, upper.Token0, tickLower, tickUpper, tickCurrent, global0)
	inside1 = feeGrowthInside(lower.Token1, upper.Token1, tickLower, tickUpper, tickCurrent, global1)
	return inside0, inside1
}

func feeGrowthInside(lowerOut, upperOut *uint256.Int, tickLower, tickUpper, tickCurrent int32, global *uint256.Int) *uint256.Int {
	below := new(uint256.Int)
	if tickCurrent >= tickLower {
		below.Set(lowerOut)
	} else {
		below.Sub(global, lowerOut)
	}

	above := new(uint256.Int)
	if tickCurrent < tickUpper {
		above.Set(upperOut)
	} else {
		above.Sub(global, upperOut)
	}

	inside := new(uint256.Int).Sub(global, below)
	return inside.Sub(inside, above)
}

// TokensOwed returns the fees accrued since the last checkpoint:
// liquidity * (insideNow - insideLast) / 2^128, with wrapping subtraction.
func TokensOwed(insideLast0, insideLast1, liquidity, insideNow0, insideNow1 *uint256.Int) (owed0, owed1 *uint256.Int, err error) {
	owed0, err = tokensOwed(insideLast0, liquidity, insideNow0)
	if err != nil {
		return nil, nil, err
	}
	owed1, err = tokensOwed(insideLast1, liquidity, insideNow1)
	if err != nil {
		return nil, nil, err
	}
	return owed0, owed1, nil
}

func tokensOwed(last, liquidity, now *uint256.Int) (*uint256.Int, error) {
	delta := new(uint256.Int).Sub(now, last)
	return mulDiv(delta, liquidity, Q128)
}
