package clmath

import (
	"fmt"

	"github.com/holiman/uint256"
)

// TokenAmountsForLiquidity returns the raw token0/token1 amounts backing
// liquidity in [tickLower, tickUpper) at the given current tick and price.
//
// Below the range the whole position is token0, at or above tickUpper it is
// token1, and inside the range it splits at sqrtPriceX96.
func TokenAmountsForLiquidity(tickCurrent, tickLower, tickUpper int32, sqrtPriceX96, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if tickLower >= tickUpper {
		return nil, nil, fmt.Errorf("%w: lower %d upper %d", ErrInvalidRange, tickLower, tickUpper)
	}
	sqrtLower, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case tickCurrent < tickLower:
		amount0, err = Amount0Delta(sqrtLower, sqrtUpper, liquidity)
		if err != nil {
			return nil, nil, err
		}
		return amount0, new(uint256.Int), nil

	case tickCurrent < tickUpper:
		amount0, err = Amount0Delta(sqrtPriceX96, sqrtUpper, liquidity)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = Amount1Delta(sqrtLower, sqrtPriceX96, liquidity)
		if err != nil {
			return nil, nil, err
		}
		return amount0, amount1, nil

	default:
		amount1, err = Amount1Delta(sqrtLower, sqrtUpper, liquidity)
		if err != nil {
			return nil, nil, err
		}
		return new(uint256.Int), amount1, nil
	}
}
