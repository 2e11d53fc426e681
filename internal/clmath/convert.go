package clmath

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// Q96 is 2^96, the Q64.96 unit.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	// Q128 is 2^128, the fee-growth unit.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
)

// FromBig converts a non-negative big integer to uint256. A nil input is zero.
func FromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return new(uint256.Int), nil
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegative, b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, b)
	}
	return v, nil
}

// mulDiv computes floor(a*b/d) with a 512-bit intermediate product.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}
