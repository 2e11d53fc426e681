package domain

import (
	"fmt"
	"math/big"
)

// PoolSnapshot is the pool state needed to value a position at one block.
// Read fresh for every valuation, never cached.
type PoolSnapshot struct {
	Tick                  int32
	SqrtPriceX96          *big.Int
	FeeGrowthGlobal0X128  *big.Int
	FeeGrowthGlobal1X128  *big.Int
	LowerFeeGrowthOutside [2]*big.Int // token0, token1 at tick_lower
	UpperFeeGrowthOutside [2]*big.Int // token0, token1 at tick_upper
}

// PositionState is the on-chain accounting of a position as returned by
// the position manager's positions(tokenId).
type PositionState struct {
	Token0                   string
	Token1                   string
	Fee                      uint32
	TickLower                int32
	TickUpper                int32
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

// PoolInfo is immutable pool metadata.
type PoolInfo struct {
	Address string
	Token0  string
	Token1  string
	Fee     uint32
	Symbol0 string
	Symbol1 string
}

// PairName renders "SYM0/SYM1".
func (p *PoolInfo) PairName() string {
	return fmt.Sprintf("%s/%s", p.Symbol0, p.Symbol1)
}

// TokenAmount is a decimals-normalized quantity of one token.
type TokenAmount struct {
	Token  string
	Amount float64
}
