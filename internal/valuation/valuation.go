// Package valuation values a concentrated-liquidity position against a pool
// snapshot: current token amounts and unclaimed fees, normalized by decimals.
package valuation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/clmath"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/observability"
)

// ChainReader is the subset of chain reads valuation needs.
type ChainReader interface {
	Position(ctx context.Context, manager common.Address, tokenID *big.Int, block uint64) (*domain.PositionState, error)
	PoolSnapshot(ctx context.Context, pool common.Address, tickLower, tickUpper int32, block uint64) (*domain.PoolSnapshot, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Valuation is the state of one position at one block.
// Amounts and Fees are ordered token0, token1.
type Valuation struct {
	Amounts   [2]domain.TokenAmount
	Fees      [2]domain.TokenAmount
	Liquidity *big.Int
	// Placeholder is set when the position or pool could not be read and
	// every amount is zero.
	Placeholder bool
}

// Normalize converts a raw token amount to a human quantity.
func Normalize(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).InexactFloat64()
}

// CurrentAmounts returns the token amounts held by the position at the
// pool's current price, normalized by decimals.
func CurrentAmounts(state *domain.PositionState, pool *domain.PoolSnapshot, dec0, dec1 uint8) ([2]domain.TokenAmount, error) {
	sqrtPrice, err := clmath.FromBig(pool.SqrtPriceX96)
	if err != nil {
		return [2]domain.TokenAmount{}, fmt.Errorf("sqrt price: %w", err)
	}
	liquidity, err := clmath.FromBig(state.Liquidity)
	if err != nil {
		return [2]domain.TokenAmount{}, fmt.Errorf("liquidity: %w", err)
	}

	a0, a1, err := clmath.TokenAmountsForLiquidity(pool.Tick, state.TickLower, state.TickUpper, sqrtPrice, liquidity)
	if err != nil {
		return [2]domain.TokenAmount{}, err
	}

	return [2]domain.TokenAmount{
		{Token: state.Token0, Amount: Normalize(a0.ToBig(), dec0)},
		{Token: state.Token1, Amount: Normalize(a1.ToBig(), dec1)},
	}, nil
}

// UnclaimedFees returns fees accrued since the last position update plus
// the tokensOwed already recorded on chain, normalized by decimals.
func UnclaimedFees(state *domain.PositionState, pool *domain.PoolSnapshot, dec0, dec1 uint8) ([2]domain.TokenAmount, error) {
	owed0, owed1, err := RawUnclaimedFees(state, pool)
	if err != nil {
		return [2]domain.TokenAmount{}, err
	}
	return [2]domain.TokenAmount{
		{Token: state.Token0, Amount: Normalize(owed0.ToBig(), dec0)},
		{Token: state.Token1, Amount: Normalize(owed1.ToBig(), dec1)},
	}, nil
}

// RawUnclaimedFees returns unclaimed fees in raw token units.
func RawUnclaimedFees(state *domain.PositionState, pool *domain.PoolSnapshot) (*uint256.Int, *uint256.Int, error) {
	vals, err := toUint256(
		pool.FeeGrowthGlobal0X128, pool.FeeGrowthGlobal1X128,
		pool.LowerFeeGrowthOutside[0], pool.LowerFeeGrowthOutside[1],
		pool.UpperFeeGrowthOutside[0], pool.UpperFeeGrowthOutside[1],
		state.FeeGrowthInside0LastX128, state.FeeGrowthInside1LastX128,
		state.Liquidity, state.TokensOwed0, state.TokensOwed1,
	)
	if err != nil {
		return nil, nil, err
	}
	global0, global1 := vals[0], vals[1]
	lower := clmath.FeeGrowthOutside{Token0: vals[2], Token1: vals[3]}
	upper := clmath.FeeGrowthOutside{Token0: vals[4], Token1: vals[5]}
	last0, last1, liquidity := vals[6], vals[7], vals[8]
	recorded0, recorded1 := vals[9], vals[10]

	inside0, inside1 := clmath.FeeGrowthInside(lower, upper, state.TickLower, state.TickUpper, pool.Tick, global0, global1)
	owed0, owed1, err := clmath.TokensOwed(last0, last1, liquidity, inside0, inside1)
	if err != nil {
		return nil, nil, err
	}

	owed0.Add(owed0, recorded0)
	owed1.Add(owed1, recorded1)
	return owed0, owed1, nil
}

func toUint256(vals ...*big.Int) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = new(uint256.Int)
			continue
		}
		u, err := clmath.FromBig(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = u
	}
	return out, nil
}

// Valuer reads position and pool state and values the position.
type Valuer struct {
	reader ChainReader
	logger *zap.Logger
}

// NewValuer creates a Valuer.
func NewValuer(reader ChainReader, logger *zap.Logger) *Valuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Valuer{reader: reader, logger: logger.With(zap.String("component", "valuation"))}
}

// Value values pos at block (0 means latest). It never fails: when state
// cannot be read a zero-valued placeholder is returned and the condition
// is logged.
func (v *Valuer) Value(ctx context.Context, manager string, pos *domain.Position, block uint64) *Valuation {
	val, reason, err := v.value(ctx, manager, pos, block)
	if err == nil {
		return val
	}

	observability.RecordValuationFailure(reason)
	v.logger.Warn("valuation failed, using zero placeholder",
		zap.String("pool", pos.PoolAddress),
		zap.String("token_id", pos.TokenID),
		zap.Uint64("block", block),
		zap.String("reason", reason),
		zap.Error(err))
	return Placeholder(pos)
}

// Placeholder returns a zero valuation for pos.
func Placeholder(pos *domain.Position) *Valuation {
	return &Valuation{
		Amounts: [2]domain.TokenAmount{
			{Token: pos.Token0},
			{Token: pos.Token1},
		},
		Fees: [2]domain.TokenAmount{
			{Token: pos.Token0},
			{Token: pos.Token1},
		},
		Liquidity:   new(big.Int),
		Placeholder: true,
	}
}

func (v *Valuer) value(ctx context.Context, manager string, pos *domain.Position, block uint64) (*Valuation, string, error) {
	tokenID, ok := new(big.Int).SetString(pos.TokenID, 10)
	if !ok {
		return nil, "bad_token_id", fmt.Errorf("token id %q", pos.TokenID)
	}

	state, err := v.reader.Position(ctx, common.HexToAddress(manager), tokenID, block)
	if err != nil {
		return nil, "position_read", err
	}
	pool, err := v.reader.PoolSnapshot(ctx, common.HexToAddress(pos.PoolAddress), state.TickLower, state.TickUpper, block)
	if err != nil {
		return nil, "pool_read", err
	}
	dec0, err := v.reader.Decimals(ctx, common.HexToAddress(state.Token0))
	if err != nil {
		return nil, "decimals", err
	}
	dec1, err := v.reader.Decimals(ctx, common.HexToAddress(state.Token1))
	if err != nil {
		return nil, "decimals", err
	}

	amounts, err := CurrentAmounts(state, pool, dec0, dec1)
	if err != nil {
		return nil, "amounts", err
	}
	fees, err := UnclaimedFees(state, pool, dec0, dec1)
	if err != nil {
		return nil, "fees", err
	}

	return &Valuation{Amounts: amounts, Fees: fees, Liquidity: state.Liquidity}, "", nil
}
