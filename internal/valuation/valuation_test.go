package valuation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-pnl-tracker/internal/domain"
)

const (
	token0 = "0x55d398326f99059fF775485246999027B3197955"
	token1 = "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
)

var q96, _ = new(big.Int).SetString("79228162514264337593543950336", 10)

func q128(n int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(n), 128)
}

func testState(liquidity int64) *domain.PositionState {
	return &domain.PositionState{
		Token0:                   token0,
		Token1:                   token1,
		Fee:                      500,
		TickLower:                -60,
		TickUpper:                60,
		Liquidity:                big.NewInt(liquidity),
		FeeGrowthInside0LastX128: big.NewInt(0),
		FeeGrowthInside1LastX128: big.NewInt(0),
		TokensOwed0:              big.NewInt(2),
		TokensOwed1:              big.NewInt(0),
	}
}

func testPool(tick int32) *domain.PoolSnapshot {
	return &domain.PoolSnapshot{
		Tick:                  tick,
		SqrtPriceX96:          q96,
		FeeGrowthGlobal0X128:  q128(5),
		FeeGrowthGlobal1X128:  q128(7),
		LowerFeeGrowthOutside: [2]*big.Int{q128(1), q128(2)},
		UpperFeeGrowthOutside: [2]*big.Int{q128(1), q128(1)},
	}
}

func TestNormalize(t *testing.T) {
	oneEth, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.InDelta(t, 1.5, Normalize(oneEth, 18), 1e-12)
	assert.InDelta(t, 12.345678, Normalize(big.NewInt(12345678), 6), 1e-12)
	assert.Equal(t, 0.0, Normalize(nil, 18))
}

func TestCurrentAmounts_InRange(t *testing.T) {
	amounts, err := CurrentAmounts(testState(1_000_000_000), testPool(0), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, token0, amounts[0].Token)
	assert.Equal(t, token1, amounts[1].Token)
	assert.Greater(t, amounts[0].Amount, 0.0)
	assert.Greater(t, amounts[1].Amount, 0.0)
	// Symmetric range around price 1 splits evenly up to rounding.
	assert.InDelta(t, amounts[0].Amount, amounts[1].Amount, 2)
}

func TestCurrentAmounts_OutOfRange(t *testing.T) {
	below, err := CurrentAmounts(testState(1_000_000), testPool(-100), 0, 0)
	require.NoError(t, err)
	assert.Greater(t, below[0].Amount, 0.0)
	assert.Equal(t, 0.0, below[1].Amount)

	above, err := CurrentAmounts(testState(1_000_000), testPool(100), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, above[0].Amount)
	assert.Greater(t, above[1].Amount, 0.0)
}

func TestCurrentAmounts_InvalidRange(t *testing.T) {
	state := testState(1)
	state.TickLower, state.TickUpper = 60, 60
	_, err := CurrentAmounts(state, testPool(0), 0, 0)
	assert.Error(t, err)
}

func TestUnclaimedFees(t *testing.T) {
	// In range: inside0 = 5-1-1 = 3, inside1 = 7-2-1 = 4 (in Q128 units).
	fees, err := UnclaimedFees(testState(10), testPool(0), 0, 1)
	require.NoError(t, err)

	assert.InDelta(t, 32.0, fees[0].Amount, 1e-12) // 10*3 + 2 already owed
	assert.InDelta(t, 4.0, fees[1].Amount, 1e-12)  // 10*4 scaled by one decimal
}

func TestUnclaimedFees_SubtractsLastCheckpoint(t *testing.T) {
	state := testState(10)
	state.FeeGrowthInside0LastX128 = q128(2)
	state.TokensOwed0 = big.NewInt(0)

	owed0, _, err := RawUnclaimedFees(state, testPool(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), owed0.Uint64())
}

type fakeReader struct {
	state    *domain.PositionState
	pool     *domain.PoolSnapshot
	posErr   error
	poolErr  error
	decimals map[common.Address]uint8
}

func (f *fakeReader) Position(ctx context.Context, manager common.Address, tokenID *big.Int, block uint64) (*domain.PositionState, error) {
	return f.state, f.posErr
}

func (f *fakeReader) PoolSnapshot(ctx context.Context, pool common.Address, tickLower, tickUpper int32, block uint64) (*domain.PoolSnapshot, error) {
	return f.pool, f.poolErr
}

func (f *fakeReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	d, ok := f.decimals[token]
	if !ok {
		return 0, errors.New("no decimals")
	}
	return d, nil
}

func testPosition() *domain.Position {
	return &domain.Position{
		PoolAddress: "0x36696169C63e42cd08ce11f5deeBbCeBae652050",
		TokenID:     "12345",
		PoolName:    "PancakeSwap V3",
		Token0:      token0,
		Token1:      token1,
		TickLower:   -60,
		TickUpper:   60,
	}
}

func TestValuer_Value(t *testing.T) {
	reader := &fakeReader{
		state: testState(10),
		pool:  testPool(0),
		decimals: map[common.Address]uint8{
			common.HexToAddress(token0): 0,
			common.HexToAddress(token1): 0,
		},
	}

	val := NewValuer(reader, nil).Value(context.Background(), "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364", testPosition(), 0)
	require.NotNil(t, val)
	assert.False(t, val.Placeholder)
	assert.InDelta(t, 32.0, val.Fees[0].Amount, 1e-12)
	assert.InDelta(t, 40.0, val.Fees[1].Amount, 1e-12)
	assert.Equal(t, int64(10), val.Liquidity.Int64())
}

func TestValuer_PlaceholderOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		reader *fakeReader
	}{
		{"position read fails", &fakeReader{posErr: errors.New("execution reverted")}},
		{"pool read fails", &fakeReader{state: testState(10), poolErr: errors.New("tick data missing")}},
		{"decimals fail", &fakeReader{state: testState(10), pool: testPool(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := NewValuer(tt.reader, nil).Value(context.Background(), "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364", testPosition(), 100)
			require.NotNil(t, val)
			assert.True(t, val.Placeholder)
			assert.Equal(t, token0, val.Amounts[0].Token)
			assert.Equal(t, token1, val.Amounts[1].Token)
			assert.Equal(t, 0.0, val.Amounts[0].Amount+val.Amounts[1].Amount+val.Fees[0].Amount+val.Fees[1].Amount)
		})
	}
}
