package replay

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage/memory"
)

func op(opType domain.OpType, block uint64, index uint, liquidity int64, base, quote float64) *domain.Operation {
	return &domain.Operation{
		PoolAddress:    "0xpool",
		TokenID:        "1",
		OpType:         opType,
		TxHash:         fmt.Sprintf("0x%x%02x%s", block, index, opType),
		BlockNumber:    block,
		LogIndex:       index,
		BaseAmount:     base,
		QuoteAmount:    quote,
		BasePriceUSD:   1,
		QuotePriceUSD:  1,
		LiquidityDelta: big.NewInt(liquidity),
	}
}

func replayAll(t *testing.T, ops ...*domain.Operation) *State {
	t.Helper()
	state := NewState()
	require.NoError(t, Operations(context.Background(), ops, state))
	return state
}

func TestState_LiquidityAccumulator(t *testing.T) {
	state := NewState()

	require.NoError(t, state.Apply(op(domain.OpIncreaseLiquidity, 10, 0, 100, 0, 0)))
	assert.True(t, state.IsActive)
	assert.Equal(t, int64(100), state.Liquidity.Int64())

	require.NoError(t, state.Apply(op(domain.OpDecreaseLiquidity, 20, 0, 40, 0, 0)))
	assert.True(t, state.IsActive, "still active after first decrease")
	assert.Nil(t, state.EndBlock)

	require.NoError(t, state.Apply(op(domain.OpDecreaseLiquidity, 30, 0, 60, 0, 0)))
	assert.False(t, state.IsActive)
	require.NotNil(t, state.EndBlock)
	assert.Equal(t, uint64(30), *state.EndBlock)
	assert.Equal(t, 0, state.Liquidity.Sign())
}

func TestState_Lifecycle(t *testing.T) {
	state := replayAll(t,
		op(domain.OpMint, 100, 0, 0, 0, 0),
		op(domain.OpIncreaseLiquidity, 100, 1, 1000, 500, 500),
		op(domain.OpCollect, 150, 0, 0, 5, 3),
		op(domain.OpDecreaseLiquidity, 200, 0, 1000, 480, 520),
	)

	add := state.TotalAdd()
	assert.InDelta(t, 1000.0, add.ValueUSD, 1e-9)
	assert.InDelta(t, 500.0, add.BaseAmount, 1e-9)

	fees := state.TotalFeeClaim()
	assert.InDelta(t, 8.0, fees.ValueUSD, 1e-9)
	assert.InDelta(t, 5.0, fees.BaseValueUSD, 1e-9)
	assert.InDelta(t, 3.0, fees.QuoteValueUSD, 1e-9)

	remove := state.TotalRemove()
	assert.InDelta(t, 1000.0, remove.ValueUSD, 1e-9)

	assert.False(t, state.IsActive)
	require.NotNil(t, state.EndBlock)
	assert.Equal(t, uint64(200), *state.EndBlock)
	assert.Equal(t, 4, state.Applied)
	assert.Equal(t, 2, state.LiquidityOps)
}

func TestState_Reactivation(t *testing.T) {
	state := replayAll(t,
		op(domain.OpIncreaseLiquidity, 10, 0, 100, 1, 1),
		op(domain.OpDecreaseLiquidity, 20, 0, 100, 1, 1),
		op(domain.OpIncreaseLiquidity, 30, 0, 50, 1, 1),
	)
	assert.True(t, state.IsActive)
	assert.Nil(t, state.EndBlock)
	assert.Equal(t, int64(50), state.Liquidity.Int64())

	require.NoError(t, state.Apply(op(domain.OpDecreaseLiquidity, 40, 0, 50, 1, 1)))
	assert.False(t, state.IsActive)
	assert.Equal(t, uint64(40), *state.EndBlock, "most recent crossing wins")
}

func TestState_PriceWeightedTotals(t *testing.T) {
	inc := op(domain.OpIncreaseLiquidity, 10, 0, 100, 2, 3)
	inc.BasePriceUSD = 250
	inc.QuotePriceUSD = 0 // unavailable

	state := replayAll(t, inc)
	add := state.TotalAdd()
	assert.InDelta(t, 500.0, add.BaseValueUSD, 1e-9)
	assert.Equal(t, 0.0, add.QuoteValueUSD)
	assert.InDelta(t, 3.0, add.QuoteAmount, 1e-9)
	assert.InDelta(t, 500.0, add.ValueUSD, 1e-9)
}

func TestState_RejectsOutOfOrder(t *testing.T) {
	state := NewState()
	require.NoError(t, state.Apply(op(domain.OpIncreaseLiquidity, 20, 0, 1, 0, 0)))
	err := state.Apply(op(domain.OpCollect, 10, 0, 0, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidOrdering)
}

func TestState_UnknownOperation(t *testing.T) {
	err := NewState().Apply(op("Burn", 1, 0, 0, 0, 0))
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestOperations_SortsBeforeReplay(t *testing.T) {
	// Streams fetched independently arrive grouped by type.
	state := replayAll(t,
		op(domain.OpDecreaseLiquidity, 30, 0, 60, 0, 0),
		op(domain.OpDecreaseLiquidity, 20, 0, 40, 0, 0),
		op(domain.OpIncreaseLiquidity, 10, 0, 100, 0, 0),
	)
	assert.False(t, state.IsActive)
	assert.Equal(t, uint64(30), *state.EndBlock)
}

func TestOperations_Deterministic(t *testing.T) {
	ops := []*domain.Operation{
		op(domain.OpIncreaseLiquidity, 100, 1, 1000, 0.1, 0.2),
		op(domain.OpCollect, 150, 0, 0, 0.3, 0.7),
		op(domain.OpIncreaseLiquidity, 160, 0, 10, 1.1, 2.2),
		op(domain.OpDecreaseLiquidity, 200, 0, 400, 0.6, 0.9),
	}

	first := replayAll(t, ops...)
	second := replayAll(t, ops[3], ops[1], ops[0], ops[2])

	assert.Equal(t, first.TotalAdd(), second.TotalAdd())
	assert.Equal(t, first.TotalRemove(), second.TotalRemove())
	assert.Equal(t, first.TotalFeeClaim(), second.TotalFeeClaim())
	assert.Equal(t, first.Liquidity.String(), second.Liquidity.String())
	assert.Equal(t, first.IsActive, second.IsActive)
}

func TestRunner_Position(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()

	ops := []*domain.Operation{
		op(domain.OpIncreaseLiquidity, 100, 1, 1000, 500, 500),
		op(domain.OpCollect, 150, 0, 0, 5, 3),
		op(domain.OpDecreaseLiquidity, 200, 0, 1000, 480, 520),
	}
	_, err := ledger.RecordMany(ctx, ops)
	require.NoError(t, err)

	state, err := NewRunner(ledger).Position(ctx, &domain.Position{PoolAddress: "0xPOOL", TokenID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 3, state.Applied)
	assert.False(t, state.IsActive)
	assert.InDelta(t, 8.0, state.TotalFeeClaim().ValueUSD, 1e-9)
}

func TestRunner_EmptyLedger(t *testing.T) {
	state, err := NewRunner(memory.NewOperationLedger()).Position(context.Background(),
		&domain.Position{PoolAddress: "0xpool", TokenID: "404"})
	require.NoError(t, err)
	assert.Equal(t, 0, state.Applied)
	assert.False(t, state.IsActive)
	assert.Equal(t, domain.Totals{}, state.TotalAdd())
}
