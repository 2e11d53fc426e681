package ingestion

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage/memory"
)

const e18 = 1_000_000_000_000_000_000

func newTestManager(logs *fakeLogs, ch *fakeChain, ledger *memory.OperationLedger) *Manager {
	return NewManager(ManagerOptions{
		Logs:  logs,
		Chain: ch,
		Prices: &fakePrices{prices: map[string]float64{
			strings.ToLower(testToken0.Hex()): 2.5,
			strings.ToLower(testToken1.Hex()): 1,
		}},
		Ledger: ledger,
	})
}

// lifecycleLogs returns increase@100, collect@150 and decrease@200 for
// token 7, plus an unrelated increase for token 8.
func lifecycleLogs() *fakeLogs {
	logs := &fakeLogs{}
	logs.add(
		decreaseLog(7, 1000, 2*e18, 3_000_000, 200, 0, txHash(3)),
		collectLog(7, e18/2, 250_000, 150, 1, txHash(2)),
		increaseLog(7, 1000, 2*e18, 3_000_000, 100, 2, txHash(1)),
		increaseLog(8, 5, 1, 1, 120, 0, txHash(9)),
	)
	return logs
}

func TestManager_FetchEvents_MergesStreamsInBlockOrder(t *testing.T) {
	m := newTestManager(lifecycleLogs(), newFakeChain(), memory.NewOperationLedger())

	events, err := m.FetchEvents(context.Background(), testManager, big.NewInt(7), 0, 1000)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, domain.OpIncreaseLiquidity, events[0].OpType)
	assert.Equal(t, domain.OpCollect, events[1].OpType)
	assert.Equal(t, domain.OpDecreaseLiquidity, events[2].OpType)
	assert.Equal(t, uint64(100), events[0].BlockNumber)
	assert.Equal(t, uint64(200), events[2].BlockNumber)
}

func TestManager_IngestPosition(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), newFakeChain(), ledger)
	pos := testPosition("7", 100)

	res, err := m.IngestPosition(ctx, testVariant(), pos, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Duplicates)

	ops, err := ledger.Replay(ctx, pos.PoolAddress, "7")
	require.NoError(t, err)
	require.Len(t, ops, 3)

	inc := ops[0]
	assert.Equal(t, domain.OpIncreaseLiquidity, inc.OpType)
	assert.Equal(t, int64(100_000), inc.OpTime)
	assert.InDelta(t, 2.0, inc.BaseAmount, 1e-12)
	assert.InDelta(t, 3.0, inc.QuoteAmount, 1e-12)
	assert.Equal(t, uint8(18), inc.BaseDecimals)
	assert.Equal(t, uint8(6), inc.QuoteDecimals)
	assert.Equal(t, 2.5, inc.BasePriceUSD)
	assert.Equal(t, 1.0, inc.QuotePriceUSD)
	assert.Equal(t, int64(1000), inc.Liquidity().Int64())

	collect := ops[1]
	assert.Equal(t, domain.OpCollect, collect.OpType)
	assert.Equal(t, int64(0), collect.Liquidity().Int64())
	assert.InDelta(t, 0.5, collect.BaseAmount, 1e-12)
	assert.InDelta(t, 0.25, collect.QuoteAmount, 1e-12)

	assert.Equal(t, domain.OpDecreaseLiquidity, ops[2].OpType)
}

func TestManager_IngestPosition_Idempotent(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), newFakeChain(), ledger)
	pos := testPosition("7", 100)

	_, err := m.IngestPosition(ctx, testVariant(), pos, 0, 1000)
	require.NoError(t, err)

	res, err := m.IngestPosition(ctx, testVariant(), pos, 50, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, 3, ledger.Len())
}

func TestManager_IngestPosition_StartsAtCreationBlock(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), newFakeChain(), ledger)

	// Created after the increase at block 100.
	res, err := m.IngestPosition(ctx, testVariant(), testPosition("7", 120), 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	ops, err := ledger.Replay(ctx, testPool.Hex(), "7")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.OpCollect, ops[0].OpType)
}

func TestManager_IngestPosition_RangeBeforeCreation(t *testing.T) {
	ch := newFakeChain()
	logs := lifecycleLogs()
	m := newTestManager(logs, ch, memory.NewOperationLedger())

	res, err := m.IngestPosition(context.Background(), testVariant(), testPosition("7", 500), 0, 400)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)
	assert.Empty(t, logs.queries)
}

func TestManager_IngestPosition_BaseIsToken1(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), newFakeChain(), ledger)

	pos := testPosition("7", 100)
	pos.BaseToken, pos.QuoteToken = pos.Token1, pos.Token0
	pos.BaseTokenLocation = domain.LocationToken1

	_, err := m.IngestPosition(ctx, testVariant(), pos, 0, 1000)
	require.NoError(t, err)

	ops, err := ledger.Replay(ctx, pos.PoolAddress, "7")
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.InDelta(t, 3.0, ops[0].BaseAmount, 1e-12)
	assert.InDelta(t, 2.0, ops[0].QuoteAmount, 1e-12)
	assert.Equal(t, uint8(6), ops[0].BaseDecimals)
	assert.Equal(t, 1.0, ops[0].BasePriceUSD)
	assert.Equal(t, 2.5, ops[0].QuotePriceUSD)
}

func TestManager_IngestPosition_MissingPriceRecordsZero(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewOperationLedger()
	m := NewManager(ManagerOptions{
		Logs:   lifecycleLogs(),
		Chain:  newFakeChain(),
		Prices: &fakePrices{prices: map[string]float64{strings.ToLower(testToken1.Hex()): 1}},
		Ledger: ledger,
	})

	res, err := m.IngestPosition(ctx, testVariant(), testPosition("7", 100), 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	ops, err := ledger.Replay(ctx, testPool.Hex(), "7")
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, 0.0, op.BasePriceUSD)
		assert.Equal(t, 1.0, op.QuotePriceUSD)
	}
}

func TestManager_IngestPosition_ChainFailure(t *testing.T) {
	ch := newFakeChain()
	ch.tsErr = errors.New("rpc unavailable")
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), ch, ledger)

	_, err := m.IngestPosition(context.Background(), testVariant(), testPosition("7", 100), 0, 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc unavailable")
	assert.Equal(t, 0, ledger.Len())
}

func TestManager_IngestPosition_ScanFailure(t *testing.T) {
	logs := lifecycleLogs()
	logs.err = errors.New("chunk failed")
	m := newTestManager(logs, newFakeChain(), memory.NewOperationLedger())

	_, err := m.IngestPosition(context.Background(), testVariant(), testPosition("7", 100), 0, 1000)
	assert.Error(t, err)
}

func TestManager_IngestPosition_InvalidTokenID(t *testing.T) {
	m := newTestManager(lifecycleLogs(), newFakeChain(), memory.NewOperationLedger())

	_, err := m.IngestPosition(context.Background(), testVariant(), testPosition("not-a-number", 100), 0, 1000)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
}

func TestManager_IngestPositions(t *testing.T) {
	ledger := memory.NewOperationLedger()
	m := newTestManager(lifecycleLogs(), newFakeChain(), ledger)

	positions := []*domain.Position{testPosition("7", 100), testPosition("8", 100)}
	res, err := m.IngestPositions(context.Background(), testVariant(), positions, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Positions)
	assert.Equal(t, 4, res.Events)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 4, ledger.Len())
}

func TestManager_IngestPosition_RepeatedLogFails(t *testing.T) {
	logs := lifecycleLogs()
	// A node returning the same log twice.
	logs.add(collectLog(7, e18/2, 250_000, 150, 1, txHash(2)))
	ledger := memory.NewOperationLedger()
	m := newTestManager(logs, newFakeChain(), ledger)

	_, err := m.IngestPosition(context.Background(), testVariant(), testPosition("7", 100), 0, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOrdering)
	assert.Equal(t, 0, ledger.Len())
}

func TestManager_Enrich_SortsAcrossStreams(t *testing.T) {
	m := newTestManager(lifecycleLogs(), newFakeChain(), memory.NewOperationLedger())
	ctx := context.Background()

	events, err := m.FetchEvents(ctx, testManager, big.NewInt(7), 0, 1000)
	require.NoError(t, err)
	// Reverse so Enrich must reorder.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	ops, err := m.Enrich(ctx, testPosition("7", 100), events)
	require.NoError(t, err)
	require.NoError(t, ValidateOperationOrdering(ops))
	assert.Equal(t, uint64(100), ops[0].BlockNumber)
}
