// Package pnl materializes StrategySnapshots: ledger replay, valuation at
// the latest block and live prices combined into one PnL view per position.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/notify"
	"lp-pnl-tracker/internal/observability"
	"lp-pnl-tracker/internal/replay"
	"lp-pnl-tracker/internal/storage"
	"lp-pnl-tracker/internal/valuation"
)

// DefaultWorkers bounds concurrent position aggregation.
const DefaultWorkers = 8

const msPerHour = float64(time.Hour / time.Millisecond)

// Valuer values a position at a block.
type Valuer interface {
	Value(ctx context.Context, manager string, pos *domain.Position, block uint64) *valuation.Valuation
}

// PriceSource provides live USD prices.
type PriceSource interface {
	CurrentPrice(ctx context.Context, token string) (float64, error)
}

// BlockClock resolves block timestamps in Unix milliseconds.
type BlockClock interface {
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// Options contains configuration for creating an Aggregator.
type Options struct {
	Ledger    storage.OperationLedger
	Positions storage.PositionStore
	Snapshots storage.SnapshotStore
	Valuer    Valuer
	Prices    PriceSource
	Blocks    BlockClock
	Notifier  notify.Notifier
	Workers   int
	Now       func() time.Time
	Logger    *zap.Logger
}

// Aggregator computes and stores StrategySnapshots.
type Aggregator struct {
	replay    *replay.Runner
	positions storage.PositionStore
	snapshots storage.SnapshotStore
	valuer    Valuer
	prices    PriceSource
	blocks    BlockClock
	notifier  notify.Notifier
	workers   int
	now       func() time.Time
	logger    *zap.Logger
}

// NewAggregator creates a new aggregator.
func NewAggregator(opts Options) *Aggregator {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		replay:    replay.NewRunner(opts.Ledger),
		positions: opts.Positions,
		snapshots: opts.Snapshots,
		valuer:    opts.Valuer,
		prices:    opts.Prices,
		blocks:    opts.Blocks,
		notifier:  notifier,
		workers:   workers,
		now:       now,
		logger:    logger.With(zap.String("component", "pnl")),
	}
}

// Result contains statistics from aggregating a set of positions.
type Result struct {
	Snapshots []*domain.StrategySnapshot // input order, nil where aggregation failed
	Written   int
	Closed    int
	Failed    int
}

// Aggregate replays the ledger of pos, values it at block and upserts its
// snapshot. The position's status is updated when replay changes it.
func (a *Aggregator) Aggregate(ctx context.Context, variant domain.Variant, pos *domain.Position, block uint64) (*domain.StrategySnapshot, error) {
	state, err := a.replay.Position(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", pos.TokenID, err)
	}

	isActive, endBlock := pos.IsActive, pos.EndBlock
	if state.LiquidityOps > 0 {
		isActive, endBlock = state.IsActive, state.EndBlock
	}

	val := a.valuer.Value(ctx, variant.PositionManager, pos, block)
	basePrice := a.livePrice(ctx, pos.BaseToken)
	quotePrice := a.livePrice(ctx, pos.QuoteToken)

	now := a.now()
	snap, err := a.build(ctx, pos, state, val, basePrice, quotePrice, isActive, endBlock, now)
	if err != nil {
		return nil, err
	}

	dbStart := time.Now()
	err = a.snapshots.Upsert(ctx, snap)
	observability.RecordDBQuery("snapshots", "upsert", time.Since(dbStart).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot %s: %w", pos.TokenID, err)
	}
	observability.RecordSnapshotWritten()

	if statusChanged(pos, isActive, endBlock) {
		if err := a.positions.UpdateStatus(ctx, pos.Key(), isActive, endBlock); err != nil {
			return nil, fmt.Errorf("update status %s: %w", pos.TokenID, err)
		}
		if pos.IsActive && !isActive {
			a.closed(ctx, snap)
		}
	}

	return snap, nil
}

func (a *Aggregator) build(
	ctx context.Context,
	pos *domain.Position,
	state *replay.State,
	val *valuation.Valuation,
	basePrice, quotePrice float64,
	isActive bool,
	endBlock *uint64,
	now time.Time,
) (*domain.StrategySnapshot, error) {
	bi, qi := 0, 1
	if !pos.BaseIsToken0() {
		bi, qi = 1, 0
	}

	var unclaimed domain.Totals
	unclaimed.Add(val.Fees[bi].Amount, val.Fees[qi].Amount, basePrice, quotePrice)

	currentBase := val.Amounts[bi].Amount
	currentQuote := val.Amounts[qi].Amount
	currentValue := currentBase*basePrice + currentQuote*quotePrice

	add := state.TotalAdd()
	feeClaim := state.TotalFeeClaim()
	pnl := unclaimed.ValueUSD + feeClaim.ValueUSD + currentValue - add.ValueUSD

	duration, err := a.duration(ctx, pos, isActive, endBlock, now)
	if err != nil {
		return nil, err
	}

	snap := &domain.StrategySnapshot{
		PoolAddress:             pos.PoolAddress,
		TokenID:                 pos.TokenID,
		PoolName:                pos.PoolName,
		PairName:                pos.PairName,
		Owner:                   pos.Owner,
		QueryTime:               now.UnixMilli(),
		CreateTime:              pos.CreationTime,
		DurationHours:           duration,
		BlockNumber:             pos.CreationBlock,
		BaseToken:               pos.BaseToken,
		QuoteToken:              pos.QuoteToken,
		BaseTokenLocation:       pos.BaseTokenLocation,
		BasePriceUSD:            basePrice,
		QuotePriceUSD:           quotePrice,
		TotalAdd:                add,
		TotalRemove:             state.TotalRemove(),
		TotalFeeClaim:           feeClaim,
		UnclaimedFee:            unclaimed,
		CurrentBaseAmount:       currentBase,
		CurrentQuoteAmount:      currentQuote,
		CurrentPositionValueUSD: currentValue,
		PnLTotalUSD:             pnl,
		PnLTotalPercentage:      Percentage(pnl, add.ValueUSD),
		IsActive:                isActive,
	}
	if endBlock != nil {
		end := *endBlock
		snap.EndBlockNumber = &end
	}
	return snap, nil
}

// Percentage returns pnl relative to invested, or 0 when nothing was invested.
func Percentage(pnl, invested float64) float64 {
	if invested == 0 {
		return 0
	}
	return pnl / invested * 100
}

// duration returns the position lifetime in hours: until now while
// active, until the end block otherwise.
func (a *Aggregator) duration(ctx context.Context, pos *domain.Position, isActive bool, endBlock *uint64, now time.Time) (float64, error) {
	end := now.UnixMilli()
	if !isActive && endBlock != nil {
		ts, err := a.blocks.BlockTimestamp(ctx, *endBlock)
		if err != nil {
			return 0, fmt.Errorf("end block %d timestamp: %w", *endBlock, err)
		}
		end = ts
	}
	ms := end - pos.CreationTime
	if ms < 0 {
		ms = 0
	}
	return float64(ms) / msPerHour, nil
}

func (a *Aggregator) livePrice(ctx context.Context, token string) float64 {
	if a.prices == nil {
		return 0
	}
	p, err := a.prices.CurrentPrice(ctx, token)
	if err != nil {
		a.logger.Warn("live price unavailable, valuing leg at 0",
			zap.String("token", token),
			zap.Error(err))
		return 0
	}
	return p
}

func (a *Aggregator) closed(ctx context.Context, snap *domain.StrategySnapshot) {
	observability.RecordPositionClosed()
	a.logger.Info("position closed",
		zap.String("pool", snap.PoolAddress),
		zap.String("token_id", snap.TokenID),
		zap.Float64("pnl_usd", snap.PnLTotalUSD),
		zap.Float64("pnl_pct", snap.PnLTotalPercentage))
	if err := a.notifier.PositionClosed(ctx, snap); err != nil {
		a.logger.Warn("position-closed notification failed",
			zap.String("token_id", snap.TokenID),
			zap.Error(err))
	}
}

func statusChanged(pos *domain.Position, isActive bool, endBlock *uint64) bool {
	if pos.IsActive != isActive {
		return true
	}
	switch {
	case pos.EndBlock == nil && endBlock == nil:
		return false
	case pos.EndBlock == nil || endBlock == nil:
		return true
	default:
		return *pos.EndBlock != *endBlock
	}
}

// AggregateAll aggregates positions with a bounded pool. A failing
// position does not stop the others; failures are joined into the
// returned error alongside the partial result. Positions not started
// before ctx is done are skipped and ctx's error is joined once.
func (a *Aggregator) AggregateAll(ctx context.Context, variant domain.Variant, positions []*domain.Position, block uint64) (*Result, error) {
	result := &Result{Snapshots: make([]*domain.StrategySnapshot, len(positions))}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(a.workers)

	for i, pos := range positions {
		wasActive := pos.IsActive
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := a.Aggregate(ctx, variant, pos, block)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				errs = append(errs, err)
				a.logger.Error("aggregation failed",
					zap.String("pool", pos.PoolAddress),
					zap.String("token_id", pos.TokenID),
					zap.Error(err))
				return nil
			}
			result.Snapshots[i] = snap
			result.Written++
			if wasActive && !snap.IsActive {
				result.Closed++
			}
			return nil
		})
	}
	errs = append(errs, g.Wait())

	return result, errors.Join(errs...)
}
