package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/observability"
	"lp-pnl-tracker/internal/storage"
	"lp-pnl-tracker/internal/valuation"
)

// Default worker pool widths.
const (
	DefaultEnrichWorkers   = 8
	DefaultPositionWorkers = 2
)

// Manager turns a position's on-chain liquidity events into ledger operations.
// It scans the three event streams concurrently, enforces deterministic
// ordering and relies on the ledger's unique key for duplicate rejection.
type Manager struct {
	logs   LogSource
	chain  ChainSource
	prices PriceSource
	ledger storage.OperationLedger

	enrichWorkers   int
	positionWorkers int
	logger          *zap.Logger
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Logs   LogSource
	Chain  ChainSource
	Prices PriceSource
	Ledger storage.OperationLedger

	EnrichWorkers   int
	PositionWorkers int
	Logger          *zap.Logger
}

// NewManager creates a new ingestion manager.
func NewManager(opts ManagerOptions) *Manager {
	enrich := opts.EnrichWorkers
	if enrich <= 0 {
		enrich = DefaultEnrichWorkers
	}
	posWorkers := opts.PositionWorkers
	if posWorkers <= 0 {
		posWorkers = DefaultPositionWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logs:            opts.Logs,
		chain:           opts.Chain,
		prices:          opts.Prices,
		ledger:          opts.Ledger,
		enrichWorkers:   enrich,
		positionWorkers: posWorkers,
		logger:          logger.With(zap.String("component", "ingestion")),
	}
}

// IngestResult contains statistics from ingesting one or more positions.
type IngestResult struct {
	Positions  int
	Events     int
	Inserted   int
	Duplicates int
}

func (r *IngestResult) add(o *IngestResult) {
	r.Positions += o.Positions
	r.Events += o.Events
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
}

var liquidityStreams = []struct {
	name  string
	topic common.Hash
}{
	{"IncreaseLiquidity", chain.TopicIncreaseLiquidity},
	{"DecreaseLiquidity", chain.TopicDecreaseLiquidity},
	{"Collect", chain.TopicCollect},
}

// FetchEvents scans IncreaseLiquidity, DecreaseLiquidity and Collect logs of
// one token id concurrently and returns them merged in block order.
func (m *Manager) FetchEvents(ctx context.Context, manager common.Address, tokenID *big.Int, from, to uint64) ([]*LiquidityEvent, error) {
	streams := make([][]*LiquidityEvent, len(liquidityStreams))
	idTopic := common.BigToHash(tokenID)

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range liquidityStreams {
		g.Go(func() error {
			logs, err := m.logs.Scan(gctx, chain.LogFilter{
				Name:      s.name,
				Addresses: []common.Address{manager},
				Topics:    [][]common.Hash{{s.topic}, {idTopic}},
			}, from, to)
			if err != nil {
				return err
			}
			events := make([]*LiquidityEvent, 0, len(logs))
			for _, l := range logs {
				ev, err := DecodeLiquidityEvent(l)
				if err != nil {
					return fmt.Errorf("decode %s in tx %s: %w", s.name, l.TxHash.Hex(), err)
				}
				events = append(events, ev)
			}
			streams[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []*LiquidityEvent
	for _, s := range streams {
		merged = append(merged, s...)
	}
	SortLiquidityEvents(merged)
	return merged, nil
}

// Enrich converts decoded events into ledger operations: block time,
// decimals-normalized base/quote amounts and historical USD prices.
// A missing price is recorded as 0 and logged; chain read failures fail.
// Two events at the same chain position fail with ErrInvalidOrdering.
func (m *Manager) Enrich(ctx context.Context, pos *domain.Position, events []*LiquidityEvent) ([]*domain.Operation, error) {
	if len(events) == 0 {
		return nil, nil
	}

	dec0, err := m.chain.Decimals(ctx, common.HexToAddress(pos.Token0))
	if err != nil {
		return nil, fmt.Errorf("token0 decimals: %w", err)
	}
	dec1, err := m.chain.Decimals(ctx, common.HexToAddress(pos.Token1))
	if err != nil {
		return nil, fmt.Errorf("token1 decimals: %w", err)
	}

	ops := make([]*domain.Operation, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.enrichWorkers)

	for i, ev := range events {
		g.Go(func() error {
			ts, err := m.chain.BlockTimestamp(gctx, ev.BlockNumber)
			if err != nil {
				return fmt.Errorf("block %d timestamp: %w", ev.BlockNumber, err)
			}

			a0 := valuation.Normalize(ev.Amount0, dec0)
			a1 := valuation.Normalize(ev.Amount1, dec1)
			op := &domain.Operation{
				PoolAddress:    pos.PoolAddress,
				TokenID:        pos.TokenID,
				OpType:         ev.OpType,
				TxHash:         ev.TxHash.Hex(),
				BlockNumber:    ev.BlockNumber,
				LogIndex:       ev.LogIndex,
				OpTime:         ts,
				BaseToken:      pos.BaseToken,
				QuoteToken:     pos.QuoteToken,
				LiquidityDelta: new(big.Int).Set(ev.Liquidity),
			}
			if pos.BaseIsToken0() {
				op.BaseAmount, op.QuoteAmount = a0, a1
				op.BaseDecimals, op.QuoteDecimals = dec0, dec1
			} else {
				op.BaseAmount, op.QuoteAmount = a1, a0
				op.BaseDecimals, op.QuoteDecimals = dec1, dec0
			}

			at := time.UnixMilli(ts)
			op.BasePriceUSD = m.historicalPrice(gctx, pos.BaseToken, at)
			op.QuotePriceUSD = m.historicalPrice(gctx, pos.QuoteToken, at)

			ops[i] = op
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortOperations(ops)
	if err := ValidateOperationOrdering(ops); err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.TokenID, err)
	}
	return ops, nil
}

func (m *Manager) historicalPrice(ctx context.Context, token string, at time.Time) float64 {
	if m.prices == nil {
		return 0
	}
	p, err := m.prices.HistoricalPrice(ctx, token, at)
	if err != nil {
		m.logger.Warn("historical price unavailable, recording 0",
			zap.String("token", token),
			zap.Time("at", at),
			zap.Error(err))
		return 0
	}
	return p
}

// IngestPosition scans pos from max(from, creation block) to to and
// records every operation found. Re-running over an overlapping range is
// safe: duplicates are skipped by the ledger.
func (m *Manager) IngestPosition(ctx context.Context, variant domain.Variant, pos *domain.Position, from, to uint64) (*IngestResult, error) {
	result := &IngestResult{Positions: 1}

	start := from
	if pos.CreationBlock > start {
		start = pos.CreationBlock
	}
	if start > to {
		return result, nil
	}

	tokenID, ok := new(big.Int).SetString(pos.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: token id %q", domain.ErrInvalidPosition, pos.TokenID)
	}

	events, err := m.FetchEvents(ctx, common.HexToAddress(variant.PositionManager), tokenID, start, to)
	if err != nil {
		return nil, fmt.Errorf("fetch events of %s: %w", pos.TokenID, err)
	}
	result.Events = len(events)
	if len(events) == 0 {
		return result, nil
	}

	ops, err := m.Enrich(ctx, pos, events)
	if err != nil {
		return nil, fmt.Errorf("enrich events of %s: %w", pos.TokenID, err)
	}

	dbStart := time.Now()
	inserted, err := m.ledger.RecordMany(ctx, ops)
	observability.RecordDBQuery("ledger", "record_many", time.Since(dbStart).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("record operations of %s: %w", pos.TokenID, err)
	}

	result.Inserted = inserted
	result.Duplicates = len(ops) - inserted
	recordOperationMetrics(ops, inserted)

	m.logger.Debug("position ingested",
		zap.String("pool", pos.PoolAddress),
		zap.String("token_id", pos.TokenID),
		zap.Uint64("from", start),
		zap.Uint64("to", to),
		zap.Int("events", len(events)),
		zap.Int("inserted", inserted))
	return result, nil
}

// IngestPositions ingests positions with a bounded pool. Any position
// failure fails the batch.
func (m *Manager) IngestPositions(ctx context.Context, variant domain.Variant, positions []*domain.Position, from, to uint64) (*IngestResult, error) {
	total := &IngestResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.positionWorkers)
	for _, pos := range positions {
		g.Go(func() error {
			r, err := m.IngestPosition(gctx, variant, pos, from, to)
			if err != nil {
				return err
			}
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return total, nil
}

func recordOperationMetrics(ops []*domain.Operation, inserted int) {
	for _, op := range ops {
		observability.RecordOperationObserved(string(op.OpType))
	}
	observability.RecordOperations(inserted, len(ops)-inserted)
}
