package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/observability"
	"lp-pnl-tracker/internal/storage"
)

// Discoverer finds positions minted to monitored owners and stores them.
type Discoverer struct {
	logs      LogSource
	chain     ChainSource
	positions storage.PositionStore
	workers   int
	logger    *zap.Logger
}

// DiscovererOptions contains configuration for creating a Discoverer.
type DiscovererOptions struct {
	Logs      LogSource
	Chain     ChainSource
	Positions storage.PositionStore
	Workers   int
	Logger    *zap.Logger
}

// NewDiscoverer creates a position discoverer.
func NewDiscoverer(opts DiscovererOptions) *Discoverer {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultEnrichWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		logs:      opts.Logs,
		chain:     opts.Chain,
		positions: opts.Positions,
		workers:   workers,
		logger:    logger.With(zap.String("component", "discovery")),
	}
}

// DiscoveryResult contains statistics from a discovery pass.
type DiscoveryResult struct {
	Mints    int // Transfer-from-zero logs seen
	Inserted int // new positions stored
	Known    int // positions already stored
	Skipped  int // mints without a receipt or pool Mint log
}

// Discover scans Transfer(0x0 -> owner) logs of the instance's position
// manager in [from, to] for every owner and stores the positions found.
// Mints whose receipt or pool Mint log cannot be found are logged and
// skipped; RPC failures fail the pass.
func (d *Discoverer) Discover(ctx context.Context, inst domain.Instance, from, to uint64) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}
	if from > to {
		return result, nil
	}

	manager := common.HexToAddress(inst.Variant.PositionManager)
	for _, owner := range inst.Owners {
		ownerAddr := common.HexToAddress(owner)
		logs, err := d.logs.Scan(ctx, chain.LogFilter{
			Name:      "Transfer",
			Addresses: []common.Address{manager},
			Topics: [][]common.Hash{
				{chain.TopicTransfer},
				{common.Hash{}},
				{chain.AddressTopic(ownerAddr)},
			},
		}, from, to)
		if err != nil {
			return nil, fmt.Errorf("scan mints of %s: %w", owner, err)
		}

		transfers := make([]*TransferEvent, 0, len(logs))
		for _, l := range logs {
			tr, err := DecodeTransfer(l)
			if err != nil {
				return nil, fmt.Errorf("decode transfer in tx %s: %w", l.TxHash.Hex(), err)
			}
			transfers = append(transfers, tr)
		}
		result.Mints += len(transfers)

		if err := d.resolveAll(ctx, inst, manager, transfers, result); err != nil {
			return nil, err
		}
	}

	d.logger.Info("discovery complete",
		zap.String("instance", inst.Name()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("mints", result.Mints),
		zap.Int("inserted", result.Inserted),
		zap.Int("known", result.Known),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (d *Discoverer) resolveAll(ctx context.Context, inst domain.Instance, manager common.Address, transfers []*TransferEvent, result *DiscoveryResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, tr := range transfers {
		g.Go(func() error {
			outcome, err := d.resolve(gctx, inst, manager, tr)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeInserted:
				result.Inserted++
			case outcomeKnown:
				result.Known++
			case outcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	return g.Wait()
}

type resolveOutcome int

const (
	outcomeInserted resolveOutcome = iota
	outcomeKnown
	outcomeSkipped
)

func (d *Discoverer) resolve(ctx context.Context, inst domain.Instance, manager common.Address, tr *TransferEvent) (resolveOutcome, error) {
	receipt, err := d.chain.Receipt(ctx, tr.TxHash)
	if errors.Is(err, chain.ErrReceiptNotFound) {
		d.skip("receipt_missing", tr, err)
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, fmt.Errorf("receipt of %s: %w", tr.TxHash.Hex(), err)
	}

	mint, err := FindPoolMint(receipt, manager, tr.LogIndex)
	if err != nil {
		d.skip("mint_log_missing", tr, err)
		return outcomeSkipped, nil
	}

	info, err := d.chain.PoolInfo(ctx, mint.Pool)
	if err != nil {
		return 0, fmt.Errorf("pool info of %s: %w", mint.Pool.Hex(), err)
	}

	ts, err := d.chain.BlockTimestamp(ctx, tr.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("block %d timestamp: %w", tr.BlockNumber, err)
	}

	base, quote, location := domain.ResolveBaseQuote(inst.Chain, info.Token0, info.Token1)
	pos := &domain.Position{
		PoolAddress:       mint.Pool.Hex(),
		TokenID:           tr.TokenID.String(),
		PoolName:          inst.Variant.PoolName,
		Chain:             inst.Chain,
		PairName:          info.PairName(),
		Fee:               info.Fee,
		TickLower:         mint.TickLower,
		TickUpper:         mint.TickUpper,
		Token0:            info.Token0,
		Token1:            info.Token1,
		BaseToken:         base,
		QuoteToken:        quote,
		BaseTokenLocation: location,
		Owner:             tr.To.Hex(),
		CreationTime:      ts,
		CreationBlock:     tr.BlockNumber,
		IsActive:          true,
	}
	if err := pos.Validate(); err != nil {
		return 0, err
	}

	if err := d.positions.Insert(ctx, pos); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return outcomeKnown, nil
		}
		return 0, fmt.Errorf("insert position %s: %w", pos.TokenID, err)
	}

	observability.RecordPositionDiscovered()
	d.logger.Info("position discovered",
		zap.String("pool", pos.PoolAddress),
		zap.String("token_id", pos.TokenID),
		zap.String("pair", pos.PairName),
		zap.String("owner", pos.Owner),
		zap.Uint64("block", pos.CreationBlock))
	return outcomeInserted, nil
}

func (d *Discoverer) skip(reason string, tr *TransferEvent, err error) {
	observability.RecordAnomaly(reason)
	d.logger.Warn("skipping mint",
		zap.String("reason", reason),
		zap.String("tx", tr.TxHash.Hex()),
		zap.String("token_id", tr.TokenID.String()),
		zap.Error(err))
}
