package ingestion

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/domain"
)

// LogSource returns logs matching a filter over an inclusive block range.
type LogSource interface {
	// Scan returns logs ordered by (block number, log index).
	Scan(ctx context.Context, filter chain.LogFilter, from, to uint64) ([]types.Log, error)
}

// ChainSource provides the follow-up reads made for each discovered event.
type ChainSource interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	PoolInfo(ctx context.Context, pool common.Address) (*domain.PoolInfo, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// PriceSource provides historical USD prices.
type PriceSource interface {
	HistoricalPrice(ctx context.Context, token string, at time.Time) (float64, error)
}

var (
	_ LogSource   = (*chain.Scanner)(nil)
	_ ChainSource = (*chain.Reader)(nil)
)
