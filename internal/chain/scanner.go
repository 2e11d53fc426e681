package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lp-pnl-tracker/internal/observability"
)

// Default scan tuning.
const (
	DefaultChunkSize = 10000
	DefaultWorkers   = 8
)

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

// ChunkRanges splits [from, to] into inclusive ranges of at most size blocks.
// Returns nil when from > to.
func ChunkRanges(from, to, size uint64) []Range {
	if from > to {
		return nil
	}
	if size == 0 {
		size = DefaultChunkSize
	}
	ranges := make([]Range, 0, (to-from)/size+1)
	for start := from; ; start += size {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		ranges = append(ranges, Range{From: start, To: end})
		if end == to {
			break
		}
	}
	return ranges
}

// LogFilter selects logs by contract and topics. Block bounds are supplied
// per scan.
type LogFilter struct {
	Name      string // event label for metrics and logs
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Scanner queries logs over large block ranges in fixed-size chunks.
// At most Workers eth_getLogs requests are in flight across all
// concurrent Scan calls on the same Scanner.
type Scanner struct {
	client    *Client
	chunkSize uint64
	workers   int
	inflight  *semaphore.Weighted
	logger    *zap.Logger
}

// ScannerOptions contains configuration for creating a Scanner.
type ScannerOptions struct {
	ChunkSize uint64
	Workers   int
	Logger    *zap.Logger
}

// NewScanner creates a chunked log scanner.
func NewScanner(client *Client, opts ScannerOptions) *Scanner {
	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		client:    client,
		chunkSize: chunk,
		workers:   workers,
		inflight:  semaphore.NewWeighted(int64(workers)),
		logger:    logger.With(zap.String("component", "scanner")),
	}
}

// Scan returns all logs matching filter in [from, to], ordered by
// (block number, log index). A chunk that fails after retries fails the
// whole scan.
func (s *Scanner) Scan(ctx context.Context, filter LogFilter, from, to uint64) ([]types.Log, error) {
	ranges := ChunkRanges(from, to, s.chunkSize)
	if len(ranges) == 0 {
		return nil, nil
	}

	results := make([][]types.Log, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, r := range ranges {
		g.Go(func() error {
			q := ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(r.From),
				ToBlock:   new(big.Int).SetUint64(r.To),
				Addresses: filter.Addresses,
				Topics:    filter.Topics,
			}
			logs, err := s.filterLogs(gctx, q)
			if err != nil {
				return fmt.Errorf("scan %s [%d,%d]: %w", filter.Name, r.From, r.To, err)
			}
			observability.RecordChunkScanned(filter.Name, len(logs))
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []types.Log
	for _, logs := range results {
		for _, l := range logs {
			if l.Removed {
				continue
			}
			all = append(all, l)
		}
	}
	SortLogs(all)

	s.logger.Debug("scan complete",
		zap.String("event", filter.Name),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("chunks", len(ranges)),
		zap.Int("logs", len(all)))
	return all, nil
}

func (s *Scanner) filterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := s.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.inflight.Release(1)
	return s.client.FilterLogs(ctx, q)
}

// SortLogs orders logs by (block number ASC, log index ASC).
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
