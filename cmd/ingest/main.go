// Package main backfills one instance over an explicit block range:
// position discovery followed by operation ingestion, optionally
// followed by snapshot aggregation at the range end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"lp-pnl-tracker/internal/app"
	"lp-pnl-tracker/internal/config"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/ingestion"
	"lp-pnl-tracker/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	dex := flag.String("dex", domain.DEXPancake, "Instance DEX type (pancake, uniswap)")
	fromBlock := flag.Uint64("from-block", 0, "First block (default: instance start block)")
	toBlock := flag.Uint64("to-block", 0, "Last block, inclusive (default: latest)")
	aggregate := flag.Bool("aggregate", true, "Recompute snapshots at the last block")
	checkpoint := flag.Bool("checkpoint", false, "Advance the instance checkpoint to the last block")
	outputJSON := flag.Bool("json", false, "Output result as JSON")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	opts := ingestOptions{
		dex:        *dex,
		from:       *fromBlock,
		to:         *toBlock,
		aggregate:  *aggregate,
		checkpoint: *checkpoint,
	}
	summary, err := run(ctx, cfg, logger, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("ingest failed", zap.Error(err))
	}
	if summary == nil {
		return
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			logger.Fatal("encode result", zap.Error(err))
		}
		return
	}
	printSummary(summary)
}

type ingestOptions struct {
	dex        string
	from, to   uint64
	aggregate  bool
	checkpoint bool
}

// Summary is the outcome of one backfill run.
type Summary struct {
	Instance            string `json:"instance"`
	FromBlock           uint64 `json:"from_block"`
	ToBlock             uint64 `json:"to_block"`
	PositionsDiscovered int    `json:"positions_discovered"`
	PositionsKnown      int    `json:"positions_known"`
	MintsSkipped        int    `json:"mints_skipped"`
	PositionsScanned    int    `json:"positions_scanned"`
	OperationsFound     int    `json:"operations_found"`
	OperationsIngested  int    `json:"operations_ingested"`
	DuplicatesSkipped   int    `json:"duplicates_skipped"`
	SnapshotsWritten    int    `json:"snapshots_written"`
	PositionsClosed     int    `json:"positions_closed"`
	DurationMs          int64  `json:"duration_ms"`
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ingestOptions) (*Summary, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	inst, err := findInstance(a.Instances, opts.dex)
	if err != nil {
		return nil, err
	}

	from := opts.from
	if from == 0 {
		from = inst.StartBlock
	}
	to := opts.to
	if to == 0 {
		if to, err = a.Reader.LatestBlock(ctx); err != nil {
			return nil, fmt.Errorf("latest block: %w", err)
		}
	}
	if from > to {
		return nil, fmt.Errorf("from-block %d is after to-block %d", from, to)
	}

	bf, err := a.Backfiller.BackfillRange(ctx, inst, from, to)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Instance:            inst.Name(),
		FromBlock:           from,
		ToBlock:             to,
		PositionsDiscovered: bf.Discovery.Inserted,
		PositionsKnown:      bf.Discovery.Known,
		MintsSkipped:        bf.Discovery.Skipped,
		PositionsScanned:    bf.PositionsScanned,
		OperationsFound:     bf.OperationsFound,
		OperationsIngested:  bf.OperationsIngested,
		DuplicatesSkipped:   bf.DuplicatesSkipped,
		DurationMs:          bf.Duration.Milliseconds(),
	}

	if opts.aggregate {
		positions, err := ingestion.InstancePositions(ctx, a.Stores.Positions, inst, !cfg.Scan.IncludeClosed)
		if err != nil {
			return summary, err
		}
		res, err := a.Aggregator.AggregateAll(ctx, inst.Variant, positions, to)
		if res != nil {
			summary.SnapshotsWritten = res.Written
			summary.PositionsClosed = res.Closed
			if a.History != nil {
				if herr := a.History.Append(ctx, nonNil(res.Snapshots)); herr != nil {
					logger.Warn("append snapshot history", zap.Error(herr))
				}
			}
		}
		if err != nil {
			return summary, err
		}
	}

	if opts.checkpoint {
		if err := a.Stores.Parameters.Set(ctx, inst.CheckpointKey(), fmt.Sprintf("%d", to)); err != nil {
			return summary, fmt.Errorf("write checkpoint: %w", err)
		}
		logger.Info("checkpoint advanced", zap.String("key", inst.CheckpointKey()), zap.Uint64("block", to))
	}
	return summary, nil
}

func findInstance(instances []domain.Instance, dex string) (domain.Instance, error) {
	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		if strings.EqualFold(inst.Variant.DEXType, dex) {
			return inst, nil
		}
		names = append(names, inst.Variant.DEXType)
	}
	return domain.Instance{}, fmt.Errorf("no configured instance for dex %q (have %s)", dex, strings.Join(names, ", "))
}

func nonNil(snaps []*domain.StrategySnapshot) []*domain.StrategySnapshot {
	out := make([]*domain.StrategySnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func printSummary(s *Summary) {
	fmt.Printf("Instance:             %s\n", s.Instance)
	fmt.Printf("Blocks:               %d - %d\n", s.FromBlock, s.ToBlock)
	fmt.Printf("Positions discovered: %d (known %d, skipped %d)\n", s.PositionsDiscovered, s.PositionsKnown, s.MintsSkipped)
	fmt.Printf("Positions scanned:    %d\n", s.PositionsScanned)
	fmt.Printf("Operations:           %d found, %d ingested, %d duplicates\n", s.OperationsFound, s.OperationsIngested, s.DuplicatesSkipped)
	fmt.Printf("Snapshots written:    %d (%d closed)\n", s.SnapshotsWritten, s.PositionsClosed)
	fmt.Printf("Duration:             %dms\n", s.DurationMs)
}
