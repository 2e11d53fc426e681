// Package main replays the operation ledger. With -pool and -token-id it
// prints one position's ledger and replayed state; otherwise it
// recomputes every snapshot from the ledger and live chain state without
// scanning for new events. With -verify it checks stored positions and
// snapshots against the replayed ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lp-pnl-tracker/internal/app"
	"lp-pnl-tracker/internal/config"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/ingestion"
	"lp-pnl-tracker/internal/logging"
	"lp-pnl-tracker/internal/replay"
	"lp-pnl-tracker/internal/verification"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	pool := flag.String("pool", "", "Pool address of a single position to replay")
	tokenID := flag.String("token-id", "", "Token id of a single position to replay")
	block := flag.Uint64("block", 0, "Valuation block for snapshots (default: latest)")
	verify := flag.Bool("verify", false, "Compare stored positions and snapshots with a ledger replay")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if (*pool == "") != (*tokenID == "") {
		fmt.Fprintln(os.Stderr, "--pool and --token-id must be given together")
		os.Exit(2)
	}

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

	switch {
	case *verify:
		err = verifyAll(ctx, cfg, logger, *outputJSON)
	case *pool != "":
		err = replayPosition(ctx, cfg, logger, *pool, *tokenID, *outputJSON)
	default:
		err = recomputeAll(ctx, cfg, logger, *block, *outputJSON)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("replay failed", zap.Error(err))
	}
}

// verifyAll needs only storage.
func verifyAll(ctx context.Context, cfg *config.Config, logger *zap.Logger, outputJSON bool) error {
	stores, _, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		Positions: stores.Positions,
		Ledger:    stores.Ledger,
		Snapshots: stores.Snapshots,
	}).VerifyAll(ctx)
	if err != nil {
		return err
	}

	if outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Verification Summary ===\n")
		fmt.Printf("Positions:         %d\n", report.TotalPositions)
		fmt.Printf("Matched:           %d\n", report.MatchedPositions)
		fmt.Printf("Divergent:         %d\n", report.DivergentPositions)
		fmt.Printf("Missing Snapshots: %d\n", report.MissingSnapshots)
		for _, r := range report.Results {
			if r.Match {
				continue
			}
			fmt.Printf("\n%s\n", r.Key)
			for _, d := range r.Divergences {
				fmt.Printf("  %-32s stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
			}
		}
	}

	if report.DivergentPositions > 0 {
		return fmt.Errorf("%d positions diverge from the ledger", report.DivergentPositions)
	}
	return nil
}

// replayPosition needs only storage, so it does not dial the RPC endpoint.
func replayPosition(ctx context.Context, cfg *config.Config, logger *zap.Logger, pool, tokenID string, outputJSON bool) error {
	stores, _, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := NewLoggingEngine(pool, tokenID, !outputJSON)
	if err := replay.NewRunner(stores.Ledger).Run(ctx, pool, tokenID, engine); err != nil {
		return err
	}

	stats := engine.Stats()
	if outputJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Position:          %s #%s\n", stats.PoolAddress, stats.TokenID)
	fmt.Printf("Operations:        %d (%d liquidity)\n", stats.Operations, stats.LiquidityOps)
	fmt.Printf("Liquidity:         %s\n", stats.Liquidity)
	fmt.Printf("Active:            %v\n", stats.IsActive)
	if stats.EndBlock != nil {
		fmt.Printf("End Block:         %d\n", *stats.EndBlock)
	}
	fmt.Printf("Total Add USD:     %.4f\n", stats.TotalAdd.ValueUSD)
	fmt.Printf("Total Remove USD:  %.4f\n", stats.TotalRemove.ValueUSD)
	fmt.Printf("Fee Claim USD:     %.4f\n", stats.TotalFeeClaim.ValueUSD)
	return nil
}

func recomputeAll(ctx context.Context, cfg *config.Config, logger *zap.Logger, block uint64, outputJSON bool) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if block == 0 {
		if block, err = a.Reader.LatestBlock(ctx); err != nil {
			return fmt.Errorf("latest block: %w", err)
		}
	}

	type instanceResult struct {
		Instance  string `json:"instance"`
		Positions int    `json:"positions"`
		Written   int    `json:"snapshots_written"`
		Closed    int    `json:"positions_closed"`
		Failed    int    `json:"failed"`
	}
	var (
		results []instanceResult
		errs    []error
	)
	for _, inst := range a.Instances {
		positions, err := ingestion.InstancePositions(ctx, a.Stores.Positions, inst, !cfg.Scan.IncludeClosed)
		if err != nil {
			return err
		}
		res, err := a.Aggregator.AggregateAll(ctx, inst.Variant, positions, block)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name(), err))
		}
		r := instanceResult{Instance: inst.Name(), Positions: len(positions)}
		if res != nil {
			r.Written, r.Closed, r.Failed = res.Written, res.Closed, res.Failed
		}
		results = append(results, r)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{"block": block, "instances": results}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Recomputed snapshots at block %d\n", block)
		for _, r := range results {
			fmt.Printf("  %-16s positions=%d written=%d closed=%d failed=%d\n", r.Instance, r.Positions, r.Written, r.Closed, r.Failed)
		}
	}
	return errors.Join(errs...)
}

// LoggingEngine applies operations to a replay.State and prints each one.
type LoggingEngine struct {
	state   *replay.State
	verbose bool
	stats   ReplayStats
}

// ReplayStats holds the replayed state of one position.
type ReplayStats struct {
	PoolAddress   string        `json:"pool_address"`
	TokenID       string        `json:"token_id"`
	Operations    int           `json:"operations"`
	LiquidityOps  int           `json:"liquidity_ops"`
	Liquidity     string        `json:"liquidity"`
	IsActive      bool          `json:"is_active"`
	EndBlock      *uint64       `json:"end_block,omitempty"`
	TotalAdd      domain.Totals `json:"total_add"`
	TotalRemove   domain.Totals `json:"total_remove"`
	TotalFeeClaim domain.Totals `json:"total_fee_claim"`
}

// NewLoggingEngine creates a new logging engine.
func NewLoggingEngine(pool, tokenID string, verbose bool) *LoggingEngine {
	return &LoggingEngine{
		state:   replay.NewState(),
		verbose: verbose,
		stats:   ReplayStats{PoolAddress: pool, TokenID: tokenID},
	}
}

// OnOperation applies op and logs it.
func (e *LoggingEngine) OnOperation(ctx context.Context, op *domain.Operation) error {
	if err := e.state.OnOperation(ctx, op); err != nil {
		return err
	}
	if e.verbose {
		fmt.Printf("[%s] block=%d log=%d type=%-18s base=%.6f quote=%.6f liquidity=%s\n",
			time.UnixMilli(op.OpTime).UTC().Format(time.RFC3339),
			op.BlockNumber,
			op.LogIndex,
			op.OpType,
			op.BaseAmount,
			op.QuoteAmount,
			e.state.Liquidity.String(),
		)
	}
	return nil
}

// Stats returns the replayed state.
func (e *LoggingEngine) Stats() ReplayStats {
	s := e.stats
	s.Operations = e.state.Applied
	s.LiquidityOps = e.state.LiquidityOps
	s.Liquidity = e.state.Liquidity.String()
	s.IsActive = e.state.IsActive
	s.EndBlock = e.state.EndBlock
	s.TotalAdd = e.state.TotalAdd()
	s.TotalRemove = e.state.TotalRemove()
	s.TotalFeeClaim = e.state.TotalFeeClaim()
	return s
}

var _ replay.Engine = (*LoggingEngine)(nil)
