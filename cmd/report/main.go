// Package main writes the PnL report over the stored snapshots as
// Markdown and CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lp-pnl-tracker/internal/app"
	"lp-pnl-tracker/internal/config"
	"lp-pnl-tracker/internal/logging"
	"lp-pnl-tracker/internal/reporting"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	poolName := flag.String("pool-name", "", "Restrict to one DEX (e.g. \"PancakeSwap V3\")")
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

	if err := run(context.Background(), cfg, logger, *outputDir, *poolName); err != nil {
		logger.Fatal("report failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, outputDir, poolName string) error {
	stores, _, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := reporting.NewGenerator(stores.Snapshots).Generate(ctx, poolName)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	mdPath := filepath.Join(outputDir, "PNL_REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	csvPath := filepath.Join(outputDir, "positions.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.Positions)), 0o644); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	logger.Info("report written",
		zap.String("markdown", mdPath),
		zap.String("csv", csvPath),
		zap.Int("positions", report.Summary.TotalPositions),
		zap.Float64("pnl_usd", report.Summary.PnLTotalUSD))
	return nil
}
