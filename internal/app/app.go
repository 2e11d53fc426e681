// Package app wires configuration into the running components shared by
// the command binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/config"
	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/ingestion"
	"lp-pnl-tracker/internal/notify"
	"lp-pnl-tracker/internal/orchestrator"
	"lp-pnl-tracker/internal/pnl"
	"lp-pnl-tracker/internal/price"
	"lp-pnl-tracker/internal/storage"
	chstore "lp-pnl-tracker/internal/storage/clickhouse"
	"lp-pnl-tracker/internal/storage/memory"
	"lp-pnl-tracker/internal/storage/migrations"
	pgstore "lp-pnl-tracker/internal/storage/postgres"
	sqlitestore "lp-pnl-tracker/internal/storage/sqlite"
	"lp-pnl-tracker/internal/valuation"
)

// App holds every long-lived component built from a Config.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Instances []domain.Instance

	Stores  storage.Stores
	History storage.SnapshotHistoryStore // nil without ClickHouse

	Client   *chain.Client
	Reader   *chain.Reader
	Scanner  *chain.Scanner
	Prices   *price.CoinGecko
	Notifier notify.Notifier

	Discoverer *ingestion.Discoverer
	Manager    *ingestion.Manager
	Backfiller *ingestion.Backfiller
	Aggregator *pnl.Aggregator

	cleanup []func()
}

// New connects to storage and the RPC endpoint and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	instances, err := cfg.MonitoredInstances()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Instances: instances}

	stores, history, closeStores, err := OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.Stores, a.History = stores, history
	a.cleanup = append(a.cleanup, closeStores)

	client, err := chain.Dial(ctx, cfg.RPCURL,
		chain.WithMaxRetries(cfg.Scan.MaxRetries),
		chain.WithRetryDelay(cfg.Scan.RetryDelay),
		chain.WithCallTimeout(cfg.Scan.CallTimeout),
		chain.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Client = client
	a.cleanup = append(a.cleanup, client.Close)

	a.Reader = chain.NewReader(client, chain.NewCaches())
	a.Scanner = chain.NewScanner(client, chain.ScannerOptions{
		ChunkSize: cfg.Scan.ChunkSize,
		Workers:   cfg.Scan.Workers,
		Logger:    logger,
	})
	a.Prices = price.NewCoinGecko(
		price.WithBaseURL(cfg.Price.BaseURL),
		price.WithAPIKey(cfg.Price.APIKey),
		price.WithPlatform(cfg.Price.Platform),
		price.WithMaxRetries(cfg.Price.MaxRetries),
		price.WithRetryDelay(cfg.Price.RetryDelay),
		price.WithTimeouts(cfg.Price.CurrentTimeout, cfg.Price.HistoryTimeout),
		price.WithCurrentResolution(cfg.Price.CurrentResolution),
		price.WithLogger(logger))

	a.Notifier, err = NewNotifier(cfg.Telegram, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Discoverer = ingestion.NewDiscoverer(ingestion.DiscovererOptions{
		Logs:      a.Scanner,
		Chain:     a.Reader,
		Positions: stores.Positions,
		Workers:   cfg.Scan.Workers,
		Logger:    logger,
	})
	a.Manager = ingestion.NewManager(ingestion.ManagerOptions{
		Logs:            a.Scanner,
		Chain:           a.Reader,
		Prices:          a.Prices,
		Ledger:          stores.Ledger,
		EnrichWorkers:   cfg.Scan.Workers,
		PositionWorkers: cfg.Scan.Workers,
		Logger:          logger,
	})
	a.Backfiller = ingestion.NewBackfiller(ingestion.BackfillOptions{
		Discoverer:    a.Discoverer,
		Manager:       a.Manager,
		Positions:     stores.Positions,
		IncludeClosed: cfg.Scan.IncludeClosed,
		Logger:        logger,
	})
	a.Aggregator = pnl.NewAggregator(pnl.Options{
		Ledger:    stores.Ledger,
		Positions: stores.Positions,
		Snapshots: stores.Snapshots,
		Valuer:    valuation.NewValuer(a.Reader, logger),
		Prices:    a.Prices,
		Blocks:    a.Reader,
		Notifier:  a.Notifier,
		Workers:   cfg.Scan.Workers,
		Logger:    logger,
	})
	return a, nil
}

// Orchestrator builds the cycle scheduler. watcher may be nil.
func (a *App) Orchestrator(watcher orchestrator.HeadWatcher) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Options{
		Instances:     a.Instances,
		Head:          a.Reader,
		Backfiller:    a.Backfiller,
		Aggregator:    a.Aggregator,
		Positions:     a.Stores.Positions,
		Parameters:    a.Stores.Parameters,
		Watcher:       watcher,
		History:       a.History,
		Notifier:      a.Notifier,
		Interval:      a.Config.CycleInterval,
		IncludeClosed: a.Config.Scan.IncludeClosed,
		Logger:        a.Logger,
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// OpenStores opens the configured relational backend, applies its
// migrations and, when a DSN is set, the ClickHouse snapshot history.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Stores, storage.SnapshotHistoryStore, func(), error) {
	var (
		stores  storage.Stores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Backend {
	case config.BackendMemory:
		stores = memory.NewStores()

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores, nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return stores, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores = pgstore.NewStores(pool)

	case config.BackendSQLite:
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return stores, nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
			cleanup()
			return stores, nil, nil, fmt.Errorf("sqlite migrations: %w", err)
		}
		stores = sqlitestore.NewStores(db)

	default:
		return stores, nil, nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}

	var history storage.SnapshotHistoryStore
	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return stores, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		history = chstore.NewSnapshotHistoryStore(conn)
	}

	logger.Info("storage ready",
		zap.String("backend", cfg.Backend),
		zap.Bool("history", history != nil))
	return stores, history, cleanup, nil
}

// NewNotifier returns the Telegram notifier when configured, else a no-op.
func NewNotifier(cfg config.TelegramConfig, logger *zap.Logger) (notify.Notifier, error) {
	if !cfg.Enabled() {
		return notify.Nop{}, nil
	}
	tg, err := notify.NewTelegram(notify.TelegramOptions{
		Token:  cfg.Token,
		ChatID: cfg.ChatID,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}
