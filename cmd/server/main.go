// Package main runs the long-lived tracker: the scan cycle scheduler,
// the Prometheus metrics endpoint and the read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lp-pnl-tracker/internal/api"
	"lp-pnl-tracker/internal/app"
	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/config"
	"lp-pnl-tracker/internal/logging"
	"lp-pnl-tracker/internal/observability"
	"lp-pnl-tracker/internal/orchestrator"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml/json/toml); env LPTRACKER_* overrides")
	once := flag.Bool("once", false, "Run a single cycle per instance and exit")
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

	done := make(chan struct{})
	go handleSignals(logger, cancel, done)

	err = run(ctx, cfg, logger, *once)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, once bool) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var watcher orchestrator.HeadWatcher
	if cfg.WSURL != "" {
		hw, err := chain.NewHeadWatcher(ctx, cfg.WSURL, nil, logger)
		if err != nil {
			logger.Warn("head subscription unavailable, polling every cycle", zap.Error(err))
		} else {
			defer hw.Close()
			watcher = hw
		}
	}

	orch := a.Orchestrator(watcher)
	if once {
		for _, r := range orch.RunOnce(ctx) {
			if r.Status == orchestrator.StatusFailed {
				return fmt.Errorf("instance %s: %s", r.Instance, r.Error)
			}
		}
		return nil
	}

	logger.Info("starting tracker",
		zap.String("chain", cfg.Chain),
		zap.Int("instances", len(a.Instances)),
		zap.String("storage", cfg.Storage.Backend),
		zap.Duration("interval", cfg.CycleInterval))

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		metrics := mux.NewRouter()
		metrics.Handle("/metrics", observability.Handler())
		g.Go(func() error { return serve(ctx, logger, "metrics", cfg.MetricsAddr, metrics) })
	}

	if cfg.HTTPAddr != "" {
		server := api.New(api.Options{
			Positions: a.Stores.Positions,
			Ledger:    a.Stores.Ledger,
			Snapshots: a.Stores.Snapshots,
			History:   a.History,
			Status:    orch,
			Logger:    logger,
		})
		g.Go(func() error { return serve(ctx, logger, "api", cfg.HTTPAddr, server.Router()) })
	}

	g.Go(func() error { return orch.Run(ctx) })

	return g.Wait()
}

// serve runs an HTTP server until ctx is cancelled.
func serve(ctx context.Context, logger *zap.Logger, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("server", name), zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleSignals cancels on the first signal and exits on a second one or
// when graceful shutdown takes too long.
func handleSignals(logger *zap.Logger, cancel context.CancelFunc, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
		os.Exit(1)
	case <-time.After(shutdownTimeout):
		logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
		os.Exit(1)
	case <-done:
	}
}
