// Package orchestrator runs scan cycles for the monitored instances.
// One cycle: checkpoint → latest block → discovery and ingestion →
// aggregation → snapshot history → checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/ingestion"
	"lp-pnl-tracker/internal/notify"
	"lp-pnl-tracker/internal/observability"
	"lp-pnl-tracker/internal/pnl"
	"lp-pnl-tracker/internal/storage"
)

// DefaultInterval is the pause between cycles.
const DefaultInterval = 30 * time.Second

// Cycle statuses used in RunResult and metrics.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// HeadSource returns the latest block number.
type HeadSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// HeadWatcher reports the highest block seen on a newHeads subscription,
// or 0 when none has arrived.
type HeadWatcher interface {
	Latest() uint64
}

// Backfiller discovers and ingests an explicit block range.
type Backfiller interface {
	BackfillRange(ctx context.Context, inst domain.Instance, from, to uint64) (*ingestion.BackfillResult, error)
}

// Aggregator materializes snapshots for a set of positions.
type Aggregator interface {
	AggregateAll(ctx context.Context, variant domain.Variant, positions []*domain.Position, block uint64) (*pnl.Result, error)
}

// Orchestrator coordinates scan cycles.
type Orchestrator struct {
	instances     []domain.Instance
	head          HeadSource
	watcher       HeadWatcher
	backfiller    Backfiller
	aggregator    Aggregator
	positions     storage.PositionStore
	parameters    storage.ParameterStore
	history       storage.SnapshotHistoryStore
	notifier      notify.Notifier
	interval      time.Duration
	includeClosed bool
	now           func() time.Time
	logger        *zap.Logger

	mu       sync.RWMutex
	status   map[string]*RunResult
	lastHead map[string]uint64
}

// Options for creating Orchestrator.
type Options struct {
	Instances []domain.Instance

	// Required collaborators
	Head       HeadSource
	Backfiller Backfiller
	Aggregator Aggregator
	Positions  storage.PositionStore
	Parameters storage.ParameterStore

	// Optional
	Watcher  HeadWatcher                  // skip cycles when no new head arrived
	History  storage.SnapshotHistoryStore // append every snapshot written
	Notifier notify.Notifier

	Interval      time.Duration
	IncludeClosed bool
	Now           func() time.Time
	Logger        *zap.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		instances:     opts.Instances,
		head:          opts.Head,
		watcher:       opts.Watcher,
		backfiller:    opts.Backfiller,
		aggregator:    opts.Aggregator,
		positions:     opts.Positions,
		parameters:    opts.Parameters,
		history:       opts.History,
		notifier:      notifier,
		interval:      interval,
		includeClosed: opts.IncludeClosed,
		now:           now,
		logger:        logger.With(zap.String("component", "orchestrator")),
		status:        make(map[string]*RunResult),
		lastHead:      make(map[string]uint64),
	}
}

// RunResult contains results from one instance cycle.
type RunResult struct {
	Instance            string        `json:"instance"`
	Status              string        `json:"status"`
	FromBlock           uint64        `json:"from_block"`
	ToBlock             uint64        `json:"to_block"`
	PositionsDiscovered int           `json:"positions_discovered"`
	PositionsScanned    int           `json:"positions_scanned"`
	OperationsIngested  int           `json:"operations_ingested"`
	DuplicatesSkipped   int           `json:"duplicates_skipped"`
	SnapshotsWritten    int           `json:"snapshots_written"`
	PositionsClosed     int           `json:"positions_closed"`
	AggregationFailures int           `json:"aggregation_failures"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
	Error               string        `json:"error,omitempty"`
}

// Run repeats RunOnce every interval until ctx is cancelled. Cycle
// failures are logged and never stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler started",
		zap.Int("instances", len(o.instances)),
		zap.Duration("interval", o.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		o.RunOnce(ctx)
		timer.Reset(o.interval)
	}
}

// RunOnce runs one cycle per instance, sequentially in config order.
// A failing instance does not prevent the others from running.
func (o *Orchestrator) RunOnce(ctx context.Context) []*RunResult {
	results := make([]*RunResult, 0, len(o.instances))
	allOK := true

	for _, inst := range o.instances {
		if ctx.Err() != nil {
			break
		}
		result, err := o.RunCycle(ctx, inst)
		if err != nil {
			allOK = false
			o.logger.Error("cycle failed",
				zap.String("instance", inst.Name()),
				zap.Error(err))
			if nerr := o.notifier.CycleFailed(ctx, inst.Name(), err); nerr != nil {
				o.logger.Warn("cycle-failure notification failed",
					zap.String("instance", inst.Name()),
					zap.Error(nerr))
			}
		}
		results = append(results, result)
	}

	if allOK && ctx.Err() == nil {
		observability.MarkCycleSuccess(o.now().Unix())
	}
	return results
}

// RunCycle runs one cycle for inst. The checkpoint only advances when
// every phase succeeds, so a failed cycle is retried from the same block.
func (o *Orchestrator) RunCycle(ctx context.Context, inst domain.Instance) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{Instance: inst.Name(), StartedAt: o.now()}

	err := o.runCycle(ctx, inst, result)

	result.Duration = time.Since(start)
	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Error = err.Error()
	case result.Status == "":
		result.Status = StatusSuccess
	}
	observability.RecordCycle(inst.Name(), result.Status, result.Duration.Seconds())
	o.setStatus(result)
	return result, err
}

func (o *Orchestrator) runCycle(ctx context.Context, inst domain.Instance, result *RunResult) error {
	name := inst.Name()

	// Phase 1: checkpoint and head
	from, err := o.checkpoint(ctx, inst)
	if err != nil {
		return fmt.Errorf("phase 1 (checkpoint): %w", err)
	}
	if o.watcher != nil {
		seen := o.watcher.Latest()
		if seen != 0 && seen <= o.lastSeenHead(name) {
			result.Status = StatusSkipped
			o.logger.Debug("no new head, skipping cycle", zap.String("instance", name), zap.Uint64("head", seen))
			return nil
		}
	}
	latest, err := o.head.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("phase 1 (latest block): %w", err)
	}
	result.FromBlock, result.ToBlock = from, latest

	// Phase 2: discovery and operation ingestion
	if from <= latest {
		bf, err := o.backfiller.BackfillRange(ctx, inst, from, latest)
		if err != nil {
			return fmt.Errorf("phase 2 (ingest %d-%d): %w", from, latest, err)
		}
		if bf.Discovery != nil {
			result.PositionsDiscovered = bf.Discovery.Inserted
		}
		result.PositionsScanned = bf.PositionsScanned
		result.OperationsIngested = bf.OperationsIngested
		result.DuplicatesSkipped = bf.DuplicatesSkipped
	}

	// Phase 3: aggregation
	positions, err := ingestion.InstancePositions(ctx, o.positions, inst, !o.includeClosed)
	if err != nil {
		return fmt.Errorf("phase 3 (list positions): %w", err)
	}
	agg, aggErr := o.aggregator.AggregateAll(ctx, inst.Variant, positions, latest)
	if agg != nil {
		result.SnapshotsWritten = agg.Written
		result.PositionsClosed = agg.Closed
		result.AggregationFailures = agg.Failed
	}

	// Phase 4: snapshot history
	if o.history != nil && agg != nil {
		if err := o.appendHistory(ctx, agg.Snapshots); err != nil {
			return fmt.Errorf("phase 4 (history): %w", err)
		}
	}
	if aggErr != nil {
		return fmt.Errorf("phase 3 (aggregate): %w", aggErr)
	}

	// Phase 5: checkpoint
	if err := o.parameters.Set(ctx, inst.CheckpointKey(), strconv.FormatUint(latest, 10)); err != nil {
		return fmt.Errorf("phase 5 (checkpoint): %w", err)
	}
	observability.UpdateCheckpoint(name, latest)
	o.markHead(name, latest)

	o.logger.Info("cycle complete",
		zap.String("instance", name),
		zap.Uint64("from", result.FromBlock),
		zap.Uint64("to", result.ToBlock),
		zap.Int("discovered", result.PositionsDiscovered),
		zap.Int("operations", result.OperationsIngested),
		zap.Int("snapshots", result.SnapshotsWritten),
		zap.Int("closed", result.PositionsClosed))
	return nil
}

// checkpoint returns the block the next scan starts from.
func (o *Orchestrator) checkpoint(ctx context.Context, inst domain.Instance) (uint64, error) {
	raw, err := o.parameters.Get(ctx, inst.CheckpointKey())
	if errors.Is(err, storage.ErrNotFound) {
		if inst.StartBlock != 0 {
			return inst.StartBlock, nil
		}
		return domain.DefaultStartBlock, nil
	}
	if err != nil {
		return 0, err
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", inst.CheckpointKey(), raw, err)
	}
	return block, nil
}

func (o *Orchestrator) appendHistory(ctx context.Context, snapshots []*domain.StrategySnapshot) error {
	written := make([]*domain.StrategySnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s != nil {
			written = append(written, s)
		}
	}
	if len(written) == 0 {
		return nil
	}
	start := time.Now()
	err := o.history.Append(ctx, written)
	observability.RecordDBQuery("history", "append", time.Since(start).Seconds(), err)
	return err
}

func (o *Orchestrator) lastSeenHead(instance string) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastHead[instance]
}

func (o *Orchestrator) markHead(instance string, block uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastHead[instance] = block
}

func (o *Orchestrator) setStatus(r *RunResult) {
	c := *r
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[r.Instance] = &c
}

// Status returns the last cycle result of every instance that has run,
// in config order.
func (o *Orchestrator) Status() []RunResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]RunResult, 0, len(o.status))
	for _, inst := range o.instances {
		if r, ok := o.status[inst.Name()]; ok {
			out = append(out, *r)
		}
	}
	return out
}
