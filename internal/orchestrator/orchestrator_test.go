package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/ingestion"
	"lp-pnl-tracker/internal/pnl"
	"lp-pnl-tracker/internal/storage/memory"
)

const testOwner = "0x00000000000000000000000000000000000000aa"

type fakeHead struct {
	block uint64
	err   error
	calls int
}

func (f *fakeHead) LatestBlock(context.Context) (uint64, error) {
	f.calls++
	return f.block, f.err
}

type fakeWatcher struct{ head uint64 }

func (f *fakeWatcher) Latest() uint64 { return f.head }

type backfillCall struct{ from, to uint64 }

// fakeBackfiller inserts its positions on the first call, like a
// discoverer finding their mints.
type fakeBackfiller struct {
	store     *memory.PositionStore
	positions []*domain.Position
	err       error
	calls     []backfillCall
}

func (f *fakeBackfiller) BackfillRange(ctx context.Context, _ domain.Instance, from, to uint64) (*ingestion.BackfillResult, error) {
	f.calls = append(f.calls, backfillCall{from, to})
	if f.err != nil {
		return nil, f.err
	}
	inserted := 0
	for _, p := range f.positions {
		if err := f.store.Insert(ctx, p); err == nil {
			inserted++
		}
	}
	f.positions = nil
	return &ingestion.BackfillResult{
		Discovery:          &ingestion.DiscoveryResult{Inserted: inserted},
		PositionsScanned:   inserted,
		OperationsIngested: 3 * inserted,
	}, nil
}

type fakeAggregator struct {
	err    error
	failed int
	seen   [][]*domain.Position
	blocks []uint64
}

func (f *fakeAggregator) AggregateAll(_ context.Context, _ domain.Variant, positions []*domain.Position, block uint64) (*pnl.Result, error) {
	f.seen = append(f.seen, positions)
	f.blocks = append(f.blocks, block)
	res := &pnl.Result{Failed: f.failed}
	for _, p := range positions {
		res.Snapshots = append(res.Snapshots, &domain.StrategySnapshot{
			PoolAddress: p.PoolAddress,
			TokenID:     p.TokenID,
			PoolName:    p.PoolName,
			BlockNumber: block,
			IsActive:    p.IsActive,
		})
		res.Written++
	}
	return res, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	failed []string
	err    error
}

func (f *fakeNotifier) PositionClosed(context.Context, *domain.StrategySnapshot) error { return nil }

func (f *fakeNotifier) CycleFailed(_ context.Context, instance string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, instance)
	return f.err
}

func testInstance(t *testing.T, startBlock uint64) domain.Instance {
	t.Helper()
	v, err := domain.VariantFor(domain.DEXPancake)
	if err != nil {
		t.Fatalf("variant: %v", err)
	}
	return domain.Instance{Chain: "bsc", Variant: v, Owners: []string{testOwner}, StartBlock: startBlock}
}

func testPosition(inst domain.Instance, tokenID string) *domain.Position {
	return &domain.Position{
		PoolAddress:       "0x00000000000000000000000000000000000000b1",
		TokenID:           tokenID,
		PoolName:          inst.Variant.PoolName,
		Chain:             inst.Chain,
		Token0:            "0x00000000000000000000000000000000000000c0",
		Token1:            "0x00000000000000000000000000000000000000c1",
		BaseToken:         "0x00000000000000000000000000000000000000c0",
		QuoteToken:        "0x00000000000000000000000000000000000000c1",
		BaseTokenLocation: domain.LocationToken0,
		Owner:             testOwner,
		TickLower:         -10,
		TickUpper:         10,
		CreationBlock:     100,
		IsActive:          true,
	}
}

type harness struct {
	inst       domain.Instance
	head       *fakeHead
	backfiller *fakeBackfiller
	aggregator *fakeAggregator
	positions  *memory.PositionStore
	params     *memory.ParameterStore
	history    *memory.SnapshotHistoryStore
	notifier   *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	inst := testInstance(t, 100)
	positions := memory.NewPositionStore()
	return &harness{
		inst:       inst,
		head:       &fakeHead{block: 500},
		backfiller: &fakeBackfiller{store: positions},
		aggregator: &fakeAggregator{},
		positions:  positions,
		params:     memory.NewParameterStore(),
		history:    memory.NewSnapshotHistoryStore(),
		notifier:   &fakeNotifier{},
	}
}

func (h *harness) orchestrator(opts Options) *Orchestrator {
	opts.Instances = []domain.Instance{h.inst}
	opts.Head = h.head
	opts.Backfiller = h.backfiller
	opts.Aggregator = h.aggregator
	opts.Positions = h.positions
	opts.Parameters = h.params
	opts.History = h.history
	opts.Notifier = h.notifier
	return New(opts)
}

func TestRunCycle_FirstRunStartsAtInstanceStartBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.backfiller.positions = []*domain.Position{testPosition(h.inst, "1"), testPosition(h.inst, "2")}
	o := h.orchestrator(Options{})

	result, err := o.RunCycle(ctx, h.inst)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(h.backfiller.calls) != 1 || h.backfiller.calls[0] != (backfillCall{100, 500}) {
		t.Fatalf("backfill calls = %+v, want [{100 500}]", h.backfiller.calls)
	}
	if result.Status != StatusSuccess {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.PositionsDiscovered != 2 || result.OperationsIngested != 6 {
		t.Errorf("discovered=%d operations=%d, want 2 and 6", result.PositionsDiscovered, result.OperationsIngested)
	}
	if result.SnapshotsWritten != 2 {
		t.Errorf("snapshots = %d, want 2", result.SnapshotsWritten)
	}
	if h.aggregator.blocks[0] != 500 {
		t.Errorf("aggregated at block %d, want 500", h.aggregator.blocks[0])
	}

	cp, err := h.params.Get(ctx, h.inst.CheckpointKey())
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp != "500" {
		t.Errorf("checkpoint = %q, want 500", cp)
	}

	hist, err := h.history.History(ctx, testPosition(h.inst, "1").Key(), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
}

func TestRunCycle_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.params.Set(ctx, h.inst.CheckpointKey(), "450"); err != nil {
		t.Fatalf("set: %v", err)
	}
	o := h.orchestrator(Options{})

	if _, err := o.RunCycle(ctx, h.inst); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.backfiller.calls[0] != (backfillCall{450, 500}) {
		t.Errorf("backfill range = %+v, want {450 500}", h.backfiller.calls[0])
	}
}

func TestRunCycle_DefaultStartBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.inst.StartBlock = 0
	h.head.block = domain.DefaultStartBlock + 10
	o := h.orchestrator(Options{})

	if _, err := o.RunCycle(ctx, h.inst); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.backfiller.calls[0].from != domain.DefaultStartBlock {
		t.Errorf("from = %d, want %d", h.backfiller.calls[0].from, domain.DefaultStartBlock)
	}
}

func TestRunCycle_CheckpointAheadOfHeadSkipsIngestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.params.Set(ctx, h.inst.CheckpointKey(), "600"); err != nil {
		t.Fatalf("set: %v", err)
	}
	o := h.orchestrator(Options{})

	if _, err := o.RunCycle(ctx, h.inst); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(h.backfiller.calls) != 0 {
		t.Errorf("backfill called %d times, want 0", len(h.backfiller.calls))
	}
	if len(h.aggregator.blocks) != 1 {
		t.Errorf("aggregation should still run")
	}
}

func TestRunCycle_InvalidCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.params.Set(ctx, h.inst.CheckpointKey(), "not-a-block"); err != nil {
		t.Fatalf("set: %v", err)
	}
	o := h.orchestrator(Options{})

	if _, err := o.RunCycle(ctx, h.inst); err == nil {
		t.Fatal("expected error for unparsable checkpoint")
	}
	if h.head.calls != 0 {
		t.Errorf("latest block fetched after checkpoint failure")
	}
}

func TestRunCycle_BackfillErrorKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.backfiller.err = errors.New("rpc down")
	o := h.orchestrator(Options{})

	result, err := o.RunCycle(ctx, h.inst)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Status != StatusFailed || result.Error == "" {
		t.Errorf("result = %+v, want failed with error", result)
	}
	if _, err := h.params.Get(ctx, h.inst.CheckpointKey()); err == nil {
		t.Error("checkpoint written after failed cycle")
	}
	if len(h.aggregator.blocks) != 0 {
		t.Error("aggregation ran after ingestion failure")
	}
}

func TestRunCycle_AggregationErrorKeepsCheckpointButWritesHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.backfiller.positions = []*domain.Position{testPosition(h.inst, "1")}
	h.aggregator.err = errors.New("one position failed")
	h.aggregator.failed = 1
	o := h.orchestrator(Options{})

	result, err := o.RunCycle(ctx, h.inst)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.AggregationFailures != 1 {
		t.Errorf("failures = %d, want 1", result.AggregationFailures)
	}
	if _, err := h.params.Get(ctx, h.inst.CheckpointKey()); err == nil {
		t.Error("checkpoint written after failed aggregation")
	}
	hist, _ := h.history.History(ctx, testPosition(h.inst, "1").Key(), 0)
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
}

func TestRunCycle_ActiveOnlyUnlessIncludeClosed(t *testing.T) {
	ctx := context.Background()

	for _, includeClosed := range []bool{false, true} {
		h := newHarness(t)
		closed := testPosition(h.inst, "9")
		closed.IsActive = false
		h.backfiller.positions = []*domain.Position{testPosition(h.inst, "1"), closed}
		o := h.orchestrator(Options{IncludeClosed: includeClosed})

		if _, err := o.RunCycle(ctx, h.inst); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		want := 1
		if includeClosed {
			want = 2
		}
		if got := len(h.aggregator.seen[0]); got != want {
			t.Errorf("includeClosed=%v: aggregated %d positions, want %d", includeClosed, got, want)
		}
	}
}

func TestRunCycle_WatcherSkipsWithoutNewHead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := &fakeWatcher{head: 500}
	o := h.orchestrator(Options{Watcher: w})

	if _, err := o.RunCycle(ctx, h.inst); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	result, err := o.RunCycle(ctx, h.inst)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Errorf("status = %q, want skipped", result.Status)
	}
	if h.head.calls != 1 {
		t.Errorf("latest block fetched %d times, want 1", h.head.calls)
	}

	w.head = 510
	h.head.block = 510
	result, err = o.RunCycle(ctx, h.inst)
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("status = %q, want success after new head", result.Status)
	}
}

func TestRunOnce_NotifiesAndContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.head.err = errors.New("timeout")
	h.notifier.err = errors.New("telegram down")

	other := testInstance(t, 100)
	other.Chain = "eth"
	o := h.orchestrator(Options{})
	o.instances = append(o.instances, other)

	results := o.RunOnce(ctx)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != StatusFailed {
			t.Errorf("%s: status = %q, want failed", r.Instance, r.Status)
		}
	}
	if len(h.notifier.failed) != 2 || h.notifier.failed[0] != "bsc_pancake" || h.notifier.failed[1] != "eth_pancake" {
		t.Errorf("notified = %v", h.notifier.failed)
	}

	status := o.Status()
	if len(status) != 2 || status[0].Instance != "bsc_pancake" {
		t.Errorf("status = %+v", status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if len(o.Status()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no cycle ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStatus_ReturnsCopies(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Options{})
	if _, err := o.RunCycle(context.Background(), h.inst); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	s := o.Status()
	s[0].Status = "mutated"
	if o.Status()[0].Status != StatusSuccess {
		t.Error("Status exposed internal state")
	}
}
