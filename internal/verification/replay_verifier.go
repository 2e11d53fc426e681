package verification

import (
	"context"
	"errors"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/replay"
	"lp-pnl-tracker/internal/storage"
)

// ReplayVerifier implements Verifier over the stores.
type ReplayVerifier struct {
	positions storage.PositionStore
	snapshots storage.SnapshotStore
	runner    *replay.Runner
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Positions storage.PositionStore
	Ledger    storage.OperationLedger
	Snapshots storage.SnapshotStore
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		positions: opts.Positions,
		snapshots: opts.Snapshots,
		runner:    replay.NewRunner(opts.Ledger),
	}
}

// VerifyPosition replays pos and compares it with the stored status and
// snapshot. A missing snapshot is reported but is not a divergence.
func (v *ReplayVerifier) VerifyPosition(ctx context.Context, pos *domain.Position) (*VerificationResult, error) {
	// 1. Replay ledger
	state, err := v.runner.Position(ctx, pos)
	if err != nil {
		return nil, err
	}

	// 2. Compare stored position
	divergences := ComparePosition(pos, state)

	// 3. Compare stored snapshot
	result := &VerificationResult{Key: pos.Key(), Operations: state.Applied}
	snap, err := v.snapshots.Get(ctx, pos.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		result.HasSnapshot = true
		divergences = append(divergences, CompareSnapshot(snap, state)...)
	}

	result.Divergences = divergences
	result.Match = len(divergences) == 0
	return result, nil
}

// VerifyAll verifies all stored positions.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	positions, err := v.positions.List(ctx, storage.PositionFilter{})
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		TotalPositions: len(positions),
		Results:        make([]VerificationResult, 0, len(positions)),
	}

	for _, pos := range positions {
		result, err := v.VerifyPosition(ctx, pos)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, VerificationResult{
				Key:   pos.Key(),
				Match: false,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentPositions++
			continue
		}

		report.Results = append(report.Results, *result)
		if !result.HasSnapshot {
			report.MissingSnapshots++
		}
		if result.Match {
			report.MatchedPositions++
		} else {
			report.DivergentPositions++
		}
	}

	return report, nil
}

var _ Verifier = (*ReplayVerifier)(nil)
