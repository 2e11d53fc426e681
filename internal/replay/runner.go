package replay

import (
	"context"
	"fmt"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// Runner loads a position's ledger and replays it in block order.
type Runner struct {
	ledger storage.OperationLedger
}

// NewRunner creates a new replay runner.
func NewRunner(ledger storage.OperationLedger) *Runner {
	return &Runner{ledger: ledger}
}

// Run loads the operations of (poolAddress, tokenID) and replays them
// through engine.
func (r *Runner) Run(ctx context.Context, poolAddress, tokenID string, engine Engine) error {
	ops, err := r.ledger.Replay(ctx, poolAddress, tokenID)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	return Operations(ctx, ops, engine)
}

// Position replays the ledger of pos into a fresh State.
func (r *Runner) Position(ctx context.Context, pos *domain.Position) (*State, error) {
	state := NewState()
	if err := r.Run(ctx, pos.PoolAddress, pos.TokenID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Operations sorts a copy of ops and feeds it to engine.
func Operations(ctx context.Context, ops []*domain.Operation, engine Engine) error {
	ordered := make([]*domain.Operation, len(ops))
	copy(ordered, ops)
	SortOperations(ordered)

	for _, op := range ordered {
		if err := engine.OnOperation(ctx, op); err != nil {
			return err
		}
	}
	return nil
}
