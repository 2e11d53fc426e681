package storage

import (
	"context"

	"lp-pnl-tracker/internal/domain"
)

// PositionFilter narrows PositionStore.List. Zero fields match everything.
type PositionFilter struct {
	PoolName   string
	Owner      string
	ActiveOnly bool
}

// PositionStore provides access to lp_positions storage.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if the identity key exists.
	Insert(ctx context.Context, p *domain.Position) error

	// Get retrieves a position by identity key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key domain.PositionKey) (*domain.Position, error)

	// UpdateStatus sets is_active and end_block_number. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, key domain.PositionKey, isActive bool, endBlock *uint64) error

	// List retrieves positions matching filter, ordered by creation_block ASC.
	List(ctx context.Context, filter PositionFilter) ([]*domain.Position, error)
}

// OperationLedger provides access to lp_operations storage.
// Rows are unique on (pool_address, position_token_id, tx_hash, op_type) and never updated.
type OperationLedger interface {
	// Record inserts an operation. A duplicate is a no-op and reports inserted=false.
	Record(ctx context.Context, op *domain.Operation) (inserted bool, err error)

	// RecordMany inserts operations in one transaction, skipping duplicates.
	// Returns the number of rows actually written.
	RecordMany(ctx context.Context, ops []*domain.Operation) (int, error)

	// Replay retrieves a position's operations ordered by block_number, log_index ASC.
	Replay(ctx context.Context, poolAddress, tokenID string) ([]*domain.Operation, error)
}

// SnapshotStore provides access to lp_strategy_snapshots storage.
type SnapshotStore interface {
	// Upsert inserts or replaces the snapshot for its identity key.
	Upsert(ctx context.Context, s *domain.StrategySnapshot) error

	// Get retrieves the snapshot for a position. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key domain.PositionKey) (*domain.StrategySnapshot, error)

	// List retrieves all snapshots for a pool name, or every snapshot when poolName is empty.
	List(ctx context.Context, poolName string) ([]*domain.StrategySnapshot, error)
}

// ParameterStore provides access to lp_parameters storage.
type ParameterStore interface {
	// Get retrieves a parameter value. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a parameter value.
	Set(ctx context.Context, key, value string) error
}

// SnapshotHistoryStore keeps every snapshot produced, one row per position per cycle.
type SnapshotHistoryStore interface {
	// Append adds snapshots to the history.
	Append(ctx context.Context, snapshots []*domain.StrategySnapshot) error

	// History retrieves up to limit snapshots for a position, newest first.
	History(ctx context.Context, key domain.PositionKey, limit int) ([]*domain.StrategySnapshot, error)
}

// Stores bundles the relational stores of one backend.
type Stores struct {
	Positions  PositionStore
	Ledger     OperationLedger
	Snapshots  SnapshotStore
	Parameters ParameterStore
}
