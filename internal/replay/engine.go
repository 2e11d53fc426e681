package replay

import (
	"context"

	"lp-pnl-tracker/internal/domain"
)

// Engine consumes ledger operations in order.
type Engine interface {
	// OnOperation is called for each operation in order.
	// Operations are guaranteed to be ordered by (block_number, log_index).
	OnOperation(ctx context.Context, op *domain.Operation) error
}
