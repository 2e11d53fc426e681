package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// OperationLedger implements storage.OperationLedger using PostgreSQL.
// Idempotency rests on the table's unique constraint, not on a prior read.
type OperationLedger struct {
	pool *Pool
}

// NewOperationLedger creates a new OperationLedger.
func NewOperationLedger(pool *Pool) *OperationLedger {
	return &OperationLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.OperationLedger = (*OperationLedger)(nil)

const insertOperationQuery = `
	INSERT INTO lp_operations (
		op_time, op_type, pool_address, position_token_id, base_token_address, quote_token_address,
		base_decimals, quote_decimals, base_amount, base_price_usd, quote_amount, quote_price_usd,
		liquidity, tx_hash, block_number, log_index
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (pool_address, position_token_id, tx_hash, op_type) DO NOTHING
`

// operationArgs lowercases the pool and tx hash so the unique key matches
// Operation.Key regardless of checksum casing.
func operationArgs(op *domain.Operation) []any {
	return []any{
		op.OpTime,
		string(op.OpType),
		strings.ToLower(op.PoolAddress),
		op.TokenID,
		op.BaseToken,
		op.QuoteToken,
		int16(op.BaseDecimals),
		int16(op.QuoteDecimals),
		op.BaseAmount,
		op.BasePriceUSD,
		op.QuoteAmount,
		op.QuotePriceUSD,
		op.Liquidity().String(),
		strings.ToLower(op.TxHash),
		int64(op.BlockNumber),
		int32(op.LogIndex),
	}
}

func validOperation(op *domain.Operation) bool {
	return op != nil && op.PoolAddress != "" && op.TokenID != "" && op.TxHash != "" && op.OpType.Valid()
}

// Record inserts an operation. A duplicate is a no-op and reports inserted=false.
func (l *OperationLedger) Record(ctx context.Context, op *domain.Operation) (bool, error) {
	if !validOperation(op) {
		return false, storage.ErrInvalidInput
	}

	tag, err := l.pool.Exec(ctx, insertOperationQuery, operationArgs(op)...)
	if err != nil {
		return false, fmt.Errorf("insert operation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordMany inserts operations in one transaction, skipping duplicates.
// Any other failure rolls back the whole batch.
func (l *OperationLedger) RecordMany(ctx context.Context, ops []*domain.Operation) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	for _, op := range ops {
		if !validOperation(op) {
			return 0, storage.ErrInvalidInput
		}
	}

	inserted := 0
	err := l.pool.withTx(ctx, func(tx pgx.Tx) error {
		for _, op := range ops {
			tag, err := tx.Exec(ctx, insertOperationQuery, operationArgs(op)...)
			if err != nil {
				return fmt.Errorf("insert operation in bulk: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// Replay retrieves a position's operations ordered by block_number, log_index ASC.
func (l *OperationLedger) Replay(ctx context.Context, poolAddress, tokenID string) ([]*domain.Operation, error) {
	query := `
		SELECT op_time, op_type, pool_address, position_token_id, base_token_address, quote_token_address,
		       base_decimals, quote_decimals, base_amount, base_price_usd, quote_amount, quote_price_usd,
		       liquidity, tx_hash, block_number, log_index
		FROM lp_operations
		WHERE pool_address = lower($1) AND position_token_id = $2
		ORDER BY block_number ASC, log_index ASC, id ASC
	`

	rows, err := l.pool.Query(ctx, query, poolAddress, tokenID)
	if err != nil {
		return nil, fmt.Errorf("replay operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// scanOperations scans multiple rows into a slice of Operation.
func scanOperations(rows pgx.Rows) ([]*domain.Operation, error) {
	var ops []*domain.Operation

	for rows.Next() {
		var (
			op            domain.Operation
			opType        string
			baseDecimals  int16
			quoteDecimals int16
			liquidity     string
			block         int64
			logIndex      int32
		)

		err := rows.Scan(
			&op.OpTime,
			&opType,
			&op.PoolAddress,
			&op.TokenID,
			&op.BaseToken,
			&op.QuoteToken,
			&baseDecimals,
			&quoteDecimals,
			&op.BaseAmount,
			&op.BasePriceUSD,
			&op.QuoteAmount,
			&op.QuotePriceUSD,
			&liquidity,
			&op.TxHash,
			&block,
			&logIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}

		delta, ok := new(big.Int).SetString(liquidity, 10)
		if !ok {
			return nil, fmt.Errorf("scan operation row: bad liquidity %q", liquidity)
		}

		op.OpType = domain.OpType(opType)
		op.BaseDecimals = uint8(baseDecimals)
		op.QuoteDecimals = uint8(quoteDecimals)
		op.LiquidityDelta = delta
		op.BlockNumber = uint64(block)
		op.LogIndex = uint(logIndex)
		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}

	return ops, nil
}
