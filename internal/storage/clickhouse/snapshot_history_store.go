package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// SnapshotHistoryStore implements storage.SnapshotHistoryStore using ClickHouse.
// Rows for the same (position, query_time) collapse under ReplacingMergeTree, so
// re-appending a cycle is harmless.
type SnapshotHistoryStore struct {
	conn *Conn
}

// NewSnapshotHistoryStore creates a new SnapshotHistoryStore.
func NewSnapshotHistoryStore(conn *Conn) *SnapshotHistoryStore {
	return &SnapshotHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)

const historyColumns = `
	pool_address, position_token_id, pool_name, pair_name, owner,
	query_time, position_create_time, position_duration_h, block_number, end_block_number,
	base_token_address, quote_token_address, base_token_location, base_price_usd, quote_price_usd,
	total_add_base_amount, total_add_quote_amount, total_add_value_usd,
	total_remove_base_amount, total_remove_quote_amount, total_remove_value_usd,
	total_fee_claim_base_amount, total_fee_claim_quote_amount, total_fee_claim_value_usd,
	unclaimed_fee_base_amount, unclaimed_fee_quote_amount, unclaimed_fee_value_usd,
	current_base_amount, current_quote_amount, current_position_value_usd,
	pnl_total_usd, pnl_total_percentage, is_active`

// Append adds snapshots to the history.
func (s *SnapshotHistoryStore) Append(ctx context.Context, snapshots []*domain.StrategySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO lp_snapshot_history (`+historyColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		if snap == nil || snap.PoolAddress == "" || snap.TokenID == "" {
			return storage.ErrInvalidInput
		}

		var active uint8
		if snap.IsActive {
			active = 1
		}

		err = batch.Append(
			snap.PoolAddress, snap.TokenID, snap.PoolName, snap.PairName, snap.Owner,
			snap.QueryTime, snap.CreateTime, snap.DurationHours, snap.BlockNumber, snap.EndBlockNumber,
			snap.BaseToken, snap.QuoteToken, snap.BaseTokenLocation, snap.BasePriceUSD, snap.QuotePriceUSD,
			snap.TotalAdd.BaseAmount, snap.TotalAdd.QuoteAmount, snap.TotalAdd.ValueUSD,
			snap.TotalRemove.BaseAmount, snap.TotalRemove.QuoteAmount, snap.TotalRemove.ValueUSD,
			snap.TotalFeeClaim.BaseAmount, snap.TotalFeeClaim.QuoteAmount, snap.TotalFeeClaim.ValueUSD,
			snap.UnclaimedFee.BaseAmount, snap.UnclaimedFee.QuoteAmount, snap.UnclaimedFee.ValueUSD,
			snap.CurrentBaseAmount, snap.CurrentQuoteAmount, snap.CurrentPositionValueUSD,
			snap.PnLTotalUSD, snap.PnLTotalPercentage, active,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// History retrieves up to limit snapshots for a position, newest first.
func (s *SnapshotHistoryStore) History(ctx context.Context, key domain.PositionKey, limit int) ([]*domain.StrategySnapshot, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + historyColumns + `
		FROM lp_snapshot_history FINAL
		WHERE pool_address = ? AND position_token_id = ? AND pool_name = ?
		ORDER BY query_time DESC
		LIMIT ?`

	rows, err := s.conn.Query(ctx, query, key.PoolAddress, key.TokenID, key.PoolName, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query snapshot history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// scanHistory scans rows into snapshots. Per-leg USD columns are not kept in history.
func scanHistory(rows driver.Rows) ([]*domain.StrategySnapshot, error) {
	var result []*domain.StrategySnapshot

	for rows.Next() {
		var (
			snap   domain.StrategySnapshot
			active uint8
		)

		err := rows.Scan(
			&snap.PoolAddress, &snap.TokenID, &snap.PoolName, &snap.PairName, &snap.Owner,
			&snap.QueryTime, &snap.CreateTime, &snap.DurationHours, &snap.BlockNumber, &snap.EndBlockNumber,
			&snap.BaseToken, &snap.QuoteToken, &snap.BaseTokenLocation, &snap.BasePriceUSD, &snap.QuotePriceUSD,
			&snap.TotalAdd.BaseAmount, &snap.TotalAdd.QuoteAmount, &snap.TotalAdd.ValueUSD,
			&snap.TotalRemove.BaseAmount, &snap.TotalRemove.QuoteAmount, &snap.TotalRemove.ValueUSD,
			&snap.TotalFeeClaim.BaseAmount, &snap.TotalFeeClaim.QuoteAmount, &snap.TotalFeeClaim.ValueUSD,
			&snap.UnclaimedFee.BaseAmount, &snap.UnclaimedFee.QuoteAmount, &snap.UnclaimedFee.ValueUSD,
			&snap.CurrentBaseAmount, &snap.CurrentQuoteAmount, &snap.CurrentPositionValueUSD,
			&snap.PnLTotalUSD, &snap.PnLTotalPercentage, &active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot history row: %w", err)
		}

		snap.IsActive = active == 1
		result = append(result, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot history rows: %w", err)
	}

	return result, nil
}
