package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using SQLite.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

var snapshotColumns = []string{
	"pool_address", "position_token_id", "pool_name", "pair_name", "owner",
	"query_time", "position_create_time", "position_duration_h", "block_number", "end_block_number",
	"base_token_address", "quote_token_address", "base_token_location", "base_price_usd", "quote_price_usd",
	"total_add_base_amount", "total_add_quote_amount", "total_add_base_value_usd", "total_add_quote_value_usd", "total_add_value_usd",
	"total_remove_base_amount", "total_remove_quote_amount", "total_remove_base_value_usd", "total_remove_quote_value_usd", "total_remove_value_usd",
	"total_fee_claim_base_amount", "total_fee_claim_quote_amount", "total_fee_claim_base_value_usd", "total_fee_claim_quote_value_usd", "total_fee_claim_value_usd",
	"unclaimed_fee_base_amount", "unclaimed_fee_quote_amount", "unclaimed_fee_base_value_usd", "unclaimed_fee_quote_value_usd", "unclaimed_fee_value_usd",
	"current_base_amount", "current_quote_amount", "current_position_value_usd",
	"pnl_total_usd", "pnl_total_percentage", "is_active",
}

var upsertSnapshotQuery = func() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(snapshotColumns)), ", ")
	var updates []string
	for _, col := range snapshotColumns[3:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	updates = append(updates, "updated_at = CURRENT_TIMESTAMP")

	return fmt.Sprintf(`INSERT INTO lp_strategy_snapshots (%s) VALUES (%s)
		ON CONFLICT (pool_address, position_token_id, pool_name) DO UPDATE SET %s`,
		strings.Join(snapshotColumns, ", "), placeholders, strings.Join(updates, ", "))
}()

func totalsArgs(t domain.Totals) []any {
	return []any{t.BaseAmount, t.QuoteAmount, t.BaseValueUSD, t.QuoteValueUSD, t.ValueUSD}
}

func totalsDest(t *domain.Totals) []any {
	return []any{&t.BaseAmount, &t.QuoteAmount, &t.BaseValueUSD, &t.QuoteValueUSD, &t.ValueUSD}
}

// Upsert inserts or replaces the snapshot for its identity key.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.StrategySnapshot) error {
	if snap == nil || snap.PoolAddress == "" || snap.TokenID == "" {
		return storage.ErrInvalidInput
	}

	args := []any{
		snap.PoolAddress, snap.TokenID, snap.PoolName, snap.PairName, snap.Owner,
		snap.QueryTime, snap.CreateTime, snap.DurationHours, int64(snap.BlockNumber), nullableBlock(snap.EndBlockNumber),
		snap.BaseToken, snap.QuoteToken, snap.BaseTokenLocation, snap.BasePriceUSD, snap.QuotePriceUSD,
	}
	args = append(args, totalsArgs(snap.TotalAdd)...)
	args = append(args, totalsArgs(snap.TotalRemove)...)
	args = append(args, totalsArgs(snap.TotalFeeClaim)...)
	args = append(args, totalsArgs(snap.UnclaimedFee)...)
	args = append(args,
		snap.CurrentBaseAmount, snap.CurrentQuoteAmount, snap.CurrentPositionValueUSD,
		snap.PnLTotalUSD, snap.PnLTotalPercentage, snap.IsActive,
	)

	if _, err := s.db.ExecContext(ctx, upsertSnapshotQuery, args...); err != nil {
		return fmt.Errorf("upsert strategy snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot for a position. Returns ErrNotFound if not exists.
func (s *SnapshotStore) Get(ctx context.Context, key domain.PositionKey) (*domain.StrategySnapshot, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM lp_strategy_snapshots
		WHERE pool_address = ? AND position_token_id = ? AND pool_name = ?`, strings.Join(snapshotColumns, ", ")),
		key.PoolAddress, key.TokenID, key.PoolName)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}

// List retrieves all snapshots for a pool name, or every snapshot when poolName is empty.
func (s *SnapshotStore) List(ctx context.Context, poolName string) ([]*domain.StrategySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM lp_strategy_snapshots
		WHERE (?1 = '' OR pool_name = ?1)
		ORDER BY pool_address, position_token_id, pool_name`, strings.Join(snapshotColumns, ", ")),
		poolName)
	if err != nil {
		return nil, fmt.Errorf("list strategy snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.StrategySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy snapshot rows: %w", err)
	}
	return snaps, nil
}

func scanSnapshot(row rowScanner) (*domain.StrategySnapshot, error) {
	var (
		snap     domain.StrategySnapshot
		block    int64
		endBlock sql.NullInt64
	)

	dest := []any{
		&snap.PoolAddress, &snap.TokenID, &snap.PoolName, &snap.PairName, &snap.Owner,
		&snap.QueryTime, &snap.CreateTime, &snap.DurationHours, &block, &endBlock,
		&snap.BaseToken, &snap.QuoteToken, &snap.BaseTokenLocation, &snap.BasePriceUSD, &snap.QuotePriceUSD,
	}
	dest = append(dest, totalsDest(&snap.TotalAdd)...)
	dest = append(dest, totalsDest(&snap.TotalRemove)...)
	dest = append(dest, totalsDest(&snap.TotalFeeClaim)...)
	dest = append(dest, totalsDest(&snap.UnclaimedFee)...)
	dest = append(dest,
		&snap.CurrentBaseAmount, &snap.CurrentQuoteAmount, &snap.CurrentPositionValueUSD,
		&snap.PnLTotalUSD, &snap.PnLTotalPercentage, &snap.IsActive,
	)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan strategy snapshot row: %w", err)
	}

	snap.BlockNumber = uint64(block)
	snap.EndBlockNumber = blockPtr(endBlock)
	return &snap, nil
}
