package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// PositionStore implements storage.PositionStore using SQLite.
type PositionStore struct {
	db *DB
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(db *DB) *PositionStore {
	return &PositionStore{db: db}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	pool_address, position_token_id, pool_name, chain, pair_name, fee, tick_lower, tick_upper,
	token0, token1, base_token_address, quote_token_address, base_token_location, owner,
	creation_time, creation_block, is_active, end_block_number`

// Insert adds a new position. Returns ErrDuplicateKey if the identity key exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO lp_positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PoolAddress, p.TokenID, p.PoolName, p.Chain, p.PairName, int64(p.Fee), p.TickLower, p.TickUpper,
		p.Token0, p.Token1, p.BaseToken, p.QuoteToken, p.BaseTokenLocation, p.Owner,
		p.CreationTime, int64(p.CreationBlock), p.IsActive, nullableBlock(p.EndBlock),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Get retrieves a position by identity key. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM lp_positions
		WHERE pool_address = ? AND position_token_id = ? AND pool_name = ?`,
		key.PoolAddress, key.TokenID, key.PoolName)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdateStatus sets is_active and end_block_number. Returns ErrNotFound if not exists.
func (s *PositionStore) UpdateStatus(ctx context.Context, key domain.PositionKey, isActive bool, endBlock *uint64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE lp_positions SET is_active = ?, end_block_number = ?
		WHERE pool_address = ? AND position_token_id = ? AND pool_name = ?`,
		isActive, nullableBlock(endBlock), key.PoolAddress, key.TokenID, key.PoolName)
	if err != nil {
		return fmt.Errorf("update position status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update position status: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves positions matching filter, ordered by creation_block ASC.
func (s *PositionStore) List(ctx context.Context, filter storage.PositionFilter) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM lp_positions
		WHERE (?1 = '' OR pool_name = ?1)
		  AND (?2 = '' OR lower(owner) = lower(?2))
		  AND (?3 = 0 OR is_active = 1)
		ORDER BY creation_block ASC, position_token_id ASC`,
		filter.PoolName, filter.Owner, filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p             domain.Position
		fee           int64
		creationBlock int64
		endBlock      sql.NullInt64
	)

	err := row.Scan(
		&p.PoolAddress, &p.TokenID, &p.PoolName, &p.Chain, &p.PairName, &fee, &p.TickLower, &p.TickUpper,
		&p.Token0, &p.Token1, &p.BaseToken, &p.QuoteToken, &p.BaseTokenLocation, &p.Owner,
		&p.CreationTime, &creationBlock, &p.IsActive, &endBlock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan position row: %w", err)
	}

	p.Fee = uint32(fee)
	p.CreationBlock = uint64(creationBlock)
	p.EndBlock = blockPtr(endBlock)
	return &p, nil
}
