package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
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

	query := `INSERT INTO lp_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.pool.Exec(ctx, query,
		p.PoolAddress,
		p.TokenID,
		p.PoolName,
		p.Chain,
		p.PairName,
		int64(p.Fee),
		p.TickLower,
		p.TickUpper,
		p.Token0,
		p.Token1,
		p.BaseToken,
		p.QuoteToken,
		p.BaseTokenLocation,
		p.Owner,
		p.CreationTime,
		int64(p.CreationBlock),
		p.IsActive,
		nullableBlock(p.EndBlock),
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
	query := `SELECT ` + positionColumns + `
		FROM lp_positions
		WHERE pool_address = $1 AND position_token_id = $2 AND pool_name = $3`

	rows, err := s.pool.Query(ctx, query, key.PoolAddress, key.TokenID, key.PoolName)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, storage.ErrNotFound
	}
	return positions[0], nil
}

// UpdateStatus sets is_active and end_block_number. Returns ErrNotFound if not exists.
func (s *PositionStore) UpdateStatus(ctx context.Context, key domain.PositionKey, isActive bool, endBlock *uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lp_positions
		SET is_active = $4, end_block_number = $5
		WHERE pool_address = $1 AND position_token_id = $2 AND pool_name = $3
	`, key.PoolAddress, key.TokenID, key.PoolName, isActive, nullableBlock(endBlock))
	if err != nil {
		return fmt.Errorf("update position status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves positions matching filter, ordered by creation_block ASC.
func (s *PositionStore) List(ctx context.Context, filter storage.PositionFilter) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM lp_positions
		WHERE ($1 = '' OR pool_name = $1)
		  AND ($2 = '' OR lower(owner) = lower($2))
		  AND (NOT $3 OR is_active)
		ORDER BY creation_block ASC, position_token_id ASC`

	rows, err := s.pool.Query(ctx, query, filter.PoolName, filter.Owner, filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var (
			p             domain.Position
			fee           int64
			creationBlock int64
			endBlock      *int64
		)

		err := rows.Scan(
			&p.PoolAddress,
			&p.TokenID,
			&p.PoolName,
			&p.Chain,
			&p.PairName,
			&fee,
			&p.TickLower,
			&p.TickUpper,
			&p.Token0,
			&p.Token1,
			&p.BaseToken,
			&p.QuoteToken,
			&p.BaseTokenLocation,
			&p.Owner,
			&p.CreationTime,
			&creationBlock,
			&p.IsActive,
			&endBlock,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}

		p.Fee = uint32(fee)
		p.CreationBlock = uint64(creationBlock)
		p.EndBlock = blockPtr(endBlock)
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
