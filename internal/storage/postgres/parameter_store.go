package postgres

import (
	"context"
	"fmt"
	"time"

	"lp-pnl-tracker/internal/storage"
)

// ParameterStore implements storage.ParameterStore using PostgreSQL.
type ParameterStore struct {
	pool *Pool
}

// NewParameterStore creates a new ParameterStore.
func NewParameterStore(pool *Pool) *ParameterStore {
	return &ParameterStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ParameterStore = (*ParameterStore)(nil)

// Get retrieves a parameter value. Returns ErrNotFound if not exists.
func (s *ParameterStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT param_value FROM lp_parameters WHERE param_key = $1
	`, key).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get parameter: %w", err)
	}
	return value, nil
}

// Set inserts or updates a parameter value.
func (s *ParameterStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO lp_parameters (param_key, param_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (param_key) DO UPDATE
		SET param_value = EXCLUDED.param_value,
		    updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set parameter: %w", err)
	}
	return nil
}
