package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lp-pnl-tracker/internal/storage"
)

// ParameterStore implements storage.ParameterStore using SQLite.
type ParameterStore struct {
	db *DB
}

// NewParameterStore creates a new ParameterStore.
func NewParameterStore(db *DB) *ParameterStore {
	return &ParameterStore{db: db}
}

// Compile-time interface check.
var _ storage.ParameterStore = (*ParameterStore)(nil)

// Get retrieves a parameter value. Returns ErrNotFound if not exists.
func (s *ParameterStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT param_value FROM lp_parameters WHERE param_key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lp_parameters (param_key, param_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (param_key) DO UPDATE
		SET param_value = excluded.param_value,
		    updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set parameter: %w", err)
	}
	return nil
}
