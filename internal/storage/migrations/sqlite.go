package migrations

import (
	"context"
	"fmt"

	"lp-pnl-tracker/internal/storage/sqlite"
)

// RunSQLiteMigrations applies all embedded SQLite files in lexical order.
// Migrations are expected to be idempotent.
func RunSQLiteMigrations(ctx context.Context, db *sqlite.DB) error {
	return apply(SQLiteFS, "sqlite", func(file, sql string) error {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		return nil
	})
}
