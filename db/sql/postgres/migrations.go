package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ApplyMigrations runs the given DDL statements in order. Every statement
// must be idempotent (CREATE TABLE IF NOT EXISTS and friends); the gateway
// applies them on each startup when an event log DSN is configured.
func ApplyMigrations(ctx context.Context, db *sql.DB, statements ...string) error {
	if db == nil {
		return fmt.Errorf("postgres: db is nil")
	}
	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
