package database

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed migrations/001_session_entries.up.sql
var sessionEntriesSQL string

var requiredTables = []string{
	"session_entries",
}

// EnsureSchema creates the credential store table when it is missing. The
// migration is idempotent.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	exists, err := hasAllRequiredTables(ctx, pool)
	if err != nil {
		return fmt.Errorf("check existing tables: %w", err)
	}
	if exists {
		slog.Info("database schema ensured")
		return nil
	}

	slog.Info("database schema missing tables; applying session entries migration")
	if _, err := pool.Exec(ctx, sessionEntriesSQL); err != nil {
		return fmt.Errorf("apply session entries migration: %w", err)
	}

	exists, err = hasAllRequiredTables(ctx, pool)
	if err != nil {
		return fmt.Errorf("re-check tables after migration: %w", err)
	}
	if !exists {
		return fmt.Errorf("schema initialization incomplete: required tables are still missing")
	}

	slog.Info("database schema ensured")
	return nil
}

func hasAllRequiredTables(ctx context.Context, pool Pool) (bool, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name = ANY($1)
	`, requiredTables).Scan(&count)
	if err != nil {
		return false, err
	}

	return count == len(requiredTables), nil
}
