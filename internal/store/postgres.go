package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"session-guard/internal/database"
)

// PostgresBackend stores both areas in session_entries, scoped by namespace
// so several guarded clients can share one database.
type PostgresBackend struct {
	pool      database.Pool
	namespace string
}

func NewPostgresBackend(pool database.Pool, namespace string) *PostgresBackend {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresBackend{pool: pool, namespace: namespace}
}

func (p *PostgresBackend) Get(ctx context.Context, area Area, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM session_entries
		 WHERE namespace = $1 AND area = $2 AND key = $3`,
		p.namespace, string(area), key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session entry: %w", err)
	}
	return value, true, nil
}

// Apply runs the batch in one transaction.
func (p *PostgresBackend) Apply(ctx context.Context, ops []Op) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin session entries tx: %w", err)
	}

	for _, op := range ops {
		if err := p.applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session entries tx: %w", err)
	}
	return nil
}

func (p *PostgresBackend) applyOp(ctx context.Context, tx pgx.Tx, op Op) error {
	switch op.Kind {
	case OpSet:
		_, err := tx.Exec(ctx,
			`INSERT INTO session_entries (namespace, area, key, value, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (namespace, area, key)
			 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			p.namespace, string(op.Area), op.Key, op.Value)
		if err != nil {
			return fmt.Errorf("set session entry: %w", err)
		}
	case OpDelete:
		_, err := tx.Exec(ctx,
			`DELETE FROM session_entries WHERE namespace = $1 AND area = $2 AND key = $3`,
			p.namespace, string(op.Area), op.Key)
		if err != nil {
			return fmt.Errorf("delete session entry: %w", err)
		}
	case OpClearArea:
		_, err := tx.Exec(ctx,
			`DELETE FROM session_entries WHERE namespace = $1 AND area = $2`,
			p.namespace, string(op.Area))
		if err != nil {
			return fmt.Errorf("clear session area: %w", err)
		}
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}
