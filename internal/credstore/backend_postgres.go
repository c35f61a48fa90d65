package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type PostgresBackend struct {
	db        *sql.DB
	namespace string
}

func NewPostgresBackend(db *sql.DB, namespace string) (*PostgresBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("credential namespace is required")
	}
	b := &PostgresBackend{db: db, namespace: namespace}
	if err := b.ensureSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS client_credentials (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, key)
)`
	if _, err := b.db.Exec(q); err != nil {
		return fmt.Errorf("ensure client_credentials schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM client_credentials WHERE namespace = $1 AND key = $2`
	var v string
	if err := b.db.QueryRowContext(ctx, q, b.namespace, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query credential %s: %w", key, err)
	}
	return v, true, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO client_credentials (namespace, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value,
	updated_at = NOW()`
	if _, err := b.db.ExecContext(ctx, q, b.namespace, key, value); err != nil {
		return fmt.Errorf("upsert credential %s: %w", key, err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM client_credentials WHERE namespace = $1 AND key = ANY($2)`
	if _, err := b.db.ExecContext(ctx, q, b.namespace, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
