// Package store implements the Outbox, Inbox, Join and Lease persistence
// layer against PostgreSQL, the idiomatic Go substitute for the reference
// implementation's SQL Server target. Claiming uses FOR UPDATE SKIP LOCKED
// in place of SQL Server's UPDLOCK, ROWLOCK, READPAST row hints.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore owns the connection pool and the tenant-bundle schema
// (outbox, inbox, join_state, lease, idempotency_keys).
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore connects to dsn, verifies reachability, and deploys the
// tenant bundle schema idempotently. name is the store's logical identifier
// as returned by GetIdentifier (§4.7); the providers and the CLI pass the
// configured Name, or the full dsn when Name is empty.
func NewPostgresStore(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, name: name}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

// Identifier returns the store's logical name, used by Router and the
// Store provider to address this instance.
func (s *PostgresStore) Identifier() string { return s.name }

// ensureSchema deploys the tenant bundle described in SPEC_FULL.md §6. This
// is an idempotent bootstrap, not a versioned migration runner — schema
// deployment/rollback and the snapshot manifest are out of scope (§1).
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			due_time_utc TIMESTAMPTZ,
			processed_at TIMESTAMPTZ,
			is_processed BOOLEAN NOT NULL DEFAULT FALSE,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			processed_by TEXT,
			lease_owner TEXT,
			lease_expires_utc TIMESTAMPTZ,
			join_id TEXT,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			namespace TEXT NOT NULL DEFAULT 'default'
		)`,
		`CREATE INDEX IF NOT EXISTS outbox_claim_idx ON outbox (status, due_time_utc, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS outbox_join_idx ON outbox (join_id) WHERE join_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS outbox_cleanup_idx ON outbox (status, processed_at)`,

		`CREATE TABLE IF NOT EXISTS inbox (
			message_id TEXT NOT NULL,
			source TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			first_seen_utc TIMESTAMPTZ NOT NULL,
			last_seen_utc TIMESTAMPTZ NOT NULL,
			processed_utc TIMESTAMPTZ,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			lease_owner TEXT,
			lease_expires_utc TIMESTAMPTZ,
			visible_after_utc TIMESTAMPTZ,
			join_id TEXT,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			namespace TEXT NOT NULL DEFAULT 'default',
			PRIMARY KEY (message_id, source)
		)`,
		`CREATE INDEX IF NOT EXISTS inbox_claim_idx ON inbox (status, visible_after_utc, first_seen_utc)`,
		`CREATE INDEX IF NOT EXISTS inbox_cleanup_idx ON inbox (status, processed_utc)`,

		`CREATE TABLE IF NOT EXISTS join_state (
			join_id TEXT PRIMARY KEY,
			pending INTEGER NOT NULL,
			any_failed BOOLEAN NOT NULL DEFAULT FALSE,
			completed BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS lease (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_utc TIMESTAMPTZ NOT NULL,
			fencing BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT NOT NULL,
			scope TEXT NOT NULL,
			result_ref TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (key, scope)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
