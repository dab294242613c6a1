package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox is the contract described in SPEC_FULL.md §4.1. A caller-supplied
// transaction (via EnqueueTx) lets producers make a business-state update
// and the enqueue atomic.
type Outbox interface {
	Enqueue(ctx context.Context, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error)
	EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error)
	ClaimDue(ctx context.Context, batchSize int, owner string, leaseDuration time.Duration) ([]*OutboxRow, error)
	MarkDispatched(ctx context.Context, id, owner string) error
	Reschedule(ctx context.Context, id, owner string, delay time.Duration, lastError string) error
	Fail(ctx context.Context, id, owner, lastError string) error
	ReapExpired(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*OutboxRow, error)
}

func (s *PostgresStore) Enqueue(ctx context.Context, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error) {
	scope := TenantScopeFromContext(ctx)
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox (id, topic, payload, status, created_at, due_time_utc, join_id, tenant_id, namespace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, topic, payload, OutboxReady, now, dueAt, joinID, scope.TenantID, scope.Namespace)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error) {
	scope := TenantScopeFromContext(ctx)
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, payload, status, created_at, due_time_utc, join_id, tenant_id, namespace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, topic, payload, OutboxReady, now, dueAt, joinID, scope.TenantID, scope.Namespace)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox (tx): %w", err)
	}
	return id, nil
}

// ClaimDue implements the claim-under-row-lock primitive: a CTE selects up
// to batchSize ready-and-due candidates with FOR UPDATE SKIP LOCKED (the
// Postgres equivalent of SQL Server's UPDLOCK, ROWLOCK, READPAST), then
// flips them to in_flight in the same statement via UPDATE ... FROM ...
// RETURNING, so two concurrent claims never observe or lock the same row.
func (s *PostgresStore) ClaimDue(ctx context.Context, batchSize int, owner string, leaseDuration time.Duration) ([]*OutboxRow, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseDuration)

	rows, err := s.pool.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM outbox
			WHERE status = $1
			  AND (due_time_utc IS NULL OR due_time_utc <= $2)
			ORDER BY due_time_utc ASC NULLS FIRST, created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = $4, lease_owner = $5, lease_expires_utc = $6
		FROM candidates c
		WHERE o.id = c.id
		RETURNING o.id, o.topic, o.payload, o.status, o.created_at, o.due_time_utc,
		          o.processed_at, o.is_processed, o.retry_count, COALESCE(o.last_error, ''),
		          COALESCE(o.processed_by, ''), COALESCE(o.lease_owner, ''), o.lease_expires_utc, o.join_id,
		          o.tenant_id, o.namespace
	`, OutboxReady, now, batchSize, OutboxInFlight, owner, leaseUntil)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox: %w", err)
	}
	defer rows.Close()

	var out []*OutboxRow
	for rows.Next() {
		row, err := scanOutboxRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed outbox row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed outbox rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, id, owner string) error {
	now := time.Now().UTC()
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = $1, is_processed = TRUE, processed_at = $2,
		    lease_owner = NULL, lease_expires_utc = NULL
		WHERE id = $3 AND lease_owner = $4 AND status = $5
	`, OutboxDone, now, id, owner, OutboxInFlight)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: outbox %s", ErrNotOwnedByCaller, id)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id, owner string, delay time.Duration, lastError string) error {
	now := time.Now().UTC()
	dueAt := now.Add(delay)
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = $1, due_time_utc = $2, retry_count = retry_count + 1,
		    last_error = $3, lease_owner = NULL, lease_expires_utc = NULL
		WHERE id = $4 AND lease_owner = $5 AND status = $6
	`, OutboxReady, dueAt, truncateError(lastError), id, owner, OutboxInFlight)
	if err != nil {
		return fmt.Errorf("reschedule outbox: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: outbox %s", ErrNotOwnedByCaller, id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id, owner, lastError string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = $1, last_error = $2, processed_by = 'FAILED:' || $3,
		    lease_owner = NULL, lease_expires_utc = NULL
		WHERE id = $4 AND lease_owner = $3 AND status = $5
	`, OutboxFailed, truncateError(lastError), owner, id, OutboxInFlight)
	if err != nil {
		return fmt.Errorf("fail outbox: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: outbox %s", ErrNotOwnedByCaller, id)
	}
	return nil
}

// ReapExpired returns in_flight rows whose lease has elapsed back to ready,
// bumping retry_count. Invoked periodically and defensively before Claim.
func (s *PostgresStore) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = $1, retry_count = retry_count + 1, last_error = 'lease expired',
		    lease_owner = NULL, lease_expires_utc = NULL
		WHERE status = $2 AND lease_expires_utc < $3
	`, OutboxReady, OutboxInFlight, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired outbox leases: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*OutboxRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, topic, payload, status, created_at, due_time_utc,
		       processed_at, is_processed, retry_count, COALESCE(last_error, ''),
		       COALESCE(processed_by, ''), COALESCE(lease_owner, ''), lease_expires_utc, join_id,
		       tenant_id, namespace
		FROM outbox WHERE id = $1
	`, id)
	out, err := scanOutboxRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrOutboxNotFound, id)
		}
		return nil, fmt.Errorf("get outbox: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRow(r rowScanner) (*OutboxRow, error) {
	var o OutboxRow
	var status string
	if err := r.Scan(
		&o.ID, &o.Topic, &o.Payload, &status, &o.CreatedAt, &o.DueTimeUtc,
		&o.ProcessedAt, &o.IsProcessed, &o.RetryCount, &o.LastError,
		&o.ProcessedBy, &o.LeaseOwner, &o.LeaseExpiresUtc, &o.JoinID,
		&o.TenantID, &o.Namespace,
	); err != nil {
		return nil, err
	}
	o.Status = OutboxStatus(status)
	return &o, nil
}

func truncateError(s string) string {
	const maxLen = 4000
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
