package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Inbox is the contract described in SPEC_FULL.md §4.2.
type Inbox interface {
	EnqueueInbox(ctx context.Context, messageID, source, topic string, payload []byte) error
	Claim(ctx context.Context, owner string, leaseDuration time.Duration, batchSize int) ([]*InboxRow, error)
	Ack(ctx context.Context, owner string, messageID, source string) error
	Abandon(ctx context.Context, owner string, messageID, source, lastError string, delay time.Duration) error
	FailInbox(ctx context.Context, owner string, messageID, source, lastError string) error
	Revive(ctx context.Context, messageID, source, reason string, delay time.Duration) error
	ReapExpiredInbox(ctx context.Context) (int, error)
}

func (s *PostgresStore) EnqueueInbox(ctx context.Context, messageID, source, topic string, payload []byte) error {
	scope := TenantScopeFromContext(ctx)
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox (message_id, source, topic, payload, status, first_seen_utc, last_seen_utc, attempts, tenant_id, namespace)
		VALUES ($1, $2, $3, $4, $5, $6, $6, 0, $7, $8)
		ON CONFLICT (message_id, source) DO UPDATE SET last_seen_utc = $6
	`, messageID, source, topic, payload, InboxSeen, now, scope.TenantID, scope.Namespace)
	if err != nil {
		return fmt.Errorf("enqueue inbox: %w", err)
	}
	return nil
}

// Claim selects up to batchSize visible rows in Seen and flips them to
// InFlight, the same FOR UPDATE SKIP LOCKED + UPDATE ... RETURNING shape
// used by ClaimDue for the outbox.
func (s *PostgresStore) Claim(ctx context.Context, owner string, leaseDuration time.Duration, batchSize int) ([]*InboxRow, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseDuration)

	rows, err := s.pool.Query(ctx, `
		WITH candidates AS (
			SELECT message_id, source
			FROM inbox
			WHERE status = $1
			  AND (visible_after_utc IS NULL OR visible_after_utc <= $2)
			ORDER BY first_seen_utc ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE inbox i
		SET status = $4, lease_owner = $5, lease_expires_utc = $6
		FROM candidates c
		WHERE i.message_id = c.message_id AND i.source = c.source
		RETURNING i.message_id, i.source, i.topic, i.payload, i.status,
		          i.first_seen_utc, i.last_seen_utc, i.processed_utc, i.attempts,
		          COALESCE(i.last_error, ''), COALESCE(i.lease_owner, ''), i.lease_expires_utc,
		          i.visible_after_utc, i.join_id, i.tenant_id, i.namespace
	`, InboxSeen, now, batchSize, InboxInFlight, owner, leaseUntil)
	if err != nil {
		return nil, fmt.Errorf("claim inbox: %w", err)
	}
	defer rows.Close()

	var out []*InboxRow
	for rows.Next() {
		row, err := scanInboxRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed inbox row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed inbox rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ack(ctx context.Context, owner string, messageID, source string) error {
	now := time.Now().UTC()
	ct, err := s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, processed_utc = $2, attempts = attempts + 1,
		    lease_owner = NULL, lease_expires_utc = NULL
		WHERE message_id = $3 AND source = $4 AND lease_owner = $5 AND status = $6
	`, InboxDone, now, messageID, source, owner, InboxInFlight)
	if err != nil {
		return fmt.Errorf("ack inbox: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: inbox %s/%s", ErrNotOwnedByCaller, source, messageID)
	}
	return nil
}

func (s *PostgresStore) Abandon(ctx context.Context, owner string, messageID, source, lastError string, delay time.Duration) error {
	now := time.Now().UTC()
	visibleAfter := now.Add(delay)
	ct, err := s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, attempts = attempts + 1, last_seen_utc = $2,
		    visible_after_utc = $3, last_error = $4, lease_owner = NULL, lease_expires_utc = NULL
		WHERE message_id = $5 AND source = $6 AND lease_owner = $7 AND status = $8
	`, InboxSeen, now, visibleAfter, truncateError(lastError), messageID, source, owner, InboxInFlight)
	if err != nil {
		return fmt.Errorf("abandon inbox: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: inbox %s/%s", ErrNotOwnedByCaller, source, messageID)
	}
	return nil
}

func (s *PostgresStore) FailInbox(ctx context.Context, owner string, messageID, source, lastError string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, last_error = $2, lease_owner = NULL, lease_expires_utc = NULL
		WHERE message_id = $3 AND source = $4 AND lease_owner = $5 AND status = $6
	`, InboxDead, truncateError(lastError), messageID, source, owner, InboxInFlight)
	if err != nil {
		return fmt.Errorf("fail inbox: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: inbox %s/%s", ErrNotOwnedByCaller, source, messageID)
	}
	return nil
}

// Revive administratively transitions Dead → Seen. Per SPEC_FULL.md §4.2 and
// DESIGN.md's decision on the join open question, reviving a row that
// belongs to an already-completed join is forbidden.
func (s *PostgresStore) Revive(ctx context.Context, messageID, source, reason string, delay time.Duration) error {
	var joinID *string
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT join_id, status FROM inbox WHERE message_id = $1 AND source = $2
	`, messageID, source).Scan(&joinID, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: inbox %s/%s", ErrInboxNotFound, source, messageID)
		}
		return fmt.Errorf("lookup inbox for revive: %w", err)
	}
	if status != string(InboxDead) {
		return nil
	}
	if joinID != nil {
		completed, err := s.isJoinComplete(ctx, *joinID)
		if err != nil {
			return err
		}
		if completed {
			return fmt.Errorf("%w: join %s", ErrJoinAlreadyComplete, *joinID)
		}
	}

	now := time.Now().UTC()
	visibleAfter := now.Add(delay)
	_, err = s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, visible_after_utc = $2, last_seen_utc = $3
		WHERE message_id = $4 AND source = $5
	`, InboxSeen, visibleAfter, now, messageID, source)
	_ = reason
	if err != nil {
		return fmt.Errorf("revive inbox: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReapExpiredInbox(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ct, err := s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, visible_after_utc = NULL, lease_owner = NULL, lease_expires_utc = NULL
		WHERE status = $2 AND lease_expires_utc < $3
	`, InboxSeen, InboxInFlight, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired inbox leases: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func scanInboxRow(r rowScanner) (*InboxRow, error) {
	var row InboxRow
	var status string
	if err := r.Scan(
		&row.MessageID, &row.Source, &row.Topic, &row.Payload, &status,
		&row.FirstSeenUtc, &row.LastSeenUtc, &row.ProcessedUtc, &row.Attempts,
		&row.LastError, &row.LeaseOwner, &row.LeaseExpiresUtc, &row.VisibleAfterUtc,
		&row.JoinID, &row.TenantID, &row.Namespace,
	); err != nil {
		return nil, err
	}
	row.Status = InboxStatus(status)
	return &row, nil
}
