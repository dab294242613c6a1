package store

import (
	"context"
	"fmt"
	"time"
)

// CleanupInbox deletes Done/Dead inbox rows whose terminal timestamp is
// older than retention, per SPEC_FULL.md §4.10. Returns the deleted-row
// count. Idempotent: invoking twice with the same retention deletes the
// same set as once (the second call simply matches zero rows).
func (s *PostgresStore) CleanupInbox(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM inbox
		WHERE status IN ($1, $2) AND processed_utc IS NOT NULL AND processed_utc < $3
	`, InboxDone, InboxDead, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup inbox: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// CleanupOutbox is the outbox analogue of CleanupInbox.
func (s *PostgresStore) CleanupOutbox(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE status IN ($1, $2, $3) AND processed_at IS NOT NULL AND processed_at < $4
	`, OutboxDone, OutboxFailed, OutboxDead, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
