package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimIdempotencyKey guards a producer-side Enqueue call against duplicate
// submission independent of the Inbox's own (MessageId, Source) dedup,
// grounded on the reference codebase's claimIdempotencyKey/
// EnqueueAsyncInvocationWithIdempotency pattern: an upsert that only
// "claims" the key when absent or expired, self-healing stale rows via
// ON CONFLICT ... WHERE expires_at <= now().
func (s *PostgresStore) ClaimIdempotencyKey(ctx context.Context, key, scope string, ttl time.Duration) (claimed bool, err error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, scope, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, scope) DO UPDATE
		SET expires_at = $3
		WHERE idempotency_keys.expires_at <= $4
	`, key, scope, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// RecordIdempotencyResult stamps the result reference (e.g. the outbox Id
// produced by the guarded Enqueue) onto an already-claimed key so repeat
// callers within the TTL window can discover the prior outcome.
func (s *PostgresStore) RecordIdempotencyResult(ctx context.Context, key, scope, resultRef string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys SET result_ref = $1 WHERE key = $2 AND scope = $3
	`, resultRef, key, scope)
	if err != nil {
		return fmt.Errorf("record idempotency result: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupIdempotencyResult(ctx context.Context, key, scope string) (string, bool, error) {
	var resultRef *string
	err := s.pool.QueryRow(ctx, `
		SELECT result_ref FROM idempotency_keys WHERE key = $1 AND scope = $2 AND expires_at > $3
	`, key, scope, time.Now().UTC()).Scan(&resultRef)
	if err != nil {
		return "", false, nil
	}
	if resultRef == nil {
		return "", false, nil
	}
	return *resultRef, true, nil
}
