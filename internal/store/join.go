package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// JoinCompleter is the narrow capability the outbox dispatcher needs to
// drive the join coordinator (§4.3) when a child row terminates; narrowed
// to an interface (rather than depending on *PostgresStore directly) so
// dispatcher tests can substitute a fake.
type JoinCompleter interface {
	CompleteJoinChild(ctx context.Context, joinID string, childFailed bool) error
}

// EnqueueJoin implements the fan-out half of SPEC_FULL.md §4.3: a parent
// join.wait row held indefinitely (DueTimeUtc = never), plus N child rows
// all tagged with the same JoinId, and a join_state counter seeded at N.
func (s *PostgresStore) EnqueueJoin(ctx context.Context, payload JoinPayload, children []struct {
	Topic   string
	Payload []byte
}) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin join tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parentPayload, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal join payload: %w", err)
	}

	joinID := payload.JoinID
	parentID, err := s.EnqueueTx(ctx, tx, JoinWaitTopic, parentPayload, neverDue(), &joinID)
	if err != nil {
		return "", fmt.Errorf("enqueue join parent: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO join_state (join_id, pending, any_failed, completed)
		VALUES ($1, $2, FALSE, FALSE)
	`, joinID, len(children)); err != nil {
		return "", fmt.Errorf("seed join state: %w", err)
	}

	for _, child := range children {
		if _, err := s.EnqueueTx(ctx, tx, child.Topic, child.Payload, nil, &joinID); err != nil {
			return "", fmt.Errorf("enqueue join child: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit join enqueue: %w", err)
	}
	return parentID, nil
}

// CompleteJoinChild is invoked by the dispatcher whenever a child outbox row
// reaches a terminal status (Done, Failed, or Dead). It atomically
// decrements the join's pending counter and, when the counter reaches zero,
// flips the parent per the FailIfAnyStepFailed aggregation rule (§4.3,
// invariant 5: the parent transitions exactly once).
func (s *PostgresStore) CompleteJoinChild(ctx context.Context, joinID string, childFailed bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin join completion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.acquireDeleteOperationLock(ctx, tx); err != nil {
		// Reuses the repo-wide advisory-lock helper; the lock key is global
		// rather than per-join, which is acceptable because join completion
		// is a rare, short critical section compared to claim throughput.
		return err
	}

	var pending int
	var anyFailed, completed bool
	err = tx.QueryRow(ctx, `
		SELECT pending, any_failed, completed FROM join_state WHERE join_id = $1 FOR UPDATE
	`, joinID).Scan(&pending, &anyFailed, &completed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("join state not found: %s", joinID)
		}
		return fmt.Errorf("load join state: %w", err)
	}
	if completed {
		// Parent already transitioned; a stray late completion (e.g. a
		// reaped-and-reclaimed child) must not re-trigger the transition.
		return tx.Commit(ctx)
	}

	pending--
	if childFailed {
		anyFailed = true
	}

	if pending > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE join_state SET pending = $1, any_failed = $2 WHERE join_id = $3
		`, pending, anyFailed, joinID); err != nil {
			return fmt.Errorf("decrement join state: %w", err)
		}
		return tx.Commit(ctx)
	}

	var rawPayload []byte
	if err := tx.QueryRow(ctx, `
		SELECT payload FROM outbox WHERE join_id = $1 AND topic = $2
	`, joinID, JoinWaitTopic).Scan(&rawPayload); err != nil {
		return fmt.Errorf("load join parent payload: %w", err)
	}
	var parent JoinPayload
	if err := json.Unmarshal(rawPayload, &parent); err != nil {
		return fmt.Errorf("unmarshal join parent payload: %w", err)
	}

	resultTopic, resultPayload := parent.OnCompleteTopic, parent.OnCompletePayload
	if parent.FailIfAnyStepFailed && anyFailed {
		resultTopic, resultPayload = parent.OnFailTopic, parent.OnFailPayload
	}
	if resultTopic != "" {
		if _, err := s.EnqueueTx(ctx, tx, resultTopic, resultPayload, nil, nil); err != nil {
			return fmt.Errorf("enqueue join result message: %w", err)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE outbox
		SET status = $1, is_processed = TRUE, processed_at = $2
		WHERE join_id = $3 AND topic = $4
	`, OutboxDone, now, joinID, JoinWaitTopic); err != nil {
		return fmt.Errorf("complete join parent: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE join_state SET pending = 0, any_failed = $1, completed = TRUE WHERE join_id = $2
	`, anyFailed, joinID); err != nil {
		return fmt.Errorf("mark join state completed: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) isJoinComplete(ctx context.Context, joinID string) (bool, error) {
	var completed bool
	err := s.pool.QueryRow(ctx, `SELECT completed FROM join_state WHERE join_id = $1`, joinID).Scan(&completed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("lookup join completion: %w", err)
	}
	return completed, nil
}

// neverDue returns a DueTimeUtc far enough in the future that the parent
// join.wait row is never picked up by ClaimDue; it is only ever transitioned
// by CompleteJoinChild.
func neverDue() *time.Time {
	t := time.Now().UTC().AddDate(100, 0, 0)
	return &t
}
