package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AcquireLease attempts one conditional claim of the named lease row,
// grounded on the reference codebase's schedule_run lease-claim statement:
// a single upsert whose UPDATE branch only applies when the row is expired
// or already held by the same owner. RowsAffected=0 means another owner
// holds an unexpired lease, and AcquireLease returns a nil row without
// re-reading it (the RowsAffected=0 re-check lives in RenewLease).
// On a fresh acquisition, Fencing is incremented — it is a monotonically
// increasing token scoped to the lease name, never reset by Release.
func (s *PostgresStore) AcquireLease(ctx context.Context, name, owner string, leaseDuration time.Duration) (*LeaseRow, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(leaseDuration)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lease acquire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO lease (name, owner, expires_utc, fencing)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (name) DO UPDATE
		SET owner = $2, expires_utc = $3, fencing = lease.fencing + 1
		WHERE lease.expires_utc < $4 OR lease.owner = $2
	`, name, owner, expiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	var row LeaseRow
	if ct.RowsAffected() == 0 {
		// Another owner holds an unexpired lease; acquisition fails.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit lease acquire no-op: %w", err)
		}
		return nil, nil
	}

	err = tx.QueryRow(ctx, `
		SELECT name, owner, expires_utc, fencing FROM lease WHERE name = $1
	`, name).Scan(&row.Name, &row.Owner, &row.ExpiresUtc, &row.Fencing)
	if err != nil {
		return nil, fmt.Errorf("load acquired lease: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lease acquire: %w", err)
	}
	return &row, nil
}

// RenewLease extends an already-held lease. The fencing token supplied must
// match the current row's fencing token — a stale holder (e.g. a process
// that paused past expiry and was superseded) is rejected with
// ErrLeaseFencingStale rather than silently re-extending a lease it no
// longer legitimately owns.
func (s *PostgresStore) RenewLease(ctx context.Context, name, owner string, fencing int64, leaseDuration time.Duration) (*LeaseRow, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(leaseDuration)

	ct, err := s.pool.Exec(ctx, `
		UPDATE lease
		SET expires_utc = $1
		WHERE name = $2 AND owner = $3 AND fencing = $4
	`, expiresAt, name, owner, fencing)
	if err != nil {
		return nil, fmt.Errorf("renew lease: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var current LeaseRow
		err := s.pool.QueryRow(ctx, `
			SELECT name, owner, expires_utc, fencing FROM lease WHERE name = $1
		`, name).Scan(&current.Name, &current.Owner, &current.ExpiresUtc, &current.Fencing)
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: lease %s no longer exists", ErrLeaseNotHeld, name)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup lease after failed renew: %w", err)
		}
		if current.Owner == owner && current.Fencing == fencing {
			// Matches RowsAffected=0-but-unchanged semantics: already renewed.
			return &current, nil
		}
		return nil, fmt.Errorf("%w: lease %s", ErrLeaseFencingStale, name)
	}

	return &LeaseRow{Name: name, Owner: owner, ExpiresUtc: expiresAt, Fencing: fencing}, nil
}

// GetLease reads the current state of a named lease row without attempting
// to acquire or renew it, for the administrative CLI's lease-inspect
// command.
func (s *PostgresStore) GetLease(ctx context.Context, name string) (*LeaseRow, error) {
	var row LeaseRow
	err := s.pool.QueryRow(ctx, `
		SELECT name, owner, expires_utc, fencing FROM lease WHERE name = $1
	`, name).Scan(&row.Name, &row.Owner, &row.ExpiresUtc, &row.Fencing)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: lease %s", ErrLeaseNotHeld, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	return &row, nil
}

// ReleaseLease best-effort releases the lease if still held by owner/fencing.
func (s *PostgresStore) ReleaseLease(ctx context.Context, name, owner string, fencing int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE lease SET expires_utc = $1
		WHERE name = $2 AND owner = $3 AND fencing = $4
	`, time.Now().UTC().Add(-time.Second), name, owner, fencing)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
