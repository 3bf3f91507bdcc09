package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

const leaseColumns = `lease_id, task_id, agent_id, created_at, expires_at`

func scanLease(row rowScanner) (*storage.Lease, error) {
	var lease storage.Lease
	err := row.Scan(&lease.LeaseID, &lease.TaskID, &lease.AgentID, &lease.CreatedAt, &lease.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func activeLease(ctx context.Context, q querier, taskID, now string) (*storage.Lease, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE task_id = ? AND expires_at > ?
		ORDER BY expires_at DESC
		LIMIT 1
	`, taskID, now)
	lease, err := scanLease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load lease for task %s: %w", taskID, err))
	}
	return lease, nil
}

func leaseList(ctx context.Context, q querier, query string, args ...any) ([]*storage.Lease, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list leases: %w", err))
	}
	defer rows.Close()

	var leases []*storage.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to scan lease: %w", err))
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating leases: %w", err))
	}
	return leases, nil
}

// ActiveLease returns the live lease for a task, or (nil, nil) when the
// task is unclaimed or every lease has lapsed.
func (s *SQLiteStore) ActiveLease(ctx context.Context, taskID, now string) (*storage.Lease, error) {
	return activeLease(ctx, s.db, taskID, now)
}

// ActiveLeases returns every live lease, one per task by invariant,
// ordered by task ID.
func (s *SQLiteStore) ActiveLeases(ctx context.Context, now string) ([]*storage.Lease, error) {
	return leaseList(ctx, s.db, `
		SELECT `+leaseColumns+` FROM leases
		WHERE expires_at > ?
		ORDER BY task_id
	`, now)
}

// AgentActiveLeases returns the live leases held by one agent, soonest
// expiry first.
func (s *SQLiteStore) AgentActiveLeases(ctx context.Context, agentID, now string) ([]*storage.Lease, error) {
	return leaseList(ctx, s.db, `
		SELECT `+leaseColumns+` FROM leases
		WHERE agent_id = ? AND expires_at > ?
		ORDER BY expires_at, task_id
	`, agentID, now)
}

func (t *runtimeTx) ActiveLease(ctx context.Context, taskID, now string) (*storage.Lease, error) {
	return activeLease(ctx, t.tx, taskID, now)
}

// InsertLease inserts a lease only if the task has no lease active at
// lease.CreatedAt. Check and insert are one statement, so two claimants
// racing inside separate transactions cannot both win.
func (t *runtimeTx) InsertLease(ctx context.Context, lease *storage.Lease) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO leases (lease_id, task_id, agent_id, created_at, expires_at)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM leases WHERE task_id = ? AND expires_at > ?
		)
	`, lease.LeaseID, lease.TaskID, lease.AgentID, lease.CreatedAt, lease.ExpiresAt,
		lease.TaskID, lease.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert lease for task %s: %w", lease.TaskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// SetLeaseExpiry moves a lease's expiry. Renew extends it; release sets
// it to the current instant, which is how leases end (rows are never
// deleted).
func (t *runtimeTx) SetLeaseExpiry(ctx context.Context, leaseID, expiresAt string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE leases SET expires_at = ? WHERE lease_id = ?
	`, expiresAt, leaseID)
	if err != nil {
		return fmt.Errorf("failed to update lease %s: %w", leaseID, err)
	}
	return expectOneRow(res, "lease", leaseID)
}

// OrphanedLeases returns leases still active at now whose agent row has
// been removed out-of-band.
func (t *runtimeTx) OrphanedLeases(ctx context.Context, now string) ([]*storage.Lease, error) {
	return leaseList(ctx, t.tx, `
		SELECT l.lease_id, l.task_id, l.agent_id, l.created_at, l.expires_at
		FROM leases l LEFT JOIN agents a ON a.agent_id = l.agent_id
		WHERE l.expires_at > ? AND a.agent_id IS NULL
		ORDER BY l.task_id
	`, now)
}
