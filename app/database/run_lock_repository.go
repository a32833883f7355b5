package database

import (
	"context"
	"fmt"
	"time"
)

var _ RunLockRepository = (*runLockRepository)(nil)

type runLockRepository struct {
	db *DB
}

func NewRunLockRepository(db *DB) RunLockRepository {
	return &runLockRepository{db: db}
}

// Acquire takes the named lease for owner. An expired lease held by someone
// else is taken over; a live one makes Acquire report false.
func (r *runLockRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO run_locks (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE run_locks.expires_at < excluded.acquired_at OR run_locks.owner = excluded.owner
	`, name, owner, ts, ts.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (r *runLockRepository) Release(ctx context.Context, name, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM run_locks WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
