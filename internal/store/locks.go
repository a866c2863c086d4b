package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleettools/internal/logging"
	"fleettools/internal/types"
)

// LockParams describes one acquire attempt. The path arrives normalized and
// the id pre-minted so a retry after a busy error reuses the same identity.
type LockParams struct {
	LockID   string
	Path     string
	Holder   string
	Purpose  types.LockPurpose
	Checksum string
	TTLMs    int64
}

const lockColumns = `lock_id, path, holder, purpose, checksum, status, acquired_at, expires_at, released_at`

// AcquireLock takes an exclusive hold on a path, or reports who has it. The
// sweep, the conflict check, and the insert share one transaction, so two
// pilots racing for a path cannot both win. Re-acquiring a path you already
// hold refreshes the expiry instead of conflicting.
func (s *Store) AcquireLock(ctx context.Context, p LockParams) (*types.LockResult, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("acquire lock: %w", types.ErrCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := int64(s.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin lock transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := sweepLocksTx(tx, s.project, now); err != nil {
		return nil, err
	}

	existing, err := activeLockOnTx(tx, s.project, p.Path)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Holder != p.Holder {
		if err := tx.Commit(); err != nil {
			return nil, wrapStorage("commit lock transaction", err)
		}
		committed = true
		logging.Locks("Lock conflict on %s: held by %s until %s", p.Path, existing.Holder, existing.ExpiresAt.ISO())
		return &types.LockResult{Conflict: true, Existing: existing}, nil
	}

	expiresAt := now + p.TTLMs
	if existing != nil {
		// Same holder: refresh in place, keep the original id.
		if _, err := tx.Exec(`
			UPDATE locks SET purpose = ?, checksum = ?, expires_at = ?
			WHERE lock_id = ? AND status = 'active'`,
			string(p.Purpose), p.Checksum, expiresAt, existing.LockID); err != nil {
			return nil, wrapStorage("refresh lock", err)
		}
		existing.Purpose = p.Purpose
		existing.Checksum = p.Checksum
		existing.ExpiresAt = types.Timestamp(expiresAt)
		if err := tx.Commit(); err != nil {
			return nil, wrapStorage("commit lock transaction", err)
		}
		committed = true
		logging.LocksDebug("Lock refreshed: %s on %s until %d", p.Holder, p.Path, expiresAt)
		return &types.LockResult{Lock: existing}, nil
	}

	if _, err := tx.Exec(`
		INSERT INTO locks (lock_id, project, path, holder, purpose, checksum, status, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
		p.LockID, s.project, p.Path, p.Holder, string(p.Purpose), p.Checksum, now, expiresAt); err != nil {
		return nil, wrapStorage("insert lock", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit lock transaction", err)
	}
	committed = true

	lock := &types.Lock{
		LockID:     p.LockID,
		Project:    s.project,
		Path:       p.Path,
		Holder:     p.Holder,
		Purpose:    p.Purpose,
		Checksum:   p.Checksum,
		Status:     types.LockActive,
		AcquiredAt: types.Timestamp(now),
		ExpiresAt:  types.Timestamp(expiresAt),
	}
	logging.Locks("Lock acquired: %s holds %s (%s) until %d", p.Holder, p.Path, p.Purpose, expiresAt)
	return &types.LockResult{Lock: lock}, nil
}

// ReleaseLock releases a lock the holder owns. Releasing someone else's lock
// is refused with a LockConflictError; forceRelease exists for that.
func (s *Store) ReleaseLock(ctx context.Context, lockID, holder string) (*types.Lock, error) {
	lock, err := s.GetLock(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.Status != types.LockActive {
		return nil, &types.NotFoundError{Entity: "lock", ID: lockID}
	}
	if holder != "" && lock.Holder != holder {
		return nil, &types.LockConflictError{Holder: lock.Holder, Path: lock.Path, ExpiresAt: lock.ExpiresAt}
	}

	now := int64(s.Now())
	if _, err := s.db.ExecContext(ctx, `
		UPDATE locks SET status = 'released', released_at = ?
		WHERE lock_id = ? AND status = 'active'`,
		now, lockID); err != nil {
		return nil, wrapStorage("release lock", err)
	}
	lock.Status = types.LockReleased
	ts := types.Timestamp(now)
	lock.ReleasedAt = &ts
	logging.Locks("Lock released: %s no longer holds %s", lock.Holder, lock.Path)
	return lock, nil
}

// ForceReleaseLock releases a lock regardless of holder. Callers record a
// coordinator_decision event naming the actor.
func (s *Store) ForceReleaseLock(ctx context.Context, lockID string) (*types.Lock, error) {
	return s.ReleaseLock(ctx, lockID, "")
}

// ReacquireLock restores a snapshotted lock after a restart. The old row is
// gone or expired; a fresh id takes over the path unless another pilot
// claimed it in the meantime.
func (s *Store) ReacquireLock(ctx context.Context, snap types.LockSnapshot, newLockID string) (*types.LockReacquisition, error) {
	result := &types.LockReacquisition{
		Path:      snap.Path,
		Holder:    snap.Holder,
		OldLockID: snap.LockID,
	}

	ttl := snap.TTLMs
	if ttl <= 0 {
		ttl = int64(s.opts.GetLockTTL().Milliseconds())
	}
	acquire, err := s.AcquireLock(ctx, LockParams{
		LockID:  newLockID,
		Path:    snap.Path,
		Holder:  snap.Holder,
		Purpose: snap.Purpose,
		TTLMs:   ttl,
	})
	if err != nil {
		return nil, err
	}
	if acquire.Conflict {
		result.Conflict = &types.PathConflict{
			Path:      snap.Path,
			Holder:    acquire.Existing.Holder,
			LockID:    acquire.Existing.LockID,
			ExpiresAt: acquire.Existing.ExpiresAt,
		}
		return result, nil
	}
	result.NewLockID = acquire.Lock.LockID
	return result, nil
}

// SupersedeLock retires one lock id in favor of another, in a single
// transaction. Recovery uses this to hand a path to a restarted pilot under a
// fresh id (and possibly a new callsign). It succeeds when the path is free
// or still held by the superseded lock; a third party's active lock wins.
func (s *Store) SupersedeLock(ctx context.Context, oldLockID, newLockID, newHolder string, ttlMs int64) (*types.LockResult, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("supersede lock: %w", types.ErrCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := int64(s.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin lock transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := sweepLocksTx(tx, s.project, now); err != nil {
		return nil, err
	}

	old, err := lockByIDTx(tx, s.project, oldLockID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, &types.NotFoundError{Entity: "lock", ID: oldLockID}
	}

	active, err := activeLockOnTx(tx, s.project, old.Path)
	if err != nil {
		return nil, err
	}
	if active != nil && active.LockID != oldLockID {
		if err := tx.Commit(); err != nil {
			return nil, wrapStorage("commit lock transaction", err)
		}
		committed = true
		logging.Locks("Supersede refused on %s: held by %s", old.Path, active.Holder)
		return &types.LockResult{Conflict: true, Existing: active}, nil
	}
	if active != nil {
		if _, err := tx.Exec(`
			UPDATE locks SET status = 'released', released_at = ?
			WHERE lock_id = ? AND status = 'active'`,
			now, oldLockID); err != nil {
			return nil, wrapStorage("retire superseded lock", err)
		}
	}

	expiresAt := now + ttlMs
	if _, err := tx.Exec(`
		INSERT INTO locks (lock_id, project, path, holder, purpose, checksum, status, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
		newLockID, s.project, old.Path, newHolder, string(old.Purpose), old.Checksum, now, expiresAt); err != nil {
		return nil, wrapStorage("insert superseding lock", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit lock transaction", err)
	}
	committed = true

	lock := &types.Lock{
		LockID:     newLockID,
		Project:    s.project,
		Path:       old.Path,
		Holder:     newHolder,
		Purpose:    old.Purpose,
		Checksum:   old.Checksum,
		Status:     types.LockActive,
		AcquiredAt: types.Timestamp(now),
		ExpiresAt:  types.Timestamp(expiresAt),
	}
	logging.Locks("Lock superseded: %s -> %s on %s (holder %s)", oldLockID, newLockID, old.Path, newHolder)
	return &types.LockResult{Lock: lock}, nil
}

// GetLock returns one lock row by id.
func (s *Store) GetLock(ctx context.Context, lockID string) (*types.Lock, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM locks WHERE project = ? AND lock_id = ?`, lockColumns),
		s.project, lockID)
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "lock", ID: lockID}
	}
	if err != nil {
		return nil, wrapStorage("read lock", err)
	}
	lock.Project = s.project
	return lock, nil
}

// ActiveLocks returns unexpired active locks, optionally for one holder.
func (s *Store) ActiveLocks(ctx context.Context, holder string) ([]*types.Lock, error) {
	now := int64(s.Now())
	query := fmt.Sprintf(`
		SELECT %s FROM locks WHERE project = ? AND status = 'active' AND expires_at > ?`, lockColumns)
	args := []interface{}{s.project, now}
	if holder != "" {
		query += " AND holder = ?"
		args = append(args, holder)
	}
	query += " ORDER BY path"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list active locks", err)
	}
	defer rows.Close()

	var locks []*types.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lock row: %w", err)
		}
		lock.Project = s.project
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locks: %w", err)
	}
	return locks, nil
}

// SweepExpiredLocks marks every expired active lock released. Acquire does
// this opportunistically; this entry point exists for maintenance and tests.
func (s *Store) SweepExpiredLocks(ctx context.Context) (int64, error) {
	now := int64(s.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE locks SET status = 'released', released_at = ?
		WHERE project = ? AND status = 'active' AND expires_at <= ?`,
		now, s.project, now)
	if err != nil {
		return 0, wrapStorage("sweep expired locks", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Locks("Swept %d expired locks", n)
	}
	return n, nil
}

func sweepLocksTx(tx *sql.Tx, project string, now int64) error {
	if _, err := tx.Exec(`
		UPDATE locks SET status = 'released', released_at = ?
		WHERE project = ? AND status = 'active' AND expires_at <= ?`,
		now, project, now); err != nil {
		return wrapStorage("sweep expired locks", err)
	}
	return nil
}

func activeLockOnTx(tx *sql.Tx, project, path string) (*types.Lock, error) {
	row := tx.QueryRow(fmt.Sprintf(`
		SELECT %s FROM locks WHERE project = ? AND path = ? AND status = 'active'`, lockColumns),
		project, path)
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("check active lock", err)
	}
	lock.Project = project
	return lock, nil
}

func lockByIDTx(tx *sql.Tx, project, lockID string) (*types.Lock, error) {
	row := tx.QueryRow(fmt.Sprintf(`
		SELECT %s FROM locks WHERE project = ? AND lock_id = ?`, lockColumns),
		project, lockID)
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("read lock", err)
	}
	lock.Project = project
	return lock, nil
}

func scanLock(r rowScanner) (*types.Lock, error) {
	var lock types.Lock
	var purpose, status string
	var acquiredAt, expiresAt int64
	var releasedAt sql.NullInt64
	if err := r.Scan(&lock.LockID, &lock.Path, &lock.Holder, &purpose, &lock.Checksum,
		&status, &acquiredAt, &expiresAt, &releasedAt); err != nil {
		return nil, err
	}
	lock.Purpose = types.LockPurpose(purpose)
	lock.Status = types.LockStatus(status)
	lock.AcquiredAt = types.Timestamp(acquiredAt)
	lock.ExpiresAt = types.Timestamp(expiresAt)
	lock.ReleasedAt = nullTimestamp(releasedAt)
	return &lock, nil
}
