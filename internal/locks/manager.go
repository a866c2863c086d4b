// Package locks provides the two levels of mutual exclusion pilots
// coordinate through: coarse advisory reservations recorded as events, and
// fine mandatory locks held in the operational locks table. The manager
// normalizes paths, applies configured TTL defaults, and sweeps expired rows
// opportunistically on each acquisition so no background timer is needed.
package locks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/logging"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// Manager wraps a project store with reservation and lock semantics.
type Manager struct {
	store *store.Store
}

// NewManager returns a manager bound to one project's store.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// NormalizePath canonicalizes a path so that two spellings of the same file
// collide: relative paths resolve against the project root, "." and ".."
// segments collapse, separators unify to forward slashes, and case folds on
// filesystems that ignore it.
func NormalizePath(project, path string) string {
	p := filepath.FromSlash(strings.TrimSpace(path))
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(project, p)
	}
	p = filepath.Clean(p)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		p = strings.ToLower(p)
	}
	return filepath.ToSlash(p)
}

// normalizeAll canonicalizes each path and drops duplicates, preserving the
// first-seen order.
func (m *Manager) normalizeAll(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		p := NormalizePath(m.store.Project(), raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ReserveParams describes one reservation attempt. A zero TTL takes the
// configured default.
type ReserveParams struct {
	Callsign  string
	Paths     []string
	Exclusive bool
	Reason    string
	TTL       time.Duration
	SortieID  string
	MissionID string
}

// Reserve declares intent to modify a set of paths. A clash with an active
// exclusive reservation is a normal outcome: the store records file_conflict
// in place of file_reserved and the result names the holder per path. The
// expired-row sweep runs first so stale holders cannot block anyone.
func (m *Manager) Reserve(ctx context.Context, p ReserveParams) (*types.ReservationResult, error) {
	if p.Callsign == "" {
		return nil, &types.InvalidEventError{Field: "callsign", Reason: "required"}
	}
	if len(p.Paths) == 0 {
		return nil, &types.InvalidEventError{Field: "paths", Reason: "at least one path required"}
	}
	if _, err := m.sweepReservations(ctx); err != nil {
		return nil, err
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.store.Options().GetReservationTTL()
	}
	now := m.store.Now()
	payload := &event.FileReserved{
		ReservationID: ids.New(ids.PrefixReservation),
		Callsign:      p.Callsign,
		Paths:         m.normalizeAll(p.Paths),
		Exclusive:     p.Exclusive,
		Reason:        p.Reason,
		TTLMs:         ttl.Milliseconds(),
		ExpiresAt:     now.Add(ttl),
		SortieID:      p.SortieID,
		MissionID:     p.MissionID,
	}

	if _, err := m.store.AppendPayload(ctx, payload); err != nil {
		var conflict *types.ReservationConflictError
		if errors.As(err, &conflict) {
			existing := make([]types.PathConflict, 0, len(conflict.Paths))
			for _, path := range conflict.Paths {
				existing = append(existing, types.PathConflict{
					Path:      path,
					Holder:    conflict.Holder,
					ExpiresAt: conflict.ExpiresAt,
				})
			}
			logging.Locks("Reservation refused for %s: %d paths held by %s", p.Callsign, len(existing), conflict.Holder)
			return &types.ReservationResult{Conflict: true, Existing: existing}, nil
		}
		return nil, err
	}

	res, err := m.store.GetReservation(ctx, payload.ReservationID)
	if err != nil {
		return nil, err
	}
	logging.Locks("Reserved %d paths for %s (%s, exclusive=%v)", len(res.Paths), p.Callsign, res.ReservationID, p.Exclusive)
	return &types.ReservationResult{Reservation: res}, nil
}

// ReleaseReservations closes reservation rows selected by paths, reservation
// ids, or both. Paths normalize the same way Reserve normalized them.
func (m *Manager) ReleaseReservations(ctx context.Context, callsign string, paths, reservationIDs []string) (*event.Event, error) {
	if len(paths) == 0 && len(reservationIDs) == 0 {
		return nil, &types.InvalidEventError{Field: "paths", Reason: "paths or reservation_ids required"}
	}
	e, err := m.store.AppendPayload(ctx, &event.FileReleased{
		Callsign:       callsign,
		Paths:          m.normalizeAll(paths),
		ReservationIDs: reservationIDs,
	})
	if err != nil {
		return nil, err
	}
	logging.Locks("Released reservations for %s (paths=%d ids=%d)", callsign, len(paths), len(reservationIDs))
	return e, nil
}

// ActiveReservations returns live reservations, optionally for one callsign.
func (m *Manager) ActiveReservations(ctx context.Context, callsign string) ([]*types.Reservation, error) {
	return m.store.ActiveReservations(ctx, callsign, m.store.Now())
}

// sweepReservations closes reservations whose TTL passed without a release.
// Each expired group gets a file_released event on the holder's behalf so
// that replay reproduces the closure.
func (m *Manager) sweepReservations(ctx context.Context) (int, error) {
	expired, err := m.store.ExpiredReservations(ctx, m.store.Now())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	byCallsign := make(map[string][]string)
	var order []string
	for _, res := range expired {
		if _, ok := byCallsign[res.Callsign]; !ok {
			order = append(order, res.Callsign)
		}
		byCallsign[res.Callsign] = append(byCallsign[res.Callsign], res.ReservationID)
	}

	released := 0
	for _, callsign := range order {
		idsForHolder := byCallsign[callsign]
		if _, err := m.store.AppendPayload(ctx, &event.FileReleased{
			Callsign:       callsign,
			ReservationIDs: idsForHolder,
			Expired:        true,
		}); err != nil {
			return released, err
		}
		released += len(idsForHolder)
	}
	logging.Locks("Swept %d expired reservations", released)
	return released, nil
}

// SweepExpired runs both sweeps and reports how many rows each released.
// Acquisitions do this opportunistically; the entry point exists for
// maintenance commands and tests.
func (m *Manager) SweepExpired(ctx context.Context) (reservations, locks int64, err error) {
	n, err := m.sweepReservations(ctx)
	if err != nil {
		return 0, 0, err
	}
	swept, err := m.store.SweepExpiredLocks(ctx)
	if err != nil {
		return int64(n), 0, err
	}
	return int64(n), swept, nil
}

// LockRequest describes one lock acquisition. A zero TTL takes the configured
// default.
type LockRequest struct {
	Path     string
	Callsign string
	Purpose  types.LockPurpose
	TTL      time.Duration
	Checksum string
}

// AcquireLock takes an exclusive hold on one normalized path. A conflict is a
// normal outcome carried in the result; the same holder re-acquiring a path
// refreshes the expiry instead.
func (m *Manager) AcquireLock(ctx context.Context, r LockRequest) (*types.LockResult, error) {
	if r.Callsign == "" {
		return nil, &types.InvalidEventError{Field: "callsign", Reason: "required"}
	}
	if r.Path == "" {
		return nil, &types.InvalidEventError{Field: "path", Reason: "required"}
	}
	if !r.Purpose.Valid() {
		return nil, &types.InvalidEventError{Field: "purpose", Reason: fmt.Sprintf("unknown purpose %q", r.Purpose)}
	}

	ttl := r.TTL
	if ttl <= 0 {
		ttl = m.store.Options().GetLockTTL()
	}
	return m.store.AcquireLock(ctx, store.LockParams{
		LockID:   ids.New(ids.PrefixLock),
		Path:     NormalizePath(m.store.Project(), r.Path),
		Holder:   r.Callsign,
		Purpose:  r.Purpose,
		Checksum: r.Checksum,
		TTLMs:    ttl.Milliseconds(),
	})
}

// ReleaseLock releases a lock the callsign holds. An empty callsign skips the
// ownership check; ForceReleaseLock is the audited form of that.
func (m *Manager) ReleaseLock(ctx context.Context, lockID, callsign string) (*types.Lock, error) {
	return m.store.ReleaseLock(ctx, lockID, callsign)
}

// ForceReleaseLock releases a lock regardless of holder and records the
// administrative decision with the acting party and reason.
func (m *Manager) ForceReleaseLock(ctx context.Context, lockID, actor, reason string) (*types.Lock, error) {
	lock, err := m.store.ForceReleaseLock(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.AppendPayload(ctx, &event.CoordinatorDecision{
		Action: "force_release_lock",
		Actor:  actor,
		Target: lockID,
		Reason: reason,
	}); err != nil {
		return nil, err
	}
	logging.Locks("Force-released %s (path %s, was held by %s) by %s", lockID, lock.Path, lock.Holder, actor)
	return lock, nil
}

// ReacquireLock restores a snapshotted lock under a fresh id during recovery.
// A third party's active lock on the path wins; the outcome reports the
// conflict instead of failing.
func (m *Manager) ReacquireLock(ctx context.Context, snap types.LockSnapshot) (*types.LockReacquisition, error) {
	snap.Path = NormalizePath(m.store.Project(), snap.Path)
	return m.store.ReacquireLock(ctx, snap, ids.New(ids.PrefixLock))
}

// ActiveLocks returns unexpired active locks, optionally for one holder.
func (m *Manager) ActiveLocks(ctx context.Context, holder string) ([]*types.Lock, error) {
	return m.store.ActiveLocks(ctx, holder)
}

// GetLock returns one lock row by id.
func (m *Manager) GetLock(ctx context.Context, lockID string) (*types.Lock, error) {
	return m.store.GetLock(ctx, lockID)
}
