package fleet

import (
	"context"

	"fleettools/internal/event"
	"fleettools/internal/locks"
	"fleettools/internal/types"
)

// ReserveFiles declares a pilot's intent to edit a set of paths. A refused
// exclusive overlap comes back as a conflict result with the holders listed;
// the refusal itself is already on the log as a file_conflict event.
func (c *Coordinator) ReserveFiles(ctx context.Context, p locks.ReserveParams) (*types.ReservationResult, error) {
	return c.locks.Reserve(ctx, p)
}

// ReleaseFiles lifts reservations by path spelling, by reservation id, or
// both. Paths are normalized before matching.
func (c *Coordinator) ReleaseFiles(ctx context.Context, callsign string, paths, reservationIDs []string) (*event.Event, error) {
	return c.locks.ReleaseReservations(ctx, callsign, paths, reservationIDs)
}

// ListActiveReservations returns live reservations, optionally for one
// callsign. Expired rows never appear, swept or not.
func (c *Coordinator) ListActiveReservations(ctx context.Context, callsign string) ([]*types.Reservation, error) {
	return c.locks.ActiveReservations(ctx, callsign)
}

// AcquireLock takes the short edit lock on one path. Losing the race is a
// conflict result carrying the current holder, not an error.
func (c *Coordinator) AcquireLock(ctx context.Context, r locks.LockRequest) (*types.LockResult, error) {
	return c.locks.AcquireLock(ctx, r)
}

// ReleaseLock releases a lock held by callsign.
func (c *Coordinator) ReleaseLock(ctx context.Context, lockID, callsign string) (*types.Lock, error) {
	return c.locks.ReleaseLock(ctx, lockID, callsign)
}

// ForceReleaseLock releases a lock regardless of holder and records who
// decided it and why.
func (c *Coordinator) ForceReleaseLock(ctx context.Context, lockID, actor, reason string) (*types.Lock, error) {
	return c.locks.ForceReleaseLock(ctx, lockID, actor, reason)
}

// GetLock returns one lock row by id, whatever its state.
func (c *Coordinator) GetLock(ctx context.Context, lockID string) (*types.Lock, error) {
	return c.locks.GetLock(ctx, lockID)
}

// ListActiveLocks returns unexpired held locks, optionally for one holder.
func (c *Coordinator) ListActiveLocks(ctx context.Context, holder string) ([]*types.Lock, error) {
	return c.locks.ActiveLocks(ctx, holder)
}

// SweepExpired runs the TTL sweeps outside their usual opportunistic points
// and reports how many reservations and locks were closed.
func (c *Coordinator) SweepExpired(ctx context.Context) (reservations, locksSwept int64, err error) {
	return c.locks.SweepExpired(ctx)
}
