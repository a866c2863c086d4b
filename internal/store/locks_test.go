package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleettools/internal/types"
)

func acquireParams(id, path, holder string, ttl time.Duration) LockParams {
	return LockParams{
		LockID:  id,
		Path:    path,
		Holder:  holder,
		Purpose: types.PurposeEdit,
		TTLMs:   ttl.Milliseconds(),
	}
}

func TestAcquireLockFreshPath(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.AcquireLock(context.Background(), acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute))
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if res.Conflict {
		t.Fatalf("fresh path reported conflict: %+v", res)
	}
	if res.Lock.Status != types.LockActive {
		t.Errorf("status = %q, want active", res.Lock.Status)
	}
	if res.Lock.ExpiresAt != res.Lock.AcquiredAt.Add(time.Minute) {
		t.Errorf("expiry = %d, want acquired+1m", res.Lock.ExpiresAt)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	res, err := s.AcquireLock(ctx, acquireParams("lock-2", "src/main.go", "callsign-bravo", time.Minute))
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if !res.Conflict {
		t.Fatal("second holder acquired a held path")
	}
	if res.Existing.LockID != first.Lock.LockID || res.Existing.Holder != "callsign-alpha" {
		t.Errorf("conflict reports wrong holder: %+v", res.Existing)
	}

	// The losing attempt must not leave a row behind.
	if _, err := s.GetLock(ctx, "lock-2"); err == nil {
		t.Error("conflicting acquire inserted a lock row")
	}
}

func TestAcquireLockSameHolderRefreshes(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	clock.Advance(30 * time.Second)
	res, err := s.AcquireLock(ctx, acquireParams("lock-2", "src/main.go", "callsign-alpha", time.Minute))
	if err != nil {
		t.Fatalf("refresh acquire: %v", err)
	}
	if res.Conflict {
		t.Fatal("same holder reported conflict")
	}
	if res.Lock.LockID != first.Lock.LockID {
		t.Errorf("refresh minted a new id %q, want original %q", res.Lock.LockID, first.Lock.LockID)
	}
	if res.Lock.ExpiresAt != first.Lock.ExpiresAt.Add(30*time.Second) {
		t.Errorf("expiry not extended: %d", res.Lock.ExpiresAt)
	}
}

func TestAcquireLockAfterExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute)); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	clock.Advance(2 * time.Minute)
	res, err := s.AcquireLock(ctx, acquireParams("lock-2", "src/main.go", "callsign-bravo", time.Minute))
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if res.Conflict {
		t.Fatalf("expired lock still blocks: %+v", res.Existing)
	}
	if res.Lock.Holder != "callsign-bravo" {
		t.Errorf("holder = %q, want callsign-bravo", res.Lock.Holder)
	}

	// The sweep marked the stale row released.
	old, err := s.GetLock(ctx, "lock-1")
	if err != nil {
		t.Fatalf("GetLock old: %v", err)
	}
	if old.Status != types.LockReleased {
		t.Errorf("expired lock status = %q, want released", old.Status)
	}
}

func TestReleaseLock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released, err := s.ReleaseLock(ctx, "lock-1", "callsign-alpha")
	if err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if released.Status != types.LockReleased || released.ReleasedAt == nil {
		t.Errorf("release not recorded: %+v", released)
	}

	// Releasing twice finds no active lock.
	var notFound *types.NotFoundError
	if _, err := s.ReleaseLock(ctx, "lock-1", "callsign-alpha"); !errors.As(err, &notFound) {
		t.Errorf("double release: err = %v, want NotFoundError", err)
	}

	// The path is free again.
	res, err := s.AcquireLock(ctx, acquireParams("lock-2", "src/main.go", "callsign-bravo", time.Minute))
	if err != nil || res.Conflict {
		t.Fatalf("acquire after release: err=%v conflict=%v", err, res != nil && res.Conflict)
	}
}

func TestReleaseLockWrongHolder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := s.ReleaseLock(ctx, "lock-1", "callsign-bravo")
	var conflict *types.LockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want LockConflictError", err)
	}
	if conflict.Holder != "callsign-alpha" {
		t.Errorf("conflict holder = %q, want callsign-alpha", conflict.Holder)
	}

	lock, _ := s.GetLock(ctx, "lock-1")
	if lock.Status != types.LockActive {
		t.Errorf("lock released by non-holder")
	}
}

func TestForceReleaseLock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, acquireParams("lock-1", "src/main.go", "callsign-alpha", time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released, err := s.ForceReleaseLock(ctx, "lock-1")
	if err != nil {
		t.Fatalf("ForceReleaseLock: %v", err)
	}
	if released.Holder != "callsign-alpha" || released.Status != types.LockReleased {
		t.Errorf("force release returned %+v", released)
	}
}

func TestActiveLocks(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, acquireParams("lock-1", "a.go", "callsign-alpha", time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.AcquireLock(ctx, acquireParams("lock-2", "b.go", "callsign-alpha", 10*time.Second)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.AcquireLock(ctx, acquireParams("lock-3", "c.go", "callsign-bravo", time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	all, err := s.ActiveLocks(ctx, "")
	if err != nil {
		t.Fatalf("ActiveLocks: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("active locks = %d, want 3", len(all))
	}

	mine, err := s.ActiveLocks(ctx, "callsign-alpha")
	if err != nil {
		t.Fatalf("ActiveLocks holder: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("alpha locks = %d, want 2", len(mine))
	}

	// Expired rows drop out of the listing even before a sweep.
	clock.Advance(30 * time.Second)
	all, _ = s.ActiveLocks(ctx, "")
	if len(all) != 2 {
		t.Errorf("after expiry, active locks = %d, want 2", len(all))
	}

	swept, err := s.SweepExpiredLocks(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredLocks: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
}

func TestReacquireLock(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	orig, err := s.AcquireLock(ctx, acquireParams("lock-old", "src/main.go", "callsign-alpha", time.Minute))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	snap := types.LockSnapshot{
		LockID:     orig.Lock.LockID,
		Path:       orig.Lock.Path,
		Holder:     orig.Lock.Holder,
		AcquiredAt: orig.Lock.AcquiredAt,
		Purpose:    orig.Lock.Purpose,
		TTLMs:      time.Minute.Milliseconds(),
	}

	// Old lock expired while the pilot was down; reacquire takes a fresh id.
	clock.Advance(2 * time.Minute)
	re, err := s.ReacquireLock(ctx, snap, "lock-new")
	if err != nil {
		t.Fatalf("ReacquireLock: %v", err)
	}
	if re.Conflict != nil {
		t.Fatalf("unexpected conflict: %+v", re.Conflict)
	}
	if re.NewLockID != "lock-new" || re.OldLockID != "lock-old" {
		t.Errorf("reacquisition ids wrong: %+v", re)
	}

	// Another pilot took the path meanwhile: conflict, no steal.
	clock.Advance(2 * time.Minute)
	if _, err := s.AcquireLock(ctx, acquireParams("lock-3", "src/main.go", "callsign-bravo", time.Hour)); err != nil {
		t.Fatalf("rival acquire: %v", err)
	}
	re, err = s.ReacquireLock(ctx, snap, "lock-4")
	if err != nil {
		t.Fatalf("ReacquireLock vs rival: %v", err)
	}
	if re.Conflict == nil {
		t.Fatal("reacquire stole a held path")
	}
	if re.Conflict.Holder != "callsign-bravo" {
		t.Errorf("conflict holder = %q, want callsign-bravo", re.Conflict.Holder)
	}
	if re.NewLockID != "" {
		t.Errorf("conflicted reacquire still minted %q", re.NewLockID)
	}
}
