package locks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1756000000000).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts := config.DefaultOptions(t.TempDir())
	opts.InMemory = true
	opts.Clock = clock.Now
	s, err := store.Open(&opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s), s, clock
}

func TestNormalizePath(t *testing.T) {
	project := "/p1"
	cases := []struct {
		in   string
		want string
	}{
		{"src/a.ts", "/p1/src/a.ts"},
		{"./src/a.ts", "/p1/src/a.ts"},
		{"src//sub///a.ts", "/p1/src/sub/a.ts"},
		{"src/sub/../a.ts", "/p1/src/a.ts"},
		{"/p1/src/a.ts", "/p1/src/a.ts"},
		{"/other/b.go", "/other/b.go"},
		{"  src/a.ts", "/p1/src/a.ts"},
		{"src/a.ts/", "/p1/src/a.ts"},
	}
	for _, tc := range cases {
		if got := NormalizePath(project, tc.in); got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := NormalizePath(project, ""); got != "" {
		t.Errorf("NormalizePath(empty) = %q, want empty", got)
	}
}

func TestReserveAndReleaseByID(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Reserve(ctx, ReserveParams{
		Callsign:  "callsign-a",
		Paths:     []string{"src/x.ts", "src/y.ts"},
		Exclusive: true,
		Reason:    "refactor",
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Conflict {
		t.Fatal("fresh reserve reported conflict")
	}
	if result.Reservation == nil || len(result.Reservation.Paths) != 2 {
		t.Fatalf("Reservation = %+v, want 2 paths", result.Reservation)
	}
	for _, p := range result.Reservation.Paths {
		if !filepath.IsAbs(p) {
			t.Errorf("path %q not normalized to absolute", p)
		}
	}

	active, err := m.ActiveReservations(ctx, "callsign-a")
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}

	if _, err := m.ReleaseReservations(ctx, "callsign-a", nil, []string{result.Reservation.ReservationID}); err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	active, err = m.ActiveReservations(ctx, "callsign-a")
	if err != nil {
		t.Fatalf("ActiveReservations after release: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active after release = %d, want 0", len(active))
	}

	released, err := s.GetReservation(ctx, result.Reservation.ReservationID)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if released.ReleasedAt == nil {
		t.Error("released reservation has nil ReleasedAt")
	}
}

func TestReserveReleaseByPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Reserve(ctx, ReserveParams{Callsign: "callsign-a", Paths: []string{"src/x.ts"}}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	// Release by a differently spelled path that normalizes to the same file.
	if _, err := m.ReleaseReservations(ctx, "callsign-a", []string{"./src//x.ts"}, nil); err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	active, err := m.ActiveReservations(ctx, "")
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active = %d, want 0 after release by path", len(active))
	}
}

func TestReserveExclusiveConflict(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Reserve(ctx, ReserveParams{
		Callsign:  "callsign-a",
		Paths:     []string{"src/x.ts"},
		Exclusive: true,
	})
	if err != nil || first.Conflict {
		t.Fatalf("first reserve: result=%+v err=%v", first, err)
	}

	second, err := m.Reserve(ctx, ReserveParams{
		Callsign: "callsign-b",
		Paths:    []string{"src/x.ts", "src/z.ts"},
	})
	if err != nil {
		t.Fatalf("conflicting reserve returned error: %v", err)
	}
	if !second.Conflict {
		t.Fatal("overlapping reserve did not report conflict")
	}
	if len(second.Existing) == 0 || second.Existing[0].Holder != "callsign-a" {
		t.Errorf("Existing = %+v, want holder callsign-a", second.Existing)
	}

	// The log records file_conflict in place of file_reserved.
	conflicts, err := s.Count(ctx, event.TypeFileConflict)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if conflicts != 1 {
		t.Errorf("file_conflict count = %d, want 1", conflicts)
	}
	reserves, err := s.Count(ctx, event.TypeFileReserved)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if reserves != 1 {
		t.Errorf("file_reserved count = %d, want 1", reserves)
	}
}

func TestReserveSharedDoesNotBlock(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Reserve(ctx, ReserveParams{Callsign: "callsign-a", Paths: []string{"src/x.ts"}}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := m.Reserve(ctx, ReserveParams{Callsign: "callsign-b", Paths: []string{"src/x.ts"}})
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if second.Conflict {
		t.Error("shared reservations should not conflict")
	}
}

func TestReserveDefaultTTL(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Reserve(ctx, ReserveParams{Callsign: "callsign-a", Paths: []string{"src/x.ts"}})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	want := s.Now().Add(s.Options().GetReservationTTL())
	if result.Reservation.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d (default TTL)", result.Reservation.ExpiresAt, want)
	}
}

func TestReservationSweepOnNextReserve(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Reserve(ctx, ReserveParams{
		Callsign:  "callsign-a",
		Paths:     []string{"src/x.ts"},
		Exclusive: true,
		TTL:       time.Minute,
	}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	clock.Advance(2 * time.Minute)

	// The stale exclusive holder no longer blocks, and the sweep closes the
	// expired rows with a release on the holder's behalf.
	second, err := m.Reserve(ctx, ReserveParams{
		Callsign:  "callsign-b",
		Paths:     []string{"src/x.ts"},
		Exclusive: true,
	})
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if second.Conflict {
		t.Fatal("expired reservation still blocks")
	}

	releases, err := s.Query(ctx, store.QueryOptions{Types: []event.Type{event.TypeFileReleased}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("file_released events = %d, want 1", len(releases))
	}
	p, err := releases[0].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	released := p.(*event.FileReleased)
	if !released.Expired {
		t.Error("sweep release not marked expired")
	}
	if released.Callsign != "callsign-a" {
		t.Errorf("sweep release callsign = %q, want callsign-a", released.Callsign)
	}
}

func TestSweepExpiredCountsBothTables(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Reserve(ctx, ReserveParams{Callsign: "callsign-a", Paths: []string{"a.ts"}, TTL: time.Minute}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := m.AcquireLock(ctx, LockRequest{Path: "b.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit, TTL: time.Minute}); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	clock.Advance(5 * time.Minute)

	reservations, locks, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if reservations != 1 {
		t.Errorf("swept reservations = %d, want 1", reservations)
	}
	if locks != 1 {
		t.Errorf("swept locks = %d, want 1", locks)
	}
}

func TestAcquireLockNormalizesPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.AcquireLock(ctx, LockRequest{Path: "src/x.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if first.Conflict {
		t.Fatal("fresh acquire reported conflict")
	}

	// A different spelling of the same path must collide.
	second, err := m.AcquireLock(ctx, LockRequest{Path: "./src/sub/../x.ts", Callsign: "callsign-b", Purpose: types.PurposeEdit})
	if err != nil {
		t.Fatalf("AcquireLock second: %v", err)
	}
	if !second.Conflict {
		t.Fatal("normalized path collision not detected")
	}
	if second.Existing.Holder != "callsign-a" {
		t.Errorf("Existing.Holder = %q, want callsign-a", second.Existing.Holder)
	}
}

func TestAcquireLockDefaultsAndValidation(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.AcquireLock(ctx, LockRequest{Path: "a.ts", Callsign: "callsign-a", Purpose: types.PurposeRead})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	want := s.Now().Add(s.Options().GetLockTTL())
	if result.Lock.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d (default TTL)", result.Lock.ExpiresAt, want)
	}

	var invalid *types.InvalidEventError
	if _, err := m.AcquireLock(ctx, LockRequest{Path: "a.ts", Callsign: "callsign-a", Purpose: "steal"}); !errors.As(err, &invalid) {
		t.Errorf("unknown purpose error = %v, want InvalidEventError", err)
	}
	if _, err := m.AcquireLock(ctx, LockRequest{Path: "", Callsign: "callsign-a", Purpose: types.PurposeEdit}); !errors.As(err, &invalid) {
		t.Errorf("empty path error = %v, want InvalidEventError", err)
	}
}

func TestForceReleaseLockRecordsDecision(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.AcquireLock(ctx, LockRequest{Path: "a.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	released, err := m.ForceReleaseLock(ctx, result.Lock.LockID, "callsign-lead", "holder crashed")
	if err != nil {
		t.Fatalf("ForceReleaseLock: %v", err)
	}
	if released.Status != types.LockReleased {
		t.Errorf("Status = %q, want released", released.Status)
	}

	decisions, err := s.Query(ctx, store.QueryOptions{Types: []event.Type{event.TypeCoordinatorDecision}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("coordinator_decision events = %d, want 1", len(decisions))
	}
	p, err := decisions[0].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	decision := p.(*event.CoordinatorDecision)
	if decision.Action != "force_release_lock" {
		t.Errorf("Action = %q, want force_release_lock", decision.Action)
	}
	if decision.Target != result.Lock.LockID {
		t.Errorf("Target = %q, want %q", decision.Target, result.Lock.LockID)
	}
	if decision.Actor != "callsign-lead" {
		t.Errorf("Actor = %q, want callsign-lead", decision.Actor)
	}
}

func TestReacquireLock(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	result, err := m.AcquireLock(ctx, LockRequest{Path: "a.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit, TTL: time.Minute})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	snap := types.LockSnapshot{
		LockID:     result.Lock.LockID,
		Path:       result.Lock.Path,
		Holder:     "callsign-a",
		Purpose:    types.PurposeEdit,
		AcquiredAt: result.Lock.AcquiredAt,
		TTLMs:      time.Minute.Milliseconds(),
	}

	// Original expires; reacquire restores the hold under a fresh id.
	clock.Advance(2 * time.Minute)
	outcome, err := m.ReacquireLock(ctx, snap)
	if err != nil {
		t.Fatalf("ReacquireLock: %v", err)
	}
	if outcome.Conflict != nil {
		t.Fatalf("unexpected conflict: %+v", outcome.Conflict)
	}
	if outcome.NewLockID == "" || outcome.NewLockID == snap.LockID {
		t.Errorf("NewLockID = %q, want fresh id", outcome.NewLockID)
	}

	// A third party holding the path wins over reacquisition.
	clock.Advance(2 * time.Minute)
	if _, err := m.AcquireLock(ctx, LockRequest{Path: "a.ts", Callsign: "callsign-b", Purpose: types.PurposeEdit}); err != nil {
		t.Fatalf("third party acquire: %v", err)
	}
	contested, err := m.ReacquireLock(ctx, snap)
	if err != nil {
		t.Fatalf("ReacquireLock contested: %v", err)
	}
	if contested.Conflict == nil || contested.Conflict.Holder != "callsign-b" {
		t.Errorf("Conflict = %+v, want holder callsign-b", contested.Conflict)
	}
}
