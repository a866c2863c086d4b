package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/types"
)

// testClock is a steppable time source so TTL expiry and ordering are
// deterministic.
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

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts := config.DefaultOptions(t.TempDir())
	opts.InMemory = true
	opts.Clock = clock.Now
	s, err := Open(&opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func mustAppend(t *testing.T, s *Store, p event.Payload) *event.Event {
	t.Helper()
	e, err := s.AppendPayload(context.Background(), p)
	if err != nil {
		t.Fatalf("append %s: %v", p.EventType(), err)
	}
	return e
}

func TestOpenFreshStore(t *testing.T) {
	s, _ := newTestStore(t)

	if s.Path() != ":memory:" {
		t.Errorf("Path = %q, want :memory:", s.Path())
	}
	seq, err := s.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatalf("GetLatestSequence: %v", err)
	}
	if seq != 0 {
		t.Errorf("fresh store sequence = %d, want 0", seq)
	}
	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh store count = %d, want 0", count)
	}
}

func TestAppendAssignsSequences(t *testing.T) {
	s, clock := newTestStore(t)

	e1 := mustAppend(t, s, &event.PilotRegistered{Callsign: "callsign-alpha"})
	clock.Advance(time.Second)
	e2 := mustAppend(t, s, &event.PilotActive{Callsign: "callsign-alpha"})
	clock.Advance(time.Second)
	e3 := mustAppend(t, s, &event.PilotRegistered{Callsign: "callsign-bravo"})

	for i, e := range []*event.Event{e1, e2, e3} {
		if e.Sequence != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, e.Sequence, i+1)
		}
		if e.ID == 0 {
			t.Errorf("event %d has no log id", i)
		}
	}
	if e2.Timestamp != e1.Timestamp.Add(time.Second) {
		t.Errorf("timestamps not stamped from clock: %d then %d", e1.Timestamp, e2.Timestamp)
	}

	seq, err := s.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatalf("GetLatestSequence: %v", err)
	}
	if seq != 3 {
		t.Errorf("latest sequence = %d, want 3", seq)
	}
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendPayload(context.Background(), &event.PilotRegistered{})
	var invalid *types.InvalidEventError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidEventError", err)
	}
	if invalid.Field != "callsign" {
		t.Errorf("Field = %q, want callsign", invalid.Field)
	}

	count, _ := s.Count(context.Background())
	if count != 0 {
		t.Errorf("invalid append wrote %d events, want 0", count)
	}
}

func TestAppendCancelledContext(t *testing.T) {
	s, _ := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AppendPayload(ctx, &event.PilotRegistered{Callsign: "callsign-alpha"})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	count, _ := s.Count(context.Background())
	if count != 0 {
		t.Errorf("cancelled append wrote %d events, want 0", count)
	}
}

func TestAppendProjectsAtomically(t *testing.T) {
	s, _ := newTestStore(t)

	mustAppend(t, s, &event.PilotRegistered{
		Callsign: "callsign-alpha",
		Program:  "opencode",
		Model:    "sonnet",
	})

	pilot, err := s.GetPilot(context.Background(), "callsign-alpha")
	if err != nil {
		t.Fatalf("GetPilot after append: %v", err)
	}
	if pilot.Status != types.PilotActive {
		t.Errorf("status = %q, want active", pilot.Status)
	}
	if pilot.Program != "opencode" || pilot.Model != "sonnet" {
		t.Errorf("pilot fields not projected: %+v", pilot)
	}
	if pilot.RegisteredAt != s.Now() {
		t.Errorf("registered_at = %d, want clock value %d", pilot.RegisteredAt, s.Now())
	}
}

func TestTransitionViolationRecordedInPlace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, &event.SortieCreated{SortieID: "sortie-s1", Title: "wire parser", Priority: 1})
	mustAppend(t, s, &event.SortieStarted{SortieID: "sortie-s1", Callsign: "callsign-alpha"})
	mustAppend(t, s, &event.SortieCompleted{SortieID: "sortie-s1"})

	recorded, err := s.AppendPayload(ctx, &event.SortieStarted{SortieID: "sortie-s1"})
	var refusal *types.InvalidTransitionError
	if !errors.As(err, &refusal) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if refusal.From != "closed" || refusal.To != "in_progress" {
		t.Errorf("refusal = %s -> %s, want closed -> in_progress", refusal.From, refusal.To)
	}

	if recorded == nil {
		t.Fatal("no event recorded for the violation")
	}
	if recorded.Type != event.TypeCoordinatorViolation {
		t.Fatalf("recorded type = %s, want coordinator_violation", recorded.Type)
	}
	if recorded.Sequence != 4 {
		t.Errorf("violation sequence = %d, want 4", recorded.Sequence)
	}
	p, err := recorded.Payload()
	if err != nil {
		t.Fatalf("decode violation payload: %v", err)
	}
	viol := p.(*event.CoordinatorViolation)
	if viol.Entity != "sortie" || viol.EntityID != "sortie-s1" {
		t.Errorf("violation names %s %s, want sortie sortie-s1", viol.Entity, viol.EntityID)
	}
	if viol.OffendingType != event.TypeSortieStarted {
		t.Errorf("offending type = %s, want sortie_started", viol.OffendingType)
	}

	// The sortie row must be untouched by the refused transition.
	sortie, err := s.GetSortie(ctx, "sortie-s1")
	if err != nil {
		t.Fatalf("GetSortie: %v", err)
	}
	if sortie.Status != types.SortieClosed {
		t.Errorf("sortie status = %q, want closed", sortie.Status)
	}
	if sortie.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", sortie.ProgressPercent)
	}

	violations, err := s.Count(ctx, event.TypeCoordinatorViolation)
	if err != nil {
		t.Fatalf("Count violations: %v", err)
	}
	if violations != 1 {
		t.Errorf("violation count = %d, want exactly 1", violations)
	}
	total, _ := s.Count(ctx)
	if total != 4 {
		t.Errorf("total events = %d, want 4", total)
	}
}

func TestReservationConflictRecordedInPlace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	expires := s.Now().Add(time.Hour)
	mustAppend(t, s, &event.FileReserved{
		ReservationID: "reservation-r1", Callsign: "callsign-alpha",
		Paths: []string{"a.go", "b.go"}, Exclusive: true,
		TTLMs: time.Hour.Milliseconds(), ExpiresAt: expires,
	})

	recorded, err := s.AppendPayload(ctx, &event.FileReserved{
		ReservationID: "reservation-r2", Callsign: "callsign-bravo",
		Paths: []string{"b.go", "c.go"}, Exclusive: true,
		TTLMs: time.Hour.Milliseconds(), ExpiresAt: expires,
	})
	var conflict *types.ReservationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ReservationConflictError", err)
	}
	if conflict.Holder != "callsign-alpha" {
		t.Errorf("conflict holder = %q, want callsign-alpha", conflict.Holder)
	}
	if len(conflict.Paths) != 1 || conflict.Paths[0] != "b.go" {
		t.Errorf("conflict paths = %v, want [b.go]", conflict.Paths)
	}
	if recorded == nil || recorded.Type != event.TypeFileConflict {
		t.Fatalf("recorded = %+v, want a file_conflict event", recorded)
	}

	// The refused reservation created no rows.
	if _, err := s.GetReservation(ctx, "reservation-r2"); err == nil {
		t.Error("refused reservation left rows behind")
	}
	reservedCount, _ := s.Count(ctx, event.TypeFileReserved)
	conflictCount, _ := s.Count(ctx, event.TypeFileConflict)
	if reservedCount != 1 || conflictCount != 1 {
		t.Errorf("counts = %d reserved / %d conflict, want 1/1", reservedCount, conflictCount)
	}

	// The holder re-declaring their own paths is not a conflict.
	if _, err := s.AppendPayload(ctx, &event.FileReserved{
		ReservationID: "reservation-r3", Callsign: "callsign-alpha",
		Paths: []string{"a.go"}, Exclusive: true,
		TTLMs: time.Hour.Milliseconds(), ExpiresAt: expires,
	}); err != nil {
		t.Errorf("self-overlap refused: %v", err)
	}

	// Non-exclusive rows never block.
	mustAppend(t, s, &event.FileReserved{
		ReservationID: "reservation-r4", Callsign: "callsign-alpha",
		Paths: []string{"d.go"}, Exclusive: false,
		TTLMs: time.Hour.Milliseconds(), ExpiresAt: expires,
	})
	if _, err := s.AppendPayload(ctx, &event.FileReserved{
		ReservationID: "reservation-r5", Callsign: "callsign-bravo",
		Paths: []string{"d.go"}, Exclusive: true,
		TTLMs: time.Hour.Milliseconds(), ExpiresAt: expires,
	}); err != nil {
		t.Errorf("non-exclusive row blocked a reservation: %v", err)
	}
}

func TestPrecheckMissingEntityRecordsNothing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendPayload(context.Background(), &event.MessageRead{
		MessageID: "message-ghost",
		Callsign:  "callsign-alpha",
	})
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}

	count, _ := s.Count(context.Background())
	if count != 0 {
		t.Errorf("refused append wrote %d events, want 0", count)
	}
}

func TestPrecheckDuplicateCreateRecordsNothing(t *testing.T) {
	s, _ := newTestStore(t)

	create := &event.SortieCreated{SortieID: "sortie-s1", Title: "first", Priority: 1}
	mustAppend(t, s, create)

	_, err := s.AppendPayload(context.Background(), &event.SortieCreated{
		SortieID: "sortie-s1", Title: "second", Priority: 2,
	})
	var conflict *types.ProjectionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ProjectionConflictError", err)
	}

	count, _ := s.Count(context.Background(), event.TypeSortieCreated)
	if count != 1 {
		t.Errorf("sortie_created count = %d, want 1", count)
	}
	sortie, err := s.GetSortie(context.Background(), "sortie-s1")
	if err != nil {
		t.Fatalf("GetSortie: %v", err)
	}
	if sortie.Title != "first" {
		t.Errorf("title = %q, duplicate create overwrote the row", sortie.Title)
	}
}

func TestQueryFilters(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, &event.PilotRegistered{Callsign: "callsign-alpha"})
	clock.Advance(time.Minute)
	cutoff := s.Now()
	mustAppend(t, s, &event.SortieCreated{SortieID: "sortie-s1", Title: "one", Priority: 1})
	clock.Advance(time.Minute)
	mustAppend(t, s, &event.SortieStarted{SortieID: "sortie-s1"})
	clock.Advance(time.Minute)
	mustAppend(t, s, &event.SortieCreated{SortieID: "sortie-s2", Title: "two", Priority: 1})

	byType, err := s.Query(ctx, QueryOptions{Types: []event.Type{event.TypeSortieCreated}})
	if err != nil {
		t.Fatalf("Query by type: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("type filter returned %d events, want 2", len(byType))
	}

	byStream, err := s.Query(ctx, QueryOptions{Stream: types.StreamSortie, StreamID: "sortie-s1"})
	if err != nil {
		t.Fatalf("Query by stream: %v", err)
	}
	if len(byStream) != 2 {
		t.Errorf("stream filter returned %d events, want 2", len(byStream))
	}
	for _, e := range byStream {
		if e.Type != event.TypeSortieCreated && e.Type != event.TypeSortieStarted {
			t.Errorf("stream filter leaked %s", e.Type)
		}
	}

	after, err := s.Query(ctx, QueryOptions{AfterSequence: 2})
	if err != nil {
		t.Fatalf("Query after sequence: %v", err)
	}
	if len(after) != 2 {
		t.Errorf("AfterSequence=2 returned %d events, want 2", len(after))
	}
	if len(after) > 0 && after[0].Sequence != 3 {
		t.Errorf("first event after seq 2 has sequence %d, want 3", after[0].Sequence)
	}

	since, err := s.Query(ctx, QueryOptions{Since: cutoff})
	if err != nil {
		t.Fatalf("Query since: %v", err)
	}
	if len(since) != 3 {
		t.Errorf("Since filter returned %d events, want 3", len(since))
	}

	desc, err := s.Query(ctx, QueryOptions{Limit: 2, Descending: true})
	if err != nil {
		t.Fatalf("Query descending: %v", err)
	}
	if len(desc) != 2 || desc[0].Sequence != 4 || desc[1].Sequence != 3 {
		t.Errorf("descending limit 2 returned wrong window: %+v", desc)
	}

	if _, err := s.Query(ctx, QueryOptions{Stream: "galaxy", StreamID: "x"}); err == nil {
		t.Error("unknown stream kind accepted")
	}
}

func TestGetLatest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	latest, err := s.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest on empty log: %v", err)
	}
	if latest != nil {
		t.Errorf("empty log returned event %+v", latest)
	}

	mustAppend(t, s, &event.PilotRegistered{Callsign: "callsign-alpha"})
	mustAppend(t, s, &event.SortieCreated{SortieID: "sortie-s1", Title: "one", Priority: 1})

	latest, err = s.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.Type != event.TypeSortieCreated {
		t.Errorf("latest = %s, want sortie_created", latest.Type)
	}

	latest, err = s.GetLatest(ctx, event.TypePilotRegistered)
	if err != nil {
		t.Fatalf("GetLatest filtered: %v", err)
	}
	if latest.Type != event.TypePilotRegistered {
		t.Errorf("filtered latest = %s, want pilot_registered", latest.Type)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	opts := config.DefaultOptions(dir)
	opts.Clock = clock.Now

	s, err := Open(&opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, s, &event.PilotRegistered{Callsign: "callsign-alpha"})
	mustAppend(t, s, &event.SortieCreated{SortieID: "sortie-s1", Title: "persisted", Priority: 1})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(&opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count(context.Background())
	if err != nil {
		t.Fatalf("Count after reopen: %v", err)
	}
	if count != 2 {
		t.Errorf("count after reopen = %d, want 2", count)
	}

	// Sequences continue where they left off.
	e := mustAppend(t, reopened, &event.PilotActive{Callsign: "callsign-alpha"})
	if e.Sequence != 3 {
		t.Errorf("sequence after reopen = %d, want 3", e.Sequence)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()
	opts := config.DefaultOptions(dir)

	s, err := Open(&opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	db, err := sql.Open("sqlite", opts.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if err := SetSchemaVersion(db, CurrentSchemaVersion+5); err != nil {
		t.Fatalf("SetSchemaVersion: %v", err)
	}
	db.Close()

	_, err = Open(&opts)
	var mismatch *types.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want SchemaMismatchError", err)
	}
	if mismatch.OnDisk != CurrentSchemaVersion+5 || mismatch.Expected != CurrentSchemaVersion {
		t.Errorf("mismatch = %+v", mismatch)
	}
}

func TestAppendConcurrentSequencesStayGapless(t *testing.T) {
	s, _ := newTestStore(t)

	const writers = 8
	const perWriter = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.AppendPayload(context.Background(), &event.PilotActive{Callsign: "callsign-alpha"})
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}

	events, err := s.Query(context.Background(), QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Fatalf("got %d events, want %d", len(events), writers*perWriter)
	}
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			t.Fatalf("sequence gap at index %d: got %d", i, e.Sequence)
		}
	}
}
