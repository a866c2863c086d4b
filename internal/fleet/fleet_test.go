package fleet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fleettools/internal/checkpoint"
	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/locks"
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

func newTestCoordinator(t *testing.T) (*Coordinator, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts := config.DefaultOptions(t.TempDir())
	opts.InMemory = true
	opts.Clock = clock.Now
	c, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func registerPilot(t *testing.T, c *Coordinator, callsign string) *types.Pilot {
	t.Helper()
	pilot, err := c.RegisterPilot(context.Background(), RegisterParams{Callsign: callsign, Program: "opencode"})
	if err != nil {
		t.Fatalf("RegisterPilot(%s): %v", callsign, err)
	}
	return pilot
}

func countEvents(t *testing.T, c *Coordinator, eventTypes ...event.Type) int64 {
	t.Helper()
	n, err := c.store.Count(context.Background(), eventTypes...)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestRegisterPilotAndHeartbeat(t *testing.T) {
	c, clock := newTestCoordinator(t)
	ctx := context.Background()

	pilot, err := c.RegisterPilot(ctx, RegisterParams{
		Callsign: "callsign-vp1",
		Program:  "opencode",
		Model:    "claude-sonnet",
	})
	if err != nil {
		t.Fatalf("RegisterPilot: %v", err)
	}
	if pilot.Callsign != "callsign-vp1" || pilot.Program != "opencode" || pilot.Model != "claude-sonnet" {
		t.Errorf("pilot = %+v", pilot)
	}
	if pilot.Status != types.PilotActive {
		t.Errorf("status = %q, want active", pilot.Status)
	}

	log, err := c.ReplayEvents(ctx, store.QueryOptions{})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(log) != 1 || log[0].Type != event.TypePilotRegistered || log[0].Sequence != 1 {
		t.Fatalf("log = %+v, want one pilot_registered at sequence 1", log)
	}

	clock.Advance(5 * time.Minute)
	pilot, err = c.PilotHeartbeat(ctx, "callsign-vp1")
	if err != nil {
		t.Fatalf("PilotHeartbeat: %v", err)
	}
	if pilot.LastActiveAt != c.store.Now() {
		t.Errorf("LastActiveAt = %v, want %v", pilot.LastActiveAt, c.store.Now())
	}

	log, err = c.ReplayEvents(ctx, store.QueryOptions{})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(log) != 2 || log[1].Type != event.TypePilotActive || log[1].Sequence != 2 {
		t.Fatalf("log after heartbeat = %+v", log)
	}
}

func TestRegisterPilotIsUpsert(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	registerPilot(t, c, "callsign-vp1")
	pilot, err := c.RegisterPilot(ctx, RegisterParams{
		Callsign: "callsign-vp1",
		Program:  "crush",
		Model:    "gpt-5",
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if pilot.Program != "crush" || pilot.Model != "gpt-5" {
		t.Errorf("profile not refreshed: %+v", pilot)
	}

	pilots, err := c.ListPilots(ctx, false)
	if err != nil {
		t.Fatalf("ListPilots: %v", err)
	}
	if len(pilots) != 1 {
		t.Errorf("pilots = %d rows, want 1", len(pilots))
	}
}

func TestRegisterPilotMintsCallsign(t *testing.T) {
	c, _ := newTestCoordinator(t)

	pilot, err := c.RegisterPilot(context.Background(), RegisterParams{Program: "opencode"})
	if err != nil {
		t.Fatalf("RegisterPilot: %v", err)
	}
	if !ids.Is(pilot.Callsign, ids.PrefixCallsign) {
		t.Errorf("minted callsign %q has wrong prefix", pilot.Callsign)
	}
}

func TestDeregisterPilot(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	registerPilot(t, c, "callsign-vp1")
	registerPilot(t, c, "callsign-vp2")

	pilot, err := c.DeregisterPilot(ctx, "callsign-vp2", "task complete")
	if err != nil {
		t.Fatalf("DeregisterPilot: %v", err)
	}
	if pilot.Status != types.PilotDeregistered || pilot.DeregisterReason != "task complete" {
		t.Errorf("pilot = %+v", pilot)
	}

	active, err := c.ListPilots(ctx, false)
	if err != nil {
		t.Fatalf("ListPilots: %v", err)
	}
	if len(active) != 1 || active[0].Callsign != "callsign-vp1" {
		t.Errorf("active roster = %+v", active)
	}
	all, err := c.ListPilots(ctx, true)
	if err != nil {
		t.Fatalf("ListPilots(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full roster = %d rows, want 2", len(all))
	}
}

func TestSendMessageFanOut(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	msg, err := c.SendMessage(ctx, SendParams{
		From:       "callsign-a",
		To:         []string{"callsign-b", "callsign-c"},
		Subject:    "S",
		Body:       "B",
		Importance: types.ImportanceHigh,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(msg.Recipients) != 2 {
		t.Fatalf("recipients = %+v, want 2", msg.Recipients)
	}
	for _, r := range msg.Recipients {
		if r.ReadAt != nil {
			t.Errorf("recipient %s born read", r.Callsign)
		}
	}
	if n := countEvents(t, c, event.TypeMessageSent); n != 1 {
		t.Errorf("message_sent count = %d, want 1", n)
	}

	// No thread given, so one was minted and recorded first.
	if !ids.Is(msg.ThreadID, ids.PrefixThread) {
		t.Fatalf("thread id %q not minted", msg.ThreadID)
	}
	if n := countEvents(t, c, event.TypeThreadCreated); n != 1 {
		t.Errorf("thread_created count = %d, want 1", n)
	}
	thread, err := c.GetThread(ctx, msg.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.MessageCount != 1 || thread.Subject != "S" {
		t.Errorf("thread = %+v", thread)
	}

	// Reading marks exactly one recipient.
	msg, err = c.MarkRead(ctx, msg.MessageID, "callsign-b")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	for _, r := range msg.Recipients {
		read := r.ReadAt != nil
		if r.Callsign == "callsign-b" && !read {
			t.Error("callsign-b still unread")
		}
		if r.Callsign == "callsign-c" && read {
			t.Error("callsign-c read without asking")
		}
	}

	// An ack implies a read.
	msg, err = c.MarkAcked(ctx, msg.MessageID, "callsign-c")
	if err != nil {
		t.Fatalf("MarkAcked: %v", err)
	}
	for _, r := range msg.Recipients {
		if r.Callsign == "callsign-c" && (r.AckedAt == nil || r.ReadAt == nil) {
			t.Errorf("callsign-c delivery state = %+v", r)
		}
	}
}

func TestSendMessageExistingThread(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.SendMessage(ctx, SendParams{
		From: "callsign-a", To: []string{"callsign-b"}, Subject: "plan",
	})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	reply, err := c.SendMessage(ctx, SendParams{
		From: "callsign-b", To: []string{"callsign-a"}, Subject: "re: plan",
		ThreadID: first.ThreadID,
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ThreadID != first.ThreadID {
		t.Errorf("reply landed in thread %q, want %q", reply.ThreadID, first.ThreadID)
	}
	if n := countEvents(t, c, event.TypeThreadCreated); n != 1 {
		t.Errorf("thread_created count = %d, want 1", n)
	}

	messages, err := c.ThreadMessages(ctx, first.ThreadID)
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].MessageID != first.MessageID {
		t.Errorf("thread messages = %+v", messages)
	}
	thread, err := c.GetThread(ctx, first.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", thread.MessageCount)
	}
}

func TestListInboxFilters(t *testing.T) {
	c, clock := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.SendMessage(ctx, SendParams{
		From: "callsign-a", To: []string{"callsign-b"}, Subject: "old",
	}); err != nil {
		t.Fatalf("send old: %v", err)
	}
	clock.Advance(time.Hour)
	cutoff := c.store.Now()
	recent, err := c.SendMessage(ctx, SendParams{
		From: "callsign-a", To: []string{"callsign-b"}, Subject: "new",
	})
	if err != nil {
		t.Fatalf("send new: %v", err)
	}

	inbox, err := c.ListInbox(ctx, "callsign-b", InboxFilter{})
	if err != nil {
		t.Fatalf("ListInbox: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox = %d messages, want 2", len(inbox))
	}
	if inbox[0].Subject != "new" {
		t.Errorf("inbox not newest first: %+v", inbox[0])
	}

	since, err := c.ListInbox(ctx, "callsign-b", InboxFilter{Since: cutoff})
	if err != nil {
		t.Fatalf("ListInbox(since): %v", err)
	}
	if len(since) != 1 || since[0].Subject != "new" {
		t.Errorf("since filter = %+v", since)
	}

	if _, err := c.MarkRead(ctx, recent.MessageID, "callsign-b"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, err := c.ListInbox(ctx, "callsign-b", InboxFilter{UnreadOnly: true})
	if err != nil {
		t.Fatalf("ListInbox(unread): %v", err)
	}
	if len(unread) != 1 || unread[0].Subject != "old" {
		t.Errorf("unread filter = %+v", unread)
	}
}

func TestLockContention(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx, locks.LockRequest{
		Path: "src/x.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit, TTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	if first.Conflict {
		t.Fatalf("first acquire conflicted: %+v", first)
	}

	second, err := c.AcquireLock(ctx, locks.LockRequest{
		Path: "src/x.ts", Callsign: "callsign-b", Purpose: types.PurposeEdit,
	})
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	if !second.Conflict {
		t.Fatal("second acquire did not conflict")
	}
	if second.Existing == nil || second.Existing.Holder != "callsign-a" {
		t.Fatalf("Existing = %+v, want callsign-a's lock", second.Existing)
	}
	if second.Existing.ExpiresAt != first.Lock.ExpiresAt {
		t.Errorf("conflict expiry = %v, want %v", second.Existing.ExpiresAt, first.Lock.ExpiresAt)
	}

	if _, err := c.ReleaseLock(ctx, first.Lock.LockID, "callsign-a"); err != nil {
		t.Fatalf("release A: %v", err)
	}
	retry, err := c.AcquireLock(ctx, locks.LockRequest{
		Path: "src/x.ts", Callsign: "callsign-b", Purpose: types.PurposeEdit,
	})
	if err != nil {
		t.Fatalf("retry B: %v", err)
	}
	if retry.Conflict {
		t.Fatalf("retry after release conflicted: %+v", retry)
	}

	held, err := c.ListActiveLocks(ctx, "")
	if err != nil {
		t.Fatalf("ListActiveLocks: %v", err)
	}
	if len(held) != 1 || held[0].Holder != "callsign-b" {
		t.Errorf("held = %+v", held)
	}
}

func TestReserveAndReleaseThroughFacade(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	result, err := c.ReserveFiles(ctx, locks.ReserveParams{
		Callsign:  "callsign-a",
		Paths:     []string{"src/a.ts", "src/b.ts"},
		Exclusive: true,
		Reason:    "refactor",
	})
	if err != nil {
		t.Fatalf("ReserveFiles: %v", err)
	}
	if result.Conflict || result.Reservation == nil {
		t.Fatalf("result = %+v", result)
	}

	contested, err := c.ReserveFiles(ctx, locks.ReserveParams{
		Callsign:  "callsign-b",
		Paths:     []string{"src/b.ts"},
		Exclusive: true,
	})
	if err != nil {
		t.Fatalf("contested reserve: %v", err)
	}
	if !contested.Conflict || len(contested.Existing) == 0 {
		t.Fatalf("contested = %+v, want conflict with holders", contested)
	}
	if contested.Existing[0].Holder != "callsign-a" {
		t.Errorf("conflict holder = %q", contested.Existing[0].Holder)
	}

	if _, err := c.ReleaseFiles(ctx, "callsign-a", nil, []string{result.Reservation.ReservationID}); err != nil {
		t.Fatalf("ReleaseFiles: %v", err)
	}
	live, err := c.ListActiveReservations(ctx, "")
	if err != nil {
		t.Fatalf("ListActiveReservations: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("reservations still live: %+v", live)
	}
}

func TestSortieViolationSurfacesAsInvalidTransition(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	sortie, err := c.CreateSortie(ctx, SortieParams{Title: "Fix flaky test", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSortie: %v", err)
	}

	// Completing an open sortie skips in_progress; the machine refuses.
	_, err = c.CompleteSortie(ctx, sortie.SortieID, "callsign-a")
	var transition *types.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if transition.From != "open" || transition.To != "closed" {
		t.Errorf("transition = %+v", transition)
	}

	unchanged, err := c.GetSortie(ctx, sortie.SortieID)
	if err != nil {
		t.Fatalf("GetSortie: %v", err)
	}
	if unchanged.Status != types.SortieOpen {
		t.Errorf("status = %q, want open", unchanged.Status)
	}

	if n := countEvents(t, c, event.TypeCoordinatorViolation); n != 1 {
		t.Errorf("coordinator_violation count = %d, want 1", n)
	}
	if n := countEvents(t, c, event.TypeSortieCompleted); n != 0 {
		t.Errorf("sortie_completed count = %d, want 0", n)
	}
}

func TestMissionLifecycleAndSync(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	mission, err := c.CreateMission(ctx, MissionParams{Title: "Ship v2", Priority: 1, CreatedBy: "callsign-lead"})
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if mission.Status != types.MissionPending {
		t.Errorf("status = %q, want pending", mission.Status)
	}
	if mission, err = c.StartMission(ctx, mission.MissionID); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	if mission.Status != types.MissionInProgress {
		t.Errorf("status = %q, want in_progress", mission.Status)
	}

	one, err := c.CreateSortie(ctx, SortieParams{MissionID: mission.MissionID, Title: "one", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSortie one: %v", err)
	}
	if _, err := c.CreateSortie(ctx, SortieParams{MissionID: mission.MissionID, Title: "two", Priority: 1}); err != nil {
		t.Fatalf("CreateSortie two: %v", err)
	}
	if _, err := c.StartSortie(ctx, one.SortieID, "callsign-a"); err != nil {
		t.Fatalf("StartSortie: %v", err)
	}
	if _, err := c.CompleteSortie(ctx, one.SortieID, "callsign-a"); err != nil {
		t.Fatalf("CompleteSortie: %v", err)
	}

	mission, err = c.GetMission(ctx, mission.MissionID)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if mission.TotalSorties != 2 || mission.CompletedSorties != 1 {
		t.Errorf("totals = %d/%d, want 1/2 complete", mission.CompletedSorties, mission.TotalSorties)
	}

	// Sync recounts to the same figures; the event is still recorded.
	mission, err = c.SyncMission(ctx, mission.MissionID)
	if err != nil {
		t.Fatalf("SyncMission: %v", err)
	}
	if mission.TotalSorties != 2 || mission.CompletedSorties != 1 {
		t.Errorf("totals after sync = %d/%d", mission.CompletedSorties, mission.TotalSorties)
	}
	if n := countEvents(t, c, event.TypeMissionSynced); n != 1 {
		t.Errorf("mission_synced count = %d, want 1", n)
	}

	if mission, err = c.CompleteMission(ctx, mission.MissionID); err != nil {
		t.Fatalf("CompleteMission: %v", err)
	}
	if mission.Status != types.MissionCompleted {
		t.Errorf("status = %q, want completed", mission.Status)
	}
}

func TestChangeSortieStatusDeclaresObservedFrom(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	sortie, err := c.CreateSortie(ctx, SortieParams{Title: "migrate schema", Priority: 2})
	if err != nil {
		t.Fatalf("CreateSortie: %v", err)
	}
	if _, err := c.StartSortie(ctx, sortie.SortieID, "callsign-a"); err != nil {
		t.Fatalf("StartSortie: %v", err)
	}
	if _, err := c.BlockSortie(ctx, sortie.SortieID, "waiting on review"); err != nil {
		t.Fatalf("BlockSortie: %v", err)
	}

	resumed, err := c.ChangeSortieStatus(ctx, sortie.SortieID, types.SortieInProgress, "review landed")
	if err != nil {
		t.Fatalf("ChangeSortieStatus: %v", err)
	}
	if resumed.Status != types.SortieInProgress {
		t.Errorf("status = %q, want in_progress", resumed.Status)
	}
	if resumed.BlockedReason != "" {
		t.Errorf("blocked reason survived resume: %q", resumed.BlockedReason)
	}

	recorded, err := c.ReplayEvents(ctx, store.QueryOptions{Types: []event.Type{event.TypeSortieStatusChanged}})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(recorded))
	}
	payload, err := recorded[0].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	change := payload.(*event.SortieStatusChanged)
	if change.From != types.SortieBlocked || change.To != types.SortieInProgress {
		t.Errorf("recorded transition = %s->%s", change.From, change.To)
	}
}

func TestWorkOrderLifecycle(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	mission, err := c.CreateMission(ctx, MissionParams{Title: "Ship v2", Priority: 1})
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	sortie, err := c.CreateSortie(ctx, SortieParams{MissionID: mission.MissionID, Title: "parent", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSortie: %v", err)
	}

	wo, err := c.CreateWorkOrder(ctx, WorkOrderParams{
		SortieID: sortie.SortieID,
		Title:    "extract helper",
		Priority: 1,
		Assignee: "callsign-a",
	})
	if err != nil {
		t.Fatalf("CreateWorkOrder: %v", err)
	}
	if !ids.Is(wo.WorkOrderID, ids.PrefixWorkOrder) {
		t.Errorf("work order id %q has wrong prefix", wo.WorkOrderID)
	}
	if wo.SortieID != sortie.SortieID {
		t.Errorf("parent = %q, want %q", wo.SortieID, sortie.SortieID)
	}
	if wo.Status != types.SortieOpen {
		t.Errorf("status = %q, want open", wo.Status)
	}

	if _, err := c.StartWorkOrder(ctx, wo.WorkOrderID, "callsign-a"); err != nil {
		t.Fatalf("StartWorkOrder: %v", err)
	}
	if wo, err = c.ProgressWorkOrder(ctx, wo.WorkOrderID, 40, "halfway"); err != nil {
		t.Fatalf("ProgressWorkOrder: %v", err)
	}
	if wo.ProgressPercent != 40 {
		t.Errorf("progress = %d, want 40", wo.ProgressPercent)
	}
	if wo, err = c.CompleteWorkOrder(ctx, wo.WorkOrderID, "callsign-a"); err != nil {
		t.Fatalf("CompleteWorkOrder: %v", err)
	}
	if wo.Status != types.SortieClosed || wo.ProgressPercent != 100 {
		t.Errorf("completed work order = %+v", wo)
	}

	orders, err := c.ListWorkOrders(ctx, sortie.SortieID)
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("orders = %d, want 1", len(orders))
	}

	// Mission totals count sorties only; the work order must not bump them.
	mission, err = c.GetMission(ctx, mission.MissionID)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if mission.TotalSorties != 1 || mission.CompletedSorties != 0 {
		t.Errorf("mission totals = %d/%d, want 0/1", mission.CompletedSorties, mission.TotalSorties)
	}
}

func TestCreateWorkOrderUnknownParent(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.CreateWorkOrder(context.Background(), WorkOrderParams{
		SortieID: "sortie-missing",
		Title:    "orphan",
		Priority: 1,
	})
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if n := countEvents(t, c); n != 0 {
		t.Errorf("log has %d events after refused create, want 0", n)
	}
}

func TestRecordDiagnosticEvents(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Record(ctx, &event.PilotSpawned{
		Callsign:       "callsign-sub1",
		ParentCallsign: "callsign-lead",
		Role:           "tester",
	}); err != nil {
		t.Fatalf("Record spawn: %v", err)
	}
	if _, err := c.Record(ctx, &event.ReviewStarted{
		Reviewer: "callsign-lead",
		Target:   "src/auth.ts",
	}); err != nil {
		t.Fatalf("Record review: %v", err)
	}

	if n := countEvents(t, c, event.TypePilotSpawned, event.TypeReviewStarted); n != 2 {
		t.Errorf("diagnostic events = %d, want 2", n)
	}
}

func TestOverview(t *testing.T) {
	c, clock := newTestCoordinator(t)
	ctx := context.Background()

	registerPilot(t, c, "callsign-a")
	registerPilot(t, c, "callsign-b")

	mission, err := c.CreateMission(ctx, MissionParams{Title: "Ship v2", Priority: 1})
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	sortie, err := c.CreateSortie(ctx, SortieParams{MissionID: mission.MissionID, Title: "one", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSortie: %v", err)
	}
	closed, err := c.CreateSortie(ctx, SortieParams{MissionID: mission.MissionID, Title: "two", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSortie two: %v", err)
	}
	if _, err := c.StartSortie(ctx, closed.SortieID, "callsign-b"); err != nil {
		t.Fatalf("StartSortie: %v", err)
	}
	if _, err := c.CompleteSortie(ctx, closed.SortieID, "callsign-b"); err != nil {
		t.Fatalf("CompleteSortie: %v", err)
	}

	if _, err := c.ReserveFiles(ctx, locks.ReserveParams{
		Callsign: "callsign-a", Paths: []string{"src/a.ts"}, Exclusive: true,
	}); err != nil {
		t.Fatalf("ReserveFiles: %v", err)
	}
	if _, err := c.AcquireLock(ctx, locks.LockRequest{
		Path: "src/a.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit,
	}); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	cp, err := c.CreateCheckpoint(ctx, checkpoint.CreateParams{
		MissionID: mission.MissionID, Callsign: "callsign-a", Trigger: types.TriggerManual,
	})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	clock.Advance(time.Second)

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.Project != c.Project() {
		t.Errorf("project = %q", ov.Project)
	}
	if len(ov.Pilots) != 2 {
		t.Errorf("pilots = %d, want 2", len(ov.Pilots))
	}
	if len(ov.ActiveReservations) != 1 || len(ov.ActiveLocks) != 1 {
		t.Errorf("reservations/locks = %d/%d, want 1/1", len(ov.ActiveReservations), len(ov.ActiveLocks))
	}
	if len(ov.OpenSorties) != 1 || ov.OpenSorties[0].SortieID != sortie.SortieID {
		t.Errorf("open sorties = %+v", ov.OpenSorties)
	}
	if len(ov.Missions) != 1 {
		t.Errorf("missions = %d, want 1", len(ov.Missions))
	}
	if ov.LatestCheckpoint == nil || ov.LatestCheckpoint.CheckpointID != cp.CheckpointID {
		t.Errorf("latest checkpoint = %+v", ov.LatestCheckpoint)
	}
	if ov.EventCount == 0 || ov.LatestSequence == 0 {
		t.Errorf("log figures = %d events, latest %d", ov.EventCount, ov.LatestSequence)
	}
	if ov.EventCount != ov.LatestSequence {
		t.Errorf("gapless log should have count == latest sequence, got %d != %d", ov.EventCount, ov.LatestSequence)
	}
}

func TestOverviewEmptyProject(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ov, err := c.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Pilots) != 0 || len(ov.Missions) != 0 || ov.LatestCheckpoint != nil {
		t.Errorf("empty project overview = %+v", ov)
	}
	if ov.EventCount != 0 || ov.LatestSequence != 0 {
		t.Errorf("log figures = %d/%d, want 0/0", ov.EventCount, ov.LatestSequence)
	}
}

func TestRebuildThroughFacade(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	registerPilot(t, c, "callsign-a")
	mission, err := c.CreateMission(ctx, MissionParams{Title: "Ship v2", Priority: 1})
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if _, err := c.StartMission(ctx, mission.MissionID); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	report, err := c.RebuildAllProjections(ctx)
	if err != nil {
		t.Fatalf("RebuildAllProjections: %v", err)
	}
	if report.EventsReplayed != 3 {
		t.Errorf("EventsReplayed = %d, want 3", report.EventsReplayed)
	}

	rebuilt, err := c.GetMission(ctx, mission.MissionID)
	if err != nil {
		t.Fatalf("GetMission after rebuild: %v", err)
	}
	if rebuilt.Status != types.MissionInProgress {
		t.Errorf("rebuilt status = %q, want in_progress", rebuilt.Status)
	}
}

func TestForceReleaseThroughFacade(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	result, err := c.AcquireLock(ctx, locks.LockRequest{
		Path: "src/x.ts", Callsign: "callsign-a", Purpose: types.PurposeEdit,
	})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	released, err := c.ForceReleaseLock(ctx, result.Lock.LockID, "callsign-lead", "holder unresponsive")
	if err != nil {
		t.Fatalf("ForceReleaseLock: %v", err)
	}
	if released.Status != types.LockReleased {
		t.Errorf("status = %q, want released", released.Status)
	}

	decisions, err := c.ReplayEvents(ctx, store.QueryOptions{Types: []event.Type{event.TypeCoordinatorDecision}})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	payload, err := decisions[0].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	decision := payload.(*event.CoordinatorDecision)
	if decision.Actor != "callsign-lead" || !strings.Contains(decision.Action, "force_release") {
		t.Errorf("decision = %+v", decision)
	}
}
