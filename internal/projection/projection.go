// Package projection turns events into read-model rows. Handlers are pure
// with respect to their inputs: every value they write comes from the event
// envelope or payload, never from the wall clock or fresh ids, so replaying
// the same history always rebuilds byte-identical state.
package projection

import (
	"database/sql"

	"fleettools/internal/event"
)

// DBTX is the surface shared by *sql.DB and *sql.Tx. The store calls Apply
// inside the append transaction; tests call it with a bare handle.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Precheck validates an event against current projection state before it is
// written. It returns nil when the event may be applied, a
// *types.InvalidTransitionError for a refused state-machine move, a
// *types.ReservationConflictError for an exclusivity clash, a
// *types.NotFoundError when the target row does not exist, or a
// *types.ProjectionConflictError for a duplicate create.
func Precheck(tx DBTX, e *event.Event) error {
	p, err := e.Payload()
	if err != nil {
		return err
	}

	switch v := p.(type) {
	case *event.MessageSent:
		return precheckMessageSent(tx, e, v)
	case *event.FileReserved:
		return precheckFileReserved(tx, e, v)
	case *event.MessageRead:
		return precheckRecipientRow(tx, v.MessageID, v.Callsign)
	case *event.MessageAcked:
		return precheckRecipientRow(tx, v.MessageID, v.Callsign)
	case *event.SortieCreated:
		return precheckSortieCreated(tx, e, v)
	case *event.SortieStarted:
		return precheckSortieMove(tx, e, v.SortieID, "in_progress")
	case *event.SortieProgress:
		return precheckSortieProgress(tx, e, v)
	case *event.SortieCompleted:
		return precheckSortieMove(tx, e, v.SortieID, "closed")
	case *event.SortieBlocked:
		return precheckSortieMove(tx, e, v.SortieID, "blocked")
	case *event.SortieStatusChanged:
		return precheckSortieStatusChanged(tx, e, v)
	case *event.MissionCreated:
		return precheckMissionCreated(tx, e, v)
	case *event.MissionStarted:
		return precheckMissionMove(tx, e, v.MissionID, "in_progress")
	case *event.MissionCompleted:
		return precheckMissionMove(tx, e, v.MissionID, "completed")
	case *event.MissionSynced:
		return precheckMissionExists(tx, e, v.MissionID)
	}
	return nil
}

// Apply folds one event into the read model. Events without a projection
// effect (diagnostics, audit records) fall through to nil.
func Apply(tx DBTX, e *event.Event) error {
	p, err := e.Payload()
	if err != nil {
		return err
	}

	switch v := p.(type) {
	case *event.PilotRegistered:
		return applyPilotRegistered(tx, e, v)
	case *event.PilotActive:
		return applyPilotActive(tx, e, v)
	case *event.PilotDeregistered:
		return applyPilotDeregistered(tx, e, v)
	case *event.MessageSent:
		return applyMessageSent(tx, e, v)
	case *event.MessageRead:
		return applyMessageRead(tx, e, v)
	case *event.MessageAcked:
		return applyMessageAcked(tx, e, v)
	case *event.ThreadCreated:
		return applyThreadCreated(tx, e, v)
	case *event.ThreadActivity:
		return applyThreadActivity(tx, e, v)
	case *event.FileReserved:
		return applyFileReserved(tx, e, v)
	case *event.FileReleased:
		return applyFileReleased(tx, e, v)
	case *event.SortieCreated:
		return applySortieCreated(tx, e, v)
	case *event.SortieStarted:
		return applySortieStarted(tx, e, v)
	case *event.SortieProgress:
		return applySortieProgress(tx, e, v)
	case *event.SortieCompleted:
		return applySortieCompleted(tx, e, v)
	case *event.SortieBlocked:
		return applySortieBlocked(tx, e, v)
	case *event.SortieStatusChanged:
		return applySortieStatusChanged(tx, e, v)
	case *event.MissionCreated:
		return applyMissionCreated(tx, e, v)
	case *event.MissionStarted:
		return applyMissionStarted(tx, e, v)
	case *event.MissionCompleted:
		return applyMissionCompleted(tx, e, v)
	case *event.MissionSynced:
		return applyMissionSynced(tx, e, v)
	case *event.CheckpointCreated:
		return applyCheckpointCreated(tx, e, v)
	case *event.ContextCompacted:
		return applyContextCompacted(tx, e, v)
	}

	// file_conflict, fleet_recovered, context_injected, coordinator_decision,
	// coordinator_violation, pilot_spawned, pilot_completed, review_started,
	// review_completed: audit trail only, no read-model change.
	return nil
}

// ReplayTables lists the project-scoped tables Rebuild truncates before
// replaying. message_recipients rows are cleared through their messages, and
// locks and cursors are deliberately absent: no event type feeds them, they
// are operational state restored through checkpoints instead.
func ReplayTables() []string {
	return []string{
		"pilots",
		"messages",
		"threads",
		"reservations",
		"sorties",
		"work_orders",
		"missions",
		"checkpoints",
	}
}
