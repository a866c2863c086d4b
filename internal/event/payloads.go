package event

import (
	"fmt"

	"fleettools/internal/ids"
	"fleettools/internal/types"
)

// invalid builds the validation error every payload check returns.
func invalid(field, reason string) error {
	return &types.InvalidEventError{Field: field, Reason: reason}
}

// =============================================================================
// PILOT EVENTS
// =============================================================================

// PilotRegistered announces a pilot joining the project. Re-registering an
// existing callsign refreshes program/model/task (upsert semantics).
type PilotRegistered struct {
	Callsign        string `json:"callsign"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

func (p *PilotRegistered) EventType() Type { return TypePilotRegistered }

func (p *PilotRegistered) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	if !ids.Is(p.Callsign, ids.PrefixCallsign) {
		return invalid("callsign", fmt.Sprintf("%q is not a callsign id", p.Callsign))
	}
	return nil
}

// PilotActive is a heartbeat refreshing last_active_at.
type PilotActive struct {
	Callsign string `json:"callsign"`
}

func (p *PilotActive) EventType() Type { return TypePilotActive }

func (p *PilotActive) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// PilotDeregistered ends a pilot's lifecycle. The row stays for history.
type PilotDeregistered struct {
	Callsign string `json:"callsign"`
	Reason   string `json:"reason,omitempty"`
}

func (p *PilotDeregistered) EventType() Type { return TypePilotDeregistered }

func (p *PilotDeregistered) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// =============================================================================
// MESSAGE EVENTS
// =============================================================================

// MessageSent carries one delivery to one or more recipients.
type MessageSent struct {
	MessageID   string           `json:"message_id"`
	From        string           `json:"from"`
	To          []string         `json:"to"`
	Subject     string           `json:"subject,omitempty"`
	Body        string           `json:"body,omitempty"`
	ThreadID    string           `json:"thread_id,omitempty"`
	Importance  types.Importance `json:"importance"`
	AckRequired bool             `json:"ack_required,omitempty"`
	SortieID    string           `json:"sortie_id,omitempty"`
	MissionID   string           `json:"mission_id,omitempty"`
}

func (p *MessageSent) EventType() Type { return TypeMessageSent }

func (p *MessageSent) Validate() error {
	if p.MessageID == "" {
		return invalid("message_id", "required")
	}
	if !ids.Is(p.MessageID, ids.PrefixMessage) {
		return invalid("message_id", fmt.Sprintf("%q is not a message id", p.MessageID))
	}
	if p.From == "" {
		return invalid("from", "required")
	}
	if len(p.To) == 0 {
		return invalid("to", "at least one recipient required")
	}
	for i, r := range p.To {
		if r == "" {
			return invalid("to", fmt.Sprintf("recipient %d is empty", i))
		}
	}
	if !p.Importance.Valid() {
		return invalid("importance", fmt.Sprintf("unknown importance %q", p.Importance))
	}
	return nil
}

// MessageRead marks one (message, recipient) pair read.
type MessageRead struct {
	MessageID string `json:"message_id"`
	Callsign  string `json:"callsign"`
}

func (p *MessageRead) EventType() Type { return TypeMessageRead }

func (p *MessageRead) Validate() error {
	if p.MessageID == "" {
		return invalid("message_id", "required")
	}
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// MessageAcked marks one (message, recipient) pair acknowledged.
type MessageAcked struct {
	MessageID string `json:"message_id"`
	Callsign  string `json:"callsign"`
}

func (p *MessageAcked) EventType() Type { return TypeMessageAcked }

func (p *MessageAcked) Validate() error {
	if p.MessageID == "" {
		return invalid("message_id", "required")
	}
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// ThreadCreated records a new conversation thread.
type ThreadCreated struct {
	ThreadID  string `json:"thread_id"`
	Subject   string `json:"subject,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

func (p *ThreadCreated) EventType() Type { return TypeThreadCreated }

func (p *ThreadCreated) Validate() error {
	if p.ThreadID == "" {
		return invalid("thread_id", "required")
	}
	return nil
}

// ThreadActivity records traffic on a thread, for tailing consumers.
type ThreadActivity struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id,omitempty"`
	Callsign  string `json:"callsign,omitempty"`
}

func (p *ThreadActivity) EventType() Type { return TypeThreadActivity }

func (p *ThreadActivity) Validate() error {
	if p.ThreadID == "" {
		return invalid("thread_id", "required")
	}
	return nil
}

// =============================================================================
// RESERVATION EVENTS
// =============================================================================

// FileReserved declares intent to modify a set of paths. The projection
// inserts one row per path; expiry comes from the payload, not the handler,
// so replay stays deterministic.
type FileReserved struct {
	ReservationID string          `json:"reservation_id"`
	Callsign      string          `json:"callsign"`
	Paths         []string        `json:"paths"`
	Exclusive     bool            `json:"exclusive"`
	Reason        string          `json:"reason,omitempty"`
	TTLMs         int64           `json:"ttl_ms"`
	ExpiresAt     types.Timestamp `json:"expires_at"`
	SortieID      string          `json:"sortie_id,omitempty"`
	MissionID     string          `json:"mission_id,omitempty"`
}

func (p *FileReserved) EventType() Type { return TypeFileReserved }

func (p *FileReserved) Validate() error {
	if p.ReservationID == "" {
		return invalid("reservation_id", "required")
	}
	if !ids.Is(p.ReservationID, ids.PrefixReservation) {
		return invalid("reservation_id", fmt.Sprintf("%q is not a reservation id", p.ReservationID))
	}
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	if len(p.Paths) == 0 {
		return invalid("paths", "at least one path required")
	}
	for i, path := range p.Paths {
		if path == "" {
			return invalid("paths", fmt.Sprintf("path %d is empty", i))
		}
	}
	if p.TTLMs <= 0 {
		return invalid("ttl_ms", "must be positive")
	}
	if p.ExpiresAt <= 0 {
		return invalid("expires_at", "required")
	}
	return nil
}

// FileReleased closes reservation rows, selected by paths or by ids.
// Expired marks releases the TTL sweep appended on the holder's behalf.
type FileReleased struct {
	Callsign       string   `json:"callsign"`
	Paths          []string `json:"paths,omitempty"`
	ReservationIDs []string `json:"reservation_ids,omitempty"`
	Expired        bool     `json:"expired,omitempty"`
}

func (p *FileReleased) EventType() Type { return TypeFileReleased }

func (p *FileReleased) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	if len(p.Paths) == 0 && len(p.ReservationIDs) == 0 {
		return invalid("paths", "paths or reservation_ids required")
	}
	return nil
}

// FileConflict is a diagnostic record of a refused reservation. It changes no
// reservation rows.
type FileConflict struct {
	Callsign  string          `json:"callsign"`
	Paths     []string        `json:"paths"`
	Holder    string          `json:"holder"`
	ExpiresAt types.Timestamp `json:"expires_at,omitempty"`
}

func (p *FileConflict) EventType() Type { return TypeFileConflict }

func (p *FileConflict) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	if len(p.Paths) == 0 {
		return invalid("paths", "at least one path required")
	}
	if p.Holder == "" {
		return invalid("holder", "required")
	}
	return nil
}

// =============================================================================
// SORTIE EVENTS
// =============================================================================

// SortieCreated opens a new sortie, or a work order when the id carries the
// workorder- prefix (ParentSortieID then names the owning sortie).
type SortieCreated struct {
	SortieID       string   `json:"sortie_id"`
	MissionID      string   `json:"mission_id,omitempty"`
	ParentSortieID string   `json:"parent_sortie_id,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Priority       int      `json:"priority"`
	Assignee       string   `json:"assignee,omitempty"`
	Files          []string `json:"files,omitempty"`
}

func (p *SortieCreated) EventType() Type { return TypeSortieCreated }

func (p *SortieCreated) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	isWorkOrder := ids.Is(p.SortieID, ids.PrefixWorkOrder)
	if !isWorkOrder && !ids.Is(p.SortieID, ids.PrefixSortie) {
		return invalid("sortie_id", fmt.Sprintf("%q is not a sortie or workorder id", p.SortieID))
	}
	if isWorkOrder {
		if p.ParentSortieID == "" {
			return invalid("parent_sortie_id", "required for work orders")
		}
		if !ids.Is(p.ParentSortieID, ids.PrefixSortie) {
			return invalid("parent_sortie_id", fmt.Sprintf("%q is not a sortie id", p.ParentSortieID))
		}
	}
	if p.Title == "" {
		return invalid("title", "required")
	}
	if p.Priority < 0 || p.Priority > 3 {
		return invalid("priority", "must be between 0 and 3")
	}
	if p.MissionID != "" && !ids.Is(p.MissionID, ids.PrefixMission) {
		return invalid("mission_id", fmt.Sprintf("%q is not a mission id", p.MissionID))
	}
	return nil
}

// SortieStarted moves open -> in_progress.
type SortieStarted struct {
	SortieID string `json:"sortie_id"`
	Callsign string `json:"callsign,omitempty"`
}

func (p *SortieStarted) EventType() Type { return TypeSortieStarted }

func (p *SortieStarted) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	return nil
}

// SortieProgress updates progress percent without a state change.
type SortieProgress struct {
	SortieID        string `json:"sortie_id"`
	ProgressPercent int    `json:"progress_percent"`
	Note            string `json:"note,omitempty"`
}

func (p *SortieProgress) EventType() Type { return TypeSortieProgress }

func (p *SortieProgress) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return invalid("progress_percent", "must be between 0 and 100")
	}
	return nil
}

// SortieCompleted moves in_progress -> closed.
type SortieCompleted struct {
	SortieID string `json:"sortie_id"`
	Callsign string `json:"callsign,omitempty"`
}

func (p *SortieCompleted) EventType() Type { return TypeSortieCompleted }

func (p *SortieCompleted) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	return nil
}

// SortieBlocked moves in_progress -> blocked with a reason.
type SortieBlocked struct {
	SortieID string `json:"sortie_id"`
	Reason   string `json:"reason"`
}

func (p *SortieBlocked) EventType() Type { return TypeSortieBlocked }

func (p *SortieBlocked) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	if p.Reason == "" {
		return invalid("reason", "required")
	}
	return nil
}

// SortieStatusChanged is the general-purpose transition with an explicit
// (from, to) pair that must match reality when applied.
type SortieStatusChanged struct {
	SortieID string             `json:"sortie_id"`
	From     types.SortieStatus `json:"from"`
	To       types.SortieStatus `json:"to"`
	Reason   string             `json:"reason,omitempty"`
}

func (p *SortieStatusChanged) EventType() Type { return TypeSortieStatusChanged }

func (p *SortieStatusChanged) Validate() error {
	if p.SortieID == "" {
		return invalid("sortie_id", "required")
	}
	if !p.From.Valid() {
		return invalid("from", fmt.Sprintf("unknown status %q", p.From))
	}
	if !p.To.Valid() {
		return invalid("to", fmt.Sprintf("unknown status %q", p.To))
	}
	return nil
}

// =============================================================================
// MISSION EVENTS
// =============================================================================

// MissionCreated opens a mission.
type MissionCreated struct {
	MissionID   string `json:"mission_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	CreatedBy   string `json:"created_by,omitempty"`
}

func (p *MissionCreated) EventType() Type { return TypeMissionCreated }

func (p *MissionCreated) Validate() error {
	if p.MissionID == "" {
		return invalid("mission_id", "required")
	}
	if !ids.Is(p.MissionID, ids.PrefixMission) {
		return invalid("mission_id", fmt.Sprintf("%q is not a mission id", p.MissionID))
	}
	if p.Title == "" {
		return invalid("title", "required")
	}
	if p.Priority < 0 || p.Priority > 3 {
		return invalid("priority", "must be between 0 and 3")
	}
	return nil
}

// MissionStarted moves pending -> in_progress.
type MissionStarted struct {
	MissionID string `json:"mission_id"`
}

func (p *MissionStarted) EventType() Type { return TypeMissionStarted }

func (p *MissionStarted) Validate() error {
	if p.MissionID == "" {
		return invalid("mission_id", "required")
	}
	return nil
}

// MissionCompleted moves in_progress -> completed.
type MissionCompleted struct {
	MissionID string `json:"mission_id"`
}

func (p *MissionCompleted) EventType() Type { return TypeMissionCompleted }

func (p *MissionCompleted) Validate() error {
	if p.MissionID == "" {
		return invalid("mission_id", "required")
	}
	return nil
}

// MissionSynced recounts a mission's cached sortie totals.
type MissionSynced struct {
	MissionID        string `json:"mission_id"`
	TotalSorties     int    `json:"total_sorties"`
	CompletedSorties int    `json:"completed_sorties"`
}

func (p *MissionSynced) EventType() Type { return TypeMissionSynced }

func (p *MissionSynced) Validate() error {
	if p.MissionID == "" {
		return invalid("mission_id", "required")
	}
	if p.TotalSorties < 0 {
		return invalid("total_sorties", "must not be negative")
	}
	if p.CompletedSorties < 0 {
		return invalid("completed_sorties", "must not be negative")
	}
	if p.CompletedSorties > p.TotalSorties {
		return invalid("completed_sorties", "cannot exceed total_sorties")
	}
	return nil
}

// =============================================================================
// CHECKPOINT EVENTS
// =============================================================================

// CheckpointCreated carries a full snapshot. The id is minted by the caller
// so the projection can insert the row deterministically on replay.
type CheckpointCreated struct {
	CheckpointID    string                  `json:"checkpoint_id"`
	MissionID       string                  `json:"mission_id,omitempty"`
	SortieID        string                  `json:"sortie_id,omitempty"`
	Callsign        string                  `json:"callsign"`
	Trigger         types.CheckpointTrigger `json:"trigger"`
	ProgressPercent int                     `json:"progress_percent"`
	Summary         string                  `json:"summary,omitempty"`
	Recovery        types.RecoveryContext   `json:"recovery_context"`
}

func (p *CheckpointCreated) EventType() Type { return TypeCheckpointCreated }

func (p *CheckpointCreated) Validate() error {
	if p.CheckpointID == "" {
		return invalid("checkpoint_id", "required")
	}
	if !ids.Is(p.CheckpointID, ids.PrefixCheckpoint) {
		return invalid("checkpoint_id", fmt.Sprintf("%q is not a checkpoint id", p.CheckpointID))
	}
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	if !p.Trigger.Valid() {
		return invalid("trigger", fmt.Sprintf("unknown trigger %q", p.Trigger))
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return invalid("progress_percent", "must be between 0 and 100")
	}
	return nil
}

// ContextCompacted records a host-side context compaction. The projection
// inserts a synthetic system-owned checkpoint row under CheckpointID.
type ContextCompacted struct {
	CheckpointID string `json:"checkpoint_id"`
	Callsign     string `json:"callsign"`
	Summary      string `json:"summary,omitempty"`
	TokensBefore int64  `json:"tokens_before,omitempty"`
	TokensAfter  int64  `json:"tokens_after,omitempty"`
}

func (p *ContextCompacted) EventType() Type { return TypeContextCompacted }

func (p *ContextCompacted) Validate() error {
	if p.CheckpointID == "" {
		return invalid("checkpoint_id", "required")
	}
	if !ids.Is(p.CheckpointID, ids.PrefixCheckpoint) {
		return invalid("checkpoint_id", fmt.Sprintf("%q is not a checkpoint id", p.CheckpointID))
	}
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// FleetRecovered records a restore run and its lock re-acquisition outcomes.
// No projection change; the restore already applied its effects.
type FleetRecovered struct {
	CheckpointID      string                    `json:"checkpoint_id"`
	Callsign          string                    `json:"callsign,omitempty"`
	Reacquired        []types.LockReacquisition `json:"reacquired,omitempty"`
	PendingMessages   int                       `json:"pending_messages"`
	AlreadyConsistent bool                      `json:"already_consistent"`
}

func (p *FleetRecovered) EventType() Type { return TypeFleetRecovered }

func (p *FleetRecovered) Validate() error {
	if p.CheckpointID == "" {
		return invalid("checkpoint_id", "required")
	}
	return nil
}

// ContextInjected records that recovered context was handed to a pilot.
type ContextInjected struct {
	Callsign     string `json:"callsign"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Source       string `json:"source,omitempty"`
}

func (p *ContextInjected) EventType() Type { return TypeContextInjected }

func (p *ContextInjected) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// =============================================================================
// COORDINATION EVENTS
// =============================================================================

// CoordinatorDecision is an administrative action taken on the fleet's
// behalf, such as a forced lock release.
type CoordinatorDecision struct {
	Action string `json:"action"`
	Actor  string `json:"actor,omitempty"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (p *CoordinatorDecision) EventType() Type { return TypeCoordinatorDecision }

func (p *CoordinatorDecision) Validate() error {
	if p.Action == "" {
		return invalid("action", "required")
	}
	return nil
}

// CoordinatorViolation records a refused state-machine transition. It is
// appended in place of the offending event.
type CoordinatorViolation struct {
	Kind          string `json:"kind"`
	Entity        string `json:"entity"`
	EntityID      string `json:"entity_id"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	OffendingType Type   `json:"offending_type,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

func (p *CoordinatorViolation) EventType() Type { return TypeCoordinatorViolation }

func (p *CoordinatorViolation) Validate() error {
	if p.Kind == "" {
		return invalid("kind", "required")
	}
	if p.Entity == "" {
		return invalid("entity", "required")
	}
	if p.EntityID == "" {
		return invalid("entity_id", "required")
	}
	return nil
}

// PilotSpawned records a coordinator spawning a subordinate pilot.
type PilotSpawned struct {
	Callsign       string `json:"callsign"`
	ParentCallsign string `json:"parent_callsign,omitempty"`
	Role           string `json:"role,omitempty"`
}

func (p *PilotSpawned) EventType() Type { return TypePilotSpawned }

func (p *PilotSpawned) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// PilotCompleted records a spawned pilot finishing its assignment.
type PilotCompleted struct {
	Callsign string `json:"callsign"`
	Outcome  string `json:"outcome,omitempty"`
}

func (p *PilotCompleted) EventType() Type { return TypePilotCompleted }

func (p *PilotCompleted) Validate() error {
	if p.Callsign == "" {
		return invalid("callsign", "required")
	}
	return nil
}

// ReviewStarted records a review beginning on a sortie's output.
type ReviewStarted struct {
	SortieID string `json:"sortie_id,omitempty"`
	Reviewer string `json:"reviewer"`
	Target   string `json:"target,omitempty"`
}

func (p *ReviewStarted) EventType() Type { return TypeReviewStarted }

func (p *ReviewStarted) Validate() error {
	if p.Reviewer == "" {
		return invalid("reviewer", "required")
	}
	return nil
}

// ReviewCompleted records a review verdict.
type ReviewCompleted struct {
	SortieID string `json:"sortie_id,omitempty"`
	Reviewer string `json:"reviewer"`
	Verdict  string `json:"verdict,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

func (p *ReviewCompleted) EventType() Type { return TypeReviewCompleted }

func (p *ReviewCompleted) Validate() error {
	if p.Reviewer == "" {
		return invalid("reviewer", "required")
	}
	return nil
}
