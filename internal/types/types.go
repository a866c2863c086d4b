// Package types provides shared type definitions used across fleettools packages.
// This package exists to break import cycles between store, projection, locks,
// and the coordination facade. Types in this package should be foundational
// data structures with no complex dependencies.
package types

// =============================================================================
// ENUMS
// =============================================================================

// PilotStatus is the lifecycle state of a registered pilot.
type PilotStatus string

const (
	PilotActive       PilotStatus = "active"
	PilotDeregistered PilotStatus = "deregistered"
)

// Importance grades a message for inbox ordering.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// Valid reports whether i is a known importance grade.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// LockPurpose describes why a pilot holds a file lock.
type LockPurpose string

const (
	PurposeRead   LockPurpose = "read"
	PurposeEdit   LockPurpose = "edit"
	PurposeDelete LockPurpose = "delete"
)

// Valid reports whether p is a known lock purpose.
func (p LockPurpose) Valid() bool {
	switch p {
	case PurposeRead, PurposeEdit, PurposeDelete:
		return true
	}
	return false
}

// LockStatus is the row state of a lock.
type LockStatus string

const (
	LockActive   LockStatus = "active"
	LockReleased LockStatus = "released"
)

// SortieStatus is the state-machine position of a sortie or work order.
type SortieStatus string

const (
	SortieOpen       SortieStatus = "open"
	SortieInProgress SortieStatus = "in_progress"
	SortieBlocked    SortieStatus = "blocked"
	SortieClosed     SortieStatus = "closed"
)

// Valid reports whether s is a known sortie status.
func (s SortieStatus) Valid() bool {
	switch s {
	case SortieOpen, SortieInProgress, SortieBlocked, SortieClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the sortie machine permits s -> next.
// The machine is open -> in_progress -> closed, with in_progress <-> blocked.
func (s SortieStatus) CanTransitionTo(next SortieStatus) bool {
	switch s {
	case SortieOpen:
		return next == SortieInProgress
	case SortieInProgress:
		return next == SortieBlocked || next == SortieClosed
	case SortieBlocked:
		return next == SortieInProgress
	}
	return false
}

// MissionStatus is the state-machine position of a mission.
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
)

// Valid reports whether m is a known mission status.
func (m MissionStatus) Valid() bool {
	switch m {
	case MissionPending, MissionInProgress, MissionCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the mission machine permits m -> next.
func (m MissionStatus) CanTransitionTo(next MissionStatus) bool {
	switch m {
	case MissionPending:
		return next == MissionInProgress
	case MissionInProgress:
		return next == MissionCompleted
	}
	return false
}

// CheckpointTrigger records what caused a checkpoint to be taken.
type CheckpointTrigger string

const (
	TriggerAuto         CheckpointTrigger = "auto"
	TriggerManual       CheckpointTrigger = "manual"
	TriggerError        CheckpointTrigger = "error"
	TriggerContextLimit CheckpointTrigger = "context_limit"
)

// Valid reports whether t is a known checkpoint trigger.
func (t CheckpointTrigger) Valid() bool {
	switch t {
	case TriggerAuto, TriggerManual, TriggerError, TriggerContextLimit:
		return true
	}
	return false
}

// StreamKind selects which id space a cursor or event query addresses.
type StreamKind string

const (
	StreamProject StreamKind = "project"
	StreamSortie  StreamKind = "sortie"
	StreamMission StreamKind = "mission"
	StreamPilot   StreamKind = "pilot"
)

// Valid reports whether k is a known stream kind.
func (k StreamKind) Valid() bool {
	switch k {
	case StreamProject, StreamSortie, StreamMission, StreamPilot:
		return true
	}
	return false
}

// =============================================================================
// PILOTS
// =============================================================================

// Pilot is a registered agent within a project. Rows persist after
// deregistration so that history stays attributable.
type Pilot struct {
	Callsign         string      `json:"callsign"`
	Project          string      `json:"project"`
	Program          string      `json:"program,omitempty"`
	Model            string      `json:"model,omitempty"`
	TaskDescription  string      `json:"task_description,omitempty"`
	Status           PilotStatus `json:"status"`
	RegisteredAt     Timestamp   `json:"registered_at"`
	LastActiveAt     Timestamp   `json:"last_active_at"`
	DeregisteredAt   *Timestamp  `json:"deregistered_at,omitempty"`
	DeregisterReason string      `json:"deregister_reason,omitempty"`
}

// =============================================================================
// MESSAGING
// =============================================================================

// Message is one delivery from a pilot to one or more pilots.
type Message struct {
	MessageID   string      `json:"message_id"`
	Project     string      `json:"project"`
	ThreadID    string      `json:"thread_id,omitempty"`
	From        string      `json:"from"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	Importance  Importance  `json:"importance"`
	AckRequired bool        `json:"ack_required"`
	SortieID    string      `json:"sortie_id,omitempty"`
	MissionID   string      `json:"mission_id,omitempty"`
	CreatedAt   Timestamp   `json:"created_at"`
	Recipients  []Recipient `json:"recipients,omitempty"`
}

// Recipient tracks per-addressee delivery state for a message.
type Recipient struct {
	MessageID string     `json:"message_id"`
	Callsign  string     `json:"callsign"`
	ReadAt    *Timestamp `json:"read_at,omitempty"`
	AckedAt   *Timestamp `json:"acked_at,omitempty"`
}

// InboxMessage is a message joined with the viewing recipient's state.
type InboxMessage struct {
	Message
	ReadAt  *Timestamp `json:"read_at,omitempty"`
	AckedAt *Timestamp `json:"acked_at,omitempty"`
}

// =============================================================================
// RESERVATIONS & LOCKS
// =============================================================================

// Reservation is a coarse, visible declaration that a pilot intends to modify
// a set of paths. One reservation id may cover several path rows.
type Reservation struct {
	ReservationID string     `json:"reservation_id"`
	Project       string     `json:"project"`
	Callsign      string     `json:"callsign"`
	Paths         []string   `json:"paths"`
	Exclusive     bool       `json:"exclusive"`
	Reason        string     `json:"reason,omitempty"`
	SortieID      string     `json:"sortie_id,omitempty"`
	MissionID     string     `json:"mission_id,omitempty"`
	ReservedAt    Timestamp  `json:"reserved_at"`
	ExpiresAt     Timestamp  `json:"expires_at"`
	ReleasedAt    *Timestamp `json:"released_at,omitempty"`
}

// Lock is a fine-grained exclusive hold on a single normalized path during an
// actual modification.
type Lock struct {
	LockID     string      `json:"lock_id"`
	Project    string      `json:"project"`
	Path       string      `json:"path"`
	Holder     string      `json:"holder"`
	Purpose    LockPurpose `json:"purpose"`
	Checksum   string      `json:"checksum,omitempty"`
	Status     LockStatus  `json:"status"`
	AcquiredAt Timestamp   `json:"acquired_at"`
	ExpiresAt  Timestamp   `json:"expires_at"`
	ReleasedAt *Timestamp  `json:"released_at,omitempty"`
}

// PathConflict identifies who currently holds a contested path.
type PathConflict struct {
	Path          string    `json:"path"`
	Holder        string    `json:"holder"`
	ReservationID string    `json:"reservation_id,omitempty"`
	LockID        string    `json:"lock_id,omitempty"`
	ExpiresAt     Timestamp `json:"expires_at"`
}

// LockResult is the structured outcome of an acquire attempt. A conflict is a
// normal outcome, not an error.
type LockResult struct {
	Conflict bool  `json:"conflict"`
	Lock     *Lock `json:"lock,omitempty"`
	Existing *Lock `json:"existing,omitempty"`
}

// ReservationResult is the structured outcome of a reservation attempt.
type ReservationResult struct {
	Conflict    bool           `json:"conflict"`
	Reservation *Reservation   `json:"reservation,omitempty"`
	Existing    []PathConflict `json:"existing,omitempty"`
}

// =============================================================================
// WORK TRACKING
// =============================================================================

// Sortie is an individual work item, usually assigned to one pilot.
type Sortie struct {
	SortieID        string       `json:"sortie_id"`
	Project         string       `json:"project"`
	MissionID       string       `json:"mission_id,omitempty"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Status          SortieStatus `json:"status"`
	Priority        int          `json:"priority"`
	Assignee        string       `json:"assignee,omitempty"`
	Files           []string     `json:"files,omitempty"`
	ProgressPercent int          `json:"progress_percent"`
	BlockedReason   string       `json:"blocked_reason,omitempty"`
	CreatedAt       Timestamp    `json:"created_at"`
	StartedAt       *Timestamp   `json:"started_at,omitempty"`
	CompletedAt     *Timestamp   `json:"completed_at,omitempty"`
}

// Mission groups related sorties under one lifecycle.
type Mission struct {
	MissionID        string        `json:"mission_id"`
	Project          string        `json:"project"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	Status           MissionStatus `json:"status"`
	Priority         int           `json:"priority"`
	CreatedBy        string        `json:"created_by,omitempty"`
	TotalSorties     int           `json:"total_sorties"`
	CompletedSorties int           `json:"completed_sorties"`
	CreatedAt        Timestamp     `json:"created_at"`
	StartedAt        *Timestamp    `json:"started_at,omitempty"`
	CompletedAt      *Timestamp    `json:"completed_at,omitempty"`
}

// WorkOrder is a sub-unit of a sortie. It shares the sortie state machine.
type WorkOrder struct {
	WorkOrderID     string       `json:"work_order_id"`
	Project         string       `json:"project"`
	SortieID        string       `json:"sortie_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Status          SortieStatus `json:"status"`
	Priority        int          `json:"priority"`
	Assignee        string       `json:"assignee,omitempty"`
	Files           []string     `json:"files,omitempty"`
	ProgressPercent int          `json:"progress_percent"`
	BlockedReason   string       `json:"blocked_reason,omitempty"`
	CreatedAt       Timestamp    `json:"created_at"`
	StartedAt       *Timestamp   `json:"started_at,omitempty"`
	CompletedAt     *Timestamp   `json:"completed_at,omitempty"`
}

// =============================================================================
// CHECKPOINTS & RECOVERY
// =============================================================================

// Checkpoint is a durable snapshot of mission-scoped state.
type Checkpoint struct {
	CheckpointID    string            `json:"checkpoint_id"`
	Project         string            `json:"project"`
	MissionID       string            `json:"mission_id,omitempty"`
	SortieID        string            `json:"sortie_id,omitempty"`
	Callsign        string            `json:"callsign"`
	Trigger         CheckpointTrigger `json:"trigger"`
	ProgressPercent int               `json:"progress_percent"`
	Summary         string            `json:"summary,omitempty"`
	Recovery        RecoveryContext   `json:"recovery_context"`
	Sequence        int64             `json:"sequence"`
	CreatedAt       Timestamp         `json:"created_at"`
}

// RecoveryContext is the structured payload a checkpoint carries so that a
// pilot with a truncated conversation window can resume.
type RecoveryContext struct {
	Sorties         []SortieSnapshot  `json:"sorties"`
	Locks           []LockSnapshot    `json:"locks"`
	PendingMessages []MessageSnapshot `json:"pending_messages"`
	LastAction      string            `json:"last_action,omitempty"`
	NextSteps       []string          `json:"next_steps,omitempty"`
	Blockers        []string          `json:"blockers,omitempty"`
	FilesModified   []string          `json:"files_modified,omitempty"`
	MissionSummary  string            `json:"mission_summary,omitempty"`
	ElapsedMs       int64             `json:"elapsed_ms,omitempty"`
	LastActivityAt  Timestamp         `json:"last_activity_at,omitempty"`
}

// SortieSnapshot is the checkpoint view of one sortie.
type SortieSnapshot struct {
	SortieID        string       `json:"sortie_id"`
	Status          SortieStatus `json:"status"`
	Assignee        string       `json:"assignee,omitempty"`
	ProgressPercent int          `json:"progress_percent"`
	Files           []string     `json:"files,omitempty"`
}

// LockSnapshot is the checkpoint view of one active lock.
type LockSnapshot struct {
	LockID     string      `json:"lock_id"`
	Path       string      `json:"path"`
	Holder     string      `json:"holder"`
	AcquiredAt Timestamp   `json:"acquired_at"`
	Purpose    LockPurpose `json:"purpose"`
	TTLMs      int64       `json:"ttl_ms"`
}

// MessageSnapshot is the checkpoint view of one pending message.
type MessageSnapshot struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	SentAt     Timestamp `json:"sent_at"`
	Delivered  bool      `json:"delivered"`
}

// LockReacquisition reports one lock's fate during a restore.
type LockReacquisition struct {
	Path      string        `json:"path"`
	Holder    string        `json:"holder"`
	OldLockID string        `json:"old_lock_id"`
	NewLockID string        `json:"new_lock_id,omitempty"`
	Conflict  *PathConflict `json:"conflict,omitempty"`
}

// RestoreReport summarizes what a restore run did.
type RestoreReport struct {
	CheckpointID      string              `json:"checkpoint_id"`
	MissionID         string              `json:"mission_id,omitempty"`
	Reacquired        []LockReacquisition `json:"reacquired"`
	PendingMessages   []MessageSnapshot   `json:"pending_messages"`
	AlreadyConsistent bool                `json:"already_consistent"`
	RecoveredSequence int64               `json:"recovered_sequence"`
}

// RecoveryCandidate is a mission that looks stalled.
type RecoveryCandidate struct {
	MissionID          string        `json:"mission_id"`
	Title              string        `json:"title"`
	Status             MissionStatus `json:"status"`
	InactiveMs         int64         `json:"inactive_ms"`
	LastEventAt        Timestamp     `json:"last_event_at"`
	LatestCheckpointID string        `json:"latest_checkpoint_id,omitempty"`
}

// =============================================================================
// CURSORS
// =============================================================================

// Cursor is a consumer's position in the event stream for one stream.
type Cursor struct {
	Project    string     `json:"project"`
	Consumer   string     `json:"consumer"`
	StreamKind StreamKind `json:"stream_kind"`
	StreamID   string     `json:"stream_id"`
	Position   int64      `json:"position"`
	UpdatedAt  Timestamp  `json:"updated_at"`
}

// =============================================================================
// OVERVIEW
// =============================================================================

// Overview is an aggregated read of the fleet's current state, used by status
// surfaces.
type Overview struct {
	Project            string        `json:"project"`
	Pilots             []Pilot       `json:"pilots"`
	ActiveReservations []Reservation `json:"active_reservations"`
	ActiveLocks        []Lock        `json:"active_locks"`
	OpenSorties        []Sortie      `json:"open_sorties"`
	Missions           []Mission     `json:"missions"`
	LatestCheckpoint   *Checkpoint   `json:"latest_checkpoint,omitempty"`
	EventCount         int64         `json:"event_count"`
	LatestSequence     int64         `json:"latest_sequence"`
}
