// Package event defines the closed set of coordination event types, their
// payloads, and the factory that validates and stamps new events. Events are
// immutable once appended; the store assigns id and sequence.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"fleettools/internal/types"
)

// Type tags an event. The set is closed: the projection dispatcher and the
// payload registry both enumerate it, and unknown tags fail validation.
type Type string

const (
	// Pilot lifecycle
	TypePilotRegistered   Type = "pilot_registered"
	TypePilotActive       Type = "pilot_active"
	TypePilotDeregistered Type = "pilot_deregistered"

	// Messaging
	TypeMessageSent    Type = "message_sent"
	TypeMessageRead    Type = "message_read"
	TypeMessageAcked   Type = "message_acked"
	TypeThreadCreated  Type = "thread_created"
	TypeThreadActivity Type = "thread_activity"

	// Reservations
	TypeFileReserved Type = "file_reserved"
	TypeFileReleased Type = "file_released"
	TypeFileConflict Type = "file_conflict"

	// Sorties (work orders ride these with workorder- prefixed ids)
	TypeSortieCreated       Type = "sortie_created"
	TypeSortieStarted       Type = "sortie_started"
	TypeSortieProgress      Type = "sortie_progress"
	TypeSortieCompleted     Type = "sortie_completed"
	TypeSortieBlocked       Type = "sortie_blocked"
	TypeSortieStatusChanged Type = "sortie_status_changed"

	// Missions
	TypeMissionCreated   Type = "mission_created"
	TypeMissionStarted   Type = "mission_started"
	TypeMissionCompleted Type = "mission_completed"
	TypeMissionSynced    Type = "mission_synced"

	// Checkpoints
	TypeCheckpointCreated Type = "checkpoint_created"
	TypeContextCompacted  Type = "context_compacted"
	TypeFleetRecovered    Type = "fleet_recovered"
	TypeContextInjected   Type = "context_injected"

	// Coordination
	TypeCoordinatorDecision  Type = "coordinator_decision"
	TypeCoordinatorViolation Type = "coordinator_violation"
	TypePilotSpawned         Type = "pilot_spawned"
	TypePilotCompleted       Type = "pilot_completed"
	TypeReviewStarted        Type = "review_started"
	TypeReviewCompleted      Type = "review_completed"
)

// Payload is the type-specific body of an event. Implementations validate
// themselves field by field and report which event type they belong to.
type Payload interface {
	EventType() Type
	Validate() error
}

// payloadTypes maps each tag to a constructor for its payload struct, used
// when hydrating events read back from storage.
var payloadTypes = map[Type]func() Payload{
	TypePilotRegistered:      func() Payload { return &PilotRegistered{} },
	TypePilotActive:          func() Payload { return &PilotActive{} },
	TypePilotDeregistered:    func() Payload { return &PilotDeregistered{} },
	TypeMessageSent:          func() Payload { return &MessageSent{} },
	TypeMessageRead:          func() Payload { return &MessageRead{} },
	TypeMessageAcked:         func() Payload { return &MessageAcked{} },
	TypeThreadCreated:        func() Payload { return &ThreadCreated{} },
	TypeThreadActivity:       func() Payload { return &ThreadActivity{} },
	TypeFileReserved:         func() Payload { return &FileReserved{} },
	TypeFileReleased:         func() Payload { return &FileReleased{} },
	TypeFileConflict:         func() Payload { return &FileConflict{} },
	TypeSortieCreated:        func() Payload { return &SortieCreated{} },
	TypeSortieStarted:        func() Payload { return &SortieStarted{} },
	TypeSortieProgress:       func() Payload { return &SortieProgress{} },
	TypeSortieCompleted:      func() Payload { return &SortieCompleted{} },
	TypeSortieBlocked:        func() Payload { return &SortieBlocked{} },
	TypeSortieStatusChanged:  func() Payload { return &SortieStatusChanged{} },
	TypeMissionCreated:       func() Payload { return &MissionCreated{} },
	TypeMissionStarted:       func() Payload { return &MissionStarted{} },
	TypeMissionCompleted:     func() Payload { return &MissionCompleted{} },
	TypeMissionSynced:        func() Payload { return &MissionSynced{} },
	TypeCheckpointCreated:    func() Payload { return &CheckpointCreated{} },
	TypeContextCompacted:     func() Payload { return &ContextCompacted{} },
	TypeFleetRecovered:       func() Payload { return &FleetRecovered{} },
	TypeContextInjected:      func() Payload { return &ContextInjected{} },
	TypeCoordinatorDecision:  func() Payload { return &CoordinatorDecision{} },
	TypeCoordinatorViolation: func() Payload { return &CoordinatorViolation{} },
	TypePilotSpawned:         func() Payload { return &PilotSpawned{} },
	TypePilotCompleted:       func() Payload { return &PilotCompleted{} },
	TypeReviewStarted:        func() Payload { return &ReviewStarted{} },
	TypeReviewCompleted:      func() Payload { return &ReviewCompleted{} },
}

// Valid reports whether t belongs to the closed type set.
func (t Type) Valid() bool {
	_, ok := payloadTypes[t]
	return ok
}

// Types returns the full closed set, for query filters and diagnostics.
func Types() []Type {
	out := make([]Type, 0, len(payloadTypes))
	for t := range payloadTypes {
		out = append(out, t)
	}
	return out
}

// Event is one immutable record in the log. ID and Sequence are zero until
// the store appends it.
type Event struct {
	ID        int64           `json:"id"`
	Sequence  int64           `json:"sequence"`
	Type      Type            `json:"type"`
	Project   string          `json:"project"`
	Timestamp types.Timestamp `json:"timestamp"`
	Body      json.RawMessage `json:"body"`

	payload Payload
}

// Is reports whether e carries the given type tag. Handlers use it to branch
// safely before decoding.
func Is(e *Event, t Type) bool {
	return e != nil && e.Type == t
}

// Payload decodes the body into its typed form, caching the result. Events
// built by the factory carry the typed payload from the start.
func (e *Event) Payload() (Payload, error) {
	if e.payload != nil {
		return e.payload, nil
	}
	ctor, ok := payloadTypes[e.Type]
	if !ok {
		return nil, &types.InvalidEventError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	p := ctor()
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
		}
	}
	e.payload = p
	return p, nil
}

// Factory builds validated events with stamped timestamps.
type Factory struct {
	clock types.Clock
}

// NewFactory returns a factory using the given clock; nil means time.Now.
func NewFactory(clock types.Clock) *Factory {
	if clock == nil {
		clock = time.Now
	}
	return &Factory{clock: clock}
}

// New creates an event for project from a payload: stamps the occurrence
// time, runs payload validation, and serializes the body. The returned event
// has no id or sequence yet; Append assigns those.
func (f *Factory) New(project string, p Payload) (*Event, error) {
	if project == "" {
		return nil, &types.InvalidEventError{Field: "project", Reason: "project key required"}
	}
	if p == nil {
		return nil, &types.InvalidEventError{Field: "payload", Reason: "payload required"}
	}
	t := p.EventType()
	if !t.Valid() {
		return nil, &types.InvalidEventError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", t)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return &Event{
		Type:      t,
		Project:   project,
		Timestamp: types.At(f.clock()),
		Body:      body,
		payload:   p,
	}, nil
}

// Hydrate rebuilds an event from stored columns, validating the type tag.
// The payload is decoded lazily.
func Hydrate(id, sequence int64, t Type, project string, ts types.Timestamp, body []byte) (*Event, error) {
	if !t.Valid() {
		return nil, &types.InvalidEventError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", t)}
	}
	return &Event{
		ID:        id,
		Sequence:  sequence,
		Type:      t,
		Project:   project,
		Timestamp: ts,
		Body:      body,
	}, nil
}
