package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleettools/internal/event"
	"fleettools/internal/logging"
	"fleettools/internal/projection"
	"fleettools/internal/types"
)

// Append writes one event and folds it into the projections, all in a single
// transaction. The event comes back stamped with its log id and per-project
// sequence.
//
// Two precheck refusals record a diagnostic event in place of the offending
// one: a refused state-machine transition records coordinator_violation, and
// a reservation exclusivity clash records file_conflict. In both cases the
// returned event is that record and err is the typed refusal
// (*types.InvalidTransitionError or *types.ReservationConflictError). Other
// precheck failures (missing entities, duplicate creates) record nothing.
func (s *Store) Append(ctx context.Context, e *event.Event) (*event.Event, error) {
	timer := logging.StartTimer(logging.CategoryEvents, "Append")
	defer timer.StopWithThreshold(5 * time.Millisecond)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("append %s: %w", e.Type, types.ErrCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin append transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	insert := e
	var refusal error
	if precheckErr := projection.Precheck(tx, e); precheckErr != nil {
		var transition *types.InvalidTransitionError
		var reservation *types.ReservationConflictError
		switch {
		case errors.As(precheckErr, &transition):
			viol, verr := s.violationEvent(e, transition)
			if verr != nil {
				return nil, verr
			}
			insert = viol
			refusal = transition
		case errors.As(precheckErr, &reservation):
			conflict, cerr := s.conflictEvent(e, reservation)
			if cerr != nil {
				return nil, cerr
			}
			insert = conflict
			refusal = reservation
		default:
			return nil, precheckErr
		}
	}

	if err := s.insertEvent(ctx, tx, insert); err != nil {
		return nil, err
	}
	if err := projection.Apply(tx, insert); err != nil {
		return nil, fmt.Errorf("failed to project %s event: %w", insert.Type, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit append", err)
	}
	committed = true

	if refusal != nil {
		logging.Events("Refused %s: %v (recorded %s seq=%d)", e.Type, refusal, insert.Type, insert.Sequence)
		return insert, refusal
	}
	logging.EventsDebug("Appended %s seq=%d id=%d", insert.Type, insert.Sequence, insert.ID)
	return insert, nil
}

// AppendPayload builds an event from a payload with the store's clock and
// appends it.
func (s *Store) AppendPayload(ctx context.Context, p event.Payload) (*event.Event, error) {
	e, err := s.factory.New(s.project, p)
	if err != nil {
		return nil, err
	}
	return s.Append(ctx, e)
}

// violationEvent converts a refused transition into the event that gets
// recorded instead.
func (s *Store) violationEvent(offending *event.Event, refusal *types.InvalidTransitionError) (*event.Event, error) {
	return s.factory.New(s.project, &event.CoordinatorViolation{
		Kind:          "invalid_transition",
		Entity:        refusal.Entity,
		EntityID:      refusal.EntityID,
		From:          refusal.From,
		To:            refusal.To,
		OffendingType: offending.Type,
		Detail:        refusal.Error(),
	})
}

// conflictEvent converts a refused reservation into the diagnostic event that
// gets recorded instead.
func (s *Store) conflictEvent(offending *event.Event, refusal *types.ReservationConflictError) (*event.Event, error) {
	p, err := offending.Payload()
	if err != nil {
		return nil, err
	}
	reserved, ok := p.(*event.FileReserved)
	if !ok {
		return nil, fmt.Errorf("reservation conflict on non-reservation event %s", offending.Type)
	}
	return s.factory.New(s.project, &event.FileConflict{
		Callsign:  reserved.Callsign,
		Paths:     refusal.Paths,
		Holder:    refusal.Holder,
		ExpiresAt: refusal.ExpiresAt,
	})
}

// insertEvent assigns the next per-project sequence inside the transaction
// and stamps the event with its position. The subselect and the UNIQUE
// constraint together keep sequences gapless and monotonic.
func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, e *event.Event) error {
	p, err := e.Payload()
	if err != nil {
		return err
	}
	sortieID, missionID, callsign := event.StreamKeys(p)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (project, sequence, type, timestamp, stream_sortie, stream_mission, stream_callsign, body)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE project = ?), ?, ?, ?, ?, ?, ?)`,
		e.Project, e.Project, string(e.Type), int64(e.Timestamp),
		sortieID, missionID, callsign, string(e.Body))
	if err != nil {
		return wrapStorage("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT sequence FROM events WHERE id = ?", id).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read event sequence: %w", err)
	}
	e.ID = id
	e.Sequence = seq
	return nil
}

// QueryOptions narrows an event log read. Zero values mean "no filter".
type QueryOptions struct {
	Types         []event.Type
	Stream        types.StreamKind
	StreamID      string
	AfterSequence int64
	Since         types.Timestamp
	Until         types.Timestamp
	Limit         int
	Descending    bool
}

// Query reads events in sequence order, oldest first unless Descending.
func (s *Store) Query(ctx context.Context, q QueryOptions) ([]*event.Event, error) {
	where := []string{"project = ?"}
	args := []interface{}{s.project}

	if len(q.Types) > 0 {
		ph := make([]string, len(q.Types))
		for i, t := range q.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(ph, ", ")))
	}
	if q.StreamID != "" {
		switch q.Stream {
		case types.StreamSortie:
			where = append(where, "stream_sortie = ?")
			args = append(args, q.StreamID)
		case types.StreamMission:
			where = append(where, "stream_mission = ?")
			args = append(args, q.StreamID)
		case types.StreamPilot:
			where = append(where, "stream_callsign = ?")
			args = append(args, q.StreamID)
		case types.StreamProject:
			// The database is already scoped to one project.
		default:
			return nil, fmt.Errorf("unknown stream kind %q", q.Stream)
		}
	}
	if q.AfterSequence > 0 {
		where = append(where, "sequence > ?")
		args = append(args, q.AfterSequence)
	}
	if q.Since > 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, int64(q.Since))
	}
	if q.Until > 0 {
		where = append(where, "timestamp <= ?")
		args = append(args, int64(q.Until))
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, sequence, type, timestamp, body FROM events
		WHERE %s ORDER BY sequence %s`, strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("query events", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// GetLatest returns the most recent event, optionally restricted to the
// given types. A nil event with nil error means the log has none.
func (s *Store) GetLatest(ctx context.Context, eventTypes ...event.Type) (*event.Event, error) {
	events, err := s.Query(ctx, QueryOptions{Types: eventTypes, Limit: 1, Descending: true})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// GetLatestSequence returns the highest assigned sequence, 0 for a fresh log.
func (s *Store) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM events WHERE project = ?",
		s.project,
	).Scan(&seq)
	if err != nil {
		return 0, wrapStorage("read latest sequence", err)
	}
	return seq, nil
}

// Count returns how many events exist, optionally restricted by type.
func (s *Store) Count(ctx context.Context, eventTypes ...event.Type) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE project = ?"
	args := []interface{}{s.project}
	if len(eventTypes) > 0 {
		ph := make([]string, len(eventTypes))
		for i, t := range eventTypes {
			ph[i] = "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(ph, ", "))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapStorage("count events", err)
	}
	return count, nil
}

func (s *Store) scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		var (
			id, seq, ts int64
			typ, body   string
		)
		if err := rows.Scan(&id, &seq, &typ, &ts, &body); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e, err := event.Hydrate(id, seq, event.Type(typ), s.project, types.Timestamp(ts), []byte(body))
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate event %d: %w", id, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
