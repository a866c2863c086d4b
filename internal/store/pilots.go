package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleettools/internal/types"
)

// GetPilot returns one pilot by callsign.
func (s *Store) GetPilot(ctx context.Context, callsign string) (*types.Pilot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT callsign, program, model, task_description, status, registered_at, last_active_at, deregistered_at, deregister_reason
		FROM pilots WHERE project = ? AND callsign = ?`,
		s.project, callsign)
	p, err := scanPilot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "pilot", ID: callsign}
	}
	if err != nil {
		return nil, wrapStorage("read pilot", err)
	}
	p.Project = s.project
	return p, nil
}

// ListPilots returns the roster, newest registration first. Deregistered
// pilots are excluded unless includeDeregistered is set.
func (s *Store) ListPilots(ctx context.Context, includeDeregistered bool) ([]*types.Pilot, error) {
	query := `
		SELECT callsign, program, model, task_description, status, registered_at, last_active_at, deregistered_at, deregister_reason
		FROM pilots WHERE project = ?`
	if !includeDeregistered {
		query += " AND status != 'deregistered'"
	}
	query += " ORDER BY registered_at DESC"

	rows, err := s.db.QueryContext(ctx, query, s.project)
	if err != nil {
		return nil, wrapStorage("list pilots", err)
	}
	defer rows.Close()

	var pilots []*types.Pilot
	for rows.Next() {
		p, err := scanPilot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pilot row: %w", err)
		}
		p.Project = s.project
		pilots = append(pilots, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pilots: %w", err)
	}
	return pilots, nil
}

// StalePilots returns active pilots whose last heartbeat is older than the
// cutoff, candidates for stall detection.
func (s *Store) StalePilots(ctx context.Context, cutoff types.Timestamp) ([]*types.Pilot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT callsign, program, model, task_description, status, registered_at, last_active_at, deregistered_at, deregister_reason
		FROM pilots WHERE project = ? AND status = 'active' AND last_active_at < ?
		ORDER BY last_active_at ASC`,
		s.project, int64(cutoff))
	if err != nil {
		return nil, wrapStorage("list stale pilots", err)
	}
	defer rows.Close()

	var pilots []*types.Pilot
	for rows.Next() {
		p, err := scanPilot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pilot row: %w", err)
		}
		p.Project = s.project
		pilots = append(pilots, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pilots: %w", err)
	}
	return pilots, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPilot(r rowScanner) (*types.Pilot, error) {
	var p types.Pilot
	var status string
	var registeredAt, lastActiveAt int64
	var deregisteredAt sql.NullInt64
	if err := r.Scan(&p.Callsign, &p.Program, &p.Model, &p.TaskDescription,
		&status, &registeredAt, &lastActiveAt, &deregisteredAt, &p.DeregisterReason); err != nil {
		return nil, err
	}
	p.Status = types.PilotStatus(status)
	p.RegisteredAt = types.Timestamp(registeredAt)
	p.LastActiveAt = types.Timestamp(lastActiveAt)
	if deregisteredAt.Valid {
		ts := types.Timestamp(deregisteredAt.Int64)
		p.DeregisteredAt = &ts
	}
	return &p, nil
}
