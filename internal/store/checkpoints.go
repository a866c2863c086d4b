package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleettools/internal/types"
)

const checkpointColumns = `checkpoint_id, mission_id, sortie_id, callsign, trigger_kind,
	progress_percent, summary, recovery_json, sequence, created_at`

// GetCheckpoint returns one checkpoint row by id.
func (s *Store) GetCheckpoint(ctx context.Context, checkpointID string) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM checkpoints WHERE project = ? AND checkpoint_id = ?`, checkpointColumns),
		s.project, checkpointID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "checkpoint", ID: checkpointID}
	}
	if err != nil {
		return nil, wrapStorage("read checkpoint", err)
	}
	cp.Project = s.project
	return cp, nil
}

// LatestCheckpoint returns the newest checkpoint, scoped to a mission when
// missionID is set. NotFound means no checkpoint exists yet.
func (s *Store) LatestCheckpoint(ctx context.Context, missionID string) (*types.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM checkpoints WHERE project = ?`, checkpointColumns)
	args := []interface{}{s.project}
	if missionID != "" {
		query += " AND mission_id = ?"
		args = append(args, missionID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	row := s.db.QueryRowContext(ctx, query, args...)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "checkpoint", ID: missionID}
	}
	if err != nil {
		return nil, wrapStorage("read latest checkpoint", err)
	}
	cp.Project = s.project
	return cp, nil
}

// ListCheckpoints returns checkpoints newest first, optionally scoped to a
// mission.
func (s *Store) ListCheckpoints(ctx context.Context, missionID string, limit int) ([]*types.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM checkpoints WHERE project = ?`, checkpointColumns)
	args := []interface{}{s.project}
	if missionID != "" {
		query += " AND mission_id = ?"
		args = append(args, missionID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list checkpoints", err)
	}
	defer rows.Close()

	var checkpoints []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp.Project = s.project
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

func scanCheckpoint(r rowScanner) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var trigger, recoveryJSON string
	if err := r.Scan(&cp.CheckpointID, &cp.MissionID, &cp.SortieID, &cp.Callsign, &trigger,
		&cp.ProgressPercent, &cp.Summary, &recoveryJSON, &cp.Sequence, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.Trigger = types.CheckpointTrigger(trigger)
	if recoveryJSON != "" && recoveryJSON != "{}" {
		if err := json.Unmarshal([]byte(recoveryJSON), &cp.Recovery); err != nil {
			return nil, fmt.Errorf("failed to decode recovery context for %s: %w", cp.CheckpointID, err)
		}
	}
	return &cp, nil
}
