package projection

import (
	"database/sql"
	"errors"
	"fmt"

	"fleettools/internal/event"
	"fleettools/internal/types"
)

func currentMissionStatus(tx DBTX, project, id string) (types.MissionStatus, error) {
	var status string
	err := tx.QueryRow(
		"SELECT status FROM missions WHERE project = ? AND mission_id = ?",
		project, id,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("failed to read mission status: %w", err)
	}
	return types.MissionStatus(status), nil
}

func precheckMissionCreated(tx DBTX, e *event.Event, v *event.MissionCreated) error {
	var count int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM missions WHERE project = ? AND mission_id = ?",
		e.Project, v.MissionID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check mission id: %w", err)
	}
	if count > 0 {
		return &types.ProjectionConflictError{
			Handler: "missions",
			Reason:  fmt.Sprintf("mission %s already exists", v.MissionID),
		}
	}
	return nil
}

func precheckMissionMove(tx DBTX, e *event.Event, id string, to types.MissionStatus) error {
	from, err := currentMissionStatus(tx, e.Project, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.NotFoundError{Entity: "mission", ID: id}
	}
	if err != nil {
		return err
	}
	if !from.CanTransitionTo(to) {
		return &types.InvalidTransitionError{
			Entity:   "mission",
			EntityID: id,
			From:     string(from),
			To:       string(to),
		}
	}
	return nil
}

func precheckMissionExists(tx DBTX, e *event.Event, id string) error {
	_, err := currentMissionStatus(tx, e.Project, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.NotFoundError{Entity: "mission", ID: id}
	}
	return err
}

func applyMissionCreated(tx DBTX, e *event.Event, v *event.MissionCreated) error {
	ts := int64(e.Timestamp)
	_, err := tx.Exec(`
		INSERT INTO missions (mission_id, project, title, description, status, priority, created_by, total_sorties, completed_sorties, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, 0, 0, ?, ?)`,
		v.MissionID, e.Project, v.Title, v.Description, v.Priority, v.CreatedBy, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	return nil
}

func applyMissionStarted(tx DBTX, e *event.Event, v *event.MissionStarted) error {
	ts := int64(e.Timestamp)
	_, err := tx.Exec(`
		UPDATE missions SET status = 'in_progress', started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE project = ? AND mission_id = ?`,
		ts, ts, e.Project, v.MissionID)
	if err != nil {
		return fmt.Errorf("failed to start mission %s: %w", v.MissionID, err)
	}
	return nil
}

func applyMissionCompleted(tx DBTX, e *event.Event, v *event.MissionCompleted) error {
	ts := int64(e.Timestamp)
	_, err := tx.Exec(`
		UPDATE missions SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE project = ? AND mission_id = ?`,
		ts, ts, e.Project, v.MissionID)
	if err != nil {
		return fmt.Errorf("failed to complete mission %s: %w", v.MissionID, err)
	}
	return nil
}

func applyMissionSynced(tx DBTX, e *event.Event, v *event.MissionSynced) error {
	// Recount from the coordinator wins over incremental drift.
	_, err := tx.Exec(`
		UPDATE missions SET total_sorties = ?, completed_sorties = ?, updated_at = ?
		WHERE project = ? AND mission_id = ?`,
		v.TotalSorties, v.CompletedSorties, int64(e.Timestamp), e.Project, v.MissionID)
	if err != nil {
		return fmt.Errorf("failed to sync mission %s: %w", v.MissionID, err)
	}
	return nil
}
