package projection

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/types"
)

// workTable routes an id to its table. Work orders share the sortie event
// vocabulary and state machine but live in their own table under the parent
// sortie.
func workTable(id string) (table, entity string) {
	if ids.Is(id, ids.PrefixWorkOrder) {
		return "work_orders", "work_order"
	}
	return "sorties", "sortie"
}

func currentWorkStatus(tx DBTX, table, project, id string) (types.SortieStatus, error) {
	var status string
	err := tx.QueryRow(
		fmt.Sprintf("SELECT status FROM %s WHERE project = ? AND sortie_id = ?", table),
		project, id,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s status: %w", table, err)
	}
	return types.SortieStatus(status), nil
}

// =============================================================================
// PRECHECKS
// =============================================================================

func precheckSortieCreated(tx DBTX, e *event.Event, v *event.SortieCreated) error {
	table, entity := workTable(v.SortieID)
	var count int
	if err := tx.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE project = ? AND sortie_id = ?", table),
		e.Project, v.SortieID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check %s id: %w", table, err)
	}
	if count > 0 {
		return &types.ProjectionConflictError{
			Handler: table,
			Reason:  fmt.Sprintf("%s %s already exists", entity, v.SortieID),
		}
	}
	if v.ParentSortieID != "" {
		var parents int
		if err := tx.QueryRow(
			"SELECT COUNT(*) FROM sorties WHERE project = ? AND sortie_id = ?",
			e.Project, v.ParentSortieID,
		).Scan(&parents); err != nil {
			return fmt.Errorf("failed to check parent sortie: %w", err)
		}
		if parents == 0 {
			return &types.NotFoundError{Entity: "sortie", ID: v.ParentSortieID}
		}
	}
	return nil
}

func precheckSortieMove(tx DBTX, e *event.Event, id string, to types.SortieStatus) error {
	table, entity := workTable(id)
	from, err := currentWorkStatus(tx, table, e.Project, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return err
	}
	if !from.CanTransitionTo(to) {
		return &types.InvalidTransitionError{
			Entity:   entity,
			EntityID: id,
			From:     string(from),
			To:       string(to),
		}
	}
	return nil
}

func precheckSortieProgress(tx DBTX, e *event.Event, v *event.SortieProgress) error {
	table, entity := workTable(v.SortieID)
	from, err := currentWorkStatus(tx, table, e.Project, v.SortieID)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.NotFoundError{Entity: entity, ID: v.SortieID}
	}
	if err != nil {
		return err
	}
	// Progress never changes state, but reporting it against finished work
	// is the same class of mistake as reopening it.
	if from == types.SortieClosed {
		return &types.InvalidTransitionError{
			Entity:   entity,
			EntityID: v.SortieID,
			From:     string(from),
			To:       string(from),
		}
	}
	return nil
}

func precheckSortieStatusChanged(tx DBTX, e *event.Event, v *event.SortieStatusChanged) error {
	table, entity := workTable(v.SortieID)
	from, err := currentWorkStatus(tx, table, e.Project, v.SortieID)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.NotFoundError{Entity: entity, ID: v.SortieID}
	}
	if err != nil {
		return err
	}
	// The declared from must match reality, and the move must be legal.
	if from != v.From || !from.CanTransitionTo(v.To) {
		return &types.InvalidTransitionError{
			Entity:   entity,
			EntityID: v.SortieID,
			From:     string(from),
			To:       string(v.To),
		}
	}
	return nil
}

// =============================================================================
// APPLIERS
// =============================================================================

func applySortieCreated(tx DBTX, e *event.Event, v *event.SortieCreated) error {
	table, _ := workTable(v.SortieID)
	ts := int64(e.Timestamp)

	files := "[]"
	if len(v.Files) > 0 {
		raw, err := json.Marshal(v.Files)
		if err != nil {
			return fmt.Errorf("failed to encode files list: %w", err)
		}
		files = string(raw)
	}

	_, err := tx.Exec(fmt.Sprintf(`
		INSERT INTO %s (sortie_id, project, mission_id, parent_sortie_id, title, description, status, priority, assignee, files, progress_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'open', ?, ?, ?, 0, ?, ?)`, table),
		v.SortieID, e.Project, v.MissionID, v.ParentSortieID, v.Title,
		v.Description, v.Priority, v.Assignee, files, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	// Mission totals count sorties, not their work orders.
	if table == "sorties" && v.MissionID != "" {
		if err := bumpMissionTotals(tx, e.Project, v.MissionID, ts, 1, 0); err != nil {
			return err
		}
	}
	return nil
}

func applySortieStarted(tx DBTX, e *event.Event, v *event.SortieStarted) error {
	table, _ := workTable(v.SortieID)
	ts := int64(e.Timestamp)
	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s SET status = 'in_progress', blocked_reason = '',
			assignee = CASE WHEN ? != '' THEN ? ELSE assignee END,
			started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE project = ? AND sortie_id = ?`, table),
		v.Callsign, v.Callsign, ts, ts, e.Project, v.SortieID)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", v.SortieID, err)
	}
	return nil
}

func applySortieProgress(tx DBTX, e *event.Event, v *event.SortieProgress) error {
	table, _ := workTable(v.SortieID)
	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s SET progress_percent = ?, updated_at = ?
		WHERE project = ? AND sortie_id = ?`, table),
		v.ProgressPercent, int64(e.Timestamp), e.Project, v.SortieID)
	if err != nil {
		return fmt.Errorf("failed to record progress for %s: %w", v.SortieID, err)
	}
	return nil
}

func applySortieCompleted(tx DBTX, e *event.Event, v *event.SortieCompleted) error {
	table, _ := workTable(v.SortieID)
	ts := int64(e.Timestamp)
	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s SET status = 'closed', progress_percent = 100, blocked_reason = '',
			completed_at = ?, updated_at = ?
		WHERE project = ? AND sortie_id = ?`, table),
		ts, ts, e.Project, v.SortieID)
	if err != nil {
		return fmt.Errorf("failed to complete %s: %w", v.SortieID, err)
	}
	if table == "sorties" {
		return bumpCompletedForSortie(tx, e.Project, v.SortieID, ts)
	}
	return nil
}

func applySortieBlocked(tx DBTX, e *event.Event, v *event.SortieBlocked) error {
	table, _ := workTable(v.SortieID)
	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s SET status = 'blocked', blocked_reason = ?, updated_at = ?
		WHERE project = ? AND sortie_id = ?`, table),
		v.Reason, int64(e.Timestamp), e.Project, v.SortieID)
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", v.SortieID, err)
	}
	return nil
}

func applySortieStatusChanged(tx DBTX, e *event.Event, v *event.SortieStatusChanged) error {
	table, _ := workTable(v.SortieID)
	ts := int64(e.Timestamp)

	reason := ""
	if v.To == types.SortieBlocked {
		reason = v.Reason
	}
	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s SET status = ?, blocked_reason = ?,
			started_at = CASE WHEN ? = 'in_progress' THEN COALESCE(started_at, ?) ELSE started_at END,
			completed_at = CASE WHEN ? = 'closed' THEN ? ELSE completed_at END,
			progress_percent = CASE WHEN ? = 'closed' THEN 100 ELSE progress_percent END,
			updated_at = ?
		WHERE project = ? AND sortie_id = ?`, table),
		string(v.To), reason,
		string(v.To), ts,
		string(v.To), ts,
		string(v.To),
		ts, e.Project, v.SortieID)
	if err != nil {
		return fmt.Errorf("failed to change status of %s: %w", v.SortieID, err)
	}
	if table == "sorties" && v.To == types.SortieClosed {
		return bumpCompletedForSortie(tx, e.Project, v.SortieID, ts)
	}
	return nil
}

// bumpCompletedForSortie increments the owning mission's completed counter,
// reading the mission link from the sortie row so the fold stays a pure
// function of prior state.
func bumpCompletedForSortie(tx DBTX, project, sortieID string, ts int64) error {
	var missionID string
	err := tx.QueryRow(
		"SELECT mission_id FROM sorties WHERE project = ? AND sortie_id = ?",
		project, sortieID,
	).Scan(&missionID)
	if errors.Is(err, sql.ErrNoRows) || missionID == "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sortie mission link: %w", err)
	}
	return bumpMissionTotals(tx, project, missionID, ts, 0, 1)
}

func bumpMissionTotals(tx DBTX, project, missionID string, ts int64, totalDelta, completedDelta int) error {
	_, err := tx.Exec(`
		UPDATE missions SET total_sorties = total_sorties + ?, completed_sorties = completed_sorties + ?, updated_at = ?
		WHERE project = ? AND mission_id = ?`,
		totalDelta, completedDelta, ts, project, missionID)
	if err != nil {
		return fmt.Errorf("failed to update mission totals: %w", err)
	}
	return nil
}
