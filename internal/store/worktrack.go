package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleettools/internal/types"
)

const workColumns = `sortie_id, mission_id, parent_sortie_id, title, description, status, priority,
	assignee, files, progress_percent, blocked_reason, created_at, started_at, completed_at`

const missionColumns = `mission_id, title, description, status, priority, created_by,
	total_sorties, completed_sorties, created_at, started_at, completed_at`

// SortieFilter narrows ListSorties. Zero values mean "no filter".
type SortieFilter struct {
	Status    types.SortieStatus
	MissionID string
	Assignee  string
	Limit     int
}

// GetSortie returns one sortie by id.
func (s *Store) GetSortie(ctx context.Context, sortieID string) (*types.Sortie, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sorties WHERE project = ? AND sortie_id = ?`, workColumns),
		s.project, sortieID)
	sortie, err := scanSortie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "sortie", ID: sortieID}
	}
	if err != nil {
		return nil, wrapStorage("read sortie", err)
	}
	sortie.Project = s.project
	return sortie, nil
}

// ListSorties returns sorties matching the filter, open work first, then by
// priority and age.
func (s *Store) ListSorties(ctx context.Context, f SortieFilter) ([]*types.Sortie, error) {
	query := fmt.Sprintf(`SELECT %s FROM sorties WHERE project = ?`, workColumns)
	args := []interface{}{s.project}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.MissionID != "" {
		query += " AND mission_id = ?"
		args = append(args, f.MissionID)
	}
	if f.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, f.Assignee)
	}
	query += ` ORDER BY CASE status WHEN 'closed' THEN 1 ELSE 0 END, priority DESC, created_at`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list sorties", err)
	}
	defer rows.Close()

	var sorties []*types.Sortie
	for rows.Next() {
		sortie, err := scanSortie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sortie row: %w", err)
		}
		sortie.Project = s.project
		sorties = append(sorties, sortie)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sorties: %w", err)
	}
	return sorties, nil
}

// GetWorkOrder returns one work order by id.
func (s *Store) GetWorkOrder(ctx context.Context, workOrderID string) (*types.WorkOrder, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM work_orders WHERE project = ? AND sortie_id = ?`, workColumns),
		s.project, workOrderID)
	wo, err := scanWorkOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "work_order", ID: workOrderID}
	}
	if err != nil {
		return nil, wrapStorage("read work order", err)
	}
	wo.Project = s.project
	return wo, nil
}

// ListWorkOrders returns the work orders under one sortie, or all of them
// when parentSortieID is empty.
func (s *Store) ListWorkOrders(ctx context.Context, parentSortieID string) ([]*types.WorkOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM work_orders WHERE project = ?`, workColumns)
	args := []interface{}{s.project}
	if parentSortieID != "" {
		query += " AND parent_sortie_id = ?"
		args = append(args, parentSortieID)
	}
	query += ` ORDER BY CASE status WHEN 'closed' THEN 1 ELSE 0 END, priority DESC, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list work orders", err)
	}
	defer rows.Close()

	var orders []*types.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work order row: %w", err)
		}
		wo.Project = s.project
		orders = append(orders, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work orders: %w", err)
	}
	return orders, nil
}

// GetMission returns one mission by id.
func (s *Store) GetMission(ctx context.Context, missionID string) (*types.Mission, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM missions WHERE project = ? AND mission_id = ?`, missionColumns),
		s.project, missionID)
	mission, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "mission", ID: missionID}
	}
	if err != nil {
		return nil, wrapStorage("read mission", err)
	}
	mission.Project = s.project
	return mission, nil
}

// ListMissions returns missions, optionally filtered by status, active work
// first.
func (s *Store) ListMissions(ctx context.Context, status types.MissionStatus) ([]*types.Mission, error) {
	query := fmt.Sprintf(`SELECT %s FROM missions WHERE project = ?`, missionColumns)
	args := []interface{}{s.project}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += ` ORDER BY CASE status WHEN 'completed' THEN 1 ELSE 0 END, priority DESC, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list missions", err)
	}
	defer rows.Close()

	var missions []*types.Mission
	for rows.Next() {
		mission, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission row: %w", err)
		}
		mission.Project = s.project
		missions = append(missions, mission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missions: %w", err)
	}
	return missions, nil
}

// workRow is the shared column set of sorties and work_orders.
type workRow struct {
	ID              string
	MissionID       string
	ParentSortieID  string
	Title           string
	Description     string
	Status          string
	Priority        int
	Assignee        string
	Files           []string
	ProgressPercent int
	BlockedReason   string
	CreatedAt       types.Timestamp
	StartedAt       *types.Timestamp
	CompletedAt     *types.Timestamp
}

func scanWorkRow(r rowScanner) (*workRow, error) {
	var w workRow
	var filesJSON string
	var startedAt, completedAt sql.NullInt64
	if err := r.Scan(&w.ID, &w.MissionID, &w.ParentSortieID, &w.Title, &w.Description,
		&w.Status, &w.Priority, &w.Assignee, &filesJSON, &w.ProgressPercent,
		&w.BlockedReason, &w.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if filesJSON != "" && filesJSON != "[]" {
		if err := json.Unmarshal([]byte(filesJSON), &w.Files); err != nil {
			return nil, fmt.Errorf("failed to decode files for %s: %w", w.ID, err)
		}
	}
	w.StartedAt = nullTimestamp(startedAt)
	w.CompletedAt = nullTimestamp(completedAt)
	return &w, nil
}

func scanSortie(r rowScanner) (*types.Sortie, error) {
	w, err := scanWorkRow(r)
	if err != nil {
		return nil, err
	}
	return &types.Sortie{
		SortieID:        w.ID,
		MissionID:       w.MissionID,
		Title:           w.Title,
		Description:     w.Description,
		Status:          types.SortieStatus(w.Status),
		Priority:        w.Priority,
		Assignee:        w.Assignee,
		Files:           w.Files,
		ProgressPercent: w.ProgressPercent,
		BlockedReason:   w.BlockedReason,
		CreatedAt:       w.CreatedAt,
		StartedAt:       w.StartedAt,
		CompletedAt:     w.CompletedAt,
	}, nil
}

func scanWorkOrder(r rowScanner) (*types.WorkOrder, error) {
	w, err := scanWorkRow(r)
	if err != nil {
		return nil, err
	}
	return &types.WorkOrder{
		WorkOrderID:     w.ID,
		SortieID:        w.ParentSortieID,
		Title:           w.Title,
		Description:     w.Description,
		Status:          types.SortieStatus(w.Status),
		Priority:        w.Priority,
		Assignee:        w.Assignee,
		Files:           w.Files,
		ProgressPercent: w.ProgressPercent,
		BlockedReason:   w.BlockedReason,
		CreatedAt:       w.CreatedAt,
		StartedAt:       w.StartedAt,
		CompletedAt:     w.CompletedAt,
	}, nil
}

func scanMission(r rowScanner) (*types.Mission, error) {
	var m types.Mission
	var status string
	var startedAt, completedAt sql.NullInt64
	if err := r.Scan(&m.MissionID, &m.Title, &m.Description, &status, &m.Priority,
		&m.CreatedBy, &m.TotalSorties, &m.CompletedSorties, &m.CreatedAt,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}
	m.Status = types.MissionStatus(status)
	m.StartedAt = nullTimestamp(startedAt)
	m.CompletedAt = nullTimestamp(completedAt)
	return &m, nil
}
