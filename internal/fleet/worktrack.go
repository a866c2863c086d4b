package fleet

import (
	"context"

	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// =============================================================================
// MISSIONS
// =============================================================================

// MissionParams describes a new mission.
type MissionParams struct {
	Title       string
	Description string
	Priority    int
	CreatedBy   string
}

// CreateMission mints a mission in pending state.
func (c *Coordinator) CreateMission(ctx context.Context, p MissionParams) (*types.Mission, error) {
	missionID := ids.New(ids.PrefixMission)
	if _, err := c.store.AppendPayload(ctx, &event.MissionCreated{
		MissionID:   missionID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		CreatedBy:   p.CreatedBy,
	}); err != nil {
		return nil, err
	}
	return c.store.GetMission(ctx, missionID)
}

// StartMission moves a mission to in_progress.
func (c *Coordinator) StartMission(ctx context.Context, missionID string) (*types.Mission, error) {
	if _, err := c.store.AppendPayload(ctx, &event.MissionStarted{MissionID: missionID}); err != nil {
		return nil, err
	}
	return c.store.GetMission(ctx, missionID)
}

// CompleteMission closes a mission.
func (c *Coordinator) CompleteMission(ctx context.Context, missionID string) (*types.Mission, error) {
	if _, err := c.store.AppendPayload(ctx, &event.MissionCompleted{MissionID: missionID}); err != nil {
		return nil, err
	}
	return c.store.GetMission(ctx, missionID)
}

// SyncMission recounts a mission's sortie totals from the sorties table and
// records the corrected figures. Totals normally stay correct through the
// fold; sync repairs drift after manual surgery or a partial import.
func (c *Coordinator) SyncMission(ctx context.Context, missionID string) (*types.Mission, error) {
	sorties, err := c.store.ListSorties(ctx, store.SortieFilter{MissionID: missionID})
	if err != nil {
		return nil, err
	}
	completed := 0
	for _, s := range sorties {
		if s.Status == types.SortieClosed {
			completed++
		}
	}
	if _, err := c.store.AppendPayload(ctx, &event.MissionSynced{
		MissionID:        missionID,
		TotalSorties:     len(sorties),
		CompletedSorties: completed,
	}); err != nil {
		return nil, err
	}
	return c.store.GetMission(ctx, missionID)
}

// GetMission returns one mission by id.
func (c *Coordinator) GetMission(ctx context.Context, missionID string) (*types.Mission, error) {
	return c.store.GetMission(ctx, missionID)
}

// ListMissions returns missions, optionally filtered by status.
func (c *Coordinator) ListMissions(ctx context.Context, status types.MissionStatus) ([]*types.Mission, error) {
	return c.store.ListMissions(ctx, status)
}

// =============================================================================
// SORTIES
// =============================================================================

// SortieParams describes a new work item.
type SortieParams struct {
	MissionID   string
	Title       string
	Description string
	Priority    int
	Assignee    string
	Files       []string
}

// CreateSortie mints a sortie in open state, under a mission when given.
func (c *Coordinator) CreateSortie(ctx context.Context, p SortieParams) (*types.Sortie, error) {
	sortieID := ids.New(ids.PrefixSortie)
	if _, err := c.store.AppendPayload(ctx, &event.SortieCreated{
		SortieID:    sortieID,
		MissionID:   p.MissionID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		Assignee:    p.Assignee,
		Files:       p.Files,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// StartSortie moves a sortie to in_progress, taking the assignment when
// callsign is set.
func (c *Coordinator) StartSortie(ctx context.Context, sortieID, callsign string) (*types.Sortie, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieStarted{
		SortieID: sortieID,
		Callsign: callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// ProgressSortie updates progress percent without a state change.
func (c *Coordinator) ProgressSortie(ctx context.Context, sortieID string, percent int, note string) (*types.Sortie, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieProgress{
		SortieID:        sortieID,
		ProgressPercent: percent,
		Note:            note,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// BlockSortie parks an in-progress sortie with the reason it cannot proceed.
func (c *Coordinator) BlockSortie(ctx context.Context, sortieID, reason string) (*types.Sortie, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieBlocked{
		SortieID: sortieID,
		Reason:   reason,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// CompleteSortie closes a sortie at 100 percent.
func (c *Coordinator) CompleteSortie(ctx context.Context, sortieID, callsign string) (*types.Sortie, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieCompleted{
		SortieID: sortieID,
		Callsign: callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// ChangeSortieStatus moves a sortie to any legal status. The current status
// is read first and declared in the event, so replay re-checks exactly the
// transition the caller saw.
func (c *Coordinator) ChangeSortieStatus(ctx context.Context, sortieID string, to types.SortieStatus, reason string) (*types.Sortie, error) {
	current, err := c.store.GetSortie(ctx, sortieID)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.AppendPayload(ctx, &event.SortieStatusChanged{
		SortieID: sortieID,
		From:     current.Status,
		To:       to,
		Reason:   reason,
	}); err != nil {
		return nil, err
	}
	return c.store.GetSortie(ctx, sortieID)
}

// GetSortie returns one sortie by id.
func (c *Coordinator) GetSortie(ctx context.Context, sortieID string) (*types.Sortie, error) {
	return c.store.GetSortie(ctx, sortieID)
}

// ListSorties returns sorties matching the filter, active work first.
func (c *Coordinator) ListSorties(ctx context.Context, f store.SortieFilter) ([]*types.Sortie, error) {
	return c.store.ListSorties(ctx, f)
}

// =============================================================================
// WORK ORDERS
// =============================================================================

// WorkOrderParams describes a sub-unit of an existing sortie.
type WorkOrderParams struct {
	SortieID    string
	Title       string
	Description string
	Priority    int
	Assignee    string
	Files       []string
}

// CreateWorkOrder mints a work order under p.SortieID. Work orders ride the
// sortie event vocabulary; the workorder id prefix routes them to their own
// table.
func (c *Coordinator) CreateWorkOrder(ctx context.Context, p WorkOrderParams) (*types.WorkOrder, error) {
	workOrderID := ids.New(ids.PrefixWorkOrder)
	if _, err := c.store.AppendPayload(ctx, &event.SortieCreated{
		SortieID:       workOrderID,
		ParentSortieID: p.SortieID,
		Title:          p.Title,
		Description:    p.Description,
		Priority:       p.Priority,
		Assignee:       p.Assignee,
		Files:          p.Files,
	}); err != nil {
		return nil, err
	}
	return c.store.GetWorkOrder(ctx, workOrderID)
}

// StartWorkOrder moves a work order to in_progress.
func (c *Coordinator) StartWorkOrder(ctx context.Context, workOrderID, callsign string) (*types.WorkOrder, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieStarted{
		SortieID: workOrderID,
		Callsign: callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetWorkOrder(ctx, workOrderID)
}

// ProgressWorkOrder updates a work order's progress percent.
func (c *Coordinator) ProgressWorkOrder(ctx context.Context, workOrderID string, percent int, note string) (*types.WorkOrder, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieProgress{
		SortieID:        workOrderID,
		ProgressPercent: percent,
		Note:            note,
	}); err != nil {
		return nil, err
	}
	return c.store.GetWorkOrder(ctx, workOrderID)
}

// CompleteWorkOrder closes a work order. Mission totals are untouched; they
// count sorties, not their work orders.
func (c *Coordinator) CompleteWorkOrder(ctx context.Context, workOrderID, callsign string) (*types.WorkOrder, error) {
	if _, err := c.store.AppendPayload(ctx, &event.SortieCompleted{
		SortieID: workOrderID,
		Callsign: callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetWorkOrder(ctx, workOrderID)
}

// GetWorkOrder returns one work order by id.
func (c *Coordinator) GetWorkOrder(ctx context.Context, workOrderID string) (*types.WorkOrder, error) {
	return c.store.GetWorkOrder(ctx, workOrderID)
}

// ListWorkOrders returns the work orders under one sortie, or all of them
// when sortieID is empty.
func (c *Coordinator) ListWorkOrders(ctx context.Context, sortieID string) ([]*types.WorkOrder, error) {
	return c.store.ListWorkOrders(ctx, sortieID)
}
