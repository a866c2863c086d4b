package fleet

import (
	"context"
	"time"

	"fleettools/internal/checkpoint"
	"fleettools/internal/event"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// CreateCheckpoint captures a durable snapshot of mission state: sorties,
// the mission's active locks, pending unacked messages, and the narrative
// context the pilot supplies. The snapshot lands on the event log and, best
// effort, as a JSON file under .fleet/checkpoints/.
func (c *Coordinator) CreateCheckpoint(ctx context.Context, p checkpoint.CreateParams) (*types.Checkpoint, error) {
	return c.checkpoints.Create(ctx, p)
}

// GetLatestCheckpoint returns the newest checkpoint, scoped to a mission
// when missionID is set.
func (c *Coordinator) GetLatestCheckpoint(ctx context.Context, missionID string) (*types.Checkpoint, error) {
	return c.checkpoints.GetLatest(ctx, missionID)
}

// ListCheckpoints returns checkpoints newest first, optionally scoped to a
// mission.
func (c *Coordinator) ListCheckpoints(ctx context.Context, missionID string, limit int) ([]*types.Checkpoint, error) {
	return c.checkpoints.List(ctx, missionID, limit)
}

// Restore resumes work from a checkpoint: re-acquires the snapshotted locks
// where uncontested, surfaces the messages still awaiting acknowledgement,
// and records a fleet_recovered event. Restoring an already-consistent state
// is safe and says so in the report.
func (c *Coordinator) Restore(ctx context.Context, checkpointID string) (*types.RestoreReport, error) {
	return c.checkpoints.Restore(ctx, checkpointID)
}

// DetectRecoveryCandidates lists missions whose streams have gone quiet past
// the threshold (zero means the configured stall threshold), each with its
// newest checkpoint when one exists.
func (c *Coordinator) DetectRecoveryCandidates(ctx context.Context, threshold time.Duration, includeCompleted bool) ([]types.RecoveryCandidate, error) {
	return c.checkpoints.DetectRecoveryCandidates(ctx, threshold, includeCompleted)
}

// =============================================================================
// CURSORS
// =============================================================================

// AdvanceCursor moves a consumer's position forward. Positions at or behind
// the stored one are no-ops, so redelivery never rewinds a consumer.
func (c *Coordinator) AdvanceCursor(ctx context.Context, consumer string, stream types.StreamKind, streamID string, position int64) (*types.Cursor, error) {
	return c.store.AdvanceCursor(ctx, consumer, stream, streamID, position)
}

// GetCursor returns a consumer's position; unknown consumers read as zero.
func (c *Coordinator) GetCursor(ctx context.Context, consumer string, stream types.StreamKind, streamID string) (*types.Cursor, error) {
	return c.store.GetCursor(ctx, consumer, stream, streamID)
}

// ListCursors returns every consumer position in the project.
func (c *Coordinator) ListCursors(ctx context.Context) ([]*types.Cursor, error) {
	return c.store.ListCursors(ctx)
}

// =============================================================================
// REPLAY & DIAGNOSTICS
// =============================================================================

// ReplayEvents reads the log without side effects, filtered by type, stream,
// sequence, or time window.
func (c *Coordinator) ReplayEvents(ctx context.Context, q store.QueryOptions) ([]*event.Event, error) {
	return c.store.Query(ctx, q)
}

// RebuildAllProjections drops every event-derived table and re-folds the log
// from sequence one. Operational tables (locks, cursors) survive.
func (c *Coordinator) RebuildAllProjections(ctx context.Context) (*store.RebuildReport, error) {
	return c.store.Rebuild(ctx)
}
