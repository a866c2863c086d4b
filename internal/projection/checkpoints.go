package projection

import (
	"encoding/json"
	"fmt"

	"fleettools/internal/event"
)

func applyCheckpointCreated(tx DBTX, e *event.Event, v *event.CheckpointCreated) error {
	recovery, err := json.Marshal(v.Recovery)
	if err != nil {
		return fmt.Errorf("failed to encode recovery context: %w", err)
	}
	_, err = tx.Exec(`
		INSERT OR IGNORE INTO checkpoints (checkpoint_id, project, mission_id, sortie_id, callsign, trigger_kind, progress_percent, summary, recovery_json, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.CheckpointID, e.Project, v.MissionID, v.SortieID, v.Callsign,
		string(v.Trigger), v.ProgressPercent, v.Summary, string(recovery),
		e.Sequence, int64(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

func applyContextCompacted(tx DBTX, e *event.Event, v *event.ContextCompacted) error {
	// A compaction references the checkpoint taken alongside it. When only
	// the compaction event made it into the log, a minimal system-owned row
	// keeps the id resolvable; INSERT OR IGNORE defers to any full row.
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO checkpoints (checkpoint_id, project, mission_id, sortie_id, callsign, trigger_kind, progress_percent, summary, recovery_json, sequence, created_at)
		VALUES (?, ?, '', '', ?, 'context_limit', 0, ?, '{}', ?, ?)`,
		v.CheckpointID, e.Project, v.Callsign, v.Summary, e.Sequence, int64(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert compaction checkpoint: %w", err)
	}
	return nil
}
