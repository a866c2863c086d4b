package projection

import (
	"fmt"

	"fleettools/internal/event"
)

func applyPilotRegistered(tx DBTX, e *event.Event, v *event.PilotRegistered) error {
	// Re-registration refreshes the profile but keeps the original
	// registered_at so "first joined" survives restarts.
	_, err := tx.Exec(`
		INSERT INTO pilots (project, callsign, program, model, task_description, status, registered_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(project, callsign) DO UPDATE SET
			program = excluded.program,
			model = excluded.model,
			task_description = excluded.task_description,
			status = 'active',
			last_active_at = excluded.last_active_at,
			deregistered_at = NULL,
			deregister_reason = ''`,
		e.Project, v.Callsign, v.Program, v.Model, v.TaskDescription, int64(e.Timestamp), int64(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to upsert pilot %s: %w", v.Callsign, err)
	}
	return nil
}

func applyPilotActive(tx DBTX, e *event.Event, v *event.PilotActive) error {
	// Heartbeat for an unknown callsign is a no-op; the pilot registers first.
	_, err := tx.Exec(`
		UPDATE pilots SET last_active_at = ?, status = 'active'
		WHERE project = ? AND callsign = ? AND status != 'deregistered'`,
		int64(e.Timestamp), e.Project, v.Callsign)
	if err != nil {
		return fmt.Errorf("failed to record pilot heartbeat: %w", err)
	}
	return nil
}

func applyPilotDeregistered(tx DBTX, e *event.Event, v *event.PilotDeregistered) error {
	// The row stays for history; status flips so rosters exclude it.
	_, err := tx.Exec(`
		UPDATE pilots SET status = 'deregistered', deregistered_at = ?, deregister_reason = ?
		WHERE project = ? AND callsign = ?`,
		int64(e.Timestamp), v.Reason, e.Project, v.Callsign)
	if err != nil {
		return fmt.Errorf("failed to deregister pilot %s: %w", v.Callsign, err)
	}
	return nil
}
