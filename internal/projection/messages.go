package projection

import (
	"fmt"

	"fleettools/internal/event"
	"fleettools/internal/types"
)

func precheckMessageSent(tx DBTX, e *event.Event, v *event.MessageSent) error {
	var count int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE message_id = ?", v.MessageID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check message id: %w", err)
	}
	if count > 0 {
		return &types.ProjectionConflictError{
			Handler: "messages",
			Reason:  fmt.Sprintf("message %s already exists", v.MessageID),
		}
	}
	return nil
}

// precheckRecipientRow ensures a read/ack targets a delivery that exists.
func precheckRecipientRow(tx DBTX, messageID, callsign string) error {
	var count int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM message_recipients WHERE message_id = ? AND recipient = ?",
		messageID, callsign,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check recipient row: %w", err)
	}
	if count == 0 {
		return &types.NotFoundError{Entity: "message", ID: messageID}
	}
	return nil
}

func applyMessageSent(tx DBTX, e *event.Event, v *event.MessageSent) error {
	ts := int64(e.Timestamp)

	ackRequired := 0
	if v.AckRequired {
		ackRequired = 1
	}
	_, err := tx.Exec(`
		INSERT INTO messages (message_id, project, thread_id, from_callsign, subject, body, importance, ack_required, sortie_id, mission_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.MessageID, e.Project, v.ThreadID, v.From, v.Subject, v.Body,
		string(v.Importance), ackRequired, v.SortieID, v.MissionID, ts)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for _, recipient := range v.To {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO message_recipients (message_id, recipient)
			VALUES (?, ?)`,
			v.MessageID, recipient); err != nil {
			return fmt.Errorf("failed to insert recipient %s: %w", recipient, err)
		}
	}

	// Threaded traffic bumps the thread row in the same fold so the count
	// never drifts from the messages that exist.
	if v.ThreadID != "" {
		if _, err := tx.Exec(`
			UPDATE threads SET last_activity_at = ?, message_count = message_count + 1
			WHERE project = ? AND thread_id = ?`,
			ts, e.Project, v.ThreadID); err != nil {
			return fmt.Errorf("failed to bump thread activity: %w", err)
		}
	}
	return nil
}

func applyMessageRead(tx DBTX, e *event.Event, v *event.MessageRead) error {
	// COALESCE keeps the first read time on repeated reads.
	_, err := tx.Exec(`
		UPDATE message_recipients SET read_at = COALESCE(read_at, ?)
		WHERE message_id = ? AND recipient = ?`,
		int64(e.Timestamp), v.MessageID, v.Callsign)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

func applyMessageAcked(tx DBTX, e *event.Event, v *event.MessageAcked) error {
	// An ack implies the message was read.
	_, err := tx.Exec(`
		UPDATE message_recipients SET acked_at = COALESCE(acked_at, ?), read_at = COALESCE(read_at, ?)
		WHERE message_id = ? AND recipient = ?`,
		int64(e.Timestamp), int64(e.Timestamp), v.MessageID, v.Callsign)
	if err != nil {
		return fmt.Errorf("failed to mark message acked: %w", err)
	}
	return nil
}

func applyThreadCreated(tx DBTX, e *event.Event, v *event.ThreadCreated) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO threads (thread_id, project, subject, created_by, created_at, last_activity_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		v.ThreadID, e.Project, v.Subject, v.CreatedBy, int64(e.Timestamp), int64(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

func applyThreadActivity(tx DBTX, e *event.Event, v *event.ThreadActivity) error {
	// Non-message activity (a pilot opening the thread, a host signal)
	// refreshes the activity clock without touching the message count.
	_, err := tx.Exec(`
		UPDATE threads SET last_activity_at = ?
		WHERE project = ? AND thread_id = ?`,
		int64(e.Timestamp), e.Project, v.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to record thread activity: %w", err)
	}
	return nil
}
