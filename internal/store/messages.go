package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fleettools/internal/types"
)

// Thread is the projected view of a conversation thread.
type Thread struct {
	ThreadID       string          `json:"thread_id"`
	Project        string          `json:"project"`
	Subject        string          `json:"subject,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      types.Timestamp `json:"created_at"`
	LastActivityAt types.Timestamp `json:"last_activity_at"`
	MessageCount   int             `json:"message_count"`
}

const messageColumns = `message_id, thread_id, from_callsign, subject, body, importance, ack_required, sortie_id, mission_id, sent_at`

// GetMessage returns one message with its per-recipient delivery state.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM messages WHERE project = ? AND message_id = ?`, messageColumns),
		s.project, messageID)
	m, err := s.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "message", ID: messageID}
	}
	if err != nil {
		return nil, wrapStorage("read message", err)
	}

	recipients, err := s.messageRecipients(ctx, messageID)
	if err != nil {
		return nil, err
	}
	m.Recipients = recipients
	return m, nil
}

// Inbox returns messages addressed to a callsign, newest first. With
// unreadOnly set, messages the recipient has already read are skipped.
func (s *Store) Inbox(ctx context.Context, callsign string, unreadOnly bool, limit int) ([]*types.InboxMessage, error) {
	query := fmt.Sprintf(`
		SELECT %s, r.read_at, r.acked_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.message_id
		WHERE m.project = ? AND r.recipient = ?`, prefixColumns("m", messageColumns))
	if unreadOnly {
		query += " AND r.read_at IS NULL"
	}
	query += " ORDER BY m.sent_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, s.project, callsign)
	if err != nil {
		return nil, wrapStorage("read inbox", err)
	}
	defer rows.Close()

	var inbox []*types.InboxMessage
	for rows.Next() {
		var im types.InboxMessage
		var importance string
		var ackRequired int
		var sentAt int64
		var readAt, ackedAt sql.NullInt64
		if err := rows.Scan(&im.MessageID, &im.ThreadID, &im.From, &im.Subject, &im.Body,
			&importance, &ackRequired, &im.SortieID, &im.MissionID, &sentAt,
			&readAt, &ackedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox row: %w", err)
		}
		im.Project = s.project
		im.Importance = types.Importance(importance)
		im.AckRequired = ackRequired != 0
		im.CreatedAt = types.Timestamp(sentAt)
		im.ReadAt = nullTimestamp(readAt)
		im.AckedAt = nullTimestamp(ackedAt)
		inbox = append(inbox, &im)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbox: %w", err)
	}
	return inbox, nil
}

// PendingFor returns snapshots of messages a callsign has not read yet, in
// the shape checkpoints embed.
func (s *Store) PendingFor(ctx context.Context, callsign string) ([]types.MessageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.from_callsign, m.subject, m.sent_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.message_id
		WHERE m.project = ? AND r.recipient = ? AND r.read_at IS NULL
		ORDER BY m.sent_at ASC`,
		s.project, callsign)
	if err != nil {
		return nil, wrapStorage("read pending messages", err)
	}
	defer rows.Close()

	var pending []types.MessageSnapshot
	for rows.Next() {
		var snap types.MessageSnapshot
		var sentAt int64
		if err := rows.Scan(&snap.MessageID, &snap.From, &snap.Subject, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}
		snap.Recipients = []string{callsign}
		snap.SentAt = types.Timestamp(sentAt)
		pending = append(pending, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending messages: %w", err)
	}
	return pending, nil
}

// PendingForMission returns snapshots of a mission's messages that still have
// unacknowledged recipients. Checkpoints embed these so a restore can point at
// mail the crashed pilot never answered.
func (s *Store) PendingForMission(ctx context.Context, missionID string) ([]types.MessageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.from_callsign, m.subject, m.sent_at, r.recipient, r.read_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.message_id
		WHERE m.project = ? AND m.mission_id = ? AND r.acked_at IS NULL
		ORDER BY m.sent_at ASC, r.recipient ASC`,
		s.project, missionID)
	if err != nil {
		return nil, wrapStorage("read mission pending messages", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.MessageSnapshot)
	var order []string
	for rows.Next() {
		var id, from, subject, recipient string
		var sentAt int64
		var readAt sql.NullInt64
		if err := rows.Scan(&id, &from, &subject, &sentAt, &recipient, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}
		snap, ok := byID[id]
		if !ok {
			snap = &types.MessageSnapshot{
				MessageID: id,
				From:      from,
				Subject:   subject,
				SentAt:    types.Timestamp(sentAt),
				Delivered: true,
			}
			byID[id] = snap
			order = append(order, id)
		}
		snap.Recipients = append(snap.Recipients, recipient)
		if !readAt.Valid {
			snap.Delivered = false
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending messages: %w", err)
	}

	pending := make([]types.MessageSnapshot, 0, len(order))
	for _, id := range order {
		pending = append(pending, *byID[id])
	}
	return pending, nil
}

// GetThread returns one thread's projected row.
func (s *Store) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var t Thread
	var createdAt, lastActivityAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_id, subject, created_by, created_at, last_activity_at, message_count
		FROM threads WHERE project = ? AND thread_id = ?`,
		s.project, threadID,
	).Scan(&t.ThreadID, &t.Subject, &t.CreatedBy, &createdAt, &lastActivityAt, &t.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "thread", ID: threadID}
	}
	if err != nil {
		return nil, wrapStorage("read thread", err)
	}
	t.Project = s.project
	t.CreatedAt = types.Timestamp(createdAt)
	t.LastActivityAt = types.Timestamp(lastActivityAt)
	return &t, nil
}

// ListThreads returns threads ordered by most recent activity.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	query := `
		SELECT thread_id, subject, created_by, created_at, last_activity_at, message_count
		FROM threads WHERE project = ? ORDER BY last_activity_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, s.project)
	if err != nil {
		return nil, wrapStorage("list threads", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var t Thread
		var createdAt, lastActivityAt int64
		if err := rows.Scan(&t.ThreadID, &t.Subject, &t.CreatedBy, &createdAt, &lastActivityAt, &t.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		t.Project = s.project
		t.CreatedAt = types.Timestamp(createdAt)
		t.LastActivityAt = types.Timestamp(lastActivityAt)
		threads = append(threads, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}

// ThreadMessages returns a thread's messages oldest first.
func (s *Store) ThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM messages WHERE project = ? AND thread_id = ? ORDER BY sent_at ASC`, messageColumns),
		s.project, threadID)
	if err != nil {
		return nil, wrapStorage("read thread messages", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread messages: %w", err)
	}
	return messages, nil
}

func (s *Store) messageRecipients(ctx context.Context, messageID string) ([]types.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, recipient, read_at, acked_at FROM message_recipients
		WHERE message_id = ? ORDER BY recipient`,
		messageID)
	if err != nil {
		return nil, wrapStorage("read recipients", err)
	}
	defer rows.Close()

	var recipients []types.Recipient
	for rows.Next() {
		var r types.Recipient
		var readAt, ackedAt sql.NullInt64
		if err := rows.Scan(&r.MessageID, &r.Callsign, &readAt, &ackedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		r.ReadAt = nullTimestamp(readAt)
		r.AckedAt = nullTimestamp(ackedAt)
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipients: %w", err)
	}
	return recipients, nil
}

func (s *Store) scanMessage(r rowScanner) (*types.Message, error) {
	var m types.Message
	var importance string
	var ackRequired int
	var sentAt int64
	if err := r.Scan(&m.MessageID, &m.ThreadID, &m.From, &m.Subject, &m.Body,
		&importance, &ackRequired, &m.SortieID, &m.MissionID, &sentAt); err != nil {
		return nil, err
	}
	m.Project = s.project
	m.Importance = types.Importance(importance)
	m.AckRequired = ackRequired != 0
	m.CreatedAt = types.Timestamp(sentAt)
	return &m, nil
}

// nullTimestamp converts a nullable millisecond column.
func nullTimestamp(v sql.NullInt64) *types.Timestamp {
	if !v.Valid {
		return nil
	}
	ts := types.Timestamp(v.Int64)
	return &ts
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
