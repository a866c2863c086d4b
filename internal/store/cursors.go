package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleettools/internal/logging"
	"fleettools/internal/types"
)

// AdvanceCursor moves a consumer's position forward on one stream. Positions
// at or below the current one are ignored, which makes redelivery after a
// crash harmless: consumers get at-least-once, the cursor stays monotonic.
func (s *Store) AdvanceCursor(ctx context.Context, consumer string, stream types.StreamKind, streamID string, position int64) (*types.Cursor, error) {
	if consumer == "" {
		return nil, &types.InvalidEventError{Field: "consumer", Reason: "required"}
	}
	if !stream.Valid() {
		return nil, &types.InvalidEventError{Field: "stream_kind", Reason: fmt.Sprintf("unknown stream kind %q", stream)}
	}
	if position < 0 {
		return nil, &types.InvalidEventError{Field: "position", Reason: "must not be negative"}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("advance cursor: %w", types.ErrCancelled)
	}

	now := int64(s.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (project, consumer, stream_kind, stream_id, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, consumer, stream_kind, stream_id) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at
		WHERE excluded.position > cursors.position`,
		s.project, consumer, string(stream), streamID, position, now)
	if err != nil {
		return nil, wrapStorage("advance cursor", err)
	}

	cursor, err := s.GetCursor(ctx, consumer, stream, streamID)
	if err != nil {
		return nil, err
	}
	logging.EventsDebug("Cursor %s/%s:%s at position=%d", consumer, stream, streamID, cursor.Position)
	return cursor, nil
}

// GetCursor returns a consumer's position on one stream. Unknown cursors
// start at position 0.
func (s *Store) GetCursor(ctx context.Context, consumer string, stream types.StreamKind, streamID string) (*types.Cursor, error) {
	var c types.Cursor
	var kind string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT consumer, stream_kind, stream_id, position, updated_at FROM cursors
		WHERE project = ? AND consumer = ? AND stream_kind = ? AND stream_id = ?`,
		s.project, consumer, string(stream), streamID,
	).Scan(&c.Consumer, &kind, &c.StreamID, &c.Position, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.Cursor{
			Project:    s.project,
			Consumer:   consumer,
			StreamKind: stream,
			StreamID:   streamID,
		}, nil
	}
	if err != nil {
		return nil, wrapStorage("read cursor", err)
	}
	c.Project = s.project
	c.StreamKind = types.StreamKind(kind)
	c.UpdatedAt = types.Timestamp(updatedAt)
	return &c, nil
}

// ListCursors returns every consumer position for the project.
func (s *Store) ListCursors(ctx context.Context) ([]*types.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT consumer, stream_kind, stream_id, position, updated_at FROM cursors
		WHERE project = ? ORDER BY consumer, stream_kind, stream_id`,
		s.project)
	if err != nil {
		return nil, wrapStorage("list cursors", err)
	}
	defer rows.Close()

	var cursors []*types.Cursor
	for rows.Next() {
		var c types.Cursor
		var kind string
		var updatedAt int64
		if err := rows.Scan(&c.Consumer, &kind, &c.StreamID, &c.Position, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		c.Project = s.project
		c.StreamKind = types.StreamKind(kind)
		c.UpdatedAt = types.Timestamp(updatedAt)
		cursors = append(cursors, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursors: %w", err)
	}
	return cursors, nil
}
