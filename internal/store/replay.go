package store

import (
	"context"
	"fmt"
	"time"

	"fleettools/internal/logging"
	"fleettools/internal/projection"
	"fleettools/internal/types"
)

// RebuildReport summarizes a projection rebuild.
type RebuildReport struct {
	EventsReplayed int           `json:"events_replayed"`
	TablesCleared  int           `json:"tables_cleared"`
	Duration       time.Duration `json:"duration"`
}

// Rebuild truncates every event-derived table and replays the full log in
// sequence order. Handlers take all values from the events, so the result is
// byte-identical to the incrementally built state. Locks and cursors are
// operational tables and survive untouched.
func (s *Store) Rebuild(ctx context.Context) (*RebuildReport, error) {
	timer := logging.StartTimer(logging.CategoryProjection, "Rebuild")
	defer timer.StopWithInfo()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("rebuild: %w", types.ErrCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	// Load the full history first: with a single connection the row cursor
	// and the replay writes cannot share the transaction.
	events, err := s.Query(ctx, QueryOptions{})
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin rebuild transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	tables := projection.ReplayTables()
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE project = ?", table), s.project); err != nil {
			return nil, wrapStorage(fmt.Sprintf("clear %s", table), err)
		}
	}

	// Recipient rows have no project column; they hang off messages, which
	// were just cleared above for this project.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM message_recipients
		WHERE message_id NOT IN (SELECT message_id FROM messages)`); err != nil {
		return nil, wrapStorage("clear message_recipients", err)
	}

	for _, e := range events {
		if err := projection.Apply(tx, e); err != nil {
			return nil, fmt.Errorf("failed to replay event seq=%d type=%s: %w", e.Sequence, e.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit rebuild", err)
	}
	committed = true

	report := &RebuildReport{
		EventsReplayed: len(events),
		TablesCleared:  len(tables),
		Duration:       time.Since(start),
	}
	logging.Projection("Rebuilt projections: %d events in %v", report.EventsReplayed, report.Duration)
	return report, nil
}
