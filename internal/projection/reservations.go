package projection

import (
	"fmt"
	"strings"

	"fleettools/internal/event"
	"fleettools/internal/types"
)

// precheckFileReserved enforces reservation exclusivity inside the append
// transaction: a request overlapping someone else's active exclusive rows is
// refused. The holder's own rows never block a re-declaration. The event's
// timestamp serves as "now" for expiry.
func precheckFileReserved(tx DBTX, e *event.Event, v *event.FileReserved) error {
	query := fmt.Sprintf(`
		SELECT path, callsign, expires_at FROM reservations
		WHERE project = ? AND exclusive = 1 AND released_at IS NULL AND expires_at > ?
			AND callsign != ? AND path IN (%s)
		ORDER BY path`, placeholders(len(v.Paths)))
	args := make([]interface{}, 0, len(v.Paths)+3)
	args = append(args, e.Project, int64(e.Timestamp), v.Callsign)
	for _, p := range v.Paths {
		args = append(args, p)
	}

	rows, err := tx.Query(query, args...)
	if err != nil {
		return fmt.Errorf("failed to check reservation overlap: %w", err)
	}
	defer rows.Close()

	var conflict *types.ReservationConflictError
	for rows.Next() {
		var path, holder string
		var expiresAt int64
		if err := rows.Scan(&path, &holder, &expiresAt); err != nil {
			return fmt.Errorf("failed to scan reservation overlap row: %w", err)
		}
		if conflict == nil {
			conflict = &types.ReservationConflictError{Holder: holder, ExpiresAt: types.Timestamp(expiresAt)}
		}
		conflict.Paths = append(conflict.Paths, path)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating reservation overlaps: %w", err)
	}
	if conflict != nil {
		return conflict
	}
	return nil
}

func applyFileReserved(tx DBTX, e *event.Event, v *event.FileReserved) error {
	// One row per path. Expiry comes from the payload so replay lands on the
	// same value the original append computed.
	exclusive := 0
	if v.Exclusive {
		exclusive = 1
	}
	for _, path := range v.Paths {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO reservations (reservation_id, project, callsign, path, exclusive, reason, sortie_id, mission_id, reserved_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ReservationID, e.Project, v.Callsign, path, exclusive, v.Reason,
			v.SortieID, v.MissionID, int64(e.Timestamp), int64(v.ExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to insert reservation row for %s: %w", path, err)
		}
	}
	return nil
}

func applyFileReleased(tx DBTX, e *event.Event, v *event.FileReleased) error {
	ts := int64(e.Timestamp)

	if len(v.Paths) > 0 {
		query := fmt.Sprintf(`
			UPDATE reservations SET released_at = ?
			WHERE project = ? AND callsign = ? AND released_at IS NULL AND path IN (%s)`,
			placeholders(len(v.Paths)))
		args := make([]interface{}, 0, len(v.Paths)+3)
		args = append(args, ts, e.Project, v.Callsign)
		for _, p := range v.Paths {
			args = append(args, p)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to release reservations by path: %w", err)
		}
	}

	if len(v.ReservationIDs) > 0 {
		query := fmt.Sprintf(`
			UPDATE reservations SET released_at = ?
			WHERE project = ? AND callsign = ? AND released_at IS NULL AND reservation_id IN (%s)`,
			placeholders(len(v.ReservationIDs)))
		args := make([]interface{}, 0, len(v.ReservationIDs)+3)
		args = append(args, ts, e.Project, v.Callsign)
		for _, id := range v.ReservationIDs {
			args = append(args, id)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to release reservations by id: %w", err)
		}
	}
	return nil
}

// placeholders builds "?, ?, ?" for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
