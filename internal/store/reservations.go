package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fleettools/internal/types"
)

// reservationRow is one path row before grouping.
type reservationRow struct {
	reservationID string
	callsign      string
	path          string
	exclusive     bool
	reason        string
	sortieID      string
	missionID     string
	reservedAt    int64
	expiresAt     int64
	releasedAt    *int64
}

// LiveRowsOn returns unreleased, unexpired reservation rows touching any of
// the given paths. Expired rows do not block: holders lose exclusivity
// silently once their TTL passes.
func (s *Store) LiveRowsOn(ctx context.Context, paths []string, now types.Timestamp) ([]types.PathConflict, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT reservation_id, callsign, path, exclusive, expires_at FROM reservations
		WHERE project = ? AND released_at IS NULL AND expires_at > ? AND path IN (%s)
		ORDER BY path`, placeholdersFor(len(paths)))
	args := make([]interface{}, 0, len(paths)+2)
	args = append(args, s.project, int64(now))
	for _, p := range paths {
		args = append(args, p)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("check reservation overlap", err)
	}
	defer rows.Close()

	var conflicts []types.PathConflict
	for rows.Next() {
		var c types.PathConflict
		var exclusive int
		var expiresAt int64
		if err := rows.Scan(&c.ReservationID, &c.Holder, &c.Path, &exclusive, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation row: %w", err)
		}
		c.ExpiresAt = types.Timestamp(expiresAt)
		// Shared (non-exclusive) rows never block; the caller weighs its own
		// exclusivity against what remains.
		if exclusive != 0 {
			conflicts = append(conflicts, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservation rows: %w", err)
	}
	return conflicts, nil
}

// GetReservation groups the path rows sharing one reservation id.
func (s *Store) GetReservation(ctx context.Context, reservationID string) (*types.Reservation, error) {
	rows, err := s.queryReservationRows(ctx, "reservation_id = ?", reservationID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &types.NotFoundError{Entity: "reservation", ID: reservationID}
	}
	grouped := groupReservations(rows, s.project)
	return grouped[0], nil
}

// ActiveReservations returns live reservations, optionally for one callsign.
func (s *Store) ActiveReservations(ctx context.Context, callsign string, now types.Timestamp) ([]*types.Reservation, error) {
	where := "released_at IS NULL AND expires_at > ?"
	args := []interface{}{int64(now)}
	if callsign != "" {
		where += " AND callsign = ?"
		args = append(args, callsign)
	}
	rows, err := s.queryReservationRows(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	return groupReservations(rows, s.project), nil
}

// ExpiredReservations returns reservations whose TTL has passed but which
// were never released, grouped for the sweep to close.
func (s *Store) ExpiredReservations(ctx context.Context, now types.Timestamp) ([]*types.Reservation, error) {
	rows, err := s.queryReservationRows(ctx, "released_at IS NULL AND expires_at <= ?", int64(now))
	if err != nil {
		return nil, err
	}
	return groupReservations(rows, s.project), nil
}

func (s *Store) queryReservationRows(ctx context.Context, where string, args ...interface{}) ([]reservationRow, error) {
	query := fmt.Sprintf(`
		SELECT reservation_id, callsign, path, exclusive, reason, sortie_id, mission_id, reserved_at, expires_at, released_at
		FROM reservations WHERE project = ? AND %s ORDER BY reservation_id, path`, where)
	full := make([]interface{}, 0, len(args)+1)
	full = append(full, s.project)
	full = append(full, args...)

	rows, err := s.db.QueryContext(ctx, query, full...)
	if err != nil {
		return nil, wrapStorage("query reservations", err)
	}
	defer rows.Close()

	var out []reservationRow
	for rows.Next() {
		var r reservationRow
		var exclusive int
		var releasedAt *int64
		if err := rows.Scan(&r.reservationID, &r.callsign, &r.path, &exclusive, &r.reason,
			&r.sortieID, &r.missionID, &r.reservedAt, &r.expiresAt, &releasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation row: %w", err)
		}
		r.exclusive = exclusive != 0
		r.releasedAt = releasedAt
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return out, nil
}

// groupReservations folds per-path rows back into multi-path reservations.
func groupReservations(rows []reservationRow, project string) []*types.Reservation {
	byID := make(map[string]*types.Reservation)
	var order []string
	for _, r := range rows {
		res, ok := byID[r.reservationID]
		if !ok {
			res = &types.Reservation{
				ReservationID: r.reservationID,
				Project:       project,
				Callsign:      r.callsign,
				Exclusive:     r.exclusive,
				Reason:        r.reason,
				SortieID:      r.sortieID,
				MissionID:     r.missionID,
				ReservedAt:    types.Timestamp(r.reservedAt),
				ExpiresAt:     types.Timestamp(r.expiresAt),
			}
			if r.releasedAt != nil {
				ts := types.Timestamp(*r.releasedAt)
				res.ReleasedAt = &ts
			}
			byID[r.reservationID] = res
			order = append(order, r.reservationID)
		}
		res.Paths = append(res.Paths, r.path)
	}

	out := make([]*types.Reservation, 0, len(order))
	for _, id := range order {
		res := byID[id]
		sort.Strings(res.Paths)
		out = append(out, res)
	}
	return out
}

// ReservationFiles reports which of the given paths are currently reserved,
// as a JSON-friendly map for diagnostics.
func (s *Store) ReservationFiles(ctx context.Context, now types.Timestamp) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, callsign FROM reservations
		WHERE project = ? AND released_at IS NULL AND expires_at > ?`,
		s.project, int64(now))
	if err != nil {
		return nil, wrapStorage("read reserved paths", err)
	}
	defer rows.Close()

	holders := make(map[string]string)
	for rows.Next() {
		var path, callsign string
		if err := rows.Scan(&path, &callsign); err != nil {
			return nil, fmt.Errorf("failed to scan reserved path: %w", err)
		}
		holders[path] = callsign
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reserved paths: %w", err)
	}
	return holders, nil
}

// placeholdersFor builds "?, ?, ?" for IN clauses.
func placeholdersFor(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
