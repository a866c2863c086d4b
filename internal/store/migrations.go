package store

import (
	"database/sql"
	"fmt"

	"fleettools/internal/logging"
	"fleettools/internal/types"
)

// Schema versions:
// v1: initial tables (events, pilots, messages, reservations, locks,
//     sorties, missions, checkpoints, cursors)
// v2: denormalized stream_* columns on events, work_orders table,
//     threads table
const CurrentSchemaVersion = 2

// Migration defines a column added after a table first shipped.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists column migrations to apply. These handle databases
// created before the column existed; fresh databases already have them from
// the CREATE TABLE blocks.
var pendingMigrations = []Migration{
	// v2: stream columns denormalized onto the event log
	{"events", "stream_sortie", "TEXT NOT NULL DEFAULT ''"},
	{"events", "stream_mission", "TEXT NOT NULL DEFAULT ''"},
	{"events", "stream_callsign", "TEXT NOT NULL DEFAULT ''"},
	// v2: work-order parent link mirrored onto sorties for symmetry
	{"sorties", "parent_sortie_id", "TEXT NOT NULL DEFAULT ''"},
	// v2: checkpoint rows remember the log position they snapshot
	{"checkpoints", "sequence", "INTEGER NOT NULL DEFAULT 0"},
}

// CheckSchemaCompat refuses to open a database written by a newer build.
// Older versions are fine: RunMigrations upgrades them in place.
func CheckSchemaCompat(db *sql.DB) error {
	version := GetSchemaVersion(db)
	if version > CurrentSchemaVersion {
		logging.Get(logging.CategoryStore).Error("Database schema v%d is newer than supported v%d", version, CurrentSchemaVersion)
		return &types.SchemaMismatchError{OnDisk: version, Expected: CurrentSchemaVersion}
	}
	logging.StoreDebug("Schema compatibility ok: on-disk v%d, supported v%d", version, CurrentSchemaVersion)
	return nil
}

// RunMigrations applies column migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			skippedCount++
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			skippedCount++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			skippedCount++
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		appliedCount++
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", appliedCount, skippedCount)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the schema version of a database. If no version
// record exists, it infers the version from table structure.
func GetSchemaVersion(db *sql.DB) int {
	if tableExists(db, "schema_versions") {
		var version int
		query := "SELECT version FROM schema_versions ORDER BY id DESC LIMIT 1"
		if err := db.QueryRow(query).Scan(&version); err == nil {
			return version
		}
	}
	return inferSchemaVersion(db)
}

// inferSchemaVersion determines schema version by examining table structure.
func inferSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "events") {
		return 0
	}
	if columnExists(db, "events", "stream_sortie") {
		return 2
	}
	return 1
}

// SetSchemaVersion records a schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	desc := fmt.Sprintf("Schema version %d", version)
	if _, err := db.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		version, desc,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	logging.Store("Schema version set to %d", version)
	return nil
}

// EnsureSchemaVersion records the current version only when the database is
// below it, so reopening a store does not grow the version table.
func EnsureSchemaVersion(db *sql.DB) error {
	if GetSchemaVersion(db) >= CurrentSchemaVersion {
		return nil
	}
	return SetSchemaVersion(db, CurrentSchemaVersion)
}
