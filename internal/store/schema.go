package store

import (
	"fmt"

	"fleettools/internal/logging"
)

// The event log. sequence is per-project and gapless; id is the global
// insertion order. stream_* columns are denormalized from the payload at
// append time so stream queries never decode bodies.
const eventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	stream_sortie TEXT NOT NULL DEFAULT '',
	stream_mission TEXT NOT NULL DEFAULT '',
	stream_callsign TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	UNIQUE(project, sequence)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(project, type, sequence);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(project, timestamp);
`

const pilotsTable = `
CREATE TABLE IF NOT EXISTS pilots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	callsign TEXT NOT NULL,
	program TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	task_description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	registered_at INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL,
	deregistered_at INTEGER,
	deregister_reason TEXT NOT NULL DEFAULT '',
	UNIQUE(project, callsign)
);
CREATE INDEX IF NOT EXISTS idx_pilots_status ON pilots(project, status);
`

const messagesTable = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	project TEXT NOT NULL,
	thread_id TEXT NOT NULL DEFAULT '',
	from_callsign TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	importance TEXT NOT NULL DEFAULT 'normal',
	ack_required INTEGER NOT NULL DEFAULT 0,
	sortie_id TEXT NOT NULL DEFAULT '',
	mission_id TEXT NOT NULL DEFAULT '',
	sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(project, thread_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(project, from_callsign, sent_at);
`

// One row per (message, recipient). read_at and acked_at stay NULL until the
// matching events arrive; repeated reads keep the first timestamp.
const messageRecipientsTable = `
CREATE TABLE IF NOT EXISTS message_recipients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	recipient TEXT NOT NULL,
	read_at INTEGER,
	acked_at INTEGER,
	UNIQUE(message_id, recipient)
);
CREATE INDEX IF NOT EXISTS idx_recipients_inbox ON message_recipients(recipient, read_at);
`

const threadsTable = `
CREATE TABLE IF NOT EXISTS threads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id TEXT NOT NULL UNIQUE,
	project TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_threads_activity ON threads(project, last_activity_at);
`

// One row per reserved path. A reservation spanning several paths shares a
// reservation_id across rows. released_at NULL means live (modulo TTL).
const reservationsTable = `
CREATE TABLE IF NOT EXISTS reservations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reservation_id TEXT NOT NULL,
	project TEXT NOT NULL,
	callsign TEXT NOT NULL,
	path TEXT NOT NULL,
	exclusive INTEGER NOT NULL DEFAULT 1,
	reason TEXT NOT NULL DEFAULT '',
	sortie_id TEXT NOT NULL DEFAULT '',
	mission_id TEXT NOT NULL DEFAULT '',
	reserved_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	released_at INTEGER,
	UNIQUE(reservation_id, path)
);
CREATE INDEX IF NOT EXISTS idx_reservations_live ON reservations(project, path) WHERE released_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_reservations_holder ON reservations(project, callsign);
`

// Locks are operational state, not event-derived: rebuilds leave them alone
// and checkpoint restore re-acquires them. The partial unique index is the
// mutual-exclusion guarantee.
const locksTable = `
CREATE TABLE IF NOT EXISTS locks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lock_id TEXT NOT NULL UNIQUE,
	project TEXT NOT NULL,
	path TEXT NOT NULL,
	holder TEXT NOT NULL,
	purpose TEXT NOT NULL DEFAULT 'edit',
	checksum TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	acquired_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	released_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_locks_active_path ON locks(project, path) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_locks_holder ON locks(project, holder, status);
`

const sortiesTable = `
CREATE TABLE IF NOT EXISTS sorties (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sortie_id TEXT NOT NULL,
	project TEXT NOT NULL,
	mission_id TEXT NOT NULL DEFAULT '',
	parent_sortie_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	priority INTEGER NOT NULL DEFAULT 1,
	assignee TEXT NOT NULL DEFAULT '',
	files TEXT NOT NULL DEFAULT '[]',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	blocked_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL,
	UNIQUE(project, sortie_id)
);
CREATE INDEX IF NOT EXISTS idx_sorties_status ON sorties(project, status);
CREATE INDEX IF NOT EXISTS idx_sorties_mission ON sorties(project, mission_id);
CREATE INDEX IF NOT EXISTS idx_sorties_assignee ON sorties(project, assignee, status);
`

// Work orders mirror the sortie shape so the shared handlers and scanners
// apply to both. parent_sortie_id is always set here.
const workOrdersTable = `
CREATE TABLE IF NOT EXISTS work_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sortie_id TEXT NOT NULL,
	project TEXT NOT NULL,
	mission_id TEXT NOT NULL DEFAULT '',
	parent_sortie_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	priority INTEGER NOT NULL DEFAULT 1,
	assignee TEXT NOT NULL DEFAULT '',
	files TEXT NOT NULL DEFAULT '[]',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	blocked_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL,
	UNIQUE(project, sortie_id)
);
CREATE INDEX IF NOT EXISTS idx_work_orders_parent ON work_orders(project, parent_sortie_id);
CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(project, status);
`

const missionsTable = `
CREATE TABLE IF NOT EXISTS missions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id TEXT NOT NULL,
	project TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL DEFAULT '',
	total_sorties INTEGER NOT NULL DEFAULT 0,
	completed_sorties INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL,
	UNIQUE(project, mission_id)
);
CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(project, status);
`

// trigger is a SQLite keyword, hence trigger_kind. The JSON field keeps the
// short name.
const checkpointsTable = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	checkpoint_id TEXT NOT NULL UNIQUE,
	project TEXT NOT NULL,
	mission_id TEXT NOT NULL DEFAULT '',
	sortie_id TEXT NOT NULL DEFAULT '',
	callsign TEXT NOT NULL,
	trigger_kind TEXT NOT NULL DEFAULT 'manual',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	recovery_json TEXT NOT NULL DEFAULT '{}',
	sequence INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_callsign ON checkpoints(project, callsign, created_at);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(project, created_at);
`

// Cursors track per-consumer positions, one row per (consumer, stream).
// Operational like locks: replay never touches them.
const cursorsTable = `
CREATE TABLE IF NOT EXISTS cursors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	consumer TEXT NOT NULL,
	stream_kind TEXT NOT NULL DEFAULT 'project',
	stream_id TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	UNIQUE(project, consumer, stream_kind, stream_id)
);
`

// initialize creates the required tables and applies column migrations.
func (s *Store) initialize() error {
	for _, table := range []string{
		eventsTable,
		pilotsTable,
		messagesTable,
		messageRecipientsTable,
		threadsTable,
		reservationsTable,
		locksTable,
		sortiesTable,
		workOrdersTable,
		missionsTable,
		checkpointsTable,
		cursorsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := EnsureSchemaVersion(s.db); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to record schema version: %v", err)
	}
	return nil
}
