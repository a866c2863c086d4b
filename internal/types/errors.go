package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when the caller's context is cancelled before a
// transaction commits. After commit, cancellation has no effect.
var ErrCancelled = errors.New("operation cancelled before commit")

// InvalidEventError means validation refused an event payload. The caller
// must fix the input; the core never retries these.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

// StorageUnavailableError means the database cannot be opened or stayed
// locked past the retry budget. The caller may retry with backoff.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Cause
}

// SchemaMismatchError means the on-disk schema version differs from the
// expected version and no forward migration applies. Fatal until migrated.
type SchemaMismatchError struct {
	OnDisk   int
	Expected int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: on-disk version %d, expected %d", e.OnDisk, e.Expected)
}

// LockConflictError means a lock acquisition lost the race to an active
// holder. The caller may wait and retry; the core does not.
type LockConflictError struct {
	Holder    string
	Path      string
	ExpiresAt Timestamp
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict on %s: held by %s until %s", e.Path, e.Holder, e.ExpiresAt.ISO())
}

// ReservationConflictError means an exclusive reservation overlaps an active
// one.
type ReservationConflictError struct {
	Holder    string
	Paths     []string
	ExpiresAt Timestamp
}

func (e *ReservationConflictError) Error() string {
	return fmt.Sprintf("reservation conflict on %s: held by %s until %s",
		strings.Join(e.Paths, ", "), e.Holder, e.ExpiresAt.ISO())
}

// NotFoundError means the caller asked about an entity that does not exist in
// this project.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// InvalidTransitionError means a status change would violate the state
// machine. The offending append is rejected and a coordinator_violation event
// is recorded in its place.
type InvalidTransitionError struct {
	Entity   string
	EntityID string
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Entity, e.EntityID, e.From, e.To)
}

// ProjectionConflictError means a projection handler rejected an otherwise
// valid event. This indicates corruption or a developer bug, not a normal
// runtime outcome.
type ProjectionConflictError struct {
	Handler string
	Reason  string
}

func (e *ProjectionConflictError) Error() string {
	return fmt.Sprintf("projection conflict in %s: %s", e.Handler, e.Reason)
}
