// Package fleet is the coordination facade. One Coordinator serves one
// project: it owns the store, the lock manager, and the checkpoint service,
// and exposes every coordination operation with a context-first signature and
// a typed result. Mutations append exactly one event (plus any minted
// prerequisite, such as the thread row for a first message) and return the
// projected view that append produced. Conflicts on acquire operations are
// results, not errors; refused state transitions come back as
// InvalidTransition with a coordinator_violation already on the log.
package fleet

import (
	"context"
	"fmt"
	"os"

	"fleettools/internal/checkpoint"
	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/locks"
	"fleettools/internal/logging"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// Coordinator is the per-project coordination facade.
type Coordinator struct {
	store       *store.Store
	locks       *locks.Manager
	checkpoints *checkpoint.Service
}

// Open builds the facade for opts.ProjectPath, creating the .fleet directory
// and database on first use.
func Open(opts config.Options) (*Coordinator, error) {
	if err := logging.Initialize(opts.ProjectPath); err != nil {
		fmt.Fprintf(os.Stderr, "[fleet] Warning: logging unavailable: %v\n", err)
	}
	s, err := store.Open(&opts)
	if err != nil {
		return nil, err
	}
	m := locks.NewManager(s)
	logging.Fleet("coordinator open for %s", s.Project())
	return &Coordinator{
		store:       s,
		locks:       m,
		checkpoints: checkpoint.NewService(s, m),
	}, nil
}

// Close releases the database and flushes log files.
func (c *Coordinator) Close() error {
	err := c.store.Close()
	logging.CloseAll()
	return err
}

// Store exposes the underlying event store for read-side callers that need
// raw queries beyond the facade's views.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Project returns the project key this coordinator is scoped to.
func (c *Coordinator) Project() string {
	return c.store.Project()
}

// =============================================================================
// PILOTS
// =============================================================================

// RegisterParams describes a pilot joining the project.
type RegisterParams struct {
	Callsign        string
	Program         string
	Model           string
	TaskDescription string
}

// RegisterPilot registers, or re-registers, a pilot. Registration is an
// upsert: an existing callsign has its program, model, and task refreshed and
// its status reset to active, which is how an agent re-attaches after a
// restart. An empty callsign mints a fresh one.
func (c *Coordinator) RegisterPilot(ctx context.Context, p RegisterParams) (*types.Pilot, error) {
	if p.Callsign == "" {
		p.Callsign = ids.New(ids.PrefixCallsign)
	}
	if _, err := c.store.AppendPayload(ctx, &event.PilotRegistered{
		Callsign:        p.Callsign,
		Program:         p.Program,
		Model:           p.Model,
		TaskDescription: p.TaskDescription,
	}); err != nil {
		return nil, err
	}
	return c.store.GetPilot(ctx, p.Callsign)
}

// PilotHeartbeat refreshes a pilot's last-active clock.
func (c *Coordinator) PilotHeartbeat(ctx context.Context, callsign string) (*types.Pilot, error) {
	if _, err := c.store.AppendPayload(ctx, &event.PilotActive{Callsign: callsign}); err != nil {
		return nil, err
	}
	return c.store.GetPilot(ctx, callsign)
}

// DeregisterPilot retires a pilot. The row stays so history remains
// attributable; only the status changes.
func (c *Coordinator) DeregisterPilot(ctx context.Context, callsign, reason string) (*types.Pilot, error) {
	if _, err := c.store.AppendPayload(ctx, &event.PilotDeregistered{
		Callsign: callsign,
		Reason:   reason,
	}); err != nil {
		return nil, err
	}
	return c.store.GetPilot(ctx, callsign)
}

// GetPilot returns one pilot by callsign.
func (c *Coordinator) GetPilot(ctx context.Context, callsign string) (*types.Pilot, error) {
	return c.store.GetPilot(ctx, callsign)
}

// ListPilots returns the project's pilots, active first.
func (c *Coordinator) ListPilots(ctx context.Context, includeDeregistered bool) ([]*types.Pilot, error) {
	return c.store.ListPilots(ctx, includeDeregistered)
}

// Record appends a diagnostic event that has no dedicated operation, such as
// pilot_spawned or review_started. The payload is validated like any other
// append.
func (c *Coordinator) Record(ctx context.Context, p event.Payload) (*event.Event, error) {
	return c.store.AppendPayload(ctx, p)
}
