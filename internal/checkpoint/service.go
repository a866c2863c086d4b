// Package checkpoint captures and restores mission-scoped coordination state.
// Every snapshot is written twice: as a checkpoint_created event (so replay
// reproduces it) and as a JSON file under .fleet/checkpoints/ (so a pilot can
// read its recovery context even when the database is gone). Restore is the
// inverse: load the snapshot, re-take its locks, and report what could not be
// brought back.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/locks"
	"fleettools/internal/logging"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// Service creates, finds, and restores checkpoints for one project.
type Service struct {
	store *store.Store
	locks *locks.Manager
}

// NewService returns a service over the project's store and lock manager.
func NewService(s *store.Store, m *locks.Manager) *Service {
	return &Service{store: s, locks: m}
}

// CreateParams describes one checkpoint. The narrative fields flow into the
// recovery context verbatim; sorties, locks, and pending messages are captured
// from live state at call time.
type CreateParams struct {
	MissionID       string
	SortieID        string
	Callsign        string
	Trigger         types.CheckpointTrigger
	ProgressPercent int
	Summary         string
	LastAction      string
	NextSteps       []string
	Blockers        []string
	FilesModified   []string
	MissionSummary  string
	ElapsedMs       int64
}

// Create takes a snapshot: the mission's sorties, the active locks of the
// pilots working them, and messages still awaiting acknowledgment. The event
// append is the durable write; the JSON file is best effort and a failure
// there only logs.
func (s *Service) Create(ctx context.Context, p CreateParams) (*types.Checkpoint, error) {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "Create")
	defer timer.Stop()

	recovery, err := s.captureRecovery(ctx, p)
	if err != nil {
		return nil, err
	}

	payload := &event.CheckpointCreated{
		CheckpointID:    ids.New(ids.PrefixCheckpoint),
		MissionID:       p.MissionID,
		SortieID:        p.SortieID,
		Callsign:        p.Callsign,
		Trigger:         p.Trigger,
		ProgressPercent: p.ProgressPercent,
		Summary:         p.Summary,
		Recovery:        recovery,
	}
	if _, err := s.store.AppendPayload(ctx, payload); err != nil {
		return nil, err
	}

	cp, err := s.store.GetCheckpoint(ctx, payload.CheckpointID)
	if err != nil {
		return nil, err
	}
	s.writeSnapshotFile(cp)
	logging.Checkpoint("Checkpoint %s created (%s, mission=%s, %d sorties, %d locks, %d pending)",
		cp.CheckpointID, cp.Trigger, cp.MissionID, len(recovery.Sorties), len(recovery.Locks), len(recovery.PendingMessages))
	return cp, nil
}

// captureRecovery assembles the recovery context from live state.
func (s *Service) captureRecovery(ctx context.Context, p CreateParams) (types.RecoveryContext, error) {
	recovery := types.RecoveryContext{
		LastAction:     p.LastAction,
		NextSteps:      p.NextSteps,
		Blockers:       p.Blockers,
		FilesModified:  p.FilesModified,
		MissionSummary: p.MissionSummary,
		ElapsedMs:      p.ElapsedMs,
		LastActivityAt: s.store.Now(),
	}

	// Holders whose locks belong in the snapshot: the checkpointing pilot
	// plus everyone assigned to the mission's sorties.
	holders := map[string]bool{}
	if p.Callsign != "" {
		holders[p.Callsign] = true
	}

	if p.MissionID != "" {
		sorties, err := s.store.ListSorties(ctx, store.SortieFilter{MissionID: p.MissionID})
		if err != nil {
			return recovery, err
		}
		for _, sortie := range sorties {
			recovery.Sorties = append(recovery.Sorties, types.SortieSnapshot{
				SortieID:        sortie.SortieID,
				Status:          sortie.Status,
				Assignee:        sortie.Assignee,
				ProgressPercent: sortie.ProgressPercent,
				Files:           sortie.Files,
			})
			if sortie.Assignee != "" {
				holders[sortie.Assignee] = true
			}
		}
	} else if p.SortieID != "" {
		sortie, err := s.store.GetSortie(ctx, p.SortieID)
		if err != nil {
			return recovery, err
		}
		recovery.Sorties = append(recovery.Sorties, types.SortieSnapshot{
			SortieID:        sortie.SortieID,
			Status:          sortie.Status,
			Assignee:        sortie.Assignee,
			ProgressPercent: sortie.ProgressPercent,
			Files:           sortie.Files,
		})
		if sortie.Assignee != "" {
			holders[sortie.Assignee] = true
		}
	}

	active, err := s.store.ActiveLocks(ctx, "")
	if err != nil {
		return recovery, err
	}
	for _, lock := range active {
		if !holders[lock.Holder] {
			continue
		}
		recovery.Locks = append(recovery.Locks, types.LockSnapshot{
			LockID:     lock.LockID,
			Path:       lock.Path,
			Holder:     lock.Holder,
			AcquiredAt: lock.AcquiredAt,
			Purpose:    lock.Purpose,
			TTLMs:      lock.ExpiresAt.Sub(lock.AcquiredAt).Milliseconds(),
		})
	}

	if p.MissionID != "" {
		pending, err := s.store.PendingForMission(ctx, p.MissionID)
		if err != nil {
			return recovery, err
		}
		recovery.PendingMessages = pending
	} else if p.Callsign != "" {
		pending, err := s.store.PendingFor(ctx, p.Callsign)
		if err != nil {
			return recovery, err
		}
		recovery.PendingMessages = pending
	}

	return recovery, nil
}

// DetectRecoveryCandidates reports in-progress missions whose stream has been
// quiet for longer than threshold. Completed missions join the scan only when
// asked for, since a finished mission going quiet is the normal case. A zero
// threshold takes the configured default.
func (s *Service) DetectRecoveryCandidates(ctx context.Context, threshold time.Duration, includeCompleted bool) ([]types.RecoveryCandidate, error) {
	if threshold <= 0 {
		threshold = s.store.Options().GetStallThreshold()
	}

	missions, err := s.store.ListMissions(ctx, types.MissionInProgress)
	if err != nil {
		return nil, err
	}
	if includeCompleted {
		completed, err := s.store.ListMissions(ctx, types.MissionCompleted)
		if err != nil {
			return nil, err
		}
		missions = append(missions, completed...)
	}

	now := s.store.Now()
	var candidates []types.RecoveryCandidate
	for _, mission := range missions {
		latest, err := s.store.Query(ctx, store.QueryOptions{
			Stream:     types.StreamMission,
			StreamID:   mission.MissionID,
			Limit:      1,
			Descending: true,
		})
		if err != nil {
			return nil, err
		}
		lastAt := mission.CreatedAt
		if len(latest) > 0 {
			lastAt = latest[0].Timestamp
		}
		inactive := now.Sub(lastAt)
		if inactive <= threshold {
			continue
		}

		candidate := types.RecoveryCandidate{
			MissionID:   mission.MissionID,
			Title:       mission.Title,
			Status:      mission.Status,
			InactiveMs:  inactive.Milliseconds(),
			LastEventAt: lastAt,
		}
		if cp, err := s.store.LatestCheckpoint(ctx, mission.MissionID); err == nil {
			candidate.LatestCheckpointID = cp.CheckpointID
		} else {
			var notFound *types.NotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
		candidates = append(candidates, candidate)
	}
	if len(candidates) > 0 {
		logging.Recovery("Detected %d stalled missions (threshold %s)", len(candidates), threshold)
	}
	return candidates, nil
}

// Restore brings back the state a checkpoint recorded: each snapshotted lock
// is re-acquired under its original holder (conflicts are reported, not
// fatal), pending messages are surfaced for re-delivery, and a
// fleet_recovered event closes the run. Running it twice is safe; the second
// report flags that the state was already consistent.
func (s *Service) Restore(ctx context.Context, checkpointID string) (*types.RestoreReport, error) {
	timer := logging.StartTimer(logging.CategoryRecovery, "Restore")
	defer timer.StopWithInfo()

	cp, err := s.load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	report := &types.RestoreReport{
		CheckpointID:      cp.CheckpointID,
		MissionID:         cp.MissionID,
		PendingMessages:   cp.Recovery.PendingMessages,
		RecoveredSequence: cp.Sequence,
	}

	// The state counts as already consistent when every snapshotted lock is
	// still (or again) actively held by its recorded holder.
	activeByPath := map[string]string{}
	active, err := s.store.ActiveLocks(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, lock := range active {
		activeByPath[lock.Path] = lock.Holder
	}
	report.AlreadyConsistent = true
	for _, snap := range cp.Recovery.Locks {
		path := locks.NormalizePath(s.store.Project(), snap.Path)
		if activeByPath[path] != snap.Holder {
			report.AlreadyConsistent = false
			break
		}
	}

	for _, snap := range cp.Recovery.Locks {
		outcome, err := s.locks.ReacquireLock(ctx, snap)
		if err != nil {
			return nil, err
		}
		report.Reacquired = append(report.Reacquired, *outcome)
		if outcome.Conflict != nil {
			logging.RecoveryWarn("Lock on %s not restored: held by %s", outcome.Path, outcome.Conflict.Holder)
		}
	}

	if _, err := s.store.AppendPayload(ctx, &event.FleetRecovered{
		CheckpointID:      cp.CheckpointID,
		Callsign:          cp.Callsign,
		Reacquired:        report.Reacquired,
		PendingMessages:   len(report.PendingMessages),
		AlreadyConsistent: report.AlreadyConsistent,
	}); err != nil {
		return nil, err
	}

	logging.Recovery("Restored from %s: %d locks reacquired, %d pending messages, consistent=%v",
		cp.CheckpointID, len(report.Reacquired), len(report.PendingMessages), report.AlreadyConsistent)
	return report, nil
}

// load reads a checkpoint from the database, falling back to its snapshot
// file when the row is gone.
func (s *Service) load(ctx context.Context, checkpointID string) (*types.Checkpoint, error) {
	cp, err := s.store.GetCheckpoint(ctx, checkpointID)
	if err == nil {
		return cp, nil
	}
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}
	cp, ferr := s.readSnapshotFile(checkpointID)
	if ferr != nil {
		logging.RecoveryDebug("Checkpoint %s absent from database and disk: %v", checkpointID, ferr)
		return nil, err
	}
	logging.Recovery("Checkpoint %s loaded from snapshot file", checkpointID)
	return cp, nil
}

// GetLatest returns the newest checkpoint, scoped to a mission when missionID
// is set.
func (s *Service) GetLatest(ctx context.Context, missionID string) (*types.Checkpoint, error) {
	return s.store.LatestCheckpoint(ctx, missionID)
}

// List returns checkpoints newest first, optionally scoped to a mission.
func (s *Service) List(ctx context.Context, missionID string, limit int) ([]*types.Checkpoint, error) {
	return s.store.ListCheckpoints(ctx, missionID, limit)
}

// snapshotPath returns the JSON file path for one checkpoint id.
func (s *Service) snapshotPath(checkpointID string) string {
	return filepath.Join(s.store.Options().CheckpointsPath(), checkpointID+".json")
}

// writeSnapshotFile persists the checkpoint as JSON with a write-then-rename
// so readers never observe a partial file. Failures log and move on: the
// event already made the checkpoint durable.
func (s *Service) writeSnapshotFile(cp *types.Checkpoint) {
	dir := s.store.Options().CheckpointsPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.CheckpointWarn("Failed to create checkpoints directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		logging.CheckpointWarn("Failed to encode checkpoint %s: %v", cp.CheckpointID, err)
		return
	}

	final := s.snapshotPath(cp.CheckpointID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.CheckpointWarn("Failed to write checkpoint file: %v", err)
		return
	}
	if err := os.Rename(tmp, final); err != nil {
		logging.CheckpointWarn("Failed to finalize checkpoint file: %v", err)
		os.Remove(tmp)
		return
	}
	s.updateLatest(dir, filepath.Base(final), data)
}

// updateLatest repoints latest.json at the newest snapshot, copying the bytes
// where symlinks are unavailable.
func (s *Service) updateLatest(dir, name string, data []byte) {
	latest := filepath.Join(dir, "latest.json")
	os.Remove(latest)
	if err := os.Symlink(name, latest); err != nil {
		if werr := os.WriteFile(latest, data, 0o644); werr != nil {
			logging.CheckpointWarn("Failed to update latest.json: %v", werr)
		}
	}
}

// readSnapshotFile loads a checkpoint back from its JSON file.
func (s *Service) readSnapshotFile(checkpointID string) (*types.Checkpoint, error) {
	data, err := os.ReadFile(s.snapshotPath(checkpointID))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint file %s: %w", checkpointID, err)
	}
	return &cp, nil
}
