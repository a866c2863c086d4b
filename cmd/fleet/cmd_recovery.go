// Package main implements the fleet CLI.
// This file handles checkpoints, restore, and stall detection.
package main

import (
	"fmt"
	"time"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/checkpoint"
	"fleettools/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// CHECKPOINT COMMANDS
// =============================================================================

// checkpointCmd manages recovery checkpoints
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage recovery checkpoints",
	Long: `A checkpoint snapshots a pilot's working state: its sorties, held
locks, pending messages, and next steps. It is written both as an event and
as a JSON file under .fleet/checkpoints/, so a successor can resume even if
it can only read files.`,
	RunE: runCheckpointList,
}

var (
	checkpointMission   string
	checkpointSortie    string
	checkpointAs        string
	checkpointTrigger   string
	checkpointProgress  int
	checkpointSummary   string
	checkpointLast      string
	checkpointNextSteps []string
)

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a checkpoint of the current working state",
	RunE:  runCheckpointCreate,
}

var (
	checkpointListMission string
	checkpointListLimit   int
)

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	RunE:  runCheckpointList,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Restore working state from a checkpoint",
	Long: `Re-acquires the checkpoint's expired locks, reports contested paths
and still-pending messages, and records the recovery. Restoring twice is
safe; the second run reports the state as already consistent.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointRestore,
}

// =============================================================================
// STALL DETECTION
// =============================================================================

var (
	recoverThreshold time.Duration
	recoverAll       bool
)

// recoverCmd lists missions that look stalled
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List missions that look stalled",
	Long: `Scans for in-progress missions with no event activity inside the
stall threshold and shows the latest checkpoint to restore from.

Example:
  fleet recover --threshold 15m`,
	RunE: runRecover,
}

func init() {
	checkpointCreateCmd.Flags().StringVar(&checkpointMission, "mission", "", "Mission the checkpoint covers")
	checkpointCreateCmd.Flags().StringVar(&checkpointSortie, "sortie", "", "Sortie the pilot was on")
	checkpointCreateCmd.Flags().StringVar(&checkpointAs, "as", "", "Checkpointing pilot's callsign (required)")
	checkpointCreateCmd.Flags().StringVar(&checkpointTrigger, "trigger", "manual", "auto, manual, error, or context_limit")
	checkpointCreateCmd.Flags().IntVar(&checkpointProgress, "progress", 0, "Overall progress percent")
	checkpointCreateCmd.Flags().StringVar(&checkpointSummary, "summary", "", "What has been done so far")
	checkpointCreateCmd.Flags().StringVar(&checkpointLast, "last-action", "", "The last thing the pilot did")
	checkpointCreateCmd.Flags().StringArrayVar(&checkpointNextSteps, "next-step", nil, "Next step for a successor, repeatable")
	checkpointCreateCmd.MarkFlagRequired("as")

	checkpointListCmd.Flags().StringVar(&checkpointListMission, "mission", "", "Only checkpoints for this mission")
	checkpointListCmd.Flags().IntVar(&checkpointListLimit, "limit", 10, "Maximum checkpoints to list")

	recoverCmd.Flags().DurationVar(&recoverThreshold, "threshold", 0, "Inactivity window (default from config, 30m)")
	recoverCmd.Flags().BoolVar(&recoverAll, "all", false, "Include completed missions")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	trigger := types.CheckpointTrigger(checkpointTrigger)
	if !trigger.Valid() {
		return fmt.Errorf("unknown trigger %q (use auto, manual, error, or context_limit)", checkpointTrigger)
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Creating checkpoint",
		zap.String("callsign", checkpointAs),
		zap.String("mission", checkpointMission))

	cp, err := coord.CreateCheckpoint(ctx, checkpoint.CreateParams{
		MissionID:       checkpointMission,
		SortieID:        checkpointSortie,
		Callsign:        checkpointAs,
		Trigger:         trigger,
		ProgressPercent: checkpointProgress,
		Summary:         checkpointSummary,
		LastAction:      checkpointLast,
		NextSteps:       checkpointNextSteps,
	})
	if err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}

	fmt.Printf("✓ Checkpoint created: %s\n", cp.CheckpointID)
	fmt.Printf("  Sequence: %d\n", cp.Sequence)
	fmt.Printf("  Sorties:  %d captured\n", len(cp.Recovery.Sorties))
	fmt.Printf("  Locks:    %d captured\n", len(cp.Recovery.Locks))
	fmt.Printf("  Pending:  %d messages\n", len(cp.Recovery.PendingMessages))
	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	cps, err := coord.ListCheckpoints(ctx, checkpointListMission, checkpointListLimit)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Checkpoints", "CHECKPOINT", "PILOT", "MISSION", "TRIGGER", "PROGRESS", "SEQ", "CREATED")
	table.EmptyNote = "no checkpoints"
	for _, cp := range cps {
		table.AddRow(
			shortID(cp.CheckpointID),
			cp.Callsign,
			shortID(cp.MissionID),
			string(cp.Trigger),
			fmt.Sprintf("%d%%", cp.ProgressPercent),
			fmt.Sprintf("%d", cp.Sequence),
			age(cp.CreatedAt)+" ago",
		)
	}
	table.Footer = fmt.Sprintf("Total: %d checkpoints", len(cps))
	fmt.Print(table.View(styles))
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Restoring from checkpoint", zap.String("checkpoint", args[0]))

	report, err := coord.Restore(ctx, args[0])
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	styles := ui.DefaultStyles()
	if report.AlreadyConsistent {
		fmt.Println(styles.Success.Render("✓ State already consistent, nothing to re-acquire"))
	} else {
		fmt.Printf("%s Restored from %s (sequence %d)\n",
			styles.Success.Render("✓"), report.CheckpointID, report.RecoveredSequence)
	}

	for _, r := range report.Reacquired {
		switch {
		case r.Conflict != nil:
			fmt.Printf("  %s %s now held by %s\n",
				styles.Error.Render("✗"), r.Path, r.Conflict.Holder)
		case r.NewLockID != "":
			fmt.Printf("  %s re-locked %s (%s)\n",
				styles.Success.Render("✓"), r.Path, shortID(r.NewLockID))
		default:
			fmt.Printf("  · %s still held\n", r.Path)
		}
	}

	if n := len(report.PendingMessages); n > 0 {
		fmt.Printf("  %d message(s) still awaiting attention:\n", n)
		for _, m := range report.PendingMessages {
			fmt.Printf("    %s from %s: %s\n", shortID(m.MessageID), m.From, m.Subject)
		}
	}
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	candidates, err := coord.DetectRecoveryCandidates(ctx, recoverThreshold, recoverAll)
	if err != nil {
		return fmt.Errorf("stall scan failed: %w", err)
	}

	styles := ui.DefaultStyles()
	if len(candidates) == 0 {
		fmt.Println(styles.Success.Render("✓ No stalled missions"))
		return nil
	}

	table := ui.NewSimpleTable("Stalled Missions", "MISSION", "STATUS", "INACTIVE", "CHECKPOINT", "TITLE")
	for _, c := range candidates {
		checkpointCell := styles.Muted.Render("(none)")
		if c.LatestCheckpointID != "" {
			checkpointCell = shortID(c.LatestCheckpointID)
		}
		table.AddRow(
			shortID(c.MissionID),
			styles.StatusStyle(string(c.Status)).Render(string(c.Status)),
			(time.Duration(c.InactiveMs) * time.Millisecond).Round(time.Minute).String(),
			checkpointCell,
			c.Title,
		)
	}
	table.Footer = "Restore with: fleet checkpoint restore <checkpoint-id>"
	fmt.Print(table.View(styles))
	return nil
}
