// Package main implements the fleet CLI.
// This file handles workspace claims: file reservations and exclusive locks.
package main

import (
	"fmt"
	"time"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/locks"
	"fleettools/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// RESERVATION COMMANDS
// =============================================================================

var (
	reserveAs        string
	reserveExclusive bool
	reserveReason    string
	reserveTTL       time.Duration
	reserveSortie    string
	reserveMission   string
)

// reserveCmd declares intent to modify a set of paths
var reserveCmd = &cobra.Command{
	Use:   "reserve <path>...",
	Short: "Reserve files before editing them",
	Long: `Declares that a pilot intends to modify the given paths. Reservations
are advisory and visible to the whole fleet; an exclusive reservation
conflicts with any overlapping active one.

A conflict is reported with the current holder and leaves no reservation.

Example:
  fleet reserve src/auth.ts src/session.ts --as red-1 --reason "login flow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReserve,
}

var (
	releaseAs  string
	releaseIDs []string
)

// releaseCmd releases file reservations
var releaseCmd = &cobra.Command{
	Use:   "release [path...]",
	Short: "Release file reservations",
	Long: `Releases a pilot's reservations, by path, by reservation id, or both.

Example:
  fleet release src/auth.ts --as red-1`,
	RunE: runRelease,
}

// =============================================================================
// LOCK COMMANDS
// =============================================================================

// lockCmd manages exclusive file locks
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage exclusive file locks",
	Long: `Exclusive, TTL-bounded holds on single files. A lock conflict is a
normal outcome reporting the current holder; expired locks are swept lazily,
so a crashed pilot's locks dissolve on their own.`,
	RunE: runLockList,
}

var (
	lockAs       string
	lockPurpose  string
	lockTTL      time.Duration
	lockChecksum string
)

// lockAcquireCmd takes an exclusive hold on one path
var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <path>",
	Short: "Acquire an exclusive lock on a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockAcquire,
}

// lockReleaseCmd releases a held lock
var lockReleaseCmd = &cobra.Command{
	Use:   "release <lock-id>",
	Short: "Release a lock",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockRelease,
}

var lockHolder string

// lockListCmd lists active locks
var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active locks",
	RunE:  runLockList,
}

var (
	forceBy     string
	forceReason string
)

// lockForceReleaseCmd breaks another pilot's lock
var lockForceReleaseCmd = &cobra.Command{
	Use:   "force-release <lock-id>",
	Short: "Release another pilot's lock",
	Long: `Releases a lock held by someone else, recording who broke it and why
as a coordinator decision. Use when a pilot has crashed without releasing.`,
	Args: cobra.ExactArgs(1),
	RunE: runLockForceRelease,
}

func init() {
	reserveCmd.Flags().StringVar(&reserveAs, "as", "", "Reserving pilot's callsign (required)")
	reserveCmd.Flags().BoolVar(&reserveExclusive, "exclusive", false, "Conflict with any overlapping reservation")
	reserveCmd.Flags().StringVar(&reserveReason, "reason", "", "Why the files are needed")
	reserveCmd.Flags().DurationVar(&reserveTTL, "ttl", 0, "Reservation lifetime (default from config, 1h)")
	reserveCmd.Flags().StringVar(&reserveSortie, "sortie", "", "Related sortie id")
	reserveCmd.Flags().StringVar(&reserveMission, "mission", "", "Related mission id")
	reserveCmd.MarkFlagRequired("as")

	releaseCmd.Flags().StringVar(&releaseAs, "as", "", "Releasing pilot's callsign (required)")
	releaseCmd.Flags().StringSliceVar(&releaseIDs, "reservation", nil, "Reservation id to release, repeatable")
	releaseCmd.MarkFlagRequired("as")

	lockAcquireCmd.Flags().StringVar(&lockAs, "as", "", "Acquiring pilot's callsign (required)")
	lockAcquireCmd.Flags().StringVar(&lockPurpose, "purpose", "edit", "read, edit, or delete")
	lockAcquireCmd.Flags().DurationVar(&lockTTL, "ttl", 0, "Lock lifetime (default from config, 5m)")
	lockAcquireCmd.Flags().StringVar(&lockChecksum, "checksum", "", "Content checksum at acquisition time")
	lockAcquireCmd.MarkFlagRequired("as")

	lockReleaseCmd.Flags().StringVar(&lockAs, "as", "", "Holder's callsign (required)")
	lockReleaseCmd.MarkFlagRequired("as")

	lockListCmd.Flags().StringVar(&lockHolder, "holder", "", "Only locks held by this callsign")

	lockForceReleaseCmd.Flags().StringVar(&forceBy, "by", "", "Callsign breaking the lock (required)")
	lockForceReleaseCmd.Flags().StringVar(&forceReason, "reason", "", "Why the lock is being broken")
	lockForceReleaseCmd.MarkFlagRequired("by")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockListCmd)
	lockCmd.AddCommand(lockForceReleaseCmd)
}

func runReserve(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Reserving files",
		zap.String("callsign", reserveAs),
		zap.Strings("paths", args))

	result, err := coord.ReserveFiles(ctx, locks.ReserveParams{
		Callsign:  reserveAs,
		Paths:     args,
		Exclusive: reserveExclusive,
		Reason:    reserveReason,
		TTL:       reserveTTL,
		SortieID:  reserveSortie,
		MissionID: reserveMission,
	})
	if err != nil {
		return fmt.Errorf("reservation failed: %w", err)
	}

	styles := ui.DefaultStyles()
	if result.Conflict {
		fmt.Println(styles.Error.Render("✗ Reservation conflict"))
		for _, c := range result.Existing {
			fmt.Printf("  %s held by %s until %s\n", c.Path, c.Holder, localTime(c.ExpiresAt))
		}
		return fmt.Errorf("%d path(s) already reserved", len(result.Existing))
	}

	r := result.Reservation
	fmt.Printf("%s %d file(s) reserved for %s\n", styles.Success.Render("✓"), len(r.Paths), r.Callsign)
	fmt.Printf("  Reservation: %s\n", r.ReservationID)
	fmt.Printf("  Expires:     %s\n", localTime(r.ExpiresAt))
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(releaseIDs) == 0 {
		return fmt.Errorf("nothing to release: give paths or --reservation ids")
	}

	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	if _, err := coord.ReleaseFiles(ctx, releaseAs, args, releaseIDs); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}

	fmt.Printf("✓ Released %d path(s), %d reservation id(s) for %s\n",
		len(args), len(releaseIDs), releaseAs)
	return nil
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	purpose := types.LockPurpose(lockPurpose)
	if !purpose.Valid() {
		return fmt.Errorf("unknown purpose %q (use read, edit, or delete)", lockPurpose)
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Acquiring lock",
		zap.String("callsign", lockAs),
		zap.String("path", args[0]))

	result, err := coord.AcquireLock(ctx, locks.LockRequest{
		Path:     args[0],
		Callsign: lockAs,
		Purpose:  purpose,
		TTL:      lockTTL,
		Checksum: lockChecksum,
	})
	if err != nil {
		return fmt.Errorf("lock failed: %w", err)
	}

	styles := ui.DefaultStyles()
	if result.Conflict {
		e := result.Existing
		fmt.Println(styles.Error.Render("✗ Lock conflict"))
		fmt.Printf("  %s held by %s until %s\n", e.Path, e.Holder, localTime(e.ExpiresAt))
		return fmt.Errorf("path locked by %s", e.Holder)
	}

	l := result.Lock
	fmt.Printf("%s Locked %s for %s\n", styles.Success.Render("✓"), l.Path, l.Holder)
	fmt.Printf("  Lock:    %s\n", l.LockID)
	fmt.Printf("  Expires: %s\n", localTime(l.ExpiresAt))
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	lock, err := coord.ReleaseLock(ctx, args[0], lockAs)
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}

	fmt.Printf("✓ Released lock on %s\n", lock.Path)
	return nil
}

func runLockList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	lockList, err := coord.ListActiveLocks(ctx, lockHolder)
	if err != nil {
		return fmt.Errorf("failed to list locks: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Active Locks", "LOCK", "PATH", "HOLDER", "PURPOSE", "EXPIRES")
	table.EmptyNote = "no active locks"
	for _, l := range lockList {
		table.AddRow(shortID(l.LockID), l.Path, l.Holder, string(l.Purpose), localTime(l.ExpiresAt))
	}
	table.Footer = fmt.Sprintf("Total: %d locks", len(lockList))
	fmt.Print(table.View(styles))
	return nil
}

func runLockForceRelease(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Warn("Force-releasing lock",
		zap.String("lock", args[0]),
		zap.String("by", forceBy))

	lock, err := coord.ForceReleaseLock(ctx, args[0], forceBy, forceReason)
	if err != nil {
		return fmt.Errorf("force-release failed: %w", err)
	}

	fmt.Printf("✓ Lock on %s force-released by %s (was held by %s)\n",
		lock.Path, forceBy, lock.Holder)
	return nil
}
