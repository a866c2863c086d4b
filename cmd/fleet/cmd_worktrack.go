// Package main implements the fleet CLI.
// This file handles work tracking: missions, sorties, and work orders.
package main

import (
	"fmt"
	"strconv"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/fleet"
	"fleettools/internal/store"
	"fleettools/internal/types"

	"github.com/spf13/cobra"
)

// =============================================================================
// MISSION COMMANDS
// =============================================================================

// missionCmd manages missions
var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Manage missions (grouped bodies of work)",
	Long: `A mission groups sorties into one body of work and tracks aggregate
progress. Missions move pending -> in_progress -> completed.`,
	RunE: runMissionList,
}

var (
	missionDescription string
	missionPriority    int
	missionBy          string
)

var missionCreateCmd = &cobra.Command{
	Use:   "create <title>...",
	Short: "Create a mission",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMissionCreate,
}

var missionStartCmd = &cobra.Command{
	Use:   "start <mission-id>",
	Short: "Start a pending mission",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionStart,
}

var missionCompleteCmd = &cobra.Command{
	Use:   "complete <mission-id>",
	Short: "Complete an in-progress mission",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionComplete,
}

var missionSyncCmd = &cobra.Command{
	Use:   "sync <mission-id>",
	Short: "Recount a mission's sortie totals",
	Long: `Recounts total and completed sorties from the sortie table and records
the reconciled figures. Useful after a batch of sortie changes or a restore.`,
	Args: cobra.ExactArgs(1),
	RunE: runMissionSync,
}

var missionShowCmd = &cobra.Command{
	Use:   "show <mission-id>",
	Short: "Show a mission and its sorties",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionShow,
}

var missionStatus string

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE:  runMissionList,
}

// =============================================================================
// SORTIE COMMANDS
// =============================================================================

// sortieCmd manages sorties
var sortieCmd = &cobra.Command{
	Use:   "sortie",
	Short: "Manage sorties (individual work items)",
	Long: `A sortie is one unit of work, usually owned by a single pilot. The
state machine is open -> in_progress -> closed, with in_progress <-> blocked.
Illegal transitions are refused and recorded as coordinator violations.`,
	RunE: runSortieList,
}

var (
	sortieMission     string
	sortieDescription string
	sortiePriority    int
	sortieAssignee    string
	sortieFiles       []string
)

var sortieCreateCmd = &cobra.Command{
	Use:   "create <title>...",
	Short: "Create a sortie",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSortieCreate,
}

var workAs string

var sortieStartCmd = &cobra.Command{
	Use:   "start <sortie-id>",
	Short: "Start an open sortie",
	Args:  cobra.ExactArgs(1),
	RunE:  runSortieStart,
}

var progressNote string

var sortieProgressCmd = &cobra.Command{
	Use:   "progress <sortie-id> <percent>",
	Short: "Report progress on a sortie",
	Args:  cobra.ExactArgs(2),
	RunE:  runSortieProgress,
}

var blockReason string

var sortieBlockCmd = &cobra.Command{
	Use:   "block <sortie-id>",
	Short: "Mark a sortie blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  runSortieBlock,
}

var sortieCompleteCmd = &cobra.Command{
	Use:   "complete <sortie-id>",
	Short: "Close an in-progress sortie",
	Args:  cobra.ExactArgs(1),
	RunE:  runSortieComplete,
}

var sortieShowCmd = &cobra.Command{
	Use:   "show <sortie-id>",
	Short: "Show one sortie",
	Args:  cobra.ExactArgs(1),
	RunE:  runSortieShow,
}

var (
	sortieListMission  string
	sortieListStatus   string
	sortieListAssignee string
)

var sortieListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sorties",
	RunE:  runSortieList,
}

// =============================================================================
// WORK ORDER COMMANDS
// =============================================================================

// workorderCmd manages work orders
var workorderCmd = &cobra.Command{
	Use:   "workorder",
	Short: "Manage work orders (sub-units of a sortie)",
	Long: `A work order is a delegated slice of a sortie, sharing the sortie
state machine. Work orders never count toward mission sortie totals.`,
	RunE: runWorkorderList,
}

var (
	workorderSortie      string
	workorderDescription string
	workorderPriority    int
	workorderAssignee    string
	workorderFiles       []string
)

var workorderCreateCmd = &cobra.Command{
	Use:   "create <title>...",
	Short: "Create a work order under a sortie",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWorkorderCreate,
}

var workorderStartCmd = &cobra.Command{
	Use:   "start <workorder-id>",
	Short: "Start an open work order",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkorderStart,
}

var workorderProgressCmd = &cobra.Command{
	Use:   "progress <workorder-id> <percent>",
	Short: "Report progress on a work order",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkorderProgress,
}

var workorderCompleteCmd = &cobra.Command{
	Use:   "complete <workorder-id>",
	Short: "Close an in-progress work order",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkorderComplete,
}

var workorderListSortie string

var workorderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work orders",
	RunE:  runWorkorderList,
}

func init() {
	missionCreateCmd.Flags().StringVar(&missionDescription, "description", "", "Longer description")
	missionCreateCmd.Flags().IntVar(&missionPriority, "priority", 0, "Priority (higher is more urgent)")
	missionCreateCmd.Flags().StringVar(&missionBy, "by", "", "Creating pilot's callsign")
	missionListCmd.Flags().StringVar(&missionStatus, "status", "", "Only missions in this state")

	missionCmd.AddCommand(missionCreateCmd, missionStartCmd, missionCompleteCmd,
		missionSyncCmd, missionShowCmd, missionListCmd)

	sortieCreateCmd.Flags().StringVar(&sortieMission, "mission", "", "Parent mission id")
	sortieCreateCmd.Flags().StringVar(&sortieDescription, "description", "", "Longer description")
	sortieCreateCmd.Flags().IntVar(&sortiePriority, "priority", 0, "Priority (higher is more urgent)")
	sortieCreateCmd.Flags().StringVar(&sortieAssignee, "assignee", "", "Assigned pilot's callsign")
	sortieCreateCmd.Flags().StringSliceVar(&sortieFiles, "file", nil, "File the sortie touches, repeatable")

	sortieStartCmd.Flags().StringVar(&workAs, "as", "", "Acting pilot's callsign")
	sortieCompleteCmd.Flags().StringVar(&workAs, "as", "", "Acting pilot's callsign")
	sortieProgressCmd.Flags().StringVar(&progressNote, "note", "", "What was just done")
	sortieBlockCmd.Flags().StringVar(&blockReason, "reason", "", "What is blocking (required)")
	sortieBlockCmd.MarkFlagRequired("reason")

	sortieListCmd.Flags().StringVar(&sortieListMission, "mission", "", "Only sorties under this mission")
	sortieListCmd.Flags().StringVar(&sortieListStatus, "status", "", "Only sorties in this state")
	sortieListCmd.Flags().StringVar(&sortieListAssignee, "assignee", "", "Only sorties assigned to this callsign")

	sortieCmd.AddCommand(sortieCreateCmd, sortieStartCmd, sortieProgressCmd,
		sortieBlockCmd, sortieCompleteCmd, sortieShowCmd, sortieListCmd)

	workorderCreateCmd.Flags().StringVar(&workorderSortie, "sortie", "", "Parent sortie id (required)")
	workorderCreateCmd.Flags().StringVar(&workorderDescription, "description", "", "Longer description")
	workorderCreateCmd.Flags().IntVar(&workorderPriority, "priority", 0, "Priority (higher is more urgent)")
	workorderCreateCmd.Flags().StringVar(&workorderAssignee, "assignee", "", "Assigned pilot's callsign")
	workorderCreateCmd.Flags().StringSliceVar(&workorderFiles, "file", nil, "File the work order touches, repeatable")
	workorderCreateCmd.MarkFlagRequired("sortie")

	workorderStartCmd.Flags().StringVar(&workAs, "as", "", "Acting pilot's callsign")
	workorderCompleteCmd.Flags().StringVar(&workAs, "as", "", "Acting pilot's callsign")
	workorderProgressCmd.Flags().StringVar(&progressNote, "note", "", "What was just done")
	workorderListCmd.Flags().StringVar(&workorderListSortie, "sortie", "", "Only work orders under this sortie")

	workorderCmd.AddCommand(workorderCreateCmd, workorderStartCmd,
		workorderProgressCmd, workorderCompleteCmd, workorderListCmd)
}

func runMissionCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	mission, err := coord.CreateMission(ctx, fleet.MissionParams{
		Title:       joinArgs(args),
		Description: missionDescription,
		Priority:    missionPriority,
		CreatedBy:   missionBy,
	})
	if err != nil {
		return fmt.Errorf("mission creation failed: %w", err)
	}

	fmt.Printf("✓ Mission created: %s\n", mission.MissionID)
	fmt.Printf("  Title:  %s\n", mission.Title)
	fmt.Printf("  Status: %s\n", mission.Status)
	return nil
}

func runMissionStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	mission, err := coord.StartMission(ctx, args[0])
	if err != nil {
		return fmt.Errorf("mission start failed: %w", err)
	}

	fmt.Printf("✓ Mission %s in progress\n", mission.MissionID)
	return nil
}

func runMissionComplete(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	mission, err := coord.CompleteMission(ctx, args[0])
	if err != nil {
		return fmt.Errorf("mission completion failed: %w", err)
	}

	fmt.Printf("✓ Mission %s completed (%d/%d sorties)\n",
		mission.MissionID, mission.CompletedSorties, mission.TotalSorties)
	return nil
}

func runMissionSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	mission, err := coord.SyncMission(ctx, args[0])
	if err != nil {
		return fmt.Errorf("mission sync failed: %w", err)
	}

	fmt.Printf("✓ Mission %s synced: %d/%d sorties complete\n",
		mission.MissionID, mission.CompletedSorties, mission.TotalSorties)
	return nil
}

func runMissionShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	mission, err := coord.GetMission(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load mission: %w", err)
	}
	sorties, err := coord.ListSorties(ctx, store.SortieFilter{MissionID: mission.MissionID})
	if err != nil {
		return fmt.Errorf("failed to list sorties: %w", err)
	}

	styles := ui.DefaultStyles()
	fmt.Println(styles.Title.Render(mission.Title))
	fmt.Printf("%s %s\n", styles.Muted.Render("Mission: "), mission.MissionID)
	fmt.Printf("%s %s\n", styles.Muted.Render("Status:  "),
		styles.StatusStyle(string(mission.Status)).Render(string(mission.Status)))
	fmt.Printf("%s %d/%d complete\n", styles.Muted.Render("Sorties: "),
		mission.CompletedSorties, mission.TotalSorties)
	if mission.Description != "" {
		fmt.Printf("%s %s\n", styles.Muted.Render("About:   "), mission.Description)
	}
	fmt.Println()

	table := ui.NewSimpleTable("", "SORTIE", "STATUS", "ASSIGNEE", "PROGRESS", "TITLE")
	table.EmptyNote = "no sorties yet"
	for _, s := range sorties {
		table.AddRow(
			shortID(s.SortieID),
			styles.StatusStyle(string(s.Status)).Render(string(s.Status)),
			s.Assignee,
			fmt.Sprintf("%d%%", s.ProgressPercent),
			s.Title,
		)
	}
	fmt.Print(table.View(styles))
	return nil
}

func runMissionList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	status := types.MissionStatus(missionStatus)
	if missionStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown mission status %q", missionStatus)
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	missions, err := coord.ListMissions(ctx, status)
	if err != nil {
		return fmt.Errorf("failed to list missions: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Missions", "MISSION", "STATUS", "SORTIES", "PRIORITY", "TITLE")
	table.EmptyNote = "no missions"
	for _, m := range missions {
		table.AddRow(
			shortID(m.MissionID),
			styles.StatusStyle(string(m.Status)).Render(string(m.Status)),
			fmt.Sprintf("%d/%d", m.CompletedSorties, m.TotalSorties),
			strconv.Itoa(m.Priority),
			m.Title,
		)
	}
	table.Footer = fmt.Sprintf("Total: %d missions", len(missions))
	fmt.Print(table.View(styles))
	return nil
}

func runSortieCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.CreateSortie(ctx, fleet.SortieParams{
		MissionID:   sortieMission,
		Title:       joinArgs(args),
		Description: sortieDescription,
		Priority:    sortiePriority,
		Assignee:    sortieAssignee,
		Files:       sortieFiles,
	})
	if err != nil {
		return fmt.Errorf("sortie creation failed: %w", err)
	}

	fmt.Printf("✓ Sortie created: %s\n", sortie.SortieID)
	fmt.Printf("  Title:  %s\n", sortie.Title)
	if sortie.MissionID != "" {
		fmt.Printf("  Mission: %s\n", sortie.MissionID)
	}
	return nil
}

func runSortieStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.StartSortie(ctx, args[0], workAs)
	if err != nil {
		return fmt.Errorf("sortie start failed: %w", err)
	}

	fmt.Printf("✓ Sortie %s in progress", sortie.SortieID)
	if sortie.Assignee != "" {
		fmt.Printf(" (assignee %s)", sortie.Assignee)
	}
	fmt.Println()
	return nil
}

func runSortieProgress(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("percent must be a number: %w", err)
	}

	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.ProgressSortie(ctx, args[0], percent, progressNote)
	if err != nil {
		return fmt.Errorf("progress update failed: %w", err)
	}

	fmt.Printf("✓ Sortie %s at %d%%\n", sortie.SortieID, sortie.ProgressPercent)
	return nil
}

func runSortieBlock(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.BlockSortie(ctx, args[0], blockReason)
	if err != nil {
		return fmt.Errorf("block failed: %w", err)
	}

	fmt.Printf("✗ Sortie %s blocked: %s\n", sortie.SortieID, sortie.BlockedReason)
	return nil
}

func runSortieComplete(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.CompleteSortie(ctx, args[0], workAs)
	if err != nil {
		return fmt.Errorf("sortie completion failed: %w", err)
	}

	fmt.Printf("✓ Sortie %s closed\n", sortie.SortieID)
	return nil
}

func runSortieShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sortie, err := coord.GetSortie(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load sortie: %w", err)
	}

	styles := ui.DefaultStyles()
	fmt.Println(styles.Title.Render(sortie.Title))
	fmt.Printf("%s %s\n", styles.Muted.Render("Sortie:   "), sortie.SortieID)
	fmt.Printf("%s %s\n", styles.Muted.Render("Status:   "),
		styles.StatusStyle(string(sortie.Status)).Render(string(sortie.Status)))
	fmt.Printf("%s %d%%\n", styles.Muted.Render("Progress: "), sortie.ProgressPercent)
	if sortie.MissionID != "" {
		fmt.Printf("%s %s\n", styles.Muted.Render("Mission:  "), sortie.MissionID)
	}
	if sortie.Assignee != "" {
		fmt.Printf("%s %s\n", styles.Muted.Render("Assignee: "), sortie.Assignee)
	}
	if sortie.BlockedReason != "" {
		fmt.Printf("%s %s\n", styles.Muted.Render("Blocked:  "),
			styles.Error.Render(sortie.BlockedReason))
	}
	for _, f := range sortie.Files {
		fmt.Printf("%s %s\n", styles.Muted.Render("File:     "), f)
	}
	if sortie.Description != "" {
		fmt.Println()
		fmt.Println(sortie.Description)
	}
	return nil
}

func runSortieList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	status := types.SortieStatus(sortieListStatus)
	if sortieListStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown sortie status %q", sortieListStatus)
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	sorties, err := coord.ListSorties(ctx, store.SortieFilter{
		Status:    status,
		MissionID: sortieListMission,
		Assignee:  sortieListAssignee,
	})
	if err != nil {
		return fmt.Errorf("failed to list sorties: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Sorties", "SORTIE", "STATUS", "ASSIGNEE", "PROGRESS", "MISSION", "TITLE")
	table.EmptyNote = "no sorties"
	for _, s := range sorties {
		table.AddRow(
			shortID(s.SortieID),
			styles.StatusStyle(string(s.Status)).Render(string(s.Status)),
			s.Assignee,
			fmt.Sprintf("%d%%", s.ProgressPercent),
			shortID(s.MissionID),
			s.Title,
		)
	}
	table.Footer = fmt.Sprintf("Total: %d sorties", len(sorties))
	fmt.Print(table.View(styles))
	return nil
}

func runWorkorderCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	wo, err := coord.CreateWorkOrder(ctx, fleet.WorkOrderParams{
		SortieID:    workorderSortie,
		Title:       joinArgs(args),
		Description: workorderDescription,
		Priority:    workorderPriority,
		Assignee:    workorderAssignee,
		Files:       workorderFiles,
	})
	if err != nil {
		return fmt.Errorf("work order creation failed: %w", err)
	}

	fmt.Printf("✓ Work order created: %s\n", wo.WorkOrderID)
	fmt.Printf("  Parent sortie: %s\n", wo.SortieID)
	return nil
}

func runWorkorderStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	wo, err := coord.StartWorkOrder(ctx, args[0], workAs)
	if err != nil {
		return fmt.Errorf("work order start failed: %w", err)
	}

	fmt.Printf("✓ Work order %s in progress\n", wo.WorkOrderID)
	return nil
}

func runWorkorderProgress(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("percent must be a number: %w", err)
	}

	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	wo, err := coord.ProgressWorkOrder(ctx, args[0], percent, progressNote)
	if err != nil {
		return fmt.Errorf("progress update failed: %w", err)
	}

	fmt.Printf("✓ Work order %s at %d%%\n", wo.WorkOrderID, wo.ProgressPercent)
	return nil
}

func runWorkorderComplete(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	wo, err := coord.CompleteWorkOrder(ctx, args[0], workAs)
	if err != nil {
		return fmt.Errorf("work order completion failed: %w", err)
	}

	fmt.Printf("✓ Work order %s closed\n", wo.WorkOrderID)
	return nil
}

func runWorkorderList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	orders, err := coord.ListWorkOrders(ctx, workorderListSortie)
	if err != nil {
		return fmt.Errorf("failed to list work orders: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Work Orders", "WORK ORDER", "STATUS", "ASSIGNEE", "PROGRESS", "SORTIE", "TITLE")
	table.EmptyNote = "no work orders"
	for _, w := range orders {
		table.AddRow(
			shortID(w.WorkOrderID),
			styles.StatusStyle(string(w.Status)).Render(string(w.Status)),
			w.Assignee,
			fmt.Sprintf("%d%%", w.ProgressPercent),
			shortID(w.SortieID),
			w.Title,
		)
	}
	table.Footer = fmt.Sprintf("Total: %d work orders", len(orders))
	fmt.Print(table.View(styles))
	return nil
}
