// Package main implements the fleet CLI.
// This file handles the aggregated fleet status view.
package main

import (
	"fmt"
	"strings"

	"fleettools/cmd/fleet/ui"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// statusCmd shows the aggregated fleet state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fleet's current state",
	Long: `One consolidated view of the project: the pilot roster, active
workspace claims, open work, and the latest checkpoint.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	overview, err := coord.Overview(ctx)
	if err != nil {
		return fmt.Errorf("failed to build overview: %w", err)
	}

	styles := ui.DefaultStyles()

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.Badge.Render("FLEET"),
		styles.Bold.Render(" "+overview.Project),
	)
	fmt.Println(header)
	fmt.Println(styles.RenderDivider(60))

	pilots := ui.NewSimpleTable("Pilots", "CALLSIGN", "STATUS", "PROGRAM", "LAST ACTIVE")
	pilots.EmptyNote = "no pilots registered"
	for _, p := range overview.Pilots {
		pilots.AddRow(
			p.Callsign,
			styles.StatusStyle(string(p.Status)).Render(string(p.Status)),
			p.Program,
			age(p.LastActiveAt)+" ago",
		)
	}
	fmt.Print(pilots.View(styles))
	fmt.Println()

	claims := ui.NewSimpleTable("Workspace Claims", "KIND", "PATHS", "HOLDER", "EXPIRES")
	claims.EmptyNote = "no active reservations or locks"
	for _, r := range overview.ActiveReservations {
		claims.AddRow("reservation", strings.Join(r.Paths, ", "), r.Callsign, localTime(r.ExpiresAt))
	}
	for _, l := range overview.ActiveLocks {
		claims.AddRow("lock", l.Path, l.Holder, localTime(l.ExpiresAt))
	}
	fmt.Print(claims.View(styles))
	fmt.Println()

	sorties := ui.NewSimpleTable("Open Sorties", "SORTIE", "STATUS", "ASSIGNEE", "PROGRESS", "TITLE")
	sorties.EmptyNote = "no open sorties"
	for _, s := range overview.OpenSorties {
		sorties.AddRow(
			shortID(s.SortieID),
			styles.StatusStyle(string(s.Status)).Render(string(s.Status)),
			s.Assignee,
			fmt.Sprintf("%d%%", s.ProgressPercent),
			s.Title,
		)
	}
	fmt.Print(sorties.View(styles))
	fmt.Println()

	missions := ui.NewSimpleTable("Missions", "MISSION", "STATUS", "SORTIES", "TITLE")
	missions.EmptyNote = "no missions"
	for _, m := range overview.Missions {
		missions.AddRow(
			shortID(m.MissionID),
			styles.StatusStyle(string(m.Status)).Render(string(m.Status)),
			fmt.Sprintf("%d/%d", m.CompletedSorties, m.TotalSorties),
			m.Title,
		)
	}
	fmt.Print(missions.View(styles))
	fmt.Println()

	if cp := overview.LatestCheckpoint; cp != nil {
		fmt.Printf("%s %s by %s, %s ago (sequence %d)\n",
			styles.Muted.Render("Latest checkpoint:"),
			shortID(cp.CheckpointID), cp.Callsign, age(cp.CreatedAt), cp.Sequence)
	} else {
		fmt.Println(styles.Muted.Render("Latest checkpoint: none"))
	}
	fmt.Println(styles.Footer.Render(fmt.Sprintf(
		"%d events · latest sequence %d", overview.EventCount, overview.LatestSequence)))
	return nil
}
