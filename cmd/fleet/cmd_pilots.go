// Package main implements the fleet CLI.
// This file handles pilot registration and roster commands.
package main

import (
	"fmt"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/fleet"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// PILOT COMMANDS
// =============================================================================

var (
	registerProgram string
	registerModel   string
	registerTask    string
)

// registerCmd registers a pilot, or refreshes an existing one
var registerCmd = &cobra.Command{
	Use:   "register [callsign]",
	Short: "Register a pilot with the fleet",
	Long: `Registers a pilot under the given callsign, minting one if omitted.

Re-registering an existing callsign refreshes its program, model, and task
and resets it to active; this is how an agent re-attaches after a restart.

Example:
  fleet register red-1 --program claude-code --task "refactor auth"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRegister,
}

// pilotsCmd lists the pilot roster
var pilotsCmd = &cobra.Command{
	Use:   "pilots",
	Short: "List registered pilots",
	RunE:  runPilotsList,
}

var pilotsAll bool

// pilotsDeregisterCmd removes a pilot from the active roster
var pilotsDeregisterCmd = &cobra.Command{
	Use:   "deregister <callsign>",
	Short: "Deregister a pilot",
	Long: `Marks a pilot as deregistered. The roster row is kept so that the
pilot's history stays attributable; its locks and reservations are not
released automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runPilotsDeregister,
}

var deregisterReason string

func init() {
	registerCmd.Flags().StringVar(&registerProgram, "program", "", "Agent program (e.g. claude-code, crush)")
	registerCmd.Flags().StringVar(&registerModel, "model", "", "Model the agent runs on")
	registerCmd.Flags().StringVar(&registerTask, "task", "", "What this pilot is working on")

	pilotsCmd.Flags().BoolVar(&pilotsAll, "all", false, "Include deregistered pilots")
	pilotsDeregisterCmd.Flags().StringVar(&deregisterReason, "reason", "", "Why the pilot is leaving")

	pilotsCmd.AddCommand(pilotsDeregisterCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	callsign := ""
	if len(args) > 0 {
		callsign = args[0]
	}
	logger.Info("Registering pilot",
		zap.String("callsign", callsign),
		zap.String("program", registerProgram))

	pilot, err := coord.RegisterPilot(ctx, fleet.RegisterParams{
		Callsign:        callsign,
		Program:         registerProgram,
		Model:           registerModel,
		TaskDescription: registerTask,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Printf("✓ Pilot '%s' registered\n", pilot.Callsign)
	if pilot.Program != "" {
		fmt.Printf("  Program: %s\n", pilot.Program)
	}
	if pilot.Model != "" {
		fmt.Printf("  Model:   %s\n", pilot.Model)
	}
	if pilot.TaskDescription != "" {
		fmt.Printf("  Task:    %s\n", pilot.TaskDescription)
	}
	return nil
}

func runPilotsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	pilots, err := coord.ListPilots(ctx, pilotsAll)
	if err != nil {
		return fmt.Errorf("failed to list pilots: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Pilots", "CALLSIGN", "STATUS", "PROGRAM", "MODEL", "LAST ACTIVE", "TASK")
	table.EmptyNote = "no pilots registered; use 'fleet register <callsign>'"
	for _, p := range pilots {
		table.AddRow(
			p.Callsign,
			styles.StatusStyle(string(p.Status)).Render(string(p.Status)),
			p.Program,
			p.Model,
			age(p.LastActiveAt)+" ago",
			p.TaskDescription,
		)
	}
	table.Footer = fmt.Sprintf("Total: %d pilots", len(pilots))
	fmt.Print(table.View(styles))
	return nil
}

func runPilotsDeregister(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	pilot, err := coord.DeregisterPilot(ctx, args[0], deregisterReason)
	if err != nil {
		return fmt.Errorf("deregistration failed: %w", err)
	}

	fmt.Printf("✓ Pilot '%s' deregistered\n", pilot.Callsign)
	return nil
}
