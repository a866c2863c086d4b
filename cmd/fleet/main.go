package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleettools/internal/config"
	"fleettools/internal/fleet"
	"fleettools/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	projectDir string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "FleetTools - coordination substrate for concurrent coding agents",
	Long: `FleetTools coordinates a fleet of concurrent coding agents ("pilots")
working on one project.

Every mutation is an event appended to a per-project log in .fleet/fleet.db;
pilots, messages, file locks, missions, and checkpoints are projections folded
from that log. Pilots use the CLI to register, message each other, reserve
files, track sorties, and checkpoint their progress so a successor can resume
after a crash or context loss.

The project is resolved from --project or the current directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	// Add commands to root
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(pilotsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(reserveCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(sortieCmd)
	rootCmd.AddCommand(workorderCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveProject returns the absolute project directory, from --project or
// the current working directory.
func resolveProject() string {
	dir := projectDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// openFleet opens the coordinator for the resolved project, layering
// .fleet/config.yaml and environment overrides onto the defaults.
func openFleet() (*fleet.Coordinator, error) {
	project := resolveProject()
	opts, err := config.Load(project)
	if err != nil {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	coord, err := fleet.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open fleet for %s: %w", project, err)
	}
	return coord, nil
}

// cmdContext returns the bounded context every one-shot command runs under.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

// shortID trims a nanoid-suffixed id for table display, keeping the prefix
// and the first few suffix characters.
func shortID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:17] + "..."
}

// age renders how long ago a timestamp was, compactly.
func age(ts types.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	d := time.Since(ts.Time())
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// localTime renders a timestamp in the local zone for table display.
func localTime(ts types.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Time().Local().Format("2006-01-02 15:04:05")
}
