// Package main implements the fleet CLI.
// This file handles the event log: listing, live tailing, and replay.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/event"
	"fleettools/internal/fleet"
	"fleettools/internal/store"
	"fleettools/internal/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// EVENT LOG COMMANDS
// =============================================================================

// eventsCmd inspects the append-only event log
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the project's event log",
	Long: `The append-only event log is the source of truth; every table the
other commands show is folded from it. 'list' reads a slice of the log,
'tail' follows it live.`,
	RunE: runEventsList,
}

var (
	eventTypes    []string
	eventStream   string
	eventStreamID string
	eventAfter    int64
	eventLimit    int
	eventDesc     bool
	eventJSON     bool
)

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events from the log",
	Long: `Lists events in sequence order.

Examples:
  fleet events list --limit 20 --desc
  fleet events list --type message_sent --type message_acked
  fleet events list --stream sortie --stream-id sortie-abc123`,
	RunE: runEventsList,
}

var (
	tailConsumer  string
	tailFromStart bool
	tailInterval  time.Duration
	tailPlain     bool
)

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the event log live",
	Long: `Follows the log as events are appended, in a scrolling terminal view.

The consumer name persists the read position: restarting with the same
--consumer resumes where the previous run stopped, and events are never
skipped. Use --plain for line output suited to pipes.`,
	RunE: runEventsTail,
}

// replayCmd rebuilds every projection from the log
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild all projected state from the event log",
	Long: `Clears every event-derived table and refolds the full log in
sequence order. The result is identical to the incrementally built state;
use it after manual database surgery or to verify log integrity.`,
	RunE: runReplay,
}

func init() {
	eventsListCmd.Flags().StringSliceVar(&eventTypes, "type", nil, "Only events of this type, repeatable")
	eventsListCmd.Flags().StringVar(&eventStream, "stream", "", "Stream kind: sortie, mission, or pilot")
	eventsListCmd.Flags().StringVar(&eventStreamID, "stream-id", "", "Id within the stream kind")
	eventsListCmd.Flags().Int64Var(&eventAfter, "after", 0, "Only events with sequence greater than this")
	eventsListCmd.Flags().IntVar(&eventLimit, "limit", 50, "Maximum events to list")
	eventsListCmd.Flags().BoolVar(&eventDesc, "desc", false, "Newest first")
	eventsListCmd.Flags().BoolVar(&eventJSON, "json", false, "Emit raw JSON")

	eventsTailCmd.Flags().StringVar(&tailConsumer, "consumer", "", "Cursor name to resume from (default: throwaway)")
	eventsTailCmd.Flags().BoolVar(&tailFromStart, "from-start", false, "Deliver the whole log, not just new events")
	eventsTailCmd.Flags().DurationVar(&tailInterval, "interval", time.Second, "Fallback poll interval")
	eventsTailCmd.Flags().BoolVar(&tailPlain, "plain", false, "Plain line output instead of the scrolling view")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	q := store.QueryOptions{
		AfterSequence: eventAfter,
		Limit:         eventLimit,
		Descending:    eventDesc,
	}
	for _, t := range eventTypes {
		q.Types = append(q.Types, event.Type(t))
	}
	if eventStreamID != "" {
		kind := types.StreamKind(eventStream)
		if !kind.Valid() {
			return fmt.Errorf("unknown stream kind %q (use sortie, mission, or pilot)", eventStream)
		}
		q.Stream = kind
		q.StreamID = eventStreamID
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	events, err := coord.ReplayEvents(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	if eventJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Events", "SEQ", "TIME", "TYPE", "BODY")
	table.EmptyNote = "the log is empty"
	for _, e := range events {
		table.AddRow(
			fmt.Sprintf("%d", e.Sequence),
			localTime(e.Timestamp),
			string(e.Type),
			compactBody(e.Body, 60),
		)
	}
	table.Footer = fmt.Sprintf("Total: %d events", len(events))
	fmt.Print(table.View(styles))
	return nil
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if tailPlain {
		return tailPlainLines(ctx, coord)
	}

	styles := ui.DefaultStyles()
	program := tea.NewProgram(
		ui.NewTailModel(coord.Project(), tailConsumer, styles),
		tea.WithAltScreen(),
	)

	tailer, err := coord.NewTailer(fleet.TailerOptions{
		Consumer:  tailConsumer,
		Interval:  tailInterval,
		FromStart: tailFromStart,
	}, func(ctx context.Context, batch []*event.Event) error {
		program.Send(toBatchMsg(batch))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create tailer: %w", err)
	}

	if err := tailer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tailer: %w", err)
	}
	defer tailer.Stop()

	logger.Info("Tailing events",
		zap.String("project", coord.Project()),
		zap.String("consumer", tailer.Consumer()))

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tail view failed: %w", err)
	}
	return nil
}

// tailPlainLines prints tailed events straight to stdout until interrupted.
func tailPlainLines(ctx context.Context, coord *fleet.Coordinator) error {
	tailer, err := coord.NewTailer(fleet.TailerOptions{
		Consumer:  tailConsumer,
		Interval:  tailInterval,
		FromStart: tailFromStart,
	}, func(ctx context.Context, batch []*event.Event) error {
		for _, e := range batch {
			fmt.Printf("%d\t%s\t%s\t%s\n",
				e.Sequence, e.Timestamp.ISO(), e.Type, compactBody(e.Body, 0))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create tailer: %w", err)
	}

	if err := tailer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tailer: %w", err)
	}
	defer tailer.Stop()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Rebuilding projections", zap.String("project", coord.Project()))

	report, err := coord.RebuildAllProjections(ctx)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Printf("✓ Rebuilt %d tables from %d events in %s\n",
		report.TablesCleared, report.EventsReplayed, report.Duration.Round(time.Millisecond))
	return nil
}

func toBatchMsg(batch []*event.Event) ui.BatchMsg {
	msg := make(ui.BatchMsg, 0, len(batch))
	for _, e := range batch {
		msg = append(msg, ui.TailEvent{
			Sequence: e.Sequence,
			Time:     e.Timestamp.Time().Local().Format("15:04:05"),
			Type:     string(e.Type),
			Detail:   compactBody(e.Body, 100),
		})
	}
	return msg
}

// compactBody renders an event body on one line, truncated when max is
// positive.
func compactBody(body []byte, max int) string {
	s := string(body)
	if max > 0 && len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
