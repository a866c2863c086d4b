// Package main implements the fleet CLI.
// This file handles pilot-to-pilot messaging: send, inbox, read, ack.
package main

import (
	"fmt"
	"strings"
	"time"

	"fleettools/cmd/fleet/ui"
	"fleettools/internal/fleet"
	"fleettools/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// MESSAGING COMMANDS
// =============================================================================

var (
	sendFrom       string
	sendTo         []string
	sendSubject    string
	sendThread     string
	sendImportance string
	sendAck        bool
	sendSortie     string
	sendMission    string
)

// sendCmd sends a message to one or more pilots
var sendCmd = &cobra.Command{
	Use:   "send [body...]",
	Short: "Send a message to other pilots",
	Long: `Sends one message, fanned out to every recipient. The body is the
joined positional arguments; markdown is rendered by 'fleet inbox show'.

Omitting --thread starts a new thread; replies pass the thread id back.

Example:
  fleet send --from red-1 --to lead --subject "auth done" --ack "ready for review"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var (
	inboxUnread bool
	inboxLimit  int
	inboxSince  time.Duration
)

// inboxCmd lists a pilot's inbox
var inboxCmd = &cobra.Command{
	Use:   "inbox <callsign>",
	Short: "List a pilot's inbox, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runInboxList,
}

// inboxShowCmd renders one message body as markdown
var inboxShowCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Show a message, with the body rendered as markdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runInboxShow,
}

var markAs string

// inboxReadCmd marks a message read
var inboxReadCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Mark a message read",
	Args:  cobra.ExactArgs(1),
	RunE:  runInboxRead,
}

// inboxAckCmd acknowledges a message (which also marks it read)
var inboxAckCmd = &cobra.Command{
	Use:   "ack <message-id>",
	Short: "Acknowledge a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runInboxAck,
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Sending pilot's callsign (required)")
	sendCmd.Flags().StringSliceVar(&sendTo, "to", nil, "Recipient callsign, repeatable (required)")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Message subject")
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "Thread to reply in (default: start a new thread)")
	sendCmd.Flags().StringVar(&sendImportance, "importance", "normal", "low, normal, high, or urgent")
	sendCmd.Flags().BoolVar(&sendAck, "ack", false, "Request acknowledgement from recipients")
	sendCmd.Flags().StringVar(&sendSortie, "sortie", "", "Related sortie id")
	sendCmd.Flags().StringVar(&sendMission, "mission", "", "Related mission id")
	sendCmd.MarkFlagRequired("from")
	sendCmd.MarkFlagRequired("to")

	inboxCmd.Flags().BoolVar(&inboxUnread, "unread", false, "Only unread messages")
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 25, "Maximum messages to list")
	inboxCmd.Flags().DurationVar(&inboxSince, "since", 0, "Only messages newer than this (e.g. 2h)")

	inboxReadCmd.Flags().StringVar(&markAs, "as", "", "Acting pilot's callsign (required)")
	inboxAckCmd.Flags().StringVar(&markAs, "as", "", "Acting pilot's callsign (required)")
	inboxReadCmd.MarkFlagRequired("as")
	inboxAckCmd.MarkFlagRequired("as")

	inboxCmd.AddCommand(inboxShowCmd)
	inboxCmd.AddCommand(inboxReadCmd)
	inboxCmd.AddCommand(inboxAckCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	importance := types.Importance(sendImportance)
	if !importance.Valid() {
		return fmt.Errorf("unknown importance %q (use low, normal, high, or urgent)", sendImportance)
	}

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	logger.Info("Sending message",
		zap.String("from", sendFrom),
		zap.Strings("to", sendTo))

	msg, err := coord.SendMessage(ctx, fleet.SendParams{
		From:        sendFrom,
		To:          sendTo,
		Subject:     sendSubject,
		Body:        joinArgs(args),
		ThreadID:    sendThread,
		Importance:  importance,
		AckRequired: sendAck,
		SortieID:    sendSortie,
		MissionID:   sendMission,
	})
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	fmt.Printf("✓ Message sent to %s\n", strings.Join(sendTo, ", "))
	fmt.Printf("  Message: %s\n", msg.MessageID)
	fmt.Printf("  Thread:  %s\n", msg.ThreadID)
	return nil
}

func runInboxList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	filter := fleet.InboxFilter{
		UnreadOnly: inboxUnread,
		Limit:      inboxLimit,
	}
	if inboxSince > 0 {
		filter.Since = types.Now().Add(-inboxSince)
	}

	callsign := args[0]
	msgs, err := coord.ListInbox(ctx, callsign, filter)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable(fmt.Sprintf("Inbox: %s", callsign),
		"MESSAGE", "FROM", "SUBJECT", "IMPORTANCE", "AGE", "STATE")
	table.EmptyNote = "no messages"
	unread := 0
	for _, m := range msgs {
		state := "unread"
		switch {
		case m.AckedAt != nil:
			state = "acked"
		case m.ReadAt != nil:
			state = "read"
		default:
			unread++
		}
		importance := string(m.Importance)
		if m.Importance == types.ImportanceHigh || m.Importance == types.ImportanceUrgent {
			importance = styles.Warning.Render(importance)
		}
		if m.AckRequired && m.AckedAt == nil {
			state = state + " (ack!)"
		}
		table.AddRow(shortID(m.MessageID), m.From, m.Subject, importance, age(m.CreatedAt), state)
	}
	table.Footer = fmt.Sprintf("Total: %d messages, %d unread", len(msgs), unread)
	fmt.Print(table.View(styles))
	return nil
}

func runInboxShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	msg, err := coord.GetMessage(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	styles := ui.DefaultStyles()
	fmt.Println(styles.Title.Render(msg.Subject))
	fmt.Printf("%s %s\n", styles.Muted.Render("From:   "), msg.From)
	for _, r := range msg.Recipients {
		state := "unread"
		switch {
		case r.AckedAt != nil:
			state = "acked " + age(*r.AckedAt) + " ago"
		case r.ReadAt != nil:
			state = "read " + age(*r.ReadAt) + " ago"
		}
		fmt.Printf("%s %s (%s)\n", styles.Muted.Render("To:     "), r.Callsign, state)
	}
	fmt.Printf("%s %s\n", styles.Muted.Render("Sent:   "), localTime(msg.CreatedAt))
	fmt.Printf("%s %s\n", styles.Muted.Render("Thread: "), msg.ThreadID)
	if msg.AckRequired {
		fmt.Println(styles.Warning.Render("Acknowledgement requested"))
	}
	fmt.Println()

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to the raw body when the terminal renderer is unavailable.
		fmt.Println(msg.Body)
		return nil
	}
	rendered, err := renderer.Render(msg.Body)
	if err != nil {
		fmt.Println(msg.Body)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

func runInboxRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	if _, err := coord.MarkRead(ctx, args[0], markAs); err != nil {
		return fmt.Errorf("mark read failed: %w", err)
	}
	fmt.Printf("✓ Message %s marked read by %s\n", args[0], markAs)
	return nil
}

func runInboxAck(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	coord, err := openFleet()
	if err != nil {
		return err
	}
	defer coord.Close()

	if _, err := coord.MarkAcked(ctx, args[0], markAs); err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	fmt.Printf("✓ Message %s acknowledged by %s\n", args[0], markAs)
	return nil
}
