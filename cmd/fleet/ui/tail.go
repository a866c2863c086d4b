package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxTailLines bounds the scrollback kept by the tail view. Older lines are
// dropped once the log outgrows it.
const maxTailLines = 2000

// TailEvent is one rendered row of the live event view.
type TailEvent struct {
	Sequence int64
	Time     string
	Type     string
	Detail   string
}

// BatchMsg delivers freshly tailed events to the running program.
type BatchMsg []TailEvent

// TailModel is the bubbletea model behind `fleet events tail`.
type TailModel struct {
	viewport viewport.Model
	styles   Styles
	project  string
	consumer string

	lines     []string
	delivered int
	lastSeq   int64
	follow    bool
	ready     bool
	width     int
	height    int
}

// NewTailModel creates the tail view for one project and consumer.
func NewTailModel(project, consumer string, styles Styles) TailModel {
	return TailModel{
		styles:   styles,
		project:  project,
		consumer: consumer,
		follow:   true,
	}
}

// Init implements tea.Model.
func (m TailModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m TailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.viewport.GotoBottom()
			}
			return m, nil
		case "G":
			m.follow = true
			m.viewport.GotoBottom()
			return m, nil
		case "up", "down", "pgup", "pgdown", "k", "j":
			// Manual scrolling pauses follow until re-enabled.
			m.follow = false
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Header, divider, and footer take three rows.
		bodyHeight := msg.Height - 3
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			m.ready = true
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil

	case BatchMsg:
		for _, ev := range msg {
			m.lines = append(m.lines, m.renderLine(ev))
			m.delivered++
			m.lastSeq = ev.Sequence
		}
		if len(m.lines) > maxTailLines {
			m.lines = m.lines[len(m.lines)-maxTailLines:]
		}
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			if m.follow {
				m.viewport.GotoBottom()
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m TailModel) View() string {
	if !m.ready {
		return m.styles.Muted.Render("waiting for terminal size...")
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.Badge.Render("FLEET TAIL"),
		m.styles.Body.Render(" "+m.project),
		m.styles.Muted.Render("  consumer="+m.consumer),
	)

	followState := "following"
	if !m.follow {
		followState = "paused"
	}
	footer := m.styles.Footer.Render(fmt.Sprintf(
		"%d events · seq %d · %s · f follow · G bottom · q quit",
		m.delivered, m.lastSeq, followState,
	))

	return header + "\n" + m.styles.RenderDivider(m.width) + "\n" +
		m.viewport.View() + "\n" + footer
}

func (m TailModel) renderLine(ev TailEvent) string {
	seq := m.styles.Muted.Render(fmt.Sprintf("%7d", ev.Sequence))
	ts := m.styles.Muted.Render(ev.Time)
	tag := m.eventStyle(ev.Type).Render(fmt.Sprintf("%-22s", ev.Type))
	return seq + "  " + ts + "  " + tag + " " + m.styles.Body.Render(ev.Detail)
}

// eventStyle colors an event tag by its family: diagnostics red, pilot
// lifecycle blue, checkpoints and recovery green.
func (m TailModel) eventStyle(eventType string) lipgloss.Style {
	switch {
	case strings.Contains(eventType, "violation") || strings.Contains(eventType, "conflict"):
		return m.styles.Error
	case strings.Contains(eventType, "blocked"):
		return m.styles.Warning
	case strings.HasPrefix(eventType, "pilot_"):
		return m.styles.Info
	case strings.HasPrefix(eventType, "checkpoint") || strings.Contains(eventType, "recovered"):
		return m.styles.Success
	default:
		return m.styles.Bold
	}
}
