package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SimpleTable renders static tabular data for one-shot CLI commands.
type SimpleTable struct {
	Title   string
	Headers []string
	Rows    [][]string
	// Footer is rendered muted below the rows, typically a count line.
	Footer string
	// EmptyNote replaces the body when there are no rows.
	EmptyNote string
}

// NewSimpleTable creates a table with the given title and header columns.
func NewSimpleTable(title string, headers ...string) *SimpleTable {
	return &SimpleTable{
		Title:   title,
		Headers: headers,
	}
}

// AddRow appends one row. Short rows leave trailing columns blank.
func (t *SimpleTable) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// View renders the table using the provided styles.
func (t *SimpleTable) View(styles Styles) string {
	var sb strings.Builder

	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}

	if len(t.Rows) == 0 {
		note := t.EmptyNote
		if note == "" {
			note = "(none)"
		}
		sb.WriteString(styles.Muted.Render("  " + note))
		sb.WriteString("\n")
		return sb.String()
	}

	// Column widths track the widest cell, measured with lipgloss so that
	// styled content sizes correctly.
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	headerStyle := styles.Bold.Padding(0, 1)
	rowStyle := styles.Body.Padding(0, 1)
	sepStyle := styles.Muted

	for i, h := range t.Headers {
		sb.WriteString(headerStyle.Width(widths[i]).Render(h))
		if i < len(t.Headers)-1 {
			sb.WriteString(sepStyle.Render("|"))
		}
	}
	sb.WriteString("\n")

	total := len(t.Headers) - 1
	for _, w := range widths {
		total += w
	}
	sb.WriteString(sepStyle.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			sb.WriteString(rowStyle.Width(widths[i]).Render(cell))
			if i < len(row)-1 && i < len(t.Headers)-1 {
				sb.WriteString(sepStyle.Render("|"))
			}
		}
		sb.WriteString("\n")
	}

	if t.Footer != "" {
		sb.WriteString(styles.Muted.Render(t.Footer))
		sb.WriteString("\n")
	}

	return sb.String()
}
