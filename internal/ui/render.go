package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/sobelx/internal/protocol"
)

// Outcome renders an authentication outcome as a human sentence.
func Outcome(outcome string) string {
	switch outcome {
	case protocol.AuthSuccess:
		return Styles.OK("Login successful")
	case protocol.AccountCreated:
		return Styles.OK("New account created")
	case protocol.AuthFailed:
		return Styles.Err("Wrong password for this username")
	default:
		return Styles.Warn("Unexpected server reply: " + outcome)
	}
}

// Table lays rows out in left-aligned columns under a styled header.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var b strings.Builder
	b.WriteString(Styles.Title(formatRow(header, widths)))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(formatRow(row, widths))
		b.WriteString("\n")
	}
	return b.String()
}

func formatRow(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}
