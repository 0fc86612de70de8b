package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StatusBox renders rows of label/value pairs inside a rounded border.
func StatusBox(title string, rows [][2]string) string {
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle := lipgloss.NewStyle()

	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}

	lines := []string{titleStyle.Render(title), ""}
	for _, r := range rows {
		label := r[0] + strings.Repeat(" ", width-lipgloss.Width(r[0]))
		value := r[1]
		if value == "" {
			value = "-"
		}
		lines = append(lines, keyStyle.Render(label)+"  "+valueStyle.Render(value))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
