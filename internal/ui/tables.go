package ui

import (
	"regexp"
	"strings"
)

// Table renders a simple monospaced table with optional colorization using ColorConfig.
// Column widths are computed from the data and capped at maxWidth.
func Table(c *ColorConfig, headers []string, rows [][]string) string {
	const maxWidth = 64
	w := make([]int, len(headers))
	for i := range headers {
		w[i] = len(headers[i])
	}
	for _, r := range rows {
		for i := range r {
			if i >= len(w) {
				continue
			}
			if l := len([]rune(r[i])); l > w[i] {
				w[i] = min(l, maxWidth)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(padCell(c.Label(h), w[i]))
	}
	b.WriteString("\n")
	sepLen := 0
	for i := range w {
		sepLen += w[i]
		if i < len(w)-1 {
			sepLen += 2
		}
	}
	b.WriteString(c.Separator(sepLen))
	b.WriteString("\n")
	for _, r := range rows {
		for i := range w {
			if i > 0 {
				b.WriteString("  ")
			}
			cell := ""
			if i < len(r) {
				cell = r[i]
			}
			if rs := []rune(cell); len(rs) > maxWidth {
				cell = string(rs[:maxWidth-1]) + "…"
			}
			b.WriteString(padCell(c.Value(cell), w[i]))
		}
		b.WriteString("\n")
	}
	return b.String()
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func visibleLen(s string) int {
	plain := ansiRE.ReplaceAllString(s, "")
	return len([]rune(plain))
}

func padCell(s string, width int) string {
	v := visibleLen(s)
	if v >= width {
		return s
	}
	return s + strings.Repeat(" ", width-v)
}
