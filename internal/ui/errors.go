package ui

import (
	"errors"
	"io"
	"strings"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/update"
)

// ErrorMessage represents a structured, actionable error to present to users.
type ErrorMessage struct {
	Problem string   // one-line problem statement
	Causes  []string // possible causes
	Actions []string // actionable steps to resolve
}

// ForError builds an ErrorMessage with hints matching the kind of err.
func ForError(err error) ErrorMessage {
	e := ErrorMessage{Problem: err.Error()}
	var httpErr *update.HTTPError
	switch {
	case errors.Is(err, bundle.ErrInvalidConfiguration):
		e.Causes = []string{"the client is missing a required setting"}
		e.Actions = []string{"check sparks.yaml in the home directory", "pass --deployment-key and --app-version"}
	case errors.Is(err, bundle.ErrInvalidUpdate):
		e.Causes = []string{"the downloaded package is corrupt or its signature does not match"}
		e.Actions = []string{"run 'sparks failed' to list packages that will be skipped"}
	case errors.Is(err, bundle.ErrMalformedData):
		e.Causes = []string{"a record in the home directory is corrupt"}
		e.Actions = []string{"run 'sparks clear' to reset to the binary bundle"}
	case errors.As(err, &httpErr):
		e.Causes = []string{"the update server rejected the request"}
		e.Actions = []string{"verify the server url and deployment key"}
	}
	return e
}

// Format renders the error using the color theme. It does not include ANSI
// codes when colors are disabled (NO_COLOR or dumb terminal).
func (e ErrorMessage) Format(c *ColorConfig) string {
	var b strings.Builder
	b.WriteString(c.Error("✗ "))
	b.WriteString(c.Header("Error"))
	b.WriteString("\n")
	if e.Problem != "" {
		b.WriteString("  ")
		b.WriteString(c.Label("Problem"))
		b.WriteString(": ")
		b.WriteString(e.Problem)
		b.WriteString("\n")
	}
	writeList(&b, c, "Possible causes", "•", e.Causes)
	writeList(&b, c, "Try", "→", e.Actions)
	return b.String()
}

func writeList(b *strings.Builder, c *ColorConfig, label, bullet string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("  ")
	b.WriteString(c.Label(label))
	b.WriteString(":\n")
	for _, it := range items {
		b.WriteString("   ")
		b.WriteString(bullet)
		b.WriteString(" ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}

// PrintError prints the structured error to w using the global theme.
func PrintError(w io.Writer, e ErrorMessage) {
	_, _ = io.WriteString(w, e.Format(NewColorConfigFromGlobal()))
}
