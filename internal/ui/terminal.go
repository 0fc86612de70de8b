package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// InitTerminal must run before the first lipgloss render. A preset
// COLORFGBG stops termenv from asking the terminal for its background
// color, whose answer would otherwise land in the command output.
func InitTerminal() {
	if os.Getenv("COLORFGBG") == "" {
		_ = os.Setenv("COLORFGBG", "0;15")
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// restoreTerminal shows the cursor again and returns to column zero once
// the sync view has exited.
func restoreTerminal(out io.Writer) {
	if isTerminal(out) {
		fmt.Fprint(out, "\033[?25h\r")
	}
}
