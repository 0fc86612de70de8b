package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type statusMsg string

type progressMsg struct{ received, total int64 }

type doneMsg struct {
	final string
	err   error
}

// syncModel is the Bubble Tea model behind SyncView.
type syncModel struct {
	spinner  spinner.Model
	status   string
	received int64
	total    int64
	final    string
	err      error
	done     bool
}

func newSyncModel() syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return syncModel{spinner: s, status: "starting"}
}

func (m syncModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case progressMsg:
		m.received, m.total = msg.received, msg.total
		return m, nil
	case doneMsg:
		m.final, m.err, m.done = msg.final, msg.err, true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m syncModel) View() string {
	if m.done {
		if m.err != nil {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("✗ "+m.final+": "+m.err.Error()) + "\n"
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓ "+m.final) + "\n"
	}
	line := m.spinner.View() + " " + lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Render(m.status)
	if m.received > 0 {
		if m.total > 0 {
			line += fmt.Sprintf("  %s/%s", FormatBytes(m.received), FormatBytes(m.total))
		} else {
			line += "  " + FormatBytes(m.received)
		}
	}
	return line + "\n"
}

// SyncView shows the progress of a sync. On a terminal it renders a
// spinner; otherwise every status change is printed on its own line.
type SyncView struct {
	out      io.Writer
	program  *tea.Program
	finished chan struct{}
	last     string
}

func NewSyncView(out io.Writer) *SyncView {
	v := &SyncView{out: out}
	if isTerminal(out) {
		v.program = tea.NewProgram(newSyncModel(),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		)
	}
	return v
}

// Start begins rendering. It must be paired with Finish.
func (v *SyncView) Start() {
	if v.program == nil {
		return
	}
	v.finished = make(chan struct{})
	go func() {
		_, _ = v.program.Run()
		close(v.finished)
	}()
}

func (v *SyncView) Status(status string) {
	if v.program != nil {
		v.program.Send(statusMsg(status))
		return
	}
	if status != v.last {
		fmt.Fprintf(v.out, "  %s\n", status)
		v.last = status
	}
}

// Progress has the signature of a package download progress callback.
func (v *SyncView) Progress(received, total int64) {
	if v.program != nil {
		v.program.Send(progressMsg{received: received, total: total})
	}
}

// Finish prints the outcome and restores the terminal.
func (v *SyncView) Finish(final string, err error) {
	if v.program == nil {
		if err != nil {
			fmt.Fprintf(v.out, "%s: %v\n", final, err)
		} else {
			fmt.Fprintln(v.out, final)
		}
		return
	}
	v.program.Send(doneMsg{final: final, err: err})
	<-v.finished
	restoreTerminal(v.out)
}
