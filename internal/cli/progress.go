package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/matzehuels/comfyaudit/pkg/audit"
)

// progressView receives pipeline events and shows them to the user.
// Handle is called between pipeline steps; Done must be called exactly
// once when the run finishes, successfully or not.
type progressView interface {
	Handle(audit.Event)
	Done()
}

// newProgressView picks the renderer: the bubbletea bar on a terminal,
// carriage-return lines when --plain asks for them or stderr is piped.
func (c *CLI) newProgressView(plain bool, cancel context.CancelFunc) progressView {
	if !plain && isatty.IsTerminal(os.Stderr.Fd()) {
		return newTUIView(cancel)
	}
	return &lineView{w: os.Stderr}
}

// =============================================================================
// AuditModel - Bubbletea progress for the long phases
// =============================================================================

// eventMsg carries a pipeline event into the bubbletea loop.
type eventMsg audit.Event

// doneMsg tells the model the run is over.
type doneMsg struct{}

// auditModel is the bubbletea model rendering audit progress.
type auditModel struct {
	event  audit.Event
	bar    bubblesprogress.Model
	cancel context.CancelFunc
}

func newAuditModel(cancel context.CancelFunc) auditModel {
	bar := bubblesprogress.New(bubblesprogress.WithDefaultGradient(), bubblesprogress.WithoutPercentage())
	bar.Width = 30
	return auditModel{bar: bar, cancel: cancel}
}

func (m auditModel) Init() tea.Cmd {
	return nil
}

func (m auditModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// Raw mode swallows the SIGINT ctrl+c would normally raise,
			// so the model cancels the run itself.
			m.cancel()
			return m, tea.Quit
		}
	case eventMsg:
		m.event = audit.Event(msg)
	case doneMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		width := msg.Width - 40
		if width < 10 {
			width = 10
		}
		if width > 60 {
			width = 60
		}
		m.bar.Width = width
	}
	return m, nil
}

func (m auditModel) View() string {
	var b strings.Builder
	b.WriteString(StyleDim.Render(phaseLabel(m.event)))
	if m.event.Total > 0 {
		b.WriteString("  ")
		b.WriteString(m.bar.ViewAs(float64(m.event.Current) / float64(m.event.Total)))
		b.WriteString(StyleDim.Render(fmt.Sprintf(" %d/%d", m.event.Current, m.event.Total)))
	}
	b.WriteString("\n")
	return b.String()
}

// phaseLabel names the pipeline stage for humans.
func phaseLabel(e audit.Event) string {
	switch e.Phase {
	case audit.PhaseAggregate:
		return "Scanning requirement files..."
	case audit.PhaseSnapshot:
		return "Reading installed packages..."
	case audit.PhaseResolve:
		if e.Package != "" {
			return "Resolving " + e.Package
		}
		return "Resolving versions"
	case audit.PhaseProbe:
		if e.Package != "" {
			return "Probing " + e.Package
		}
		return "Probing candidates"
	default:
		return "Working..."
	}
}

// tuiView runs the bubbletea program on stderr so stdout stays clean for
// the report.
type tuiView struct {
	prog *tea.Program
	done chan struct{}
}

func newTUIView(cancel context.CancelFunc) *tuiView {
	prog := tea.NewProgram(newAuditModel(cancel), tea.WithOutput(os.Stderr))
	v := &tuiView{prog: prog, done: make(chan struct{})}
	go func() {
		defer close(v.done)
		_, _ = prog.Run()
	}()
	return v
}

// Handle forwards an event into the running program. Send is safe even
// when the program already exited.
func (v *tuiView) Handle(e audit.Event) {
	v.prog.Send(eventMsg(e))
}

func (v *tuiView) Done() {
	v.prog.Send(doneMsg{})
	<-v.done
}

// =============================================================================
// LineView - Carriage-return fallback
// =============================================================================

// lineView prints overwriting progress lines without any TUI machinery.
type lineView struct {
	w       io.Writer
	lastLen int
}

func (v *lineView) Handle(e audit.Event) {
	line := phaseLabel(e)
	if e.Total > 0 {
		line = fmt.Sprintf("%s %d/%d", line, e.Current, e.Total)
	}
	pad := ""
	if n := v.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(v.w, "\r%s%s", line, pad)
	v.lastLen = len(line)
}

// Done clears the progress line so the report starts on a clean row.
func (v *lineView) Done() {
	if v.lastLen > 0 {
		fmt.Fprintf(v.w, "\r%s\r", strings.Repeat(" ", v.lastLen))
		v.lastLen = 0
	}
}
