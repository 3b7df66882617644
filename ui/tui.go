package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/franksops/gorelocate/engine"
	"github.com/franksops/gorelocate/store"
)

// UIState represents the aggregated state for the TUI
type UIState struct {
	State      store.RunState
	Target     string
	Enumerated int64
	Moved      int64
	Skipped    int64
	Queued     int
	Workers    int
	Active     []string
	RatePerSec float64
	Elapsed    time.Duration
	Done       bool
	Err        error
}

// StateFromProgress converts an engine snapshot into UI state.
func StateFromProgress(p engine.Progress) *UIState {
	return &UIState{
		State:      p.State,
		Target:     p.Target,
		Enumerated: p.Enumerated,
		Moved:      p.Moved,
		Skipped:    p.Skipped,
		Queued:     p.Queued,
		Workers:    p.Workers,
		Active:     p.Active,
		RatePerSec: rate(p),
		Elapsed:    p.Elapsed,
	}
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	engineState *UIState
	spinner     spinner.Model
	progress    progress.Model
	viewport    viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State *UIState
}

func NewTUIModel(initialState *UIState) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		engineState:  initialState,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 6
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 1))

	case TUIUpdateMsg:
		m.engineState = msg.State

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	st := m.engineState
	var sb strings.Builder

	// Header
	header := fmt.Sprintf("%s Relocate %s", m.spinner.View(), m.titleStyle.Render(string(st.State)))
	sb.WriteString(header + "\n")

	opsInfo := fmt.Sprintf("Target: %s | Workers: %d | Queued: %d | %s | %s",
		st.Target, st.Workers, st.Queued, formatRate(st.RatePerSec), st.Elapsed.Round(time.Second))
	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")

	// Share of listed objects already handled; the total is unknown until listing ends.
	var percent float64
	if st.Enumerated > 0 {
		percent = float64(st.Moved+st.Skipped) / float64(st.Enumerated)
	}
	sb.WriteString(m.progress.ViewAs(percent) + "\n")
	sb.WriteString(fmt.Sprintf("Moved %d | In place %d | Listed %d\n\n", st.Moved, st.Skipped, st.Enumerated))

	// Active workers
	sb.WriteString("Workers:\n")
	var workerContent strings.Builder
	busy := 0
	for i, name := range st.Active {
		if name == "" {
			continue
		}
		busy++
		workerContent.WriteString(fmt.Sprintf("%3d | %s\n", i, m.streamStyle.Render(truncate(name, 60))))
	}
	if busy == 0 {
		workerContent.WriteString(m.infoStyle.Render("All workers idle..."))
	}

	m.viewport.SetContent(workerContent.String())
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: quit view")
	switch {
	case st.Done && st.Err != nil:
		help = m.errorStyle.Render("Relocation failed: "+st.Err.Error()) + " Press 'q' to exit."
	case st.Done:
		help = m.successStyle.Render("Relocation Complete!") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

// TUIReporter forwards engine progress to a running bubbletea program.
type TUIReporter struct {
	program *tea.Program
}

var _ engine.Reporter = (*TUIReporter)(nil)

// NewTUIReporter creates a reporter sending updates to program.
func NewTUIReporter(program *tea.Program) *TUIReporter {
	return &TUIReporter{program: program}
}

// Update sends a progress snapshot to the program.
func (r *TUIReporter) Update(p engine.Progress) {
	r.program.Send(TUIUpdateMsg{State: StateFromProgress(p)})
}

// Finish sends the final state.
func (r *TUIReporter) Finish(p engine.Progress, err error) {
	st := StateFromProgress(p)
	st.Done = true
	st.Err = err
	r.program.Send(TUIUpdateMsg{State: st})
}

// truncate keeps the last n-3 runes of s behind an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return "..." + string(runes[len(runes)-(n-3):])
}

func formatRate(perSec float64) string {
	if perSec >= 1000*1000 {
		return fmt.Sprintf("%.2f M obj/s", perSec/(1000*1000))
	} else if perSec >= 1000 {
		return fmt.Sprintf("%.2f k obj/s", perSec/1000)
	}
	return fmt.Sprintf("%.1f obj/s", perSec)
}
