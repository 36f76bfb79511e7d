package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives a bubbletea program for interactive terminals.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	tracker *Tracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails on non-TTY outputs
// so NewRenderer can fall back to plain mode.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a terminal")
	}
	tracker := NewTracker()
	model := newIndexModel(tracker, cfg.Root)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) Update(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Phase != r.tracker.Stats().Phase {
		r.tracker.SetPhase(p.Phase, p.Total)
	}
	r.tracker.Update(p.Current, p.Path)
	if r.program != nil {
		r.program.Send(progressMsg(p))
	}
}

func (r *TUIRenderer) Fail(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddFailure(f)
	if r.program != nil {
		r.program.Send(failureMsg(f))
	}
}

func (r *TUIRenderer) Done(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetPhase(PhaseDone, 0)
	if r.program != nil {
		r.program.Send(doneMsg(s))
	}
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			// A wedged terminal must not hang the process.
		}
	}
	return nil
}

type progressMsg Progress
type failureMsg Failure
type doneMsg Summary
type tickMsg time.Time

// indexModel is the bubbletea model for an index run.
type indexModel struct {
	tracker  *Tracker
	root     string
	width    int
	quitting bool
	finished bool
	summary  Summary
	spin     spinner.Model
	bar      progress.Model
	styles   Styles
}

func newIndexModel(tracker *Tracker, root string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAmber))

	b := progress.New(
		progress.WithSolidFill(colorAmber),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexModel{
		tracker: tracker,
		root:    root,
		width:   80,
		spin:    s,
		bar:     b,
		styles:  DefaultStyles(),
	}
}

func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 20
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}
	case doneMsg:
		m.finished = true
		m.summary = Summary(msg)
		return m, tea.Quit
	case progressMsg, failureMsg:
		// State lives in the tracker; messages just trigger a redraw.
		return m, nil
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.finished {
		return m.renderSummary()
	}

	var b strings.Builder
	title := "quarry"
	if m.root != "" {
		title = "quarry " + m.styles.Label.Render(m.root)
	}
	b.WriteString(m.styles.Header.Render(title))
	b.WriteString("\n\n")
	b.WriteString(m.renderPhases())
	b.WriteString("\n\n")
	b.WriteString(m.renderProgress())

	stats := m.tracker.Stats()
	if stats.Path != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Dim.Render(truncatePath(stats.Path, m.width-4)))
	}
	if stats.Failures > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Warning.Render(
			fmt.Sprintf("%d files failed", stats.Failures)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *indexModel) renderPhases() string {
	current := m.tracker.Stats().Phase
	phases := []Phase{PhaseScanning, PhaseIndexing, PhaseReconciling}

	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		var icon string
		var style lipgloss.Style
		switch {
		case p < current:
			icon, style = "●", m.styles.Success
		case p == current:
			icon, style = m.spin.View(), m.styles.Active
		default:
			icon, style = "○", m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+p.String()))
	}
	return strings.Join(parts, m.styles.Dim.Render("  "))
}

func (m *indexModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spin.View(), stats.Phase.String())
	}

	bar := m.bar.ViewAs(stats.Fraction)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Fraction*100))
	line := fmt.Sprintf("%s  %s", bar, pct)

	detail := fmt.Sprintf("%d / %d files", stats.Current, stats.Total)
	if stats.Rate > 0 {
		detail += fmt.Sprintf("  @ %.0f/s", stats.Rate)
	}
	if stats.ETA > 0 {
		detail += "  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(detail)
}

func (m *indexModel) renderSummary() string {
	s := m.summary
	line := fmt.Sprintf("Indexed %d files (%d unchanged, %d removed) in %s",
		s.FilesIndexed, s.FilesSkipped, s.FilesRemoved,
		s.Duration.Round(10*time.Millisecond))
	out := m.styles.Success.Render("✓ ") + line + "\n"
	if s.FilesFailed > 0 {
		out += m.styles.Error.Render(fmt.Sprintf("%d files failed\n", s.FilesFailed))
	}
	return out
}

func truncatePath(path string, max int) string {
	if max < 8 || len(path) <= max {
		return path
	}
	return "…" + path[len(path)-max+1:]
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}
