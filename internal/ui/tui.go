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

// TUIRenderer drives a bubbletea progress view for interactive terminals.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *maintModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when output is not a TTY so
// NewRenderer can fall back to plain mode.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newMaintModel(cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
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
	opts = append(opts, tea.WithContext(ctx))

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			// Unresponsive view must not hang the process on Ctrl+C.
		}
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(msg)
	}
}

// OnRunStart implements coordinator.Coordinator.
func (r *TUIRenderer) OnRunStart(database string, collections int) {
	r.send(runStartMsg{database: database, collections: collections})
}

// OnCollectionStart implements coordinator.Coordinator.
func (r *TUIRenderer) OnCollectionStart(collection string, indexCount int) {
	r.send(collStartMsg{collection: collection, indexes: indexCount})
}

// OnIndexStart implements coordinator.Coordinator.
func (r *TUIRenderer) OnIndexStart(collection, index string, sizeMB int64) {
	r.send(indexStartMsg{collection: collection, index: index, sizeMB: sizeMB})
}

// OnIndexComplete implements coordinator.Coordinator.
func (r *TUIRenderer) OnIndexComplete(collection, index string, seconds float64, success bool) {
	r.send(indexDoneMsg{success: success})
}

// OnCollectionComplete implements coordinator.Coordinator.
func (r *TUIRenderer) OnCollectionComplete(collection string, reclaimedMB int64, seconds float64) {
	r.send(collDoneMsg{reclaimedMB: reclaimedMB})
}

// OnRunComplete implements coordinator.Coordinator.
func (r *TUIRenderer) OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string) {
	r.send(runDoneMsg{reclaimedMB: reclaimedMB, seconds: seconds, success: success, warning: warning})
}

// OnError implements coordinator.Coordinator.
func (r *TUIRenderer) OnError(message, context string) {
	r.send(errorMsg{message: message})
}

// Message types.
type runStartMsg struct {
	database    string
	collections int
}
type collStartMsg struct {
	collection string
	indexes    int
}
type indexStartMsg struct {
	collection string
	index      string
	sizeMB     int64
}
type indexDoneMsg struct{ success bool }
type collDoneMsg struct{ reclaimedMB int64 }
type runDoneMsg struct {
	reclaimedMB int64
	seconds     float64
	success     bool
	warning     string
}
type errorMsg struct{ message string }

// maintModel is the bubbletea model for a maintenance run.
type maintModel struct {
	title  string
	styles Styles

	width  int
	height int

	database        string
	collections     int
	collectionsDone int
	collection      string
	collIndexes     int
	collIndexesDone int
	currentIndex    string
	currentSizeMB   int64
	reclaimedMB     int64
	failures        int
	errors          int

	quitting bool
	complete bool
	result   runDoneMsg

	spinner     spinner.Model
	progressBar progress.Model
}

func newMaintModel(title string) *maintModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &maintModel{
		title:       title,
		styles:      DefaultStyles(),
		spinner:     s,
		progressBar: p,
		width:       80,
		height:      24,
	}
}

// Init implements tea.Model.
func (m *maintModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *maintModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case runStartMsg:
		m.database = msg.database
		m.collections = msg.collections

	case collStartMsg:
		m.collection = msg.collection
		m.collIndexes = msg.indexes
		m.collIndexesDone = 0
		m.currentIndex = ""

	case indexStartMsg:
		m.currentIndex = msg.index
		m.currentSizeMB = msg.sizeMB

	case indexDoneMsg:
		m.collIndexesDone++
		if !msg.success {
			m.failures++
		}
		m.currentIndex = ""

	case collDoneMsg:
		m.collectionsDone++
		m.reclaimedMB += msg.reclaimedMB

	case runDoneMsg:
		m.complete = true
		m.result = msg
		return m, tea.Quit

	case errorMsg:
		m.errors++

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *maintModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var lines []string

	header := m.title
	if m.database != "" {
		header = fmt.Sprintf("%s • %s", m.title, m.database)
	}
	lines = append(lines, m.styles.Header.Render(header))
	lines = append(lines, m.divider(contentWidth))

	// Collection progress across the database.
	if m.collections > 0 {
		pct := float64(m.collectionsDone) / float64(m.collections)
		lines = append(lines, m.progressBar.ViewAs(pct))
		lines = append(lines, m.styles.Label.Render(
			fmt.Sprintf("%d / %d collections", m.collectionsDone, m.collections)))
	} else {
		lines = append(lines, fmt.Sprintf("%s preparing...", m.spinner.View()))
	}

	// Current work line.
	if m.collection != "" {
		work := fmt.Sprintf("%s %s", m.spinner.View(), m.collection)
		if m.currentIndex != "" {
			work += m.styles.Label.Render(fmt.Sprintf("  %s (%s)", m.currentIndex, mb(m.currentSizeMB)))
		} else if m.collIndexes > 0 {
			work += m.styles.Label.Render(fmt.Sprintf("  %d/%d indexes", m.collIndexesDone, m.collIndexes))
		}
		lines = append(lines, m.divider(contentWidth))
		lines = append(lines, work)
	}

	if m.reclaimedMB > 0 {
		lines = append(lines, m.styles.Success.Render(fmt.Sprintf("reclaimed %s", mb(m.reclaimedMB))))
	}

	content := strings.Join(lines, "\n")
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth)

	return panel.Render(content) + "\n" + m.statusBar()
}

func (m *maintModel) divider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *maintModel) statusBar() string {
	var parts []string
	if m.failures > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed indexes", m.failures)))
	}
	if m.errors > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d errors", m.errors)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + m.styles.Dim.Render("  │  q to quit")
}

func (m *maintModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var lines []string
	if m.result.success {
		lines = append(lines, m.styles.Success.Render("✓ Maintenance Complete"))
	} else {
		lines = append(lines, m.styles.Error.Render("✗ Finished With Failures"))
	}
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s %s",
		m.styles.Label.Render("Reclaimed:"),
		m.styles.Active.Render(mb(m.result.reclaimedMB))))
	lines = append(lines, fmt.Sprintf("%s  %s",
		m.styles.Label.Render("Duration:"),
		m.styles.Active.Render(secs(m.result.seconds))))
	if m.result.warning != "" {
		lines = append(lines, "")
		lines = append(lines, m.styles.Warning.Render("⚠ "+m.result.warning))
	}

	borderColor := ColorLime
	if !m.result.success {
		borderColor = ColorRed
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(borderColor)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

var _ Renderer = (*TUIRenderer)(nil)
