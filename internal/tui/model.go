package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mux-mgmt/internal/client"
	"github.com/randomizedcoder/go-mux-mgmt/internal/logging"
	"github.com/randomizedcoder/go-mux-mgmt/internal/metrics"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
	"github.com/randomizedcoder/go-mux-mgmt/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries one poll of the management server.
type SnapshotMsg struct {
	Snapshot client.Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	addr       string
	metricsURL string

	// Current state
	snapshot     *client.Snapshot
	server       *metrics.ServerMetrics
	startTime    time.Time
	lastUpdate   time.Time
	selected     int
	detailedView bool

	// Display options
	width  int
	height int

	// Rolling per-input history, fed from snapshots
	history *timeseries.History

	// Server /metrics scraper (optional)
	scraper *metrics.Scraper

	// Dashboard log records (optional)
	logs *logging.RingHandler

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Addr       string
	MetricsURL string
	History    *timeseries.History
	Scraper    *metrics.Scraper
	Logs       *logging.RingHandler
}

// New creates a new TUI model.
func New(cfg Config) Model {
	history := cfg.History
	if history == nil {
		history = timeseries.NewHistory(nil)
	}
	return Model{
		addr:       cfg.Addr,
		metricsURL: cfg.MetricsURL,
		history:    history,
		scraper:    cfg.Scraper,
		logs:       cfg.Logs,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d", "enter":
			m.detailedView = !m.detailedView
			return m, nil
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < m.InputCount()-1 {
				m.selected++
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.scraper != nil {
			m.server = m.scraper.GetMetrics()
		}
		return m, tickCmd()

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// applySnapshot records a poll. A failed poll keeps the inputs of the last
// good one on screen.
func (m *Model) applySnapshot(snap client.Snapshot) {
	m.lastUpdate = snap.Time

	if snap.Err != nil && m.snapshot != nil {
		kept := *m.snapshot
		kept.Err = snap.Err
		kept.Failures = snap.Failures
		m.snapshot = &kept
		return
	}

	ids := make([]string, 0, len(snap.Inputs))
	for _, in := range snap.Inputs {
		m.history.Record(in.ID, in.Values)
		ids = append(ids, in.ID)
	}
	if snap.Err == nil {
		m.history.Retain(ids)
	}

	m.snapshot = &snap
	if m.selected >= len(snap.Inputs) {
		m.selected = max(len(snap.Inputs)-1, 0)
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && m.SelectedInput() != nil {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// InputCount returns the number of inputs in the last snapshot.
func (m Model) InputCount() int {
	if m.snapshot == nil {
		return 0
	}
	return len(m.snapshot.Inputs)
}

// SelectedInput returns the highlighted input, or nil if there is none.
func (m Model) SelectedInput() *client.Input {
	if m.snapshot == nil || m.selected < 0 || m.selected >= len(m.snapshot.Inputs) {
		return nil
	}
	return &m.snapshot.Inputs[m.selected]
}

// StateCounts returns how many inputs are in each state.
func (m Model) StateCounts() map[stats.InputState]int {
	counts := make(map[stats.InputState]int)
	if m.snapshot == nil {
		return counts
	}
	for _, in := range m.snapshot.Inputs {
		counts[in.State]++
	}
	return counts
}

// ConnStatus returns the health of the link to the server.
func (m Model) ConnStatus() ConnStatus {
	if m.snapshot == nil {
		return GetConnStatus(false, 0)
	}
	return GetConnStatus(true, m.snapshot.Failures)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot sends a poll result to the TUI.
func SendSnapshot(p *tea.Program, snap client.Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg{Snapshot: snap})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatFill formats a buffer fill level; -1 means no notification yet.
func formatFill(n int64) string {
	if n == stats.MinFillUndefined {
		return "-"
	}
	return formatNumber(n)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatSeconds formats a duration given in seconds as ms or µs.
func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second))
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatAge formats how long ago t was.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "just now"
	}
	return fmt.Sprintf("%ds ago", int(d.Seconds()))
}
