package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-mux-mgmt/internal/logging"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// logLines is the number of log records shown in the footer panel.
const logLines = 5

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the input table dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderConnection())

	if m.snapshot != nil {
		sections = append(sections, m.renderInputTable())
	}

	if m.server != nil {
		sections = append(sections, m.renderServerStats())
	}

	if logs := m.renderLogs(); logs != "" {
		sections = append(sections, logs)
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the history of the selected input.
func (m Model) renderDetailedView() string {
	sections := []string{
		m.renderHeader(),
		m.renderInputDetail(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	service := "unknown service"
	if m.snapshot != nil && m.snapshot.Service != "" {
		service = m.snapshot.Service
	}

	header := fmt.Sprintf(
		" mgmt-top │ %s │ %s │ Inputs: %d │ Elapsed: %s ",
		m.addr,
		service,
		m.InputCount(),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Connection
// =============================================================================

func (m Model) renderConnection() string {
	status := m.ConnStatus()

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Server:"),
			GetConnLabel(status),
		),
	}

	if m.snapshot != nil {
		rows = append(rows, RenderKeyValue("Last Poll", formatAge(m.lastUpdate, time.Now())))
		if m.snapshot.Err != nil {
			rows = append(rows,
				lipgloss.JoinHorizontal(lipgloss.Left,
					labelStyle.Render("Error:"),
					valueBadStyle.Render(fmt.Sprintf("%v (%d failed)", m.snapshot.Err, m.snapshot.Failures)),
				),
			)
		}
		rows = append(rows, m.renderStateSummary())
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Connection")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// stateOrder is the display order of input states, worst first.
var stateOrder = []stats.InputState{
	stats.StateNoData,
	stats.StateUnstable,
	stats.StateSilence,
	stats.StateStreaming,
}

func (m Model) renderStateSummary() string {
	counts := m.StateCounts()

	parts := make([]string, 0, len(stateOrder))
	for _, s := range stateOrder {
		style := dimStyle
		if counts[s] > 0 {
			style = StateStyle(s)
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", s, counts[s])))
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("States:"),
		strings.Join(parts, mutedStyle.Render(" │ ")),
	)
}

// =============================================================================
// Input Table
// =============================================================================

func (m Model) renderInputTable() string {
	if len(m.snapshot.Inputs) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No inputs registered."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-14s %-12s %7s %7s %6s %6s %6s %6s",
			"Input", "State", "MinFill", "MaxFill", "PeakL", "PeakR", "Und/1m", "Ovr/1m"),
	)

	// Limit rows to fit the screen
	maxRows := m.height - 18
	if maxRows < 5 {
		maxRows = 5
	}

	// Keep the selected row visible
	start := 0
	if m.selected >= maxRows {
		start = m.selected - maxRows + 1
	}

	var rows []string
	for i := start; i < len(m.snapshot.Inputs); i++ {
		if i-start >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more inputs", len(m.snapshot.Inputs)-i)))
			break
		}
		in := m.snapshot.Inputs[i]

		var under, over int64
		if tr := m.history.Get(in.ID); tr != nil {
			st := tr.GetStats()
			under, over = st.Underruns1m, st.Overruns1m
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}
		if i == m.selected {
			rowStyle = tableRowSelectedStyle
		}

		row := fmt.Sprintf("%-14s %s %7s %7s %s %s %s %s",
			truncateID(in.ID, 14),
			StateStyle(in.State).Render(fmt.Sprintf("%-12s", "● "+in.State.String())),
			formatFill(in.Values.MinFill),
			formatFill(in.Values.MaxFill),
			GetLevelStyle(in.Values.PeakLeft).Render(fmt.Sprintf("%6d", in.Values.PeakLeft)),
			GetLevelStyle(in.Values.PeakRight).Render(fmt.Sprintf("%6d", in.Values.PeakRight)),
			GetGlitchStyle(under).Render(fmt.Sprintf("%6d", under)),
			GetGlitchStyle(over).Render(fmt.Sprintf("%6d", over)),
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Inputs"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func truncateID(id string, width int) string {
	r := []rune(id)
	if len(r) <= width {
		return id
	}
	return string(r[:width-1]) + "…"
}

// =============================================================================
// Input Detail
// =============================================================================

func (m Model) renderInputDetail() string {
	in := m.SelectedInput()
	if in == nil {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No input selected. Press 'd' to go back."),
		)
	}

	meterWidth := m.width - 40
	if meterWidth < 20 {
		meterWidth = 20
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("State:"),
			RenderState(in.State),
		),
		RenderKeyValue("Buffer Fill", fmt.Sprintf("%s .. %s", formatFill(in.Values.MinFill), formatFill(in.Values.MaxFill))),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Peak Left:"),
			RenderLevelMeter(in.Values.PeakLeft, meterWidth),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Peak Right:"),
			RenderLevelMeter(in.Values.PeakRight, meterWidth),
		),
	}

	if tr := m.history.Get(in.ID); tr != nil {
		st := tr.GetStats()
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Glitches (1m):"),
				GetGlitchStyle(st.Glitches1m()).Render(fmt.Sprintf("%d under, %d over", st.Underruns1m, st.Overruns1m)),
			),
			RenderKeyValue("Glitches (5m)", fmt.Sprintf("%d under, %d over", st.Underruns5m, st.Overruns5m)),
			RenderKeyValue("Glitches (total)", fmt.Sprintf("%s under, %s over",
				formatNumber(st.TotalUnderruns), formatNumber(st.TotalOverruns))),
			RenderKeyValue("Samples", fmt.Sprintf("%d", st.Samples)),
		)

		width := m.width - 26
		if width < 10 {
			width = 10
		}
		if peaks := tr.PeakHistory(width); len(peaks) > 0 {
			rows = append(rows,
				lipgloss.JoinHorizontal(lipgloss.Left,
					labelStyle.Render("Peak History:"),
					valueGoodStyle.Render(RenderSparkline(peaks)),
				),
			)
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Input " + in.ID)}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Server Metrics
// =============================================================================

func (m Model) renderServerStats() string {
	s := m.server

	if !s.Healthy && s.LastUpdate.IsZero() {
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Server Metrics"),
			dimStyle.Render(fmt.Sprintf("Waiting for %s", m.metricsURL)),
		))
	}

	loop := valueGoodStyle.Render("running")
	switch {
	case s.Fault:
		loop = valueBadStyle.Render("fault")
	case !s.Running:
		loop = valueWarnStyle.Render("stopped")
	}

	errStyle := valueGoodStyle
	if s.ErrorsTotal > 0 {
		errStyle = valueWarnStyle
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Accept Loop:"),
			loop,
		),
		RenderKeyValue("Requests", fmt.Sprintf("%s (%s)", formatNumber(int64(s.RequestsTotal)), formatRate(s.RequestRate))),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Errors:"),
			errStyle.Render(formatNumber(int64(s.ErrorsTotal))),
		),
	}

	if s.LatencyP50 > 0 {
		rows = append(rows, RenderKeyValue("Service Time",
			fmt.Sprintf("p50 %s  p95 %s  p99 %s",
				formatSeconds(s.LatencyP50), formatSeconds(s.LatencyP95), formatSeconds(s.LatencyP99))))
	}

	if !s.Healthy {
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Scrape:"),
				valueBadStyle.Render(s.Error),
			),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Server Metrics")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Logs
// =============================================================================

func (m Model) renderLogs() string {
	if m.logs == nil {
		return ""
	}
	lines := m.logs.Recent(logLines)
	if len(lines) == 0 {
		return ""
	}

	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, logStyle(l).Render(truncateID(l.String(), max(m.width-6, 20))))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Log")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func logStyle(l logging.Line) lipgloss.Style {
	switch {
	case l.Level >= slog.LevelError:
		return statusError
	case l.Level >= slog.LevelWarn:
		return statusWarning
	default:
		return mutedStyle
	}
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	help := "q: quit │ ↑/↓: select │ d: details"
	if m.detailedView {
		help = "q: quit │ ↑/↓: select │ d: back"
	}
	return footerStyle.Render(help)
}
