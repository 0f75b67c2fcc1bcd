// Package tui provides a live terminal dashboard for a mux management
// server.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Per-input state, buffer fill and audio levels
// - Rolling underrun/overrun counts
// - Management request rate and service time (when /metrics is scraped)
// - Recent log lines of the dashboard itself
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
	colorSelected  = lipgloss.Color("#312E81") // Indigo
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)
)

// =============================================================================
// Meter Styles
// =============================================================================

var (
	meterEmptyStyle = lipgloss.NewStyle().
			Foreground(colorBorder)

	meterPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// Table Styles
// =============================================================================

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	tableRowEvenStyle = lipgloss.NewStyle().
				Foreground(colorText)

	tableRowOddStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)

	tableRowSelectedStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Background(colorSelected)
)

// =============================================================================
// Input State Indicator
// =============================================================================

// StateStyle returns the style of an input state.
func StateStyle(s stats.InputState) lipgloss.Style {
	switch s {
	case stats.StateStreaming:
		return statusOK
	case stats.StateSilence:
		return statusInfo
	case stats.StateUnstable:
		return statusWarning
	case stats.StateNoData:
		return statusError
	default:
		return mutedStyle
	}
}

// RenderState renders a colored state label.
func RenderState(s stats.InputState) string {
	return StateStyle(s).Render("● " + s.String())
}

// =============================================================================
// Connection Indicator
// =============================================================================

// ConnStatus is the health of the link to the management server.
type ConnStatus int

const (
	ConnStatusWaiting ConnStatus = iota
	ConnStatusOK
	ConnStatusRetrying
	ConnStatusDown
)

// downAfter is the number of consecutive failed polls after which the
// server is shown as down rather than retrying.
const downAfter = 3

// GetConnStatus returns the status given the consecutive failure count of
// the last poll. polled is false before the first poll completes.
func GetConnStatus(polled bool, failures int) ConnStatus {
	switch {
	case !polled:
		return ConnStatusWaiting
	case failures == 0:
		return ConnStatusOK
	case failures < downAfter:
		return ConnStatusRetrying
	default:
		return ConnStatusDown
	}
}

// GetConnLabel returns a styled label for a connection status.
func GetConnLabel(status ConnStatus) string {
	switch status {
	case ConnStatusOK:
		return statusOK.Render("● Connected")
	case ConnStatusRetrying:
		return statusWarning.Render("● Retrying")
	case ConnStatusDown:
		return statusError.Render("● Down")
	default:
		return mutedStyle.Render("● Connecting")
	}
}

// =============================================================================
// Audio Level Indicator
// =============================================================================

// clipLevelDB is the level at or above which a peak is shown as clipping.
const clipLevelDB = -1

// GetLevelStyle returns a style for a peak level in dBFS.
func GetLevelStyle(db int) lipgloss.Style {
	switch {
	case db >= clipLevelDB:
		return valueBadStyle
	case db >= stats.DefaultSilenceLevelDB:
		return valueGoodStyle
	default:
		return dimStyle
	}
}

// GetGlitchStyle returns a style for a glitch count.
func GetGlitchStyle(n int64) lipgloss.Style {
	switch {
	case n == 0:
		return valueGoodStyle
	case n < stats.DefaultUnstableThreshold:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderLevelMeter renders a peak level between the silence floor and full
// scale as a bar.
func RenderLevelMeter(db int, width int) string {
	if width < 10 {
		width = 10
	}

	level := float64(db-stats.SilenceFloorDB) / float64(-stats.SilenceFloorDB)
	filled := int(level * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := GetLevelStyle(db).Render(repeatChar('█', filled)) +
		meterEmptyStyle.Render(repeatChar('░', width-filled))

	return bar + meterPercentStyle.Render(fmt.Sprintf(" %4d dB", db))
}

// sparkBlocks are the glyphs of a sparkline, lowest first.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// RenderSparkline renders peak levels in dBFS as a one-line chart.
func RenderSparkline(levels []int) string {
	out := make([]rune, len(levels))
	top := len(sparkBlocks) - 1
	for i, db := range levels {
		idx := (db - stats.SilenceFloorDB) * top / -stats.SilenceFloorDB
		if idx < 0 {
			idx = 0
		}
		if idx > top {
			idx = top
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
