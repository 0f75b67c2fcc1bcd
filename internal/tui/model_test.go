package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mux-mgmt/internal/client"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// =============================================================================
// Fixtures
// =============================================================================

func testSnapshot(inputs ...client.Input) client.Snapshot {
	return client.Snapshot{
		Time:    time.Now(),
		Service: "mux 1.0 MGMT Server",
		Inputs:  inputs,
	}
}

func testInput(id string, state stats.InputState, underruns int64) client.Input {
	return client.Input{
		ID: id,
		Values: stats.InputValues{
			MinFill:      100,
			MaxFill:      4000,
			PeakLeft:     -12,
			PeakRight:    -14,
			NumUnderruns: underruns,
		},
		State: state,
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{Addr: "127.0.0.1:12720"})

	if model.addr != "127.0.0.1:12720" {
		t.Errorf("addr = %s, want 127.0.0.1:12720", model.addr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
	if model.history == nil {
		t.Error("history should default to an empty History")
	}
	if model.ConnStatus() != ConnStatusWaiting {
		t.Errorf("ConnStatus() = %v, want waiting", model.ConnStatus())
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"j", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var msg tea.KeyMsg
			switch tt.key {
			case "ctrl+c":
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			case "esc":
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			default:
				msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			}

			model := update(t, New(Config{}), msg)
			if model.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", model.quitting, tt.wantQuit)
			}
		})
	}
}

func TestModel_Update_Selection(t *testing.T) {
	m := New(Config{})
	m = update(t, m, SnapshotMsg{Snapshot: testSnapshot(
		testInput("a", stats.StateStreaming, 0),
		testInput("b", stats.StateNoData, 0),
	)})

	down := tea.KeyMsg{Type: tea.KeyDown}
	up := tea.KeyMsg{Type: tea.KeyUp}

	m = update(t, m, down)
	if m.SelectedInput().ID != "b" {
		t.Errorf("after down, selected = %s, want b", m.SelectedInput().ID)
	}

	// Stays on the last row
	m = update(t, m, down)
	if m.SelectedInput().ID != "b" {
		t.Errorf("after second down, selected = %s, want b", m.SelectedInput().ID)
	}

	m = update(t, m, up)
	m = update(t, m, up)
	if m.SelectedInput().ID != "a" {
		t.Errorf("after up, selected = %s, want a", m.SelectedInput().ID)
	}
}

func TestModel_Update_ToggleDetail(t *testing.T) {
	m := New(Config{})
	toggle := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	m = update(t, m, toggle)
	if !m.detailedView {
		t.Error("d should enable the detailed view")
	}
	m = update(t, m, toggle)
	if m.detailedView {
		t.Error("second d should disable the detailed view")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	_, cmd := New(Config{}).Update(TickMsg(time.Now()))
	if cmd == nil {
		t.Error("TickMsg should schedule the next tick")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	m := update(t, New(Config{}), QuitMsg{})
	if !m.quitting {
		t.Error("QuitMsg should set quitting")
	}
	if m.View() != "" {
		t.Error("View() should be empty while quitting")
	}
}

// =============================================================================
// Tests: Snapshots
// =============================================================================

func TestModel_Snapshot_RecordsHistory(t *testing.T) {
	m := New(Config{})

	for i := 0; i < 3; i++ {
		m = update(t, m, SnapshotMsg{Snapshot: testSnapshot(
			testInput("a", stats.StateUnstable, 2),
			testInput("b", stats.StateStreaming, 0),
		)})
	}

	tr := m.history.Get("a")
	if tr == nil {
		t.Fatal("history should track input a")
	}
	if got := tr.GetStats().Underruns1m; got != 6 {
		t.Errorf("Underruns1m = %d, want 6", got)
	}

	counts := m.StateCounts()
	if counts[stats.StateUnstable] != 1 || counts[stats.StateStreaming] != 1 {
		t.Errorf("StateCounts() = %v", counts)
	}
	if m.ConnStatus() != ConnStatusOK {
		t.Errorf("ConnStatus() = %v, want ok", m.ConnStatus())
	}
}

func TestModel_Snapshot_DropsRemovedInputs(t *testing.T) {
	m := New(Config{})
	m = update(t, m, SnapshotMsg{Snapshot: testSnapshot(
		testInput("a", stats.StateStreaming, 0),
		testInput("b", stats.StateStreaming, 0),
	)})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})

	m = update(t, m, SnapshotMsg{Snapshot: testSnapshot(
		testInput("a", stats.StateStreaming, 0),
	)})

	if m.history.Get("b") != nil {
		t.Error("history of removed input should be dropped")
	}
	if m.SelectedInput() == nil || m.SelectedInput().ID != "a" {
		t.Error("selection should move back onto the remaining input")
	}
}

func TestModel_Snapshot_FailureKeepsInputs(t *testing.T) {
	m := New(Config{})
	m = update(t, m, SnapshotMsg{Snapshot: testSnapshot(
		testInput("a", stats.StateStreaming, 0),
	)})

	for failures := 1; failures <= downAfter; failures++ {
		m = update(t, m, SnapshotMsg{Snapshot: client.Snapshot{
			Time:     time.Now(),
			Err:      errors.New("connection refused"),
			Failures: failures,
		}})
	}

	if m.InputCount() != 1 {
		t.Errorf("InputCount() = %d, want 1 after failed polls", m.InputCount())
	}
	if m.history.Get("a") == nil {
		t.Error("history should survive failed polls")
	}
	if m.ConnStatus() != ConnStatusDown {
		t.Errorf("ConnStatus() = %v, want down", m.ConnStatus())
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatFill(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{stats.MinFillUndefined, "-"},
		{0, "0"},
		{512, "512"},
		{8192, "8.2K"},
	}
	for _, tt := range tests {
		if got := formatFill(tt.n); got != tt.want {
			t.Errorf("formatFill(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		s    float64
		want string
	}{
		{0.0005, "500 µs"},
		{0.012, "12 ms"},
		{1.5, "1500 ms"},
	}
	for _, tt := range tests {
		if got := formatSeconds(tt.s); got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	if got := formatAge(time.Time{}, now); got != "never" {
		t.Errorf("formatAge(zero) = %q, want never", got)
	}
	if got := formatAge(now, now); got != "just now" {
		t.Errorf("formatAge(now) = %q, want just now", got)
	}
	if got := formatAge(now.Add(-5*time.Second), now); got != "5s ago" {
		t.Errorf("formatAge(-5s) = %q, want 5s ago", got)
	}
}
