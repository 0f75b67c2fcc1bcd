package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// MaxLineLength is the maximum length of a retained line before truncation.
	MaxLineLength = 4096

	// DefaultRingSize is the number of records a RingHandler keeps.
	DefaultRingSize = 100
)

// Line is one retained log record.
type Line struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   string
}

// String formats the line the way the dashboard shows it.
func (l Line) String() string {
	s := l.Time.Format("15:04:05") + " " + l.Level.String() + " " + l.Message
	if l.Attrs != "" {
		s += " " + l.Attrs
	}
	return s
}

// ring is the storage shared by a RingHandler and its derived handlers.
type ring struct {
	mu     sync.Mutex
	lines  []Line
	next   int
	full   bool
	counts map[slog.Level]int
}

// RingHandler is a slog.Handler that keeps the most recent records in memory
// instead of writing them out. Full-screen programs use it so that log output
// does not tear the terminal; the records are rendered inside the UI.
type RingHandler struct {
	level  slog.Leveler
	ring   *ring
	attrs  []slog.Attr
	groups []string
}

// NewRingLogger creates a logger backed by a RingHandler at the named level.
func NewRingLogger(size int, level string) (*slog.Logger, *RingHandler) {
	h := NewRingHandler(size, parseLevel(level))
	return slog.New(h), h
}

// NewRingHandler creates a handler retaining the last size records at or
// above level. A size <= 0 means DefaultRingSize.
func NewRingHandler(size int, level slog.Leveler) *RingHandler {
	if size <= 0 {
		size = DefaultRingSize
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{
		level: level,
		ring: &ring{
			lines:  make([]Line, size),
			counts: make(map[slog.Level]int),
		},
	}
}

// Enabled implements slog.Handler.
func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *RingHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	prefix := strings.Join(h.groups, ".")
	write := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		fmt.Fprintf(&b, "%s=%v", key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	line := Line{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   truncate(b.String()),
	}

	rg := h.ring
	rg.mu.Lock()
	rg.lines[rg.next] = line
	rg.next = (rg.next + 1) % len(rg.lines)
	if rg.next == 0 {
		rg.full = true
	}
	rg.counts[r.Level]++
	rg.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// Recent returns up to n of the most recent lines, oldest first.
func (h *RingHandler) Recent(n int) []Line {
	rg := h.ring
	rg.mu.Lock()
	defer rg.mu.Unlock()

	size := rg.next
	if rg.full {
		size = len(rg.lines)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Line, 0, n)
	for i := n; i > 0; i-- {
		idx := (rg.next - i + len(rg.lines)) % len(rg.lines)
		out = append(out, rg.lines[idx])
	}
	return out
}

// Count returns how many records at exactly level have been handled.
func (h *RingHandler) Count(level slog.Level) int {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	return h.ring.counts[level]
}

func truncate(s string) string {
	if len(s) > MaxLineLength {
		return s[:MaxLineLength] + "...(truncated)"
	}
	return s
}
