// Package timeseries keeps rolling per-input history for the dashboard.
//
// The management server reports counts per reporting window and resets them
// on every read, so a poller sees deltas. A Tracker turns those deltas back
// into totals over fixed time windows (1m, 5m) and keeps the recent peak
// levels for a sparkline.
//
// Thread-safe: every Tracker method acquires its lock.
// Memory: at most maxSamples samples per input.
package timeseries

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

const (
	// maxSamples is the number of samples to retain per input
	// (5 minutes at 1 sample/sec).
	maxSamples = 300

	// Window durations for rolling totals
	Window1m = 1 * time.Minute
	Window5m = 5 * time.Minute
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Sample is one reporting window of one input.
type Sample struct {
	Time      time.Time
	Underruns int64
	Overruns  int64
	PeakLeft  int
	PeakRight int
	MaxFill   int64
}

// Peak returns the louder channel of the sample.
func (s Sample) Peak() int {
	return max(s.PeakLeft, s.PeakRight)
}

// TrackerStats contains rolling totals at a point in time.
type TrackerStats struct {
	Underruns1m int64
	Overruns1m  int64
	Underruns5m int64
	Overruns5m  int64

	// Totals since tracking started
	TotalUnderruns int64
	TotalOverruns  int64

	// Last is the most recent sample, zero if none.
	Last    Sample
	Samples int
}

// Glitches1m returns underruns plus overruns over the last minute.
func (s TrackerStats) Glitches1m() int64 {
	return s.Underruns1m + s.Overruns1m
}

// Tracker accumulates the reporting windows of one input.
//
// Usage:
//
//	tracker := NewTracker()
//	tracker.Record(values) // once per poll
//	stats := tracker.GetStats()
type Tracker struct {
	mu      sync.RWMutex
	samples *queue.Queue // of Sample, oldest first

	totalUnderruns int64
	totalOverruns  int64

	clock Clock
}

// NewTracker creates a tracker with the real clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(realClock{})
}

// NewTrackerWithClock creates a tracker with a custom clock for testing.
func NewTrackerWithClock(clock Clock) *Tracker {
	return &Tracker{
		samples: queue.New(),
		clock:   clock,
	}
}

// Record appends one reporting window.
func (t *Tracker) Record(v stats.InputValues) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples.Add(Sample{
		Time:      now,
		Underruns: v.NumUnderruns,
		Overruns:  v.NumOverruns,
		PeakLeft:  v.PeakLeft,
		PeakRight: v.PeakRight,
		MaxFill:   v.MaxFill,
	})
	t.totalUnderruns += v.NumUnderruns
	t.totalOverruns += v.NumOverruns

	t.evict(now)
}

// evict drops samples beyond maxSamples or older than the longest window.
// Must be called with mu held.
func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-Window5m)
	for t.samples.Length() > 0 {
		oldest := t.samples.Peek().(Sample)
		if t.samples.Length() <= maxSamples && oldest.Time.After(cutoff) {
			return
		}
		t.samples.Remove()
	}
}

// GetStats computes the rolling totals.
func (t *Tracker) GetStats() TrackerStats {
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := TrackerStats{
		TotalUnderruns: t.totalUnderruns,
		TotalOverruns:  t.totalOverruns,
		Samples:        t.samples.Length(),
	}
	if out.Samples == 0 {
		return out
	}
	out.Last = t.samples.Get(-1).(Sample)

	cut1m := now.Add(-Window1m)
	cut5m := now.Add(-Window5m)

	// Newest to oldest; stop once outside the longest window
	for i := out.Samples - 1; i >= 0; i-- {
		s := t.samples.Get(i).(Sample)
		if !s.Time.After(cut5m) {
			break
		}
		out.Underruns5m += s.Underruns
		out.Overruns5m += s.Overruns
		if s.Time.After(cut1m) {
			out.Underruns1m += s.Underruns
			out.Overruns1m += s.Overruns
		}
	}
	return out
}

// PeakHistory returns the louder-channel peak of the last n samples,
// oldest first.
func (t *Tracker) PeakHistory(n int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	length := t.samples.Length()
	if n > length {
		n = length
	}
	out := make([]int, 0, n)
	for i := length - n; i < length; i++ {
		out = append(out, t.samples.Get(i).(Sample).Peak())
	}
	return out
}

// Reset clears all data.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = queue.New()
	t.totalUnderruns = 0
	t.totalOverruns = 0
}

// SampleCount returns the number of retained samples.
func (t *Tracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.samples.Length()
}
