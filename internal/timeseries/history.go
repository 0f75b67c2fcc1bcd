package timeseries

import (
	"sort"
	"sync"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// History holds one Tracker per input id.
type History struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	clock    Clock
}

// NewHistory creates an empty history. A nil clock means the real clock.
func NewHistory(clock Clock) *History {
	if clock == nil {
		clock = realClock{}
	}
	return &History{
		trackers: make(map[string]*Tracker),
		clock:    clock,
	}
}

// Record appends a reporting window for id, creating its tracker on first
// use.
func (h *History) Record(id string, v stats.InputValues) {
	h.mu.Lock()
	tr, ok := h.trackers[id]
	if !ok {
		tr = NewTrackerWithClock(h.clock)
		h.trackers[id] = tr
	}
	h.mu.Unlock()

	tr.Record(v)
}

// Get returns the tracker of id, or nil.
func (h *History) Get(id string) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trackers[id]
}

// Retain drops the trackers of inputs not in ids.
func (h *History) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.trackers {
		if _, ok := keep[id]; !ok {
			delete(h.trackers, id)
		}
	}
}

// IDs returns the tracked ids in sorted order.
func (h *History) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.trackers))
	for id := range h.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
