package stats

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrDuplicateInput is returned when an id is registered twice.
var ErrDuplicateInput = errors.New("input already registered")

// StateReport is the state encoding of one input.
type StateReport struct {
	State InputState `json:"state"`
}

// ValuesReport wraps the value encoding of one input.
type ValuesReport struct {
	InputStat InputValues `json:"inputstat"`
}

// Registry is the directory of live inputs.
//
// Thread-safe: mu guards membership only. Each InputStats has its own lock,
// so a producer updating its counters never contends with a membership
// change. The registry does not own the inputs; an input must Close itself
// before it is discarded.
//
// One Registry is created at startup and passed to every component that
// needs it. It lives until the process exits.
type Registry struct {
	mu     sync.Mutex
	inputs map[string]*InputStats
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		inputs: make(map[string]*InputStats),
		logger: logger,
	}
}

// Register adds an input. A duplicate id is logged and rejected; the
// original entry is kept.
func (r *Registry) Register(s *InputStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, ok := r.inputs[id]; ok {
		r.logger.Error("duplicate_registration", "input_id", id)
		return ErrDuplicateInput
	}
	r.inputs[id] = s
	r.logger.Debug("input_registered", "input_id", id)
	return nil
}

// Unregister removes an input. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inputs[id]; ok {
		delete(r.inputs, id)
		r.logger.Debug("input_unregistered", "input_id", id)
	}
}

// IsRegistered reports whether id is registered.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inputs[id]
	return ok
}

// Len returns the number of registered inputs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedIDs()
}

// SnapshotValues returns the value encoding of every input and starts a new
// reporting window for each of them.
func (r *Registry) SnapshotValues() map[string]ValuesReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]ValuesReport, len(r.inputs))
	for _, id := range r.sortedIDs() {
		s := r.inputs[id]
		out[id] = ValuesReport{InputStat: s.Values()}
		s.Reset()
	}
	return out
}

// SnapshotStates classifies every input and starts a new reporting window
// for each of them, exactly as SnapshotValues does.
func (r *Registry) SnapshotStates() map[string]StateReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]StateReport, len(r.inputs))
	for _, id := range r.sortedIDs() {
		s := r.inputs[id]
		out[id] = StateReport{State: s.State()}
		s.Reset()
	}
	return out
}

// InputSnapshot is a non-destructive view of one input.
type InputSnapshot struct {
	ID     string
	Values InputValues
	State  InputState
}

// Peek returns values and states without resetting any window. It is meant
// for passive observers such as the metrics exporter, which must not steal
// counts from management clients.
func (r *Registry) Peek() []InputSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]InputSnapshot, 0, len(r.inputs))
	for _, id := range r.sortedIDs() {
		s := r.inputs[id]
		out = append(out, InputSnapshot{
			ID:     id,
			Values: s.Values(),
			State:  s.State(),
		})
	}
	return out
}

// sortedIDs must be called with mu held.
func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.inputs))
	for id := range r.inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
