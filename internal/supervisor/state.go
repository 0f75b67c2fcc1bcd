// Package supervisor runs one cancellable long-lived task at a time and
// replaces it on request.
package supervisor

// State represents the lifecycle state of the supervised task.
type State int

const (
	// StateCreated is the initial state before any task has started.
	StateCreated State = iota

	// StateStarting indicates the next task is being prepared.
	StateStarting

	// StateRunning indicates a task is running.
	StateRunning

	// StateStopping indicates the running task has been asked to stop.
	StateStopping

	// StateStopped indicates no task is running.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true if a task is running or about to.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
