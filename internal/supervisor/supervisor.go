package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrAlreadyRunning is returned by Start while a task is still running.
var ErrAlreadyRunning = errors.New("task already running")

// Task is a long-running function. It must return promptly once ctx is
// cancelled.
type Task func(ctx context.Context) error

// Launcher prepares the next task. Errors (for example a failed bind) are
// returned to the caller of Start or Restart and no task is started.
type Launcher func() (Task, error)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the state changes.
	OnStateChange func(oldState, newState State)

	// OnExit is called when a task returns.
	OnExit func(err error)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Name      string
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor owns at most one running task. Start, Stop and Restart are
// serialised, so a restart is a single stop-then-start step that no other
// caller can interleave with.
type Supervisor struct {
	name      string
	logger    *slog.Logger
	callbacks Callbacks

	// opMu serialises Start, Stop and Restart
	opMu   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// stateMu guards state and lastErr
	stateMu sync.RWMutex
	state   State
	lastErr error
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		name:      cfg.Name,
		logger:    logger,
		callbacks: cfg.Callbacks,
		state:     StateCreated,
	}
}

// Start launches a task. It fails with ErrAlreadyRunning if the previous
// task has not exited, or with the launcher's error.
func (s *Supervisor) Start(launch Launcher) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(launch)
}

// Stop cancels the running task and waits for it to return. If ctx expires
// first, Stop returns ctx.Err() and the task keeps winding down.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx)
}

// Restart stops the running task, waits for it to exit, then launches the
// next one.
func (s *Supervisor) Restart(ctx context.Context, launch Launcher) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.stopLocked(ctx); err != nil {
		return err
	}
	return s.startLocked(launch)
}

// Done returns a channel closed when the current task exits. It is already
// closed if no task is running.
func (s *Supervisor) Done() <-chan struct{} {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Err returns the error the last task exited with.
func (s *Supervisor) Err() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastErr
}

func (s *Supervisor) startLocked(launch Launcher) error {
	if s.running() {
		return ErrAlreadyRunning
	}

	s.setState(StateStarting)
	task, err := launch()
	if err != nil {
		s.logger.Error("task_launch_failed", "task", s.name, "error", err)
		s.setState(StateStopped)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.setState(StateRunning)
	s.logger.Debug("task_started", "task", s.name)

	go func() {
		defer close(done)
		err := task(ctx)
		cancel()

		s.stateMu.Lock()
		s.lastErr = err
		s.stateMu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("task_exited", "task", s.name, "error", err)
		} else {
			s.logger.Debug("task_exited", "task", s.name)
		}
		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(err)
		}
		s.setState(StateStopped)
	}()

	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	if !s.running() {
		return nil
	}

	s.setState(StateStopping)
	s.cancel()

	select {
	case <-s.done:
		// The task may have exited on its own just before the cancel
		s.setState(StateStopped)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// running must be called with opMu held.
func (s *Supervisor) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if oldState != newState && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
}
