// Package orchestrator wires the components of the mux-mgmt daemon together
// and runs them until a termination signal.
package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RampScheduler controls the rate at which demo inputs are started.
// It keeps inputs from all appearing in the same reporting window and adds
// per-input jitter so their producers do not tick in lockstep.
type RampScheduler struct {
	rate      int           // inputs per second
	maxJitter time.Duration // maximum jitter per input

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRampScheduler creates a new scheduler with the given rate and jitter.
func NewRampScheduler(rate int, maxJitter time.Duration) *RampScheduler {
	return NewRampSchedulerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewRampSchedulerWithSeed creates a scheduler with a specific seed for reproducibility.
func NewRampSchedulerWithSeed(rate int, maxJitter time.Duration, seed int64) *RampScheduler {
	return &RampScheduler{
		rate:      rate,
		maxJitter: maxJitter,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Delay returns how long to wait before starting the next input.
func (r *RampScheduler) Delay() time.Duration {
	// rate=5 means 1 input per 200ms
	var baseDelay time.Duration
	if r.rate > 0 {
		baseDelay = time.Second / time.Duration(r.rate)
	}

	var jitter time.Duration
	if r.maxJitter > 0 {
		r.mu.Lock()
		jitter = time.Duration(r.rng.Int63n(int64(r.maxJitter)))
		r.mu.Unlock()
	}

	return baseDelay + jitter
}

// Schedule waits before starting the next input.
// Returns nil on success, or context error if cancelled.
func (r *RampScheduler) Schedule(ctx context.Context) error {
	delay := r.Delay()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedRampDuration returns the estimated time to start all inputs.
func (r *RampScheduler) EstimatedRampDuration(total int) time.Duration {
	if r.rate <= 0 || total <= 1 {
		return 0
	}
	// The first input starts immediately
	baseTime := time.Duration(total-1) * time.Second / time.Duration(r.rate)
	avgJitter := time.Duration(total-1) * r.maxJitter / 2
	return baseTime + avgJitter
}

// Rate returns the configured rate (inputs per second).
func (r *RampScheduler) Rate() int {
	return r.rate
}

// MaxJitter returns the configured maximum jitter.
func (r *RampScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
