package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // Initial backoff delay (default: 5ms)
	Max        time.Duration // Maximum backoff delay (default: 1s)
	Multiplier float64       // Multiplier for each attempt (default: 2)
	JitterPct  float64       // Jitter as a percentage of delay (default: 0.2 = ±10%)
}

// DefaultBackoffConfig returns defaults suited to retrying a failed accept.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    5 * time.Millisecond,
		Max:        1 * time.Second,
		Multiplier: 2,
		JitterPct:  0.2,
	}
}

// Backoff calculates exponential backoff delays with jitter.
// Not safe for concurrent use; each retry loop owns its own Backoff.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a new Backoff calculator. The seed makes jitter
// deterministic for a given caller.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config:   cfg,
		attempts: 0,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next backoff delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current backoff delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	// Calculate base delay: initial * multiplier^attempts
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	// Cap at maximum
	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// Add jitter: ±(JitterPct/2) of the delay
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		jitter := jitterRange*b.rng.Float64() - jitterRange/2
		delay += jitter
	}

	// Ensure non-negative
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}
