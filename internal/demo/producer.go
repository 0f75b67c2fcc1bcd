// Package demo provides synthetic collaborators for the management plane:
// producers that feed InputStats the way audio inputs do, and an engine that
// publishes and adopts configuration trees through a ptree.Bridge.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// Profile selects how a synthetic input behaves.
type Profile int

const (
	// ProfileSteady delivers data and audible peaks.
	ProfileSteady Profile = iota
	// ProfileSilent delivers data but near-silent peaks.
	ProfileSilent
	// ProfileFlaky delivers audio with frequent underruns and overruns.
	ProfileFlaky
	// ProfileDead never fills its buffer.
	ProfileDead
)

var profileNames = [...]string{"steady", "silent", "flaky", "dead"}

// String returns a human-readable profile name.
func (p Profile) String() string {
	if p < 0 || int(p) >= len(profileNames) {
		return "unknown"
	}
	return profileNames[p]
}

// ParseProfile parses a profile name.
func ParseProfile(name string) (Profile, error) {
	for i, n := range profileNames {
		if n == name {
			return Profile(i), nil
		}
	}
	return 0, fmt.Errorf("unknown profile %q", name)
}

// ProfileFor spreads profiles over a set of demo inputs so every state
// shows up.
func ProfileFor(index int) Profile {
	return Profile(index % len(profileNames))
}

const (
	// bufferCapacity is the simulated buffer size in samples.
	bufferCapacity = 8192

	// glitchChance is the per-step probability of a glitch on a flaky input.
	glitchChance = 0.05
)

// ProducerConfig holds configuration for creating a new Producer.
type ProducerConfig struct {
	ID         string
	Profile    Profile
	Interval   time.Duration
	Thresholds stats.Thresholds
	Seed       int64
	Logger     *slog.Logger
}

// Producer simulates one audio input.
type Producer struct {
	id       string
	profile  Profile
	interval time.Duration
	stats    *stats.InputStats
	rng      *rand.Rand
	logger   *slog.Logger

	fill int64
}

// NewProducer creates a producer and registers its stats with registry.
func NewProducer(cfg ProducerConfig, registry *stats.Registry) (*Producer, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := stats.NewInputStats(cfg.ID, cfg.Thresholds)
	if err := s.Register(registry); err != nil {
		return nil, fmt.Errorf("register %s: %w", cfg.ID, err)
	}

	return &Producer{
		id:       cfg.ID,
		profile:  cfg.Profile,
		interval: interval,
		stats:    s,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		logger:   logger.With("input_id", cfg.ID, "profile", cfg.Profile.String()),
		fill:     bufferCapacity / 2,
	}, nil
}

// ID returns the input id.
func (p *Producer) ID() string {
	return p.id
}

// Stats returns the producer's stats record.
func (p *Producer) Stats() *stats.InputStats {
	return p.stats
}

// Run steps the producer until ctx is cancelled, then unregisters it.
func (p *Producer) Run(ctx context.Context) error {
	defer p.stats.Close()

	p.logger.Debug("producer_started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("producer_stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Step()
		}
	}
}

// Step simulates one block of audio.
func (p *Producer) Step() {
	switch p.profile {
	case ProfileDead:
		p.stats.NotifyBuffer(0)
		p.stats.NotifyPeakLevels(0, 0)
		return

	case ProfileSilent:
		p.wander()
		p.stats.NotifyBuffer(p.fill)
		// Well below -50 dBFS
		p.stats.NotifyPeakLevels(p.rng.Intn(20), p.rng.Intn(20))
		return

	case ProfileFlaky:
		if p.rng.Float64() < glitchChance {
			if p.rng.Intn(2) == 0 {
				p.fill = 0
				p.stats.NotifyBuffer(p.fill)
				p.stats.NotifyUnderrun()
			} else {
				p.fill = bufferCapacity
				p.stats.NotifyBuffer(p.fill)
				p.stats.NotifyOverrun()
			}
			return
		}
	}

	p.wander()
	p.stats.NotifyBuffer(p.fill)
	p.stats.NotifyPeakLevels(4000+p.rng.Intn(28000), 4000+p.rng.Intn(28000))
}

// wander moves the fill level by a small random step, staying in range.
func (p *Producer) wander() {
	p.fill += int64(p.rng.Intn(513) - 256)
	if p.fill < 1 {
		p.fill = 1
	}
	if p.fill > bufferCapacity-1 {
		p.fill = bufferCapacity - 1
	}
}
