package demo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

func newTestProducer(t *testing.T, registry *stats.Registry, id string, profile Profile) *Producer {
	t.Helper()
	p, err := NewProducer(ProducerConfig{
		ID:         id,
		Profile:    profile,
		Interval:   time.Millisecond,
		Thresholds: stats.Thresholds{SilenceCount: 5},
		Seed:       42,
	}, registry)
	if err != nil {
		t.Fatalf("NewProducer(%s) error = %v", id, err)
	}
	return p
}

func TestParseProfile(t *testing.T) {
	for _, p := range []Profile{ProfileSteady, ProfileSilent, ProfileFlaky, ProfileDead} {
		got, err := ParseProfile(p.String())
		if err != nil {
			t.Fatalf("ParseProfile(%q) error = %v", p.String(), err)
		}
		if got != p {
			t.Errorf("ParseProfile(%q) = %v, want %v", p.String(), got, p)
		}
	}

	if _, err := ParseProfile("loud"); err == nil {
		t.Error("ParseProfile(loud) should fail")
	}
	if got := Profile(99).String(); got != "unknown" {
		t.Errorf("Profile(99).String() = %q, want unknown", got)
	}
}

func TestProfileFor_CoversEveryProfile(t *testing.T) {
	seen := make(map[Profile]bool)
	for i := 0; i < 4; i++ {
		seen[ProfileFor(i)] = true
	}
	if len(seen) != 4 {
		t.Errorf("ProfileFor over 4 inputs covered %d profiles, want 4", len(seen))
	}
}

func TestNewProducer_Registers(t *testing.T) {
	registry := stats.NewRegistry(nil)
	newTestProducer(t, registry, "in0", ProfileSteady)

	if !registry.IsRegistered("in0") {
		t.Fatal("producer should register its input")
	}

	_, err := NewProducer(ProducerConfig{ID: "in0"}, registry)
	if !errors.Is(err, stats.ErrDuplicateInput) {
		t.Errorf("duplicate NewProducer error = %v, want ErrDuplicateInput", err)
	}
}

func TestProducer_Profiles(t *testing.T) {
	tests := []struct {
		profile Profile
		steps   int
		want    stats.InputState
	}{
		{ProfileSteady, 50, stats.StateStreaming},
		{ProfileSilent, 50, stats.StateSilence},
		{ProfileFlaky, 2000, stats.StateUnstable},
		{ProfileDead, 50, stats.StateNoData},
	}

	for _, tt := range tests {
		t.Run(tt.profile.String(), func(t *testing.T) {
			registry := stats.NewRegistry(nil)
			p := newTestProducer(t, registry, "in", tt.profile)

			for i := 0; i < tt.steps; i++ {
				p.Step()
			}

			if got := p.Stats().State(); got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProducer_SteadyValues(t *testing.T) {
	registry := stats.NewRegistry(nil)
	p := newTestProducer(t, registry, "in", ProfileSteady)

	for i := 0; i < 100; i++ {
		p.Step()
	}

	v := p.Stats().Values()
	if v.MinFill <= 0 || v.MaxFill >= bufferCapacity || v.MinFill > v.MaxFill {
		t.Errorf("fill extrema out of range: min=%d max=%d", v.MinFill, v.MaxFill)
	}
	if v.PeakLeft < -20 || v.PeakLeft > 0 {
		t.Errorf("PeakLeft = %d, want audible level", v.PeakLeft)
	}
	if v.NumUnderruns != 0 || v.NumOverruns != 0 {
		t.Errorf("steady input glitched: %+v", v)
	}
}

func TestProducer_RunUnregistersOnCancel(t *testing.T) {
	registry := stats.NewRegistry(nil)
	p := newTestProducer(t, registry, "in", ProfileSteady)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if registry.IsRegistered("in") {
		t.Error("input should be unregistered after Run returns")
	}
}
