package stats

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for classifier tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestInput(id string, clock *fakeClock) *InputStats {
	th := DefaultThresholds()
	th.Now = clock.Now
	return NewInputStats(id, th)
}

func TestNewInputStats_Defaults(t *testing.T) {
	s := NewInputStats("eth0", Thresholds{})

	if s.ID() != "eth0" {
		t.Errorf("ID = %q, want eth0", s.ID())
	}
	if s.th.NoDataTimeout != DefaultNoDataTimeout {
		t.Errorf("NoDataTimeout = %v, want %v", s.th.NoDataTimeout, DefaultNoDataTimeout)
	}
	if s.th.UnstableThreshold != DefaultUnstableThreshold {
		t.Errorf("UnstableThreshold = %d, want %d", s.th.UnstableThreshold, DefaultUnstableThreshold)
	}
	if s.th.Now == nil {
		t.Error("Now should default to time.Now")
	}
	if s.silenceLevel != DefaultSilenceLevelDB {
		t.Errorf("silence level = %d, want %d", s.silenceLevel, DefaultSilenceLevelDB)
	}

	v := s.Values()
	if v.MinFill != MinFillUndefined || v.MaxFill != 0 {
		t.Errorf("fill = (%d, %d), want (%d, 0)", v.MinFill, v.MaxFill, MinFillUndefined)
	}
	if v.PeakLeft != SilenceFloorDB || v.PeakRight != SilenceFloorDB {
		t.Errorf("peaks = (%d, %d), want %d", v.PeakLeft, v.PeakRight, SilenceFloorDB)
	}
}

func TestInputStats_SilenceLevel(t *testing.T) {
	tests := []struct {
		name       string
		level      *int
		peak       int // about -1 dBFS
		wantSilent bool
	}{
		{"default level", nil, 29000, false},
		{"zero dBFS", LevelDB(0), 29000, true},
		{"explicit level", LevelDB(-60), 29000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := NewInputStats("eth0", Thresholds{
				SilenceLevelDB: tt.level,
				SilenceCount:   2,
				Now:            clock.Now,
			})
			s.NotifyBuffer(100)
			for range 3 {
				s.NotifyPeakLevels(tt.peak, tt.peak)
			}

			if got := s.State() == StateSilence; got != tt.wantSilent {
				t.Errorf("silent = %v, want %v (state %v)", got, tt.wantSilent, s.State())
			}
		})
	}
}

func TestPeakToDB(t *testing.T) {
	tests := []struct {
		peak int
		want int
	}{
		{0, -90},
		{-5, -90},
		{32767, 0},
		{32768, 0},
		{16384, -6},
		{3277, -20},
		{328, -40},
		{1, -90},
	}

	for _, tt := range tests {
		if got := PeakToDB(tt.peak); got != tt.want {
			t.Errorf("PeakToDB(%d) = %d, want %d", tt.peak, got, tt.want)
		}
	}
}

func TestPeakToDB_Monotonic(t *testing.T) {
	prev := PeakToDB(1)
	for p := 2; p <= 32767; p++ {
		db := PeakToDB(p)
		if db < prev {
			t.Fatalf("PeakToDB(%d) = %d < PeakToDB(%d) = %d", p, db, p-1, prev)
		}
		prev = db
	}
}

func TestInputStats_NotifyBuffer(t *testing.T) {
	s := newTestInput("in", newFakeClock())

	s.NotifyBuffer(500)
	s.NotifyBuffer(200)
	s.NotifyBuffer(900)

	v := s.Values()
	if v.MinFill != 200 {
		t.Errorf("MinFill = %d, want 200", v.MinFill)
	}
	if v.MaxFill != 900 {
		t.Errorf("MaxFill = %d, want 900", v.MaxFill)
	}
}

func TestInputStats_NotifyPeakLevels(t *testing.T) {
	s := newTestInput("in", newFakeClock())

	s.NotifyPeakLevels(1000, 32767)
	s.NotifyPeakLevels(16384, 10)

	v := s.Values()
	if v.PeakLeft != PeakToDB(16384) {
		t.Errorf("PeakLeft = %d, want %d", v.PeakLeft, PeakToDB(16384))
	}
	if v.PeakRight != 0 {
		t.Errorf("PeakRight = %d, want 0", v.PeakRight)
	}
}

func TestInputStats_Counters(t *testing.T) {
	s := newTestInput("in", newFakeClock())

	s.NotifyUnderrun()
	s.NotifyUnderrun()
	s.NotifyOverrun()

	v := s.Values()
	if v.NumUnderruns != 2 {
		t.Errorf("NumUnderruns = %d, want 2", v.NumUnderruns)
	}
	if v.NumOverruns != 1 {
		t.Errorf("NumOverruns = %d, want 1", v.NumOverruns)
	}
}

func TestInputStats_Reset(t *testing.T) {
	clock := newFakeClock()
	s := newTestInput("in", clock)

	s.NotifyBuffer(100)
	s.NotifyPeakLevels(20000, 20000)
	for i := 0; i < DefaultUnstableThreshold; i++ {
		s.NotifyUnderrun()
	}
	s.NotifyOverrun()

	s.Reset()

	v := s.Values()
	want := InputValues{
		MinFill:   MinFillUndefined,
		MaxFill:   0,
		PeakLeft:  SilenceFloorDB,
		PeakRight: SilenceFloorDB,
	}
	if v != want {
		t.Errorf("Values after Reset = %+v, want %+v", v, want)
	}

	// Glitch memory survives the reset
	if got := s.State(); got != StateUnstable {
		t.Errorf("State after Reset = %v, want Unstable", got)
	}
}

func TestInputStats_ConcurrentNotify(t *testing.T) {
	s := newTestInput("in", newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NotifyBuffer(int64(i + 1))
			s.NotifyUnderrun()
			s.NotifyOverrun()
			s.NotifyPeakLevels(i, i)
		}(i)
	}
	wg.Wait()

	v := s.Values()
	if v.NumUnderruns != 100 || v.NumOverruns != 100 {
		t.Errorf("counts = (%d, %d), want (100, 100)", v.NumUnderruns, v.NumOverruns)
	}
	if v.MinFill != 1 || v.MaxFill != 100 {
		t.Errorf("fill = (%d, %d), want (1, 100)", v.MinFill, v.MaxFill)
	}
}

func TestInputStats_Lifecycle(t *testing.T) {
	r := NewRegistry(nil)
	s := newTestInput("eth0", newFakeClock())

	if err := s.Register(r); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.IsRegistered("eth0") {
		t.Fatal("eth0 should be registered")
	}

	s.Close()
	if r.IsRegistered("eth0") {
		t.Error("eth0 should be unregistered after Close")
	}

	// Idempotent
	s.Close()
}

func TestInputStats_CloseKeepsOtherRegistration(t *testing.T) {
	r := NewRegistry(nil)
	clock := newFakeClock()
	first := newTestInput("eth0", clock)
	second := newTestInput("eth0", clock)

	if err := first.Register(r); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := second.Register(r); err == nil {
		t.Fatal("duplicate Register should fail")
	}

	// The rejected duplicate never owned the entry
	second.Close()
	if !r.IsRegistered("eth0") {
		t.Error("first registration should survive Close of rejected duplicate")
	}
}
