// Package stats provides per-input health counters and the registry that
// aggregates them for the management server.
//
// This file implements InputStats which tracks metrics for a single input:
// - Buffer fill extrema since the last read
// - Audio peak levels since the last read
// - Underrun and overrun counts
// - Glitch and silence memory used by the state classifier
package stats

import (
	"math"
	"sync"
	"time"
)

// Classifier defaults
const (
	// DefaultNoDataTimeout is how long the buffer must stay empty before
	// the input is reported as NoData.
	DefaultNoDataTimeout = 30 * time.Second

	// DefaultUnstableThreshold is the glitch count at which the input is
	// reported as Unstable.
	DefaultUnstableThreshold = 3

	// DefaultGlitchDecay is how long without underrun/overrun before the
	// glitch counter is forgotten.
	DefaultGlitchDecay = 30 * time.Minute

	// DefaultSilenceLevelDB is the level below which a peak notification
	// counts as silent.
	DefaultSilenceLevelDB = -50

	// DefaultSilenceCount is the number of consecutive silent peak
	// notifications after which the input is reported as Silent.
	DefaultSilenceCount = 100
)

const (
	// MinFillUndefined is the min_fill value before any buffer notification.
	MinFillUndefined int64 = -1

	// SilenceFloorDB is reported for a zero peak.
	SilenceFloorDB = -90

	// peakMax is the maximum magnitude of a signed 16-bit sample.
	peakMax = math.MaxInt16
)

// Thresholds configures the state classifier.
type Thresholds struct {
	NoDataTimeout     time.Duration
	UnstableThreshold int
	GlitchDecay       time.Duration
	SilenceCount      int

	// SilenceLevelDB is nil for DefaultSilenceLevelDB. 0 dBFS is a valid
	// threshold, so the zero value cannot mean unset.
	SilenceLevelDB *int

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// DefaultThresholds returns the classifier defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoDataTimeout:     DefaultNoDataTimeout,
		UnstableThreshold: DefaultUnstableThreshold,
		GlitchDecay:       DefaultGlitchDecay,
		SilenceLevelDB:    LevelDB(DefaultSilenceLevelDB),
		SilenceCount:      DefaultSilenceCount,
	}
}

// LevelDB returns a pointer to db for Thresholds.SilenceLevelDB.
func LevelDB(db int) *int {
	return &db
}

// InputValues is the value encoding of one input.
type InputValues struct {
	MinFill      int64 `json:"min_fill"`
	MaxFill      int64 `json:"max_fill"`
	PeakLeft     int   `json:"peak_left"`
	PeakRight    int   `json:"peak_right"`
	NumUnderruns int64 `json:"num_underruns"`
	NumOverruns  int64 `json:"num_overruns"`
}

// InputStats holds the health counters of one input.
//
// Thread-safe: every field is guarded by mu. The owning producer mutates it
// through the Notify methods; the registry reads and resets it.
type InputStats struct {
	id           string
	th           Thresholds
	silenceLevel int

	mu sync.Mutex

	// Reporting window, cleared by Reset
	minFill      int64
	maxFill      int64
	peakLeft     int
	peakRight    int
	numUnderruns int64
	numOverruns  int64

	// Classifier memory, never cleared by Reset
	bufferEmpty            bool
	timeLastBufferNonEmpty time.Time
	timeLastEvent          time.Time
	glitchCounter          int
	silenceCounter         int

	registry *Registry
}

// NewInputStats creates stats for an input. Zero threshold fields fall back
// to the defaults.
func NewInputStats(id string, th Thresholds) *InputStats {
	def := DefaultThresholds()
	if th.NoDataTimeout <= 0 {
		th.NoDataTimeout = def.NoDataTimeout
	}
	if th.UnstableThreshold <= 0 {
		th.UnstableThreshold = def.UnstableThreshold
	}
	if th.GlitchDecay <= 0 {
		th.GlitchDecay = def.GlitchDecay
	}
	silenceLevel := DefaultSilenceLevelDB
	if th.SilenceLevelDB != nil {
		silenceLevel = *th.SilenceLevelDB
	}
	if th.SilenceCount <= 0 {
		th.SilenceCount = def.SilenceCount
	}
	if th.Now == nil {
		th.Now = time.Now
	}

	return &InputStats{
		id:            id,
		th:            th,
		silenceLevel:  silenceLevel,
		minFill:       MinFillUndefined,
		bufferEmpty:   true,
		timeLastEvent: th.Now(),
		// timeLastBufferNonEmpty stays zero: an input that never delivered
		// data is NoData as soon as it is classified.
	}
}

// ID returns the input identifier.
func (s *InputStats) ID() string {
	return s.id
}

// --- Lifecycle ---

// Register adds the input to r. It must be called once, after construction.
func (s *InputStats) Register(r *Registry) error {
	if err := r.Register(s); err != nil {
		return err
	}
	s.mu.Lock()
	s.registry = r
	s.mu.Unlock()
	return nil
}

// Close removes the input from the registry it was registered with.
// The producer must call it before dropping its last reference.
func (s *InputStats) Close() {
	s.mu.Lock()
	r := s.registry
	s.registry = nil
	s.mu.Unlock()

	if r != nil {
		r.Unregister(s.id)
	}
}

// --- Producer Notifications ---

// NotifyBuffer records the current buffer fill level.
func (s *InputStats) NotifyBuffer(fill int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fill > s.maxFill {
		s.maxFill = fill
	}
	if s.minFill == MinFillUndefined || fill < s.minFill {
		s.minFill = fill
	}

	if fill > 0 {
		s.bufferEmpty = false
		s.timeLastBufferNonEmpty = s.th.Now()
	} else {
		s.bufferEmpty = true
	}
}

// NotifyPeakLevels records the peak sample magnitudes of the last block.
func (s *InputStats) NotifyPeakLevels(left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if left > s.peakLeft {
		s.peakLeft = left
	}
	if right > s.peakRight {
		s.peakRight = right
	}

	// Silence is judged on the louder channel of this block
	loudest := max(left, right)
	if PeakToDB(loudest) < s.silenceLevel {
		s.silenceCounter++
	} else {
		s.silenceCounter = 0
	}
}

// NotifyUnderrun records a buffer underrun.
func (s *InputStats) NotifyUnderrun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numUnderruns++
	s.recordGlitch()
}

// NotifyOverrun records a buffer overrun.
func (s *InputStats) NotifyOverrun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numOverruns++
	s.recordGlitch()
}

// recordGlitch must be called with mu held.
func (s *InputStats) recordGlitch() {
	s.timeLastEvent = s.th.Now()
	s.glitchCounter++
}

// --- Reads ---

// Values returns the value encoding of the current window.
func (s *InputStats) Values() InputValues {
	s.mu.Lock()
	defer s.mu.Unlock()

	return InputValues{
		MinFill:      s.minFill,
		MaxFill:      s.maxFill,
		PeakLeft:     PeakToDB(s.peakLeft),
		PeakRight:    PeakToDB(s.peakRight),
		NumUnderruns: s.numUnderruns,
		NumOverruns:  s.numOverruns,
	}
}

// State classifies the input. The order of the checks matters: NoData wins
// over Unstable, which wins over Silent.
func (s *InputStats) State() InputState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.th.Now()

	// Stale glitches no longer count against the input
	if now.Sub(s.timeLastEvent) > s.th.GlitchDecay {
		s.glitchCounter = 0
	}

	switch {
	case s.bufferEmpty && now.Sub(s.timeLastBufferNonEmpty) > s.th.NoDataTimeout:
		return StateNoData
	case s.glitchCounter >= s.th.UnstableThreshold:
		return StateUnstable
	case s.silenceCounter > s.th.SilenceCount:
		return StateSilence
	default:
		return StateStreaming
	}
}

// Reset starts a new reporting window. Classifier memory is kept.
func (s *InputStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minFill = MinFillUndefined
	s.maxFill = 0
	s.peakLeft = 0
	s.peakRight = 0
	s.numUnderruns = 0
	s.numOverruns = 0
}

// PeakToDB converts a 16-bit peak magnitude to dBFS, rounded to the nearest
// integer. Zero and negative peaks map to SilenceFloorDB.
func PeakToDB(peak int) int {
	if peak <= 0 {
		return SilenceFloorDB
	}
	return int(math.Round(20 * math.Log10(float64(peak)/peakMax)))
}
