// Package config provides configuration management for go-mux-mgmt.
package config

import (
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// DefaultMgmtPort is the management server port used when none is given.
const DefaultMgmtPort = 12720

// Config holds all configuration options for the mux-mgmt daemon.
type Config struct {
	// Management server
	ServiceName string        `json:"service_name"`
	MgmtPort    int           `json:"mgmt_port"`
	ReadTimeout time.Duration `json:"read_timeout"` // 0 = wait forever

	// Input state classifier
	NoDataTimeout     time.Duration `json:"nodata_timeout"`
	UnstableThreshold int           `json:"unstable_threshold"`
	GlitchDecay       time.Duration `json:"glitch_decay"`
	SilenceLevelDB    int           `json:"silence_level_db"`
	SilenceCount      int           `json:"silence_count"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`

	// Demo collaborators
	DemoInputs   int           `json:"demo_inputs"` // 0 = no demo inputs
	DemoInterval time.Duration `json:"demo_interval"`
	DemoSeed     int64         `json:"demo_seed"`      // 0 = time based
	DemoRampRate int           `json:"demo_ramp_rate"` // inputs started per second, 0 = all at once

	// Lifecycle
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	SkipPreflight   bool          `json:"skip_preflight"`

	// Diagnostic modes
	PrintConfig bool `json:"print_config"`

	// EnvFile is a dotenv file of MUX_MGMT_* settings
	EnvFile string `json:"env_file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Management server
		ServiceName: "go-mux-mgmt",
		MgmtPort:    DefaultMgmtPort,
		ReadTimeout: 0,

		// Classifier
		NoDataTimeout:     stats.DefaultNoDataTimeout,
		UnstableThreshold: stats.DefaultUnstableThreshold,
		GlitchDecay:       stats.DefaultGlitchDecay,
		SilenceLevelDB:    stats.DefaultSilenceLevelDB,
		SilenceCount:      stats.DefaultSilenceCount,

		// Observability
		MetricsAddr: "127.0.0.1:12721",
		Verbose:     false,
		LogFormat:   "json",
		LogLevel:    "info",

		// Demo
		DemoInputs:   0,
		DemoInterval: 100 * time.Millisecond,
		DemoRampRate: 10,

		ShutdownTimeout: 5 * time.Second,
	}
}

// Thresholds returns the classifier settings as stats.Thresholds.
func (c *Config) Thresholds() stats.Thresholds {
	return stats.Thresholds{
		NoDataTimeout:     c.NoDataTimeout,
		UnstableThreshold: c.UnstableThreshold,
		GlitchDecay:       c.GlitchDecay,
		SilenceLevelDB:    stats.LevelDB(c.SilenceLevelDB),
		SilenceCount:      c.SilenceCount,
	}
}

// MetricsEnabled returns true if the Prometheus endpoint should be served.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// TopConfig holds the options of the mgmt-top dashboard.
type TopConfig struct {
	Addr     string        `json:"addr"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	LogLevel string        `json:"log_level"`

	// MetricsURL is the server's Prometheus endpoint. Empty hides the
	// request panel.
	MetricsURL string `json:"metrics_url"`
}

// DefaultTopConfig returns a TopConfig with sensible defaults.
func DefaultTopConfig() *TopConfig {
	return &TopConfig{
		Addr:     "127.0.0.1:12720",
		Interval: time.Second,
		Timeout:  2 * time.Second,
		LogLevel: "warn",
	}
}
