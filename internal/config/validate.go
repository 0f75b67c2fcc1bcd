package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/randomizedcoder/go-mux-mgmt/internal/logging"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.MgmtPort < 1 || cfg.MgmtPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "mgmt_port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", cfg.MgmtPort),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "read_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.ServiceName == "" {
		errs = append(errs, ValidationError{
			Field:   "service_name",
			Message: "must not be empty",
		})
	}

	// Classifier
	if cfg.NoDataTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "nodata_timeout",
			Message: "must be positive",
		})
	}
	if cfg.UnstableThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "unstable_threshold",
			Message: "must be at least 1",
		})
	}
	if cfg.GlitchDecay <= 0 {
		errs = append(errs, ValidationError{
			Field:   "glitch_decay",
			Message: "must be positive",
		})
	}
	if cfg.SilenceLevelDB <= stats.SilenceFloorDB || cfg.SilenceLevelDB > 0 {
		errs = append(errs, ValidationError{
			Field:   "silence_level_db",
			Message: fmt.Sprintf("must be above %d and at most 0 (got %d)", stats.SilenceFloorDB, cfg.SilenceLevelDB),
		})
	}
	if cfg.SilenceCount < 1 {
		errs = append(errs, ValidationError{
			Field:   "silence_count",
			Message: "must be at least 1",
		})
	}

	// Observability
	if cfg.MetricsAddr != "" {
		if err := validateHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}
	if !logging.ValidFormat(cfg.LogFormat) {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	// Demo
	if cfg.DemoInputs < 0 {
		errs = append(errs, ValidationError{
			Field:   "demo_inputs",
			Message: "must not be negative",
		})
	}
	if cfg.DemoInputs > 0 && cfg.DemoInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "demo_interval",
			Message: "must be positive when demo inputs are enabled",
		})
	}
	if cfg.DemoRampRate < 0 {
		errs = append(errs, ValidationError{
			Field:   "demo_ramp_rate",
			Message: "must not be negative",
		})
	}

	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "shutdown_timeout",
			Message: "must be positive",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateTop checks the dashboard configuration.
func ValidateTop(cfg *TopConfig) error {
	var errs []error

	if err := validateHostPort(cfg.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "addr",
			Message: err.Error(),
		})
	}
	if cfg.Interval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "interval",
			Message: "must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}
	if cfg.MetricsURL != "" {
		u, err := url.Parse(cfg.MetricsURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "metrics_url",
				Message: fmt.Sprintf("must be an http(s) URL (got %q)", cfg.MetricsURL),
			})
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateHostPort checks a host:port pair with a numeric port.
func validateHostPort(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}
