package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses the process command line into a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(flag.CommandLine, os.Args[1:])
}

// ParseArgs parses args with fs. It is split from ParseFlags so tests can use
// their own FlagSet.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, `mux-mgmt - management and monitoring plane for an audio multiplexer

Usage:
  mux-mgmt [flags]

Management Server:
`)
		printFlagCategory(fs, w, []string{"mgmt-port", "read-timeout", "service-name"})

		fmt.Fprintf(w, "\nInput State Classifier:\n")
		printFlagCategory(fs, w, []string{"nodata-timeout", "unstable-threshold", "glitch-decay", "silence-level", "silence-count"})

		fmt.Fprintf(w, "\nObservability:\n")
		printFlagCategory(fs, w, []string{"metrics", "v", "log-format", "log-level"})

		fmt.Fprintf(w, "\nDemo Inputs:\n")
		printFlagCategory(fs, w, []string{"demo-inputs", "demo-interval", "demo-seed", "demo-ramp-rate"})

		fmt.Fprintf(w, "\nLifecycle & Diagnostics:\n")
		printFlagCategory(fs, w, []string{"shutdown-timeout", "skip-preflight", "print-config", "env-file"})

		fmt.Fprintf(w, `
Environment:
  Every flag can also be set as MUX_MGMT_<FLAG>, for example
  MUX_MGMT_MGMT_PORT=12720. Command-line flags win over the environment,
  which wins over -env-file.

Signals:
  SIGHUP restarts the management server on the configured port.
  SIGINT/SIGTERM shut down gracefully.

Examples:
  # Serve management on the default port with four synthetic inputs
  mux-mgmt -demo-inputs 4

  # Query it
  echo config | nc 127.0.0.1 12720

`)
	}

	// Management server
	fs.IntVar(&cfg.MgmtPort, "mgmt-port", cfg.MgmtPort, "Management server port (bound on 127.0.0.1)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Per-line read timeout for management clients (0 = none)")
	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "Service name announced in the greeting")

	// Classifier
	fs.DurationVar(&cfg.NoDataTimeout, "nodata-timeout", cfg.NoDataTimeout, "Empty-buffer time before an input is NoData")
	fs.IntVar(&cfg.UnstableThreshold, "unstable-threshold", cfg.UnstableThreshold, "Glitch count at which an input is Unstable")
	fs.DurationVar(&cfg.GlitchDecay, "glitch-decay", cfg.GlitchDecay, "Quiet time after which glitches are forgotten")
	fs.IntVar(&cfg.SilenceLevelDB, "silence-level", cfg.SilenceLevelDB, "Peak level in dB below which audio counts as silent")
	fs.IntVar(&cfg.SilenceCount, "silence-count", cfg.SilenceCount, "Consecutive silent peaks before an input is Silent")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" = disabled)`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)

	// Demo
	fs.IntVar(&cfg.DemoInputs, "demo-inputs", cfg.DemoInputs, "Number of synthetic inputs to run")
	fs.DurationVar(&cfg.DemoInterval, "demo-interval", cfg.DemoInterval, "Notification interval of synthetic inputs")
	fs.Int64Var(&cfg.DemoSeed, "demo-seed", cfg.DemoSeed, "Random seed for synthetic inputs (0 = time based)")
	fs.IntVar(&cfg.DemoRampRate, "demo-ramp-rate", cfg.DemoRampRate, "Synthetic inputs started per second (0 = all at once)")

	// Lifecycle & diagnostics
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for shutdown")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.PrintConfig, "print-config", cfg.PrintConfig, "Print the effective configuration as JSON and exit")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Dotenv file of MUX_MGMT_* settings")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := applyEnv(fs, cfg.EnvFile, lookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseTopFlags parses the process command line into a TopConfig.
func ParseTopFlags() (*TopConfig, error) {
	return ParseTopArgs(flag.CommandLine, os.Args[1:])
}

// ParseTopArgs parses the mgmt-top flags with fs.
func ParseTopArgs(fs *flag.FlagSet, args []string) (*TopConfig, error) {
	cfg := DefaultTopConfig()

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, `mgmt-top - live dashboard for a mux-mgmt server

Usage:
  mgmt-top [flags] [host:port]

The dashboard polls values and state, which reset the server's reporting
windows. Run at most one dashboard per server.

Flags:
`)
		printFlagCategory(fs, w, []string{"interval", "timeout", "metrics-url", "log-level"})
		fmt.Fprintln(w)
	}

	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Poll interval")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	fs.StringVar(&cfg.MetricsURL, "metrics-url", cfg.MetricsURL, `Prometheus endpoint of the server, e.g. "http://127.0.0.1:12721/metrics"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Level of messages shown in the dashboard`)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Positional argument: server address
	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Addr = fs.Arg(0)
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
