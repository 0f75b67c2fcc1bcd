// Package main provides the mux-mgmt daemon entry point.
//
// mux-mgmt runs the loopback management server of an audio multiplexer:
// it reports per-input buffer and level statistics, classifies input health
// and exchanges the configuration tree with management clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-mux-mgmt/internal/config"
	"github.com/randomizedcoder/go-mux-mgmt/internal/logging"
	"github.com/randomizedcoder/go-mux-mgmt/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/mux-mgmt
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("mux-mgmt %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.PrintConfig {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error printing config: %v\n", err)
			return 1
		}
		return 0
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	logger = logging.WithService(logger, cfg.ServiceName, version)
	logging.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"mgmt_port", cfg.MgmtPort,
		"metrics_addr", cfg.MetricsAddr,
		"demo_inputs", cfg.DemoInputs,
	)

	orch := orchestrator.New(cfg, version, logger)
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}

	return 0
}
