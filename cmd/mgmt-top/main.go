// Package main provides the mgmt-top dashboard entry point.
//
// mgmt-top polls a mux-mgmt server over its management protocol and shows
// the state of every input in a terminal UI.
package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mux-mgmt/internal/client"
	"github.com/randomizedcoder/go-mux-mgmt/internal/config"
	"github.com/randomizedcoder/go-mux-mgmt/internal/logging"
	"github.com/randomizedcoder/go-mux-mgmt/internal/metrics"
	"github.com/randomizedcoder/go-mux-mgmt/internal/timeseries"
	"github.com/randomizedcoder/go-mux-mgmt/internal/tui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("mgmt-top %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseTopFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}
	if err := config.ValidateTop(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Log records are kept in memory and drawn inside the dashboard, so they
	// do not tear the alternate screen
	logger, ring := logging.NewRingLogger(logging.DefaultRingSize, cfg.LogLevel)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := client.New(client.Config{
		Addr:    cfg.Addr,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})
	poller := client.NewPoller(c, client.PollerConfig{
		Interval: cfg.Interval,
		Logger:   logger,
	})

	scraper := metrics.NewScraper(cfg.MetricsURL, cfg.Interval, logger)
	if scraper != nil {
		go scraper.Run(ctx)
	}

	model := tui.New(tui.Config{
		Addr:       cfg.Addr,
		MetricsURL: cfg.MetricsURL,
		History:    timeseries.NewHistory(nil),
		Scraper:    scraper,
		Logs:       ring,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go poller.Run(ctx, func(snap client.Snapshot) {
		tui.SendSnapshot(p, snap)
	})

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Dashboard error: %v\n", err)
		return 1
	}
	return 0
}
