package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-mux-mgmt/internal/config"
	"github.com/randomizedcoder/go-mux-mgmt/internal/demo"
	"github.com/randomizedcoder/go-mux-mgmt/internal/metrics"
	"github.com/randomizedcoder/go-mux-mgmt/internal/mgmt"
	"github.com/randomizedcoder/go-mux-mgmt/internal/preflight"
	"github.com/randomizedcoder/go-mux-mgmt/internal/ptree"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
	"github.com/randomizedcoder/go-mux-mgmt/internal/supervisor"
)

const (
	// demoRampJitter is the maximum extra delay between demo input starts.
	demoRampJitter = 50 * time.Millisecond

	// demoEngineInterval is how often the demo engine publishes its tree.
	demoEngineInterval = time.Second
)

// Orchestrator coordinates all components of the daemon.
type Orchestrator struct {
	config  *config.Config
	version string
	logger  *slog.Logger
	out     io.Writer

	registry      *stats.Registry
	bridge        *ptree.Bridge
	server        *mgmt.Server
	metrics       *metrics.Collector
	gatherer      prometheus.Gatherer
	metricsServer *metrics.Server // nil when disabled

	rampScheduler *RampScheduler
	demoInputs    []demo.ProducerConfig
	engine        *demo.Engine

	restarts  atomic.Int64
	restartWG sync.WaitGroup
	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, version string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.DemoSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	registry := stats.NewRegistry(logger)

	// Demo inputs are described up front so the engine starts with a tree
	// that names all of them, even before the ramp has created them.
	demoInputs := make([]demo.ProducerConfig, cfg.DemoInputs)
	seeds := rand.New(rand.NewSource(seed))
	for i := range demoInputs {
		demoInputs[i] = demo.ProducerConfig{
			ID:         fmt.Sprintf("demo-%02d", i),
			Profile:    demo.ProfileFor(i),
			Interval:   cfg.DemoInterval,
			Thresholds: cfg.Thresholds(),
			Seed:       seeds.Int63(),
			Logger:     logger,
		}
	}
	initial := demo.InitialTree(cfg.ServiceName, demoInputs)
	bridge := ptree.NewBridge(initial, logger)

	o := &Orchestrator{
		config:        cfg,
		version:       version,
		logger:        logger,
		out:           os.Stdout,
		registry:      registry,
		bridge:        bridge,
		rampScheduler: NewRampSchedulerWithSeed(cfg.DemoRampRate, demoRampJitter, seed),
		demoInputs:    demoInputs,
		engine:        demo.NewEngine(bridge, initial, demoEngineInterval, logger),
	}

	// Metrics live in a private registry so that several daemons can run in
	// one test binary
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.gatherer = promRegistry

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Registry:      registry,
		ServiceName:   cfg.ServiceName,
		Version:       version,
		ServerRunning: o.Ready,
		ServerFault:   func() bool { return o.server.Fault() },
	}, promRegistry)

	o.server = mgmt.New(mgmt.Config{
		Port:        cfg.MgmtPort,
		ServiceName: cfg.ServiceName,
		Version:     version,
		ReadTimeout: cfg.ReadTimeout,
		Registry:    registry,
		Bridge:      bridge,
		Observer:    o.metrics,
		Logger:      logger,
	})

	if cfg.MetricsEnabled() {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, promRegistry, o.Ready, logger)
	}

	return o
}

// SetOutput redirects the exit summary. It must be called before Run.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run starts every component and blocks until ctx is cancelled or a
// termination signal arrives. SIGHUP restarts the management server.
func (o *Orchestrator) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return o.RunWithSignals(ctx, sigCh)
}

// RunWithSignals is Run with the signal source supplied by the caller.
func (o *Orchestrator) RunWithSignals(ctx context.Context, sigCh <-chan os.Signal) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			MgmtHost:    mgmt.DefaultHost,
			MgmtPort:    o.config.MgmtPort,
			MetricsAddr: o.config.MetricsAddr,
			DemoInputs:  o.config.DemoInputs,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if err := o.server.Start(); err != nil {
		return fmt.Errorf("failed to start management server: %w", err)
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			o.shutdownServer()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.logger.Info("started",
		"mgmt_addr", o.server.Addr().String(),
		"metrics_addr", o.config.MetricsAddr,
		"demo_inputs", len(o.demoInputs),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.engine.Run(ctx)
	}()

	if len(o.demoInputs) > 0 {
		o.logger.Info("demo_ramp_starting",
			"inputs", len(o.demoInputs),
			"rate", o.rampScheduler.Rate(),
			"estimated_duration", o.rampScheduler.EstimatedRampDuration(len(o.demoInputs)).String(),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.rampUp(ctx, &wg)
		}()
	}

	// Wait for a termination signal
loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				o.logger.Info("received_signal", "signal", sig.String(), "action", "restart")
				o.restart()
				continue
			}
			o.logger.Info("received_signal", "signal", sig.String())
			break loop
		case <-ctx.Done():
			o.logger.Info("context_cancelled")
			break loop
		}
	}

	// The engine keeps publishing until the management server has stopped,
	// so a getptree in progress can complete
	o.restartWG.Wait()
	o.shutdownServer()

	cancel()
	wg.Wait()

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		shutdownCancel()
	}

	o.printExitSummary()
	return nil
}

// restart rebinds the management server on the configured port without
// blocking the signal loop.
func (o *Orchestrator) restart() {
	result := o.server.RestartAsync(o.config.MgmtPort)
	o.restartWG.Add(1)
	go func() {
		defer o.restartWG.Done()
		if err := <-result; err != nil {
			o.logger.Error("mgmt_restart_failed", "port", o.config.MgmtPort, "error", err)
			return
		}
		o.restarts.Add(1)
		o.logger.Info("mgmt_restarted", "addr", o.server.Addr().String())
	}()
}

func (o *Orchestrator) shutdownServer() {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
	defer cancel()

	if err := o.server.Shutdown(ctx); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}
}

// rampUp starts demo producers at the configured rate. Each producer runs
// until ctx is cancelled and unregisters its input on the way out.
func (o *Orchestrator) rampUp(ctx context.Context, wg *sync.WaitGroup) {
	for i, pc := range o.demoInputs {
		if i > 0 {
			if err := o.rampScheduler.Schedule(ctx); err != nil {
				o.logger.Info("demo_ramp_cancelled", "started", i, "target", len(o.demoInputs))
				return
			}
		}

		p, err := demo.NewProducer(pc, o.registry)
		if err != nil {
			o.logger.Error("demo_input_failed", "input_id", pc.ID, "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(ctx)
		}()
	}

	o.logger.Info("demo_ramp_complete", "inputs", o.registry.Len())
}

// Ready reports whether the management accept loop is running.
func (o *Orchestrator) Ready() bool {
	return o.server.State() == supervisor.StateRunning
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	w := o.out
	uptime := time.Since(o.startTime)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "                    %s Exit Summary\n", o.config.ServiceName)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(uptime))
	fmt.Fprintf(w, "Version:                %s\n", o.version)
	fmt.Fprintf(w, "Server Restarts:        %d\n", o.restarts.Load())
	fmt.Fprintf(w, "Config Trees Applied:   %d\n", o.engine.Applied())
	fmt.Fprintln(w)

	summary, err := metrics.Summarize(o.gatherer)
	if err != nil {
		o.logger.Warn("summary_failed", "error", err)
	} else {
		fmt.Fprintln(w, "Management Requests:")
		fmt.Fprintf(w, "  Total:                %.0f\n", summary.RequestsTotal)
		fmt.Fprintf(w, "  Errors:               %.0f\n", summary.ErrorsTotal)
		if summary.LatencyP50 > 0 {
			fmt.Fprintf(w, "  P50 / P99:            %s / %s\n",
				formatSeconds(summary.LatencyP50), formatSeconds(summary.LatencyP99))
		}
		fmt.Fprintln(w)
	}

	if o.metricsServer != nil {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", o.config.MetricsAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatSeconds formats seconds as a duration string.
func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond).String()
}

// Server returns the management server for external access.
func (o *Orchestrator) Server() *mgmt.Server {
	return o.server
}

// Registry returns the input registry for external access.
func (o *Orchestrator) Registry() *stats.Registry {
	return o.registry
}

// Bridge returns the configuration bridge for external access.
func (o *Orchestrator) Bridge() *ptree.Bridge {
	return o.bridge
}

// MetricsServer returns the metrics server, or nil when disabled.
func (o *Orchestrator) MetricsServer() *metrics.Server {
	return o.metricsServer
}

// Gatherer returns the daemon's Prometheus registry.
func (o *Orchestrator) Gatherer() prometheus.Gatherer {
	return o.gatherer
}
