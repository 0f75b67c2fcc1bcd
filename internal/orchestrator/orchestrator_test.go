package orchestrator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/client"
	"github.com/randomizedcoder/go-mux-mgmt/internal/config"
	"github.com/randomizedcoder/go-mux-mgmt/internal/supervisor"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MgmtPort = 0
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.DemoInputs = 4
	cfg.DemoInterval = 5 * time.Millisecond
	cfg.DemoRampRate = 0
	cfg.DemoSeed = 1
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// syncBuffer is a bytes.Buffer safe for the run goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type running struct {
	orch    *Orchestrator
	sigCh   chan os.Signal
	done    chan error
	out     *syncBuffer
	stopped bool
}

func startOrchestrator(t *testing.T, cfg *config.Config) *running {
	t.Helper()

	r := &running{
		orch:  New(cfg, "1.2.3", newTestLogger()),
		sigCh: make(chan os.Signal, 1),
		done:  make(chan error, 1),
		out:   &syncBuffer{},
	}
	r.orch.SetOutput(r.out)

	go func() {
		r.done <- r.orch.RunWithSignals(context.Background(), r.sigCh)
	}()

	waitFor(t, "management server running", func() bool {
		return r.orch.Ready()
	})

	t.Cleanup(func() {
		if r.stopped {
			return
		}
		r.sigCh <- syscall.SIGTERM
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
		}
	})
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.stopped = true
	r.sigCh <- syscall.SIGTERM
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after SIGTERM")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestOrchestrator_ServesDemoInputs(t *testing.T) {
	r := startOrchestrator(t, testConfig())

	waitFor(t, "demo inputs registered", func() bool {
		return r.orch.Registry().Len() == 4
	})

	c := client.New(client.Config{Addr: r.orch.Server().Addr().String()})
	ctx := context.Background()

	ids, err := c.Config(ctx)
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	want := []string{"demo-00", "demo-01", "demo-02", "demo-03"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("Config() = %v, want %v", ids, want)
	}

	service, err := c.Service(ctx)
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if service != "go-mux-mgmt 1.2.3 MGMT Server" {
		t.Errorf("Service() = %q", service)
	}

	// The engine publishes on a ticker, so getptree completes
	tree, err := c.GetTree(ctx)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	if _, ok := tree["inputs"]; !ok {
		t.Errorf("GetTree() = %v, want an inputs section", tree)
	}

	r.stop(t)

	if r.orch.Registry().Len() != 0 {
		t.Errorf("demo inputs should unregister on shutdown, %d left", r.orch.Registry().Len())
	}
	if got := r.orch.Server().State(); got != supervisor.StateStopped {
		t.Errorf("server state = %v, want stopped", got)
	}

	out := r.out.String()
	for _, want := range []string{"Exit Summary", "Version:                1.2.3", "Total:"} {
		if !strings.Contains(out, want) {
			t.Errorf("exit summary missing %q:\n%s", want, out)
		}
	}
}

func TestOrchestrator_SetTreeIsApplied(t *testing.T) {
	r := startOrchestrator(t, testConfig())

	c := client.New(client.Config{Addr: r.orch.Server().Addr().String()})
	ctx := context.Background()

	submitted := map[string]any{"general": map[string]any{"dabmode": "2"}}
	if err := c.SetTree(ctx, submitted); err != nil {
		t.Fatalf("SetTree() error = %v", err)
	}

	waitFor(t, "engine to adopt the tree", func() bool {
		return r.orch.engine.Applied() == 1
	})

	tree, err := c.GetTree(ctx)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	general, _ := tree["general"].(map[string]any)
	if general["dabmode"] != "2" {
		t.Errorf("GetTree() = %v, want the submitted tree", tree)
	}

	r.stop(t)
	if !strings.Contains(r.out.String(), "Config Trees Applied:   1") {
		t.Errorf("exit summary should count the applied tree:\n%s", r.out.String())
	}
}

func TestOrchestrator_SighupRestarts(t *testing.T) {
	r := startOrchestrator(t, testConfig())
	before := r.orch.Server().Addr().String()

	r.sigCh <- syscall.SIGHUP

	waitFor(t, "server restart", func() bool {
		return r.orch.restarts.Load() == 1
	})

	after := r.orch.Server().Addr().String()
	if after == before {
		t.Errorf("port 0 restart should bind a new address, still %s", after)
	}

	c := client.New(client.Config{Addr: after})
	if _, err := c.Config(context.Background()); err != nil {
		t.Errorf("Config() after restart error = %v", err)
	}

	r.stop(t)
	if !strings.Contains(r.out.String(), "Server Restarts:        1") {
		t.Errorf("exit summary should count the restart:\n%s", r.out.String())
	}
}

func TestOrchestrator_MetricsEndpoint(t *testing.T) {
	r := startOrchestrator(t, testConfig())

	waitFor(t, "demo inputs registered", func() bool {
		return r.orch.Registry().Len() == 4
	})

	base := "http://" + r.orch.MetricsServer().Addr()

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		"mux_mgmt_inputs 4",
		"mux_mgmt_server_running 1",
		`mux_mgmt_info{service="go-mux-mgmt",version="1.2.3"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Get(base + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", resp.StatusCode)
	}

	r.stop(t)
}

func TestOrchestrator_ContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = ""
	cfg.DemoInputs = 0

	orch := New(cfg, "dev", newTestLogger())
	orch.SetOutput(io.Discard)

	if orch.MetricsServer() != nil {
		t.Error("metrics server should be disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.RunWithSignals(ctx, nil) }()

	waitFor(t, "management server running", orch.Ready)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOrchestrator_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	tests := []struct {
		name          string
		skipPreflight bool
		wantOutput    string
	}{
		{"caught by preflight", false, "mgmt_port"},
		{"caught by bind", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MgmtPort = ln.Addr().(*net.TCPAddr).Port
			cfg.DemoInputs = 0
			cfg.SkipPreflight = tt.skipPreflight

			orch := New(cfg, "dev", newTestLogger())
			var out syncBuffer
			orch.SetOutput(&out)

			if err := orch.RunWithSignals(context.Background(), nil); err == nil {
				t.Fatal("Run should fail when the management port is taken")
			}
			if tt.wantOutput != "" && !strings.Contains(out.String(), tt.wantOutput) {
				t.Errorf("output %q should mention %s", out.String(), tt.wantOutput)
			}
			if orch.Ready() {
				t.Error("server should not be running")
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(3*time.Hour + 2*time.Minute + time.Second); got != "03:02:01" {
		t.Errorf("formatDuration = %q", got)
	}
}
