package metrics

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-mux-mgmt/internal/mgmt"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCollector creates a collector with an isolated registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return NewCollectorWithRegistry(cfg, registry), registry
}

// gather returns the metric families of registry by name.
func gather(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

// findMetric returns the metric of family name whose labels include all of
// labels, or nil.
func findMetric(families map[string]*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	mf, ok := families[name]
	if !ok {
		return nil
	}
	for _, m := range mf.GetMetric() {
		match := true
		for k, v := range labels {
			if labelValue(m, k) != v {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}

func gaugeValue(t *testing.T, families map[string]*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(families, name, labels)
	if m == nil {
		t.Fatalf("metric %s%v not found", name, labels)
	}
	return m.GetGauge().GetValue()
}

// =============================================================================
// Tests: inputs
// =============================================================================

func TestCollector_InputMetrics(t *testing.T) {
	clock := newFakeClock()
	reg := stats.NewRegistry(newTestLogger())

	in := stats.NewInputStats("eth0", stats.Thresholds{Now: clock.Now})
	if err := in.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer in.Close()

	_, registry := newTestCollector(CollectorConfig{Registry: reg, ServiceName: "go-mux-mgmt", Version: "test"})

	clock.Advance(stats.DefaultNoDataTimeout + time.Second)
	families := gather(t, registry)

	if got := gaugeValue(t, families, "mux_mgmt_inputs", nil); got != 1 {
		t.Errorf("inputs = %v, want 1", got)
	}
	input := map[string]string{"input": "eth0"}
	if got := gaugeValue(t, families, "mux_mgmt_input_min_fill", input); got != -1 {
		t.Errorf("min_fill = %v, want -1", got)
	}
	if got := gaugeValue(t, families, "mux_mgmt_input_max_fill", input); got != 0 {
		t.Errorf("max_fill = %v, want 0", got)
	}
	if got := gaugeValue(t, families, "mux_mgmt_input_peak_dbfs", map[string]string{"input": "eth0", "channel": "left"}); got != -90 {
		t.Errorf("peak left = %v, want -90", got)
	}
	if got := gaugeValue(t, families, "mux_mgmt_input_state", map[string]string{"input": "eth0", "state": "NoData"}); got != 1 {
		t.Errorf("state NoData = %v, want 1", got)
	}
	if got := gaugeValue(t, families, "mux_mgmt_input_state", map[string]string{"input": "eth0", "state": "Streaming"}); got != 0 {
		t.Errorf("state Streaming = %v, want 0", got)
	}
	if got := gaugeValue(t, families, "mux_mgmt_info", map[string]string{"service": "go-mux-mgmt", "version": "test"}); got != 1 {
		t.Errorf("info = %v, want 1", got)
	}
}

func TestCollector_ScrapeDoesNotResetWindow(t *testing.T) {
	reg := stats.NewRegistry(newTestLogger())
	in := stats.NewInputStats("eth0", stats.Thresholds{})
	if err := in.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer in.Close()

	_, registry := newTestCollector(CollectorConfig{Registry: reg})

	in.NotifyUnderrun()
	in.NotifyBuffer(512)

	families := gather(t, registry)
	if got := gaugeValue(t, families, "mux_mgmt_input_window_underruns", map[string]string{"input": "eth0"}); got != 1 {
		t.Errorf("underruns = %v, want 1", got)
	}
	gather(t, registry)

	values := reg.SnapshotValues()["eth0"].InputStat
	if values.NumUnderruns != 1 || values.MaxFill != 512 {
		t.Errorf("values after scrapes = %+v, want window intact", values)
	}
}

func TestCollector_InputsFollowRegistry(t *testing.T) {
	reg := stats.NewRegistry(newTestLogger())
	_, registry := newTestCollector(CollectorConfig{Registry: reg})

	in := stats.NewInputStats("aux", stats.Thresholds{})
	if err := in.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got := gaugeValue(t, gather(t, registry), "mux_mgmt_inputs", nil); got != 1 {
		t.Errorf("inputs = %v, want 1", got)
	}

	in.Close()
	families := gather(t, registry)
	if got := gaugeValue(t, families, "mux_mgmt_inputs", nil); got != 0 {
		t.Errorf("inputs = %v, want 0", got)
	}
	if findMetric(families, "mux_mgmt_input_max_fill", map[string]string{"input": "aux"}) != nil {
		t.Error("closed input should disappear from the exposition")
	}
}

// =============================================================================
// Tests: server state
// =============================================================================

func TestCollector_ServerGauges(t *testing.T) {
	var running, fault bool
	_, registry := newTestCollector(CollectorConfig{
		ServerRunning: func() bool { return running },
		ServerFault:   func() bool { return fault },
	})

	families := gather(t, registry)
	if gaugeValue(t, families, "mux_mgmt_server_running", nil) != 0 {
		t.Error("server_running should be 0")
	}

	running, fault = true, true
	families = gather(t, registry)
	if gaugeValue(t, families, "mux_mgmt_server_running", nil) != 1 {
		t.Error("server_running should be 1")
	}
	if gaugeValue(t, families, "mux_mgmt_server_fault", nil) != 1 {
		t.Error("server_fault should be 1")
	}
}

// =============================================================================
// Tests: requests
// =============================================================================

func TestCollector_ObserveRequest(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})

	c.ObserveRequest(mgmt.CmdConfig, time.Millisecond, nil)
	c.ObserveRequest(mgmt.CmdConfig, 2*time.Millisecond, nil)
	c.ObserveRequest(mgmt.CmdSetPtree, time.Millisecond, errors.New("bad document"))

	families := gather(t, registry)

	ok := findMetric(families, "mux_mgmt_requests_total", map[string]string{"command": "config", "outcome": "ok"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("config ok = %v, want 2", ok)
	}
	failed := findMetric(families, "mux_mgmt_requests_total", map[string]string{"command": "setptree", "outcome": "error"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("setptree error = %v, want 1", failed)
	}

	hist := findMetric(families, "mux_mgmt_request_duration_seconds", map[string]string{"command": "config"})
	if hist == nil || hist.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("config histogram = %v, want 2 samples", hist)
	}

	for _, q := range []string{"0.5", "0.95", "0.99"} {
		v := gaugeValue(t, families, "mux_mgmt_request_duration_quantile_seconds", map[string]string{"quantile": q})
		if v < 0.0005 || v > 0.0025 {
			t.Errorf("quantile %s = %v, want within observed range", q, v)
		}
	}
}

func TestRequestMetrics_WindowExpiry(t *testing.T) {
	clock := newFakeClock()
	m := newRequestMetrics(time.Minute, clock.Now)

	for i := 0; i < 10; i++ {
		m.observe("values", 100*time.Millisecond, nil)
	}
	if q := m.quantiles(); q == nil || q[0.5] < 0.09 || q[0.5] > 0.11 {
		t.Errorf("p50 = %v, want ~0.1", q)
	}

	clock.Advance(2 * time.Minute)
	if q := m.quantiles(); q != nil {
		t.Errorf("quantiles after expiry = %v, want none", q)
	}

	m.observe("values", time.Second, nil)
	if q := m.quantiles(); q == nil || q[0.99] < 0.9 {
		t.Errorf("p99 = %v, want ~1s from fresh window only", q)
	}
}

func TestRequestMetrics_NoQuantilesWhenIdle(t *testing.T) {
	_, registry := newTestCollector(CollectorConfig{})

	families := gather(t, registry)
	if _, ok := families["mux_mgmt_request_duration_quantile_seconds"]; ok {
		t.Error("quantiles should be absent before any request")
	}
}
