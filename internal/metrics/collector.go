// Package metrics exports the management plane to Prometheus and reads the
// exposition back for the dashboard.
//
// Input metrics are gathered on scrape from stats.Registry.Peek, so scraping
// never resets the reporting windows that management clients read through
// the values and state commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-mux-mgmt/internal/mgmt"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

const namespace = "mux_mgmt"

// reportedStates are the states exported by the input state metric.
var reportedStates = []stats.InputState{
	stats.StateNoData,
	stats.StateUnstable,
	stats.StateSilence,
	stats.StateStreaming,
}

// =============================================================================
// Inputs
// =============================================================================

// inputCollector is a prometheus.Collector over the registered inputs. Inputs
// come and go at runtime, so metrics are built per scrape instead of being
// held in vectors.
type inputCollector struct {
	registry *stats.Registry

	inputs    *prometheus.Desc
	minFill   *prometheus.Desc
	maxFill   *prometheus.Desc
	peak      *prometheus.Desc
	underruns *prometheus.Desc
	overruns  *prometheus.Desc
	state     *prometheus.Desc
}

func newInputCollector(registry *stats.Registry) *inputCollector {
	return &inputCollector{
		registry: registry,
		inputs: prometheus.NewDesc(
			namespace+"_inputs",
			"Number of registered inputs",
			nil, nil,
		),
		minFill: prometheus.NewDesc(
			namespace+"_input_min_fill",
			"Lowest buffer fill in the current window (-1 = no buffer notification yet)",
			[]string{"input"}, nil,
		),
		maxFill: prometheus.NewDesc(
			namespace+"_input_max_fill",
			"Highest buffer fill in the current window",
			[]string{"input"}, nil,
		),
		peak: prometheus.NewDesc(
			namespace+"_input_peak_dbfs",
			"Highest audio peak in the current window, in dBFS",
			[]string{"input", "channel"}, nil,
		),
		underruns: prometheus.NewDesc(
			namespace+"_input_window_underruns",
			"Buffer underruns in the current window",
			[]string{"input"}, nil,
		),
		overruns: prometheus.NewDesc(
			namespace+"_input_window_overruns",
			"Buffer overruns in the current window",
			[]string{"input"}, nil,
		),
		state: prometheus.NewDesc(
			namespace+"_input_state",
			"Classified input state (1 for the current state, 0 otherwise)",
			[]string{"input", "state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *inputCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inputs
	ch <- c.minFill
	ch <- c.maxFill
	ch <- c.peak
	ch <- c.underruns
	ch <- c.overruns
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *inputCollector) Collect(ch chan<- prometheus.Metric) {
	snapshots := c.registry.Peek()

	ch <- prometheus.MustNewConstMetric(c.inputs, prometheus.GaugeValue, float64(len(snapshots)))

	for _, s := range snapshots {
		v := s.Values
		ch <- prometheus.MustNewConstMetric(c.minFill, prometheus.GaugeValue, float64(v.MinFill), s.ID)
		ch <- prometheus.MustNewConstMetric(c.maxFill, prometheus.GaugeValue, float64(v.MaxFill), s.ID)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(v.PeakLeft), s.ID, "left")
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(v.PeakRight), s.ID, "right")
		ch <- prometheus.MustNewConstMetric(c.underruns, prometheus.GaugeValue, float64(v.NumUnderruns), s.ID)
		ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.GaugeValue, float64(v.NumOverruns), s.ID)

		for _, st := range reportedStates {
			val := 0.0
			if s.State == st {
				val = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, val, s.ID, st.String())
		}
	}
}

// =============================================================================
// Collector
// =============================================================================

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Registry    *stats.Registry
	ServiceName string
	Version     string

	// ServerRunning and ServerFault report the management server state.
	// Either may be nil.
	ServerRunning func() bool
	ServerFault   func() bool

	// LatencyWindow is the rolling window of the request latency quantiles.
	LatencyWindow time.Duration
}

// Collector owns every Prometheus metric of the daemon. It is also the
// mgmt.Observer of the management server.
type Collector struct {
	info     *prometheus.GaugeVec
	inputs   *inputCollector
	requests *requestMetrics
}

var _ mgmt.Observer = (*Collector)(nil)

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "info",
				Help:      "Information about the management server (value always 1)",
			},
			[]string{"service", "version"},
		),
		requests: newRequestMetrics(cfg.LatencyWindow, time.Now),
	}

	registry.MustRegister(c.info, c.requests)

	if cfg.Registry != nil {
		c.inputs = newInputCollector(cfg.Registry)
		registry.MustRegister(c.inputs)
	}
	if cfg.ServerRunning != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_running",
				Help:      "1 while the management accept loop is running",
			},
			boolGauge(cfg.ServerRunning),
		))
	}
	if cfg.ServerFault != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_fault",
				Help:      "1 if the last accept loop ended on an error",
			},
			boolGauge(cfg.ServerFault),
		))
	}

	c.info.WithLabelValues(cfg.ServiceName, cfg.Version).Set(1)

	return c
}

// ObserveRequest records one serviced management request.
func (c *Collector) ObserveRequest(cmd mgmt.Command, duration time.Duration, err error) {
	c.requests.observe(cmd.String(), duration, err)
}

func boolGauge(f func() bool) func() float64 {
	return func() float64 {
		if f() {
			return 1
		}
		return 0
	}
}
