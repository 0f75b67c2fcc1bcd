package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLatencyWindow is the rolling window of the latency quantiles.
const DefaultLatencyWindow = 5 * time.Minute

// latencyQuantiles are the quantiles exported from the t-digest.
var latencyQuantiles = []float64{0.50, 0.95, 0.99}

// latencySample is a single request duration with its timestamp.
type latencySample struct {
	value float64
	time  time.Time
}

// requestMetrics counts management requests and tracks their service time.
//
// Besides the cumulative histogram, recent service times are kept in a
// rolling window summarised by a T-Digest, so the exported quantiles follow
// the current behaviour of the server instead of its whole lifetime.
type requestMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	quantile *prometheus.Desc

	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	digest    *tdigest.TDigest
	samples   []latencySample
	lastClean time.Time
}

func newRequestMetrics(window time.Duration, now func() time.Time) *requestMetrics {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &requestMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Management requests by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent servicing a management command",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"command"},
		),
		quantile: prometheus.NewDesc(
			namespace+"_request_duration_quantile_seconds",
			"Service time quantiles over the rolling window",
			[]string{"quantile"}, nil,
		),
		window:    window,
		now:       now,
		digest:    tdigest.NewWithCompression(100),
		lastClean: now(),
	}
}

func (m *requestMetrics) observe(command string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.total.WithLabelValues(command, outcome).Inc()
	m.duration.WithLabelValues(command).Observe(duration.Seconds())

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.digest.Add(duration.Seconds(), 1)
	m.samples = append(m.samples, latencySample{value: duration.Seconds(), time: now})
	// Trigger cleanup every 10s or when the window grows large
	if len(m.samples) > 1000 || now.Sub(m.lastClean) > 10*time.Second {
		m.cleanupWindow(now)
	}
}

// quantiles returns the current window quantiles, or nil if it is empty.
func (m *requestMetrics) quantiles() map[float64]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupWindow(m.now())
	if len(m.samples) == 0 {
		return nil
	}

	out := make(map[float64]float64, len(latencyQuantiles))
	for _, q := range latencyQuantiles {
		out[q] = m.digest.Quantile(q)
	}
	return out
}

// cleanupWindow drops samples older than the window and rebuilds the digest
// if any expired. It must be called with mu held.
func (m *requestMetrics) cleanupWindow(now time.Time) {
	cutoff := now.Add(-m.window)

	valid := make([]latencySample, 0, len(m.samples))
	for _, s := range m.samples {
		if s.time.After(cutoff) {
			valid = append(valid, s)
		}
	}

	if len(valid) != len(m.samples) {
		m.digest = tdigest.NewWithCompression(100)
		for _, s := range valid {
			m.digest.Add(s.value, 1)
		}
	}

	m.samples = valid
	m.lastClean = now
}

// Describe implements prometheus.Collector.
func (m *requestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.total.Describe(ch)
	m.duration.Describe(ch)
	ch <- m.quantile
}

// Collect implements prometheus.Collector.
func (m *requestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.total.Collect(ch)
	m.duration.Collect(ch)

	for q, v := range m.quantiles() {
		ch <- prometheus.MustNewConstMetric(m.quantile, prometheus.GaugeValue, v, formatQuantile(q))
	}
}

func formatQuantile(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
