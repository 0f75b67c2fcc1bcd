package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ServerMetrics is the dashboard's view of a daemon's /metrics endpoint.
type ServerMetrics struct {
	Running bool
	Fault   bool

	// Requests
	RequestsTotal float64
	ErrorsTotal   float64
	RequestRate   float64 // requests/sec since the previous scrape

	// Service time quantiles over the daemon's rolling window, in seconds
	LatencyP50 float64
	LatencyP95 float64
	LatencyP99 float64

	// Inputs by state label
	Inputs      int
	StateCounts map[string]int

	// Metadata
	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// Scraper polls a mux-mgmt /metrics endpoint.
// Uses atomic.Value for lock-free metric reads.
type Scraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	metrics atomic.Value // *ServerMetrics

	// Rate calculation state
	lastReqs atomic.Uint64 // float64 as bits
	lastTime atomic.Value  // time.Time
}

// NewScraper creates a scraper for url. Returns nil if url is empty
// (feature disabled).
func NewScraper(url string, interval time.Duration, logger *slog.Logger) *Scraper {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}

	s := &Scraper{
		url:      url,
		interval: interval,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	s.metrics.Store(&ServerMetrics{
		Healthy: false,
		Error:   "Not yet scraped",
	})
	return s
}

// Run scrapes until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Scrape(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scrape(ctx)
		}
	}
}

// GetMetrics returns the latest scrape result (thread-safe, lock-free).
func (s *Scraper) GetMetrics() *ServerMetrics {
	if s == nil {
		return nil
	}
	ptr, _ := s.metrics.Load().(*ServerMetrics)
	return ptr
}

// Scrape fetches and parses the endpoint once. On failure the previous
// values are kept and marked unhealthy.
func (s *Scraper) Scrape(ctx context.Context) {
	now := time.Now()

	families, err := s.fetch(ctx)
	if err != nil {
		s.logger.Debug("metrics_scrape_error", "url", s.url, "error", err)
		prev := s.GetMetrics()
		next := &ServerMetrics{}
		if prev != nil {
			*next = *prev
		}
		next.Healthy = false
		next.Error = err.Error()
		next.LastUpdate = now
		s.metrics.Store(next)
		return
	}

	m := extractServerMetrics(families)
	m.RequestRate = s.requestRate(m.RequestsTotal, now)
	m.LastUpdate = now
	m.Healthy = true
	s.metrics.Store(m)
}

func (s *Scraper) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return parseFamilies(resp.Body)
}

// parseFamilies decodes the Prometheus text format.
func parseFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// Summarize reads the same view from an in-process gatherer. The daemon uses
// it for its exit summary.
func Summarize(g prometheus.Gatherer) (*ServerMetrics, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	families := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		families[mf.GetName()] = mf
	}

	m := extractServerMetrics(families)
	m.LastUpdate = time.Now()
	m.Healthy = true
	return m, nil
}

// extractServerMetrics reads the families exported by Collector.
func extractServerMetrics(families map[string]*dto.MetricFamily) *ServerMetrics {
	m := &ServerMetrics{StateCounts: make(map[string]int)}

	if mf, ok := families[namespace+"_server_running"]; ok && len(mf.GetMetric()) > 0 {
		m.Running = mf.GetMetric()[0].GetGauge().GetValue() == 1
	}
	if mf, ok := families[namespace+"_server_fault"]; ok && len(mf.GetMetric()) > 0 {
		m.Fault = mf.GetMetric()[0].GetGauge().GetValue() == 1
	}

	if mf, ok := families[namespace+"_requests_total"]; ok {
		for _, metric := range mf.GetMetric() {
			v := metric.GetCounter().GetValue()
			m.RequestsTotal += v
			if labelValue(metric, "outcome") == "error" {
				m.ErrorsTotal += v
			}
		}
	}

	if mf, ok := families[namespace+"_request_duration_quantile_seconds"]; ok {
		for _, metric := range mf.GetMetric() {
			v := metric.GetGauge().GetValue()
			switch labelValue(metric, "quantile") {
			case "0.5":
				m.LatencyP50 = v
			case "0.95":
				m.LatencyP95 = v
			case "0.99":
				m.LatencyP99 = v
			}
		}
	}

	if mf, ok := families[namespace+"_inputs"]; ok && len(mf.GetMetric()) > 0 {
		m.Inputs = int(mf.GetMetric()[0].GetGauge().GetValue())
	}
	if mf, ok := families[namespace+"_input_state"]; ok {
		for _, metric := range mf.GetMetric() {
			if metric.GetGauge().GetValue() == 1 {
				m.StateCounts[labelValue(metric, "state")]++
			}
		}
	}

	return m
}

// requestRate derives requests/sec from the cumulative counter.
func (s *Scraper) requestRate(total float64, now time.Time) float64 {
	var rate float64

	last := loadFloat64(&s.lastReqs)
	if lastTime, ok := s.lastTime.Load().(time.Time); ok && !lastTime.IsZero() {
		if dt := now.Sub(lastTime).Seconds(); dt > 0 && total >= last {
			rate = (total - last) / dt
		}
	}

	storeFloat64(&s.lastReqs, total)
	s.lastTime.Store(now)
	return rate
}

// StateSummary formats the state counts as "NoData=1 Streaming=3".
func (m *ServerMetrics) StateSummary() string {
	if m == nil || len(m.StateCounts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.StateCounts))
	for k := range m.StateCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m.StateCounts[k]))
	}
	return strings.Join(parts, " ")
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

// storeFloat64 stores a float64 value atomically using math.Float64bits.
func storeFloat64(addr *atomic.Uint64, val float64) {
	addr.Store(math.Float64bits(val))
}

// loadFloat64 loads a float64 value atomically using math.Float64frombits.
func loadFloat64(addr *atomic.Uint64) float64 {
	return math.Float64frombits(addr.Load())
}
