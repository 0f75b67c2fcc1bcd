package client

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
	"github.com/randomizedcoder/go-mux-mgmt/internal/supervisor"
)

// Snapshot is one poll of a management server.
type Snapshot struct {
	Time    time.Time
	Service string
	Inputs  []Input
	Err     error

	// Failures counts consecutive failed polls, including this one.
	Failures int
}

// Input is the combined view of one input.
type Input struct {
	ID     string
	Values stats.InputValues
	State  stats.InputState
}

// PollerConfig holds configuration for creating a new Poller.
type PollerConfig struct {
	Interval time.Duration // default 1s
	MaxDelay time.Duration // longest wait after failures, default 30s
	Logger   *slog.Logger
}

// Poller polls config, values and state at a fixed interval and backs off
// while the server is unreachable. Each poll starts a new reporting window
// on the server, so a poller should be the only consumer of values/state.
type Poller struct {
	client   *Client
	interval time.Duration
	backoff  *supervisor.Backoff
	logger   *slog.Logger
	failures int
}

// NewPoller creates a poller.
func NewPoller(client *Client, cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < interval {
		maxDelay = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		client:   client,
		interval: interval,
		backoff: supervisor.NewBackoff(time.Now().UnixNano(), supervisor.BackoffConfig{
			Initial:    interval,
			Max:        maxDelay,
			Multiplier: 2,
			JitterPct:  0.2,
		}),
		logger: logger,
	}
}

// Poll queries the server once.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	snap := Snapshot{Time: time.Now()}

	service, ids, err := p.client.Describe(ctx)
	if err == nil {
		snap.Service = service
		snap.Inputs, err = p.inputs(ctx, ids)
	}

	if err != nil {
		p.failures++
		snap.Err = err
		snap.Failures = p.failures
		p.logger.Warn("poll_failed",
			"addr", p.client.Addr(),
			"failures", p.failures,
			"error", err,
		)
		return snap
	}

	if p.failures > 0 {
		p.logger.Info("poll_recovered", "addr", p.client.Addr(), "after_failures", p.failures)
	}
	p.failures = 0
	return snap
}

func (p *Poller) inputs(ctx context.Context, ids []string) ([]Input, error) {
	values, err := p.client.Values(ctx)
	if err != nil {
		return nil, err
	}
	states, err := p.client.State(ctx)
	if err != nil {
		return nil, err
	}

	// Inputs can register between the requests; report the union
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for id := range values {
		seen[id] = struct{}{}
	}
	for id := range states {
		seen[id] = struct{}{}
	}

	out := make([]Input, 0, len(seen))
	for id := range seen {
		v, ok := values[id]
		if !ok {
			v = stats.InputValues{MinFill: stats.MinFillUndefined}
		}
		out = append(out, Input{ID: id, Values: v, State: states[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// NextDelay returns how long to wait before the next poll.
func (p *Poller) NextDelay() time.Duration {
	if p.failures == 0 {
		p.backoff.Reset()
		return p.interval
	}
	return p.backoff.Next()
}

// Run polls until ctx is cancelled and passes every snapshot to fn.
func (p *Poller) Run(ctx context.Context, fn func(Snapshot)) {
	for {
		fn(p.Poll(ctx))

		timer := time.NewTimer(p.NextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
