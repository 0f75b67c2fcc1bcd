package demo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/ptree"
)

// Engine stands in for the multiplexer's main loop. On every tick it adopts
// a tree submitted by a management client, if any, and publishes its current
// tree so that waiting getptree requests complete.
type Engine struct {
	bridge   *ptree.Bridge
	interval time.Duration
	logger   *slog.Logger

	tree    ptree.Tree
	applied int
}

// NewEngine creates an engine starting from initial.
func NewEngine(bridge *ptree.Bridge, initial ptree.Tree, interval time.Duration, logger *slog.Logger) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		bridge:   bridge,
		interval: interval,
		logger:   logger,
		tree:     initial.Clone(),
	}
}

// Run steps the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Step()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step runs one iteration of the engine loop. It is not safe to call Step
// concurrently with itself or Run.
func (e *Engine) Step() {
	if t, ok := e.bridge.TryTakeUpdate(); ok {
		e.tree = t
		e.applied++
		e.logger.Info("ptree_applied", "keys", len(t), "applied", e.applied)
	}
	e.bridge.Publish(e.tree)
}

// Tree returns a copy of the engine's current tree.
func (e *Engine) Tree() ptree.Tree {
	return e.tree.Clone()
}

// Applied returns how many client trees the engine has adopted.
func (e *Engine) Applied() int {
	return e.applied
}

// InitialTree builds the starting configuration of a demo mux with the
// given inputs.
func InitialTree(service string, inputs []ProducerConfig) ptree.Tree {
	tree := make(map[string]any, len(inputs))
	for _, in := range inputs {
		tree[in.ID] = map[string]any{
			"profile": in.Profile.String(),
			"buffer":  fmt.Sprint(bufferCapacity),
		}
	}
	return ptree.Tree{
		"general": map[string]any{
			"service": service,
			"dabmode": "1",
		},
		"inputs": tree,
	}
}
