package ptree

import (
	"context"
	"log/slog"
	"sync"
)

// Bridge hands configuration documents between management clients and the
// pipeline engine without the two sharing a goroutine.
//
// Two one-way channels share one document slot:
//   - Engine to clients: Publish replaces the slot and clears pending.
//   - Clients to engine: Submit replaces the slot and sets retrievePending;
//     the engine picks it up with TryTakeUpdate.
//
// A client waiting in Wait returns as soon as pending is cleared or
// retrievePending is set, so the document it receives may be one that
// another client submitted rather than one the engine published. This is
// how the management protocol has always behaved and clients rely on it.
//
// Thread-safe: tree, pending, retrievePending and running are guarded by mu,
// and cond is tied to mu.
type Bridge struct {
	mu              sync.Mutex
	cond            *sync.Cond
	tree            Tree
	pending         bool
	retrievePending bool
	running         bool

	logger *slog.Logger
}

// NewBridge creates a bridge holding initial.
func NewBridge(initial Tree, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		tree:   initial.Clone(),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SetRunning tells the bridge whether the management server is serving.
// Engine updates are dropped while it is not.
func (b *Bridge) SetRunning(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
}

// Publish makes t the current document and wakes a waiting client.
// It returns false if the server is not running and t was dropped.
func (b *Bridge) Publish(t Tree) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return false
	}
	b.tree = t.Clone()
	b.pending = false
	b.cond.Signal()
	return true
}

// Submit stores a client-supplied document for the engine and wakes a
// waiting client. Any outstanding client request is abandoned.
func (b *Bridge) Submit(t Tree) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree = t.Clone()
	b.retrievePending = true
	b.pending = false
	b.cond.Signal()

	b.logger.Debug("ptree_submitted", "keys", len(t))
}

// TryTakeUpdate returns the document a client submitted since the last call,
// if any. It never blocks.
func (b *Bridge) TryTakeUpdate() (Tree, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.retrievePending {
		return nil, false
	}
	b.retrievePending = false
	b.cond.Signal()
	return b.tree.Clone(), true
}

// Wait marks a client request as pending and blocks until the engine
// publishes or a client submits a document, then returns the current one.
// There is no deadline; the caller cancels ctx when its connection fails.
func (b *Bridge) Wait(ctx context.Context) (Tree, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = true

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	for b.pending && !b.retrievePending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.cond.Wait()
	}
	return b.tree.Clone(), nil
}

// Current returns a copy of the current document.
func (b *Bridge) Current() Tree {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree.Clone()
}

// Flags returns the pending and retrieve-pending flags.
func (b *Bridge) Flags() (pending, retrievePending bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending, b.retrievePending
}
