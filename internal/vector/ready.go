package vector

import (
	"context"
	"sync"
	"sync/atomic"
)

// readyGate runs an initialization function until it succeeds once. Unlike
// sync.Once a failed attempt is retried by the next caller.
type readyGate struct {
	mu   sync.Mutex
	done atomic.Bool
}

func (g *readyGate) Do(ctx context.Context, init func(context.Context) error) error {
	if g.done.Load() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return nil
	}
	if err := init(ctx); err != nil {
		return err
	}
	g.done.Store(true)
	return nil
}

