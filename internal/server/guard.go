package server

import (
	"context"
	"errors"
	"sync"
)

// ErrPlanInProgress is returned when a connection asks for a second plan
// while one is still running
var ErrPlanInProgress = errors.New("plan already in progress")

// PlanGuard runs at most one plan at a time in the background
type PlanGuard struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs plan in a new goroutine with a context derived from parent. It
// fails with ErrPlanInProgress while a previous plan has not returned.
func (g *PlanGuard) Start(parent context.Context, plan func(ctx context.Context)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return ErrPlanInProgress
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	g.cancel, g.done = cancel, done

	go func() {
		defer close(done)
		defer func() {
			g.mu.Lock()
			cancel()
			g.cancel = nil
			g.mu.Unlock()
		}()
		plan(ctx)
	}()
	return nil
}

// Running reports whether a plan is in flight
func (g *PlanGuard) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Cancel stops the running plan, if any, and waits for it to return
func (g *PlanGuard) Cancel() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
