package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Gate serializes use of a shared resource and spaces consecutive uses at
// least minGap apart, measured from the end of one use to the start of the
// next.
type Gate struct {
	sem    *semaphore.Weighted
	minGap time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	lastUse time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the time source and sleep function.
func WithGateClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) GateOption {
	return func(g *Gate) {
		g.now = now
		g.sleep = sleep
	}
}

// NewGate returns a Gate enforcing minGap between uses.
func NewGate(minGap time.Duration, logger *zap.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		sem:    semaphore.NewWeighted(1),
		minGap: minGap,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn once the gate is free and the minimum gap has elapsed. The gap
// is recorded even when fn fails so that failing callers are spaced too.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	g.mu.Lock()
	last := g.lastUse
	g.mu.Unlock()

	if !last.IsZero() {
		if wait := g.minGap - g.now().Sub(last); wait > 0 {
			g.logger.Debug("gate spacing calls", zap.Duration("wait", wait))
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	defer func() {
		g.mu.Lock()
		g.lastUse = g.now()
		g.mu.Unlock()
	}()
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
