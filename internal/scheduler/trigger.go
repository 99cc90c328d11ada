// Package scheduler drives periodic background passes: a coalescing manual
// trigger, a minimum-gap gate around shared external resources, and the loop
// that races the two against an interval.
package scheduler

import (
	"context"
	"time"
)

// Trigger is a coalescing wake-up signal. Any number of Fire calls before
// the next Wait collapse into one.
type Trigger struct {
	ch chan struct{}
}

// NewTrigger returns a ready Trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire requests a run. It never blocks.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the trigger fires, the timeout elapses, or ctx ends.
// A timeout of zero or less waits for the trigger alone. It reports whether
// the trigger (rather than the timeout) ended the wait.
func (t *Trigger) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.ch:
			return true, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}
