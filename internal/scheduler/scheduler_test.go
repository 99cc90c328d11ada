package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/netreach/internal/testutil"
)

func TestTrigger_Coalesces(t *testing.T) {
	tr := NewTrigger()
	tr.Fire()
	tr.Fire()
	tr.Fire()

	triggered, err := tr.Wait(context.Background(), 50*time.Millisecond)
	if err != nil || !triggered {
		t.Fatalf("first Wait = %v, %v; want true, nil", triggered, err)
	}
	triggered, err = tr.Wait(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if triggered {
		t.Error("second Wait triggered; fires should have coalesced")
	}
}

func TestTrigger_WaitCanceled(t *testing.T) {
	tr := NewTrigger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error = %v, want context.Canceled", err)
	}
}

func TestGate_EnforcesMinimumGap(t *testing.T) {
	clock := testutil.NewClock()
	g := NewGate(15*time.Second, nil, WithGateClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	if err := g.Do(ctx, fn); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Fatalf("first use slept %v", clock.Sleeps())
	}

	clock.Advance(5 * time.Second)
	if err := g.Do(ctx, fn); err != nil {
		t.Fatalf("second Do: %v", err)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 10*time.Second {
		t.Errorf("Sleeps = %v, want [10s]", sleeps)
	}

	clock.Advance(time.Minute)
	boom := errors.New("boom")
	if err := g.Do(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Do error = %v, want boom", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("use after gap elapsed slept: %v", clock.Sleeps())
	}

	// A failed use still counts toward the gap.
	if err := g.Do(ctx, fn); err != nil {
		t.Fatalf("fourth Do: %v", err)
	}
	if got := clock.Sleeps(); len(got) != 2 || got[1] != 15*time.Second {
		t.Errorf("Sleeps = %v, want second entry 15s", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGate_Serializes(t *testing.T) {
	g := NewGate(0, nil)
	var active, peak int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoop_DisabledRunsOnlyOnTrigger(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop(LoopConfig{Name: "test"}, nil, func(context.Context) (int, error) {
		runs.Add(1)
		return 3, nil
	}, nil)
	l.Apply(Settings{Enabled: false, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("disabled loop ran %d times without a trigger", n)
	}

	l.Trigger()
	waitFor(t, func() bool { return runs.Load() == 1 })

	st := l.Status()
	if st.LastRun == nil || st.LastChangedCount != 3 || st.LastError != "" {
		t.Errorf("Status = %+v, want LastRun set, changed 3, no error", st)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestLoop_EnabledRunsOnStartupAndInterval(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop(LoopConfig{Name: "test"}, nil, func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}, nil)
	l.Apply(Settings{Enabled: true, Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return runs.Load() >= 3 })
}

func TestLoop_ErrorRecordedAndLoopContinues(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop(LoopConfig{Name: "test"}, nil, func(context.Context) (int, error) {
		if runs.Add(1) == 1 {
			return 0, errors.New("controller unreachable")
		}
		panic("bad pass")
	}, nil)

	var mu sync.Mutex
	var seen []Status
	l.OnStatusChange(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Trigger()
	waitFor(t, func() bool { return l.Status().LastError == "controller unreachable" })

	l.Trigger()
	waitFor(t, func() bool { return runs.Load() == 2 && l.Status().LastError == "pass panicked: bad pass" })

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Error("status callbacks not invoked")
	}
}

func TestLoop_EnableTransitionWarmup(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop(LoopConfig{Name: "test", Warmup: 20 * time.Millisecond, MinInterval: time.Hour}, nil,
		func(context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		}, nil)
	l.Apply(Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	// Enable then disable before the warm-up fires: nothing runs.
	l.Apply(Settings{Enabled: true, Interval: time.Hour})
	l.Apply(Settings{Enabled: false, Interval: time.Hour})
	time.Sleep(60 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("canceled warm-up still ran %d passes", n)
	}

	l.Apply(Settings{Enabled: true, Interval: time.Hour})
	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestLoop_Clamp(t *testing.T) {
	l := NewLoop(LoopConfig{MinInterval: 10 * time.Second, MaxInterval: time.Hour}, nil, nil, nil)
	if got := l.clamp(time.Second); got != 10*time.Second {
		t.Errorf("clamp(1s) = %v, want 10s", got)
	}
	if got := l.clamp(2 * time.Hour); got != time.Hour {
		t.Errorf("clamp(2h) = %v, want 1h", got)
	}
	if got := l.clamp(time.Minute); got != time.Minute {
		t.Errorf("clamp(1m) = %v, want 1m", got)
	}
}

func TestLoop_StatusCallbacks(t *testing.T) {
	l := NewLoop(LoopConfig{Name: "test"}, nil, func(context.Context) (int, error) { return 0, nil }, nil)

	var calls []string
	l.OnStatusChange(func(Status) { calls = append(calls, "first") })
	l.OnStatusChange(func(Status) { panic("callback failure") })
	l.OnStatusChange(func(Status) {
		calls = append(calls, "third")
		// Registering from inside a callback must not deadlock.
		l.OnStatusChange(func(Status) {})
	})

	l.Apply(Settings{Enabled: false, Interval: time.Minute})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "third" {
		t.Errorf("calls = %v, want [first third]", calls)
	}
}
