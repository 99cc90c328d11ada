package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RunFunc performs one pass and reports how many records it changed.
type RunFunc func(ctx context.Context) (changed int, err error)

// Settings is the runtime-adjustable part of a loop's configuration.
// It is swapped as a whole; fields are never updated in place.
type Settings struct {
	Enabled  bool
	Interval time.Duration
}

func (s Settings) active() bool {
	return s.Enabled && s.Interval > 0
}

// Status is the observable outcome of the most recent pass.
type Status struct {
	LastRun          *time.Time `json:"last_run,omitempty"`
	LastChangedCount int        `json:"last_changed_count"`
	LastError        string     `json:"last_error,omitempty"`
	Running          bool       `json:"running"`
	Enabled          bool       `json:"enabled"`
	IntervalSeconds  int        `json:"interval_seconds"`
}

// LoopConfig holds the fixed timing of a Loop.
type LoopConfig struct {
	Name string
	// StartupDelay postpones the first pass after Run starts.
	StartupDelay time.Duration
	// Warmup is the delay before the first pass after a disabled loop is
	// enabled.
	Warmup      time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Loop runs a RunFunc whenever its interval elapses or it is triggered.
// While disabled it only responds to manual triggers.
type Loop struct {
	cfg     LoopConfig
	run     RunFunc
	gate    *Gate
	trigger *Trigger
	logger  *zap.Logger

	settings atomic.Pointer[Settings]

	warmMu    sync.Mutex
	warmTimer *time.Timer

	statusMu sync.RWMutex
	status   Status
	onStatus []func(Status)

	now func() time.Time
}

// NewLoop creates a loop. gate may be shared with other callers of the same
// external resource; a nil gate runs passes without spacing.
func NewLoop(cfg LoopConfig, gate *Gate, run RunFunc, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		cfg:     cfg,
		run:     run,
		gate:    gate,
		trigger: NewTrigger(),
		logger:  logger.With(zap.String("loop", cfg.Name)),
		now:     time.Now,
	}
	return l
}

// Apply installs new settings. Enabling a previously disabled loop schedules
// a warm-up pass; disabling cancels a pending one. The first Apply only
// installs the snapshot, since Run fires its own startup pass.
func (l *Loop) Apply(s Settings) {
	prev := l.settings.Swap(&s)

	l.logger.Info("loop settings applied",
		zap.Bool("enabled", s.Enabled),
		zap.Duration("interval", s.Interval),
	)

	switch {
	case prev != nil && !prev.active() && s.active():
		l.scheduleWarmup()
	case !s.active():
		l.cancelWarmup()
	}
	l.notify()
}

// Settings returns the current settings snapshot.
func (l *Loop) Settings() Settings {
	if s := l.settings.Load(); s != nil {
		return *s
	}
	return Settings{}
}

// Trigger requests a pass as soon as possible.
func (l *Loop) Trigger() {
	l.trigger.Fire()
}

// Status returns a copy of the last pass outcome.
func (l *Loop) Status() Status {
	l.statusMu.RLock()
	st := l.status
	l.statusMu.RUnlock()
	s := l.Settings()
	st.Enabled = s.Enabled
	st.IntervalSeconds = int(s.Interval / time.Second)
	return st
}

// OnStatusChange registers fn to be called after every status update.
// Callbacks must not block.
func (l *Loop) OnStatusChange(fn func(Status)) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.onStatus = append(l.onStatus, fn)
}

// Run blocks until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	defer l.cancelWarmup()

	if err := sleepContext(ctx, l.cfg.StartupDelay); err != nil {
		return
	}
	if l.Settings().active() {
		l.trigger.Fire()
	}

	for {
		var timeout time.Duration
		if s := l.Settings(); s.active() {
			timeout = l.clamp(s.Interval)
		}

		triggered, err := l.trigger.Wait(ctx, timeout)
		if err != nil {
			return
		}
		if !triggered && !l.Settings().Enabled {
			continue
		}

		l.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// RunNow executes a single pass synchronously through the gate.
func (l *Loop) RunNow(ctx context.Context) error {
	return l.runOnce(ctx)
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	l.setRunning(true)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
		}
		if err != nil && ctx.Err() == nil {
			l.logger.Error("pass failed", zap.Error(err))
		}
		l.finish(err, ctx.Err() != nil)
	}()

	pass := func(ctx context.Context) error {
		changed, err := l.run(ctx)
		if err != nil {
			return err
		}
		now := l.now()
		l.statusMu.Lock()
		l.status.LastRun = &now
		l.status.LastChangedCount = changed
		l.status.LastError = ""
		l.statusMu.Unlock()
		l.logger.Info("pass complete", zap.Int("changed", changed))
		return nil
	}

	if l.gate == nil {
		return pass(ctx)
	}
	return l.gate.Do(ctx, pass)
}

func (l *Loop) finish(err error, canceled bool) {
	l.statusMu.Lock()
	l.status.Running = false
	if err != nil && !canceled {
		l.status.LastError = err.Error()
	}
	l.statusMu.Unlock()
	l.notify()
}

func (l *Loop) setRunning(running bool) {
	l.statusMu.Lock()
	l.status.Running = running
	l.statusMu.Unlock()
	l.notify()
}

func (l *Loop) notify() {
	l.statusMu.RLock()
	fns := slices.Clone(l.onStatus)
	l.statusMu.RUnlock()
	if len(fns) == 0 {
		return
	}
	st := l.Status()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Warn("status callback panicked", zap.Any("panic", r))
				}
			}()
			fn(st)
		}()
	}
}

func (l *Loop) scheduleWarmup() {
	l.warmMu.Lock()
	defer l.warmMu.Unlock()
	if l.warmTimer != nil {
		l.warmTimer.Stop()
	}
	l.warmTimer = time.AfterFunc(l.cfg.Warmup, func() {
		if l.Settings().active() {
			l.logger.Info("loop enabled, triggering first pass", zap.Duration("warmup", l.cfg.Warmup))
			l.trigger.Fire()
		}
	})
}

func (l *Loop) cancelWarmup() {
	l.warmMu.Lock()
	defer l.warmMu.Unlock()
	if l.warmTimer != nil {
		l.warmTimer.Stop()
		l.warmTimer = nil
	}
}

func (l *Loop) clamp(d time.Duration) time.Duration {
	if l.cfg.MinInterval > 0 && d < l.cfg.MinInterval {
		return l.cfg.MinInterval
	}
	if l.cfg.MaxInterval > 0 && d > l.cfg.MaxInterval {
		return l.cfg.MaxInterval
	}
	return d
}
