// Package engine is the single entry point a host program uses: it owns the
// scheduler, the timeline host and the timer host, and plugs into the tick
// runner as the update-phase system.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/config"
	"github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/timeline"
	"github.com/l1jgo/lapse/internal/timer"
)

type Options struct {
	Capacity        int           // initial pool and set capacity
	MaxTickDelta    time.Duration // 0 leaves deltas uncapped
	Recycle         bool
	StrictGoroutine bool
}

// OptionsFrom maps the [engine] config section.
func OptionsFrom(c config.EngineConfig) Options {
	return Options{
		Capacity:        c.LapserCapacity,
		MaxTickDelta:    c.MaxTickDelta,
		Recycle:         c.Recycle,
		StrictGoroutine: c.StrictGoroutine,
	}
}

// Stats aggregates the bookkeeping of every subsystem.
type Stats struct {
	Scheduler lapse.Stats
	Timelines timeline.Stats
	Timers    int
}

type Engine struct {
	opts      Options
	log       *zap.Logger
	sched     *lapse.Scheduler
	timelines *timeline.Host
	timers    *timer.Host
}

var _ system.System = (*Engine)(nil)

func New(opts Options, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxTickDelta < 0 {
		return nil, fmt.Errorf("engine.New: max tick delta %s must not be negative: %w", opts.MaxTickDelta, lapse.ErrUsage)
	}
	var schedOpts []lapse.Option
	if opts.StrictGoroutine {
		schedOpts = append(schedOpts, lapse.WithOwnerCheck())
	}
	sched, err := lapse.NewScheduler(opts.Capacity, log.Named("lapse"), schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	timelines, err := timeline.NewHost(sched, opts.Capacity, log.Named("timeline"))
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	timers, err := timer.NewHost(sched, opts.Capacity, log.Named("timer"))
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if err := sched.SetRecycle(opts.Recycle); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	return &Engine{
		opts:      opts,
		log:       log,
		sched:     sched,
		timelines: timelines,
		timers:    timers,
	}, nil
}

func (e *Engine) check(op string) error {
	if e == nil || e.sched == nil {
		return fmt.Errorf("engine.%s: %w", op, lapse.ErrNotInitialized)
	}
	return nil
}

// Scheduler exposes the underlying scheduler for custom listeners.
func (e *Engine) Scheduler() *lapse.Scheduler {
	if e == nil {
		return nil
	}
	return e.sched
}

func (e *Engine) CreateLapser(listenerCapacity int) (*lapse.Lapser, error) {
	if err := e.check("CreateLapser"); err != nil {
		return nil, err
	}
	return e.sched.CreateLapser(listenerCapacity)
}

func (e *Engine) CreateFrameTimeline(rate float64, capacity, priority int) (timeline.FrameTimeline, error) {
	if err := e.check("CreateFrameTimeline"); err != nil {
		return timeline.FrameTimeline{}, err
	}
	return e.timelines.CreateFrames(rate, capacity, priority)
}

func (e *Engine) CreateDurationTimeline(rate float64, capacity, priority int) (timeline.DurationTimeline, error) {
	if err := e.check("CreateDurationTimeline"); err != nil {
		return timeline.DurationTimeline{}, err
	}
	return e.timelines.CreateDuration(rate, capacity, priority)
}

func (e *Engine) CreateDelay(fn timer.Callback, seconds float64, priority int) (timer.Delay, error) {
	if err := e.check("CreateDelay"); err != nil {
		return timer.Delay{}, err
	}
	return e.timers.CreateDelay(fn, seconds, priority)
}

func (e *Engine) CreateInterval(fn timer.Callback, seconds float64, repeats, priority int) (timer.Interval, error) {
	if err := e.check("CreateInterval"); err != nil {
		return timer.Interval{}, err
	}
	return e.timers.CreateInterval(fn, seconds, repeats, priority)
}

// Advance runs one scheduler pass with delta seconds.
func (e *Engine) Advance(seconds float64) error {
	if err := e.check("Advance"); err != nil {
		return err
	}
	e.sched.Advance(seconds)
	return nil
}

// UnloadScene is the scene-teardown hook.
func (e *Engine) UnloadScene() error {
	if err := e.check("UnloadScene"); err != nil {
		return err
	}
	return e.sched.UnloadScene()
}

func (e *Engine) SetRecycle(on bool) error {
	if err := e.check("SetRecycle"); err != nil {
		return err
	}
	return e.sched.SetRecycle(on)
}

func (e *Engine) Stats() Stats {
	if e == nil || e.sched == nil {
		return Stats{}
	}
	return Stats{
		Scheduler: e.sched.Stats(),
		Timelines: e.timelines.Stats(),
		Timers:    e.timers.Live(),
	}
}

// Phase implements system.System.
func (e *Engine) Phase() system.Phase { return system.PhaseUpdate }

// Update implements system.System. A stalled process resumes with at most
// MaxTickDelta of simulated time.
func (e *Engine) Update(dt time.Duration) {
	if e == nil || e.sched == nil {
		return
	}
	if e.opts.MaxTickDelta > 0 && dt > e.opts.MaxTickDelta {
		e.log.Debug("tick delta capped", zap.Duration("dt", dt), zap.Duration("cap", e.opts.MaxTickDelta))
		dt = e.opts.MaxTickDelta
	}
	e.sched.Advance(dt.Seconds())
}
