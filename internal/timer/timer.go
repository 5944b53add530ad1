// Package timer layers one-shot delays and repeating intervals over the
// lapser contract. It uses nothing from the scheduler beyond creating
// lapsers and listening to them.
package timer

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/core/pool"
)

// Callback runs when a delay or interval elapses.
type Callback func()

// Host creates timers and pools them. It follows the scheduler's recycle
// flag as an addon.
type Host struct {
	sched     *lapse.Scheduler
	log       *zap.Logger
	delays    *pool.Pool[clock]
	intervals *pool.Pool[clock]
	live      int
}

func NewHost(sched *lapse.Scheduler, capacity int, log *zap.Logger) (*Host, error) {
	if sched == nil {
		return nil, fmt.Errorf("timer.NewHost: %w", lapse.ErrNotInitialized)
	}
	if capacity < 0 {
		return nil, fmt.Errorf("timer.NewHost: capacity %d must be zero or greater: %w", capacity, lapse.ErrUsage)
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Host{
		sched:     sched,
		log:       log,
		delays:    pool.New(capacity, nil, (*clock).release),
		intervals: pool.New(capacity, nil, (*clock).release),
	}
	if err := sched.AttachAddon(h); err != nil {
		return nil, fmt.Errorf("timer.NewHost: %w", err)
	}
	return h, nil
}

// OnRecycleFlagSet implements lapse.Addon.
func (h *Host) OnRecycleFlagSet(on bool) {
	h.delays.SetRecycle(on)
	h.intervals.SetRecycle(on)
}

// Live is the number of timers not yet destroyed.
func (h *Host) Live() int {
	if h == nil {
		return 0
	}
	return h.live
}

// CreateDelay returns a stopped delay that calls fn once, seconds after
// Start.
func (h *Host) CreateDelay(fn Callback, seconds float64, priority int) (Delay, error) {
	c, err := h.create("CreateDelay", h.delays, fn, seconds, priority)
	if err != nil {
		return Delay{}, err
	}
	c.setRepeats(1)
	return Delay{c: c, gen: c.gen}, nil
}

// CreateInterval returns a stopped interval that calls fn every seconds,
// which must be positive. repeats bounds the number of calls; zero or less
// repeats forever.
func (h *Host) CreateInterval(fn Callback, seconds float64, repeats, priority int) (Interval, error) {
	if h != nil && seconds <= 0 {
		return Interval{}, fmt.Errorf("timer.CreateInterval: period %v must be positive: %w", seconds, lapse.ErrUsage)
	}
	c, err := h.create("CreateInterval", h.intervals, fn, seconds, priority)
	if err != nil {
		return Interval{}, err
	}
	c.setRepeats(repeats)
	// Whole periods only, so the cadence never drifts and late ticks catch up.
	if err := errors.Join(c.lapser.SetFixedStep(true), c.lapser.SetMaxSkipFrames(lapse.FrameAlwaysSkip)); err != nil {
		c.destroy()
		return Interval{}, fmt.Errorf("timer.CreateInterval: %w", err)
	}
	return Interval{c: c, gen: c.gen}, nil
}

func (h *Host) create(op string, from *pool.Pool[clock], fn Callback, seconds float64, priority int) (*clock, error) {
	if h == nil {
		return nil, fmt.Errorf("timer.%s: %w", op, lapse.ErrNotInitialized)
	}
	if fn == nil {
		return nil, fmt.Errorf("timer.%s: callback must not be nil: %w", op, lapse.ErrUsage)
	}
	if !(seconds >= 0) || math.IsInf(seconds, 0) {
		return nil, fmt.Errorf("timer.%s: seconds %v must be finite and zero or greater: %w", op, seconds, lapse.ErrUsage)
	}
	l, err := h.sched.CreateLapser(1)
	if err != nil {
		return nil, fmt.Errorf("timer.%s: %w", op, err)
	}
	if err := errors.Join(l.SetStep(seconds), l.SetPriority(priority)); err != nil {
		l.Destroy()
		return nil, fmt.Errorf("timer.%s: %w", op, err)
	}

	c := from.Get()
	c.host = h
	c.from = from
	c.lapser = l
	c.fn = fn
	c.valid = true
	c.destroyOnEnd = true
	l.AddListener(c)
	h.live++
	h.log.Debug("timer created", zap.String("op", op), zap.Int("lapser", l.ID()), zap.Float64("seconds", seconds))
	return c, nil
}

// clock backs both delays and intervals; a delay is an interval of one.
type clock struct {
	gen    uint32
	valid  bool
	host   *Host
	from   *pool.Pool[clock]
	lapser *lapse.Lapser
	fn     Callback

	destroyOnEnd bool
	repeats      int // 0 means unlimited
	left         int
}

func (c *clock) release() {
	c.gen++
	c.valid = false
	c.host = nil
	c.from = nil
	c.lapser = nil
	c.fn = nil
}

func (c *clock) setRepeats(n int) {
	c.repeats = max(n, 0)
	c.left = c.repeats
}

func (c *clock) OnLapseStart(*lapse.Lapser)  {}
func (c *clock) OnLapseResume(*lapse.Lapser) {}
func (c *clock) OnLapsePause(*lapse.Lapser)  {}

func (c *clock) OnLapseUpdate(l *lapse.Lapser) bool {
	gen := c.gen
	for n := l.SkippedFrames() + 1; n > 0; n-- {
		c.fn()
		if c.gen != gen || !c.valid || !l.IsUpdating() {
			// The callback destroyed, paused or stopped us.
			return true
		}
		if c.repeats == 0 {
			continue
		}
		if c.left--; c.left <= 0 {
			c.end()
			return true
		}
	}
	return true
}

// OnLapseEnd only reaches a valid clock when the scheduler tore the lapser
// down under it, as on scene unload.
func (c *clock) OnLapseEnd(l *lapse.Lapser) {
	if c.valid && c.lapser == l {
		c.destroy()
	}
}

func (c *clock) end() {
	if c.destroyOnEnd {
		c.destroy()
		return
	}
	c.stop()
}

func (c *clock) stop() {
	c.lapser.Stop()
	c.left = c.repeats
}

func (c *clock) destroy() {
	if !c.valid {
		return
	}
	c.valid = false
	h, from := c.host, c.from
	if l := c.lapser; l != nil {
		c.lapser = nil
		l.RemoveListener(c)
		l.Destroy()
	}
	h.live--
	from.Put(c)
}

func invalid(op string) error {
	return fmt.Errorf("timer.%s: timer is destroyed or stale: %w", op, lapse.ErrInvalidState)
}

// Delay is a handle to a one-shot timer. By default it destroys itself
// after firing; with destroy-on-end off it rewinds instead and may be
// started again.
type Delay struct {
	c   *clock
	gen uint32
}

func (d Delay) get(op string) (*clock, error) {
	return lookup(d.c, d.gen, op)
}

func lookup(c *clock, gen uint32, op string) (*clock, error) {
	if c == nil || c.gen != gen || !c.valid {
		return nil, invalid(op)
	}
	return c, nil
}

func (d Delay) IsValid() bool {
	_, err := d.get("IsValid")
	return err == nil
}

func (d Delay) Start() error {
	c, err := d.get("Start")
	if err != nil {
		return err
	}
	c.lapser.Start()
	return nil
}

func (d Delay) Pause() error {
	c, err := d.get("Pause")
	if err != nil {
		return err
	}
	c.lapser.Pause()
	return nil
}

// Stop pauses and discards the elapsed time.
func (d Delay) Stop() error {
	c, err := d.get("Stop")
	if err != nil {
		return err
	}
	c.stop()
	return nil
}

// Destroy is idempotent.
func (d Delay) Destroy() error {
	if c, err := d.get("Destroy"); err == nil {
		c.destroy()
	}
	return nil
}

func (d Delay) DestroyOnEnd() (bool, error) {
	c, err := d.get("DestroyOnEnd")
	if err != nil {
		return false, err
	}
	return c.destroyOnEnd, nil
}

func (d Delay) SetDestroyOnEnd(on bool) error {
	c, err := d.get("SetDestroyOnEnd")
	if err != nil {
		return err
	}
	c.destroyOnEnd = on
	return nil
}

// Interval is a handle to a repeating timer.
type Interval struct {
	c   *clock
	gen uint32
}

func (i Interval) get(op string) (*clock, error) {
	return lookup(i.c, i.gen, op)
}

func (i Interval) IsValid() bool {
	_, err := i.get("IsValid")
	return err == nil
}

func (i Interval) Start() error {
	c, err := i.get("Start")
	if err != nil {
		return err
	}
	c.lapser.Start()
	return nil
}

func (i Interval) Pause() error {
	c, err := i.get("Pause")
	if err != nil {
		return err
	}
	c.lapser.Pause()
	return nil
}

// Stop pauses, discards the elapsed time and restores the repeat budget.
func (i Interval) Stop() error {
	c, err := i.get("Stop")
	if err != nil {
		return err
	}
	c.stop()
	return nil
}

func (i Interval) Destroy() error {
	if c, err := i.get("Destroy"); err == nil {
		c.destroy()
	}
	return nil
}

func (i Interval) DestroyOnEnd() (bool, error) {
	c, err := i.get("DestroyOnEnd")
	if err != nil {
		return false, err
	}
	return c.destroyOnEnd, nil
}

func (i Interval) SetDestroyOnEnd(on bool) error {
	c, err := i.get("SetDestroyOnEnd")
	if err != nil {
		return err
	}
	c.destroyOnEnd = on
	return nil
}

// RepeatsLeft is the remaining call budget, 0 for an unlimited interval.
func (i Interval) RepeatsLeft() (int, error) {
	c, err := i.get("RepeatsLeft")
	if err != nil {
		return 0, err
	}
	return c.left, nil
}

// SetRepeats replaces the budget; zero or less repeats forever.
func (i Interval) SetRepeats(n int) error {
	c, err := i.get("SetRepeats")
	if err != nil {
		return err
	}
	c.setRepeats(n)
	return nil
}
