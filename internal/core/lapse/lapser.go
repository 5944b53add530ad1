package lapse

import (
	"fmt"
	"math"
	"slices"
)

const (
	// FrameNoSkip reports at most one step per update.
	FrameNoSkip = 0
	// FrameAlwaysSkip lets an update catch up on any number of late steps.
	FrameAlwaysSkip = 99999999
)

// Rate and step stay inside [smallestRate, largestRate] so both are always
// strictly positive and finite.
const (
	smallestRate = math.SmallestNonzeroFloat64
	largestRate  = math.MaxFloat64
)

// State is the lifecycle position of a lapser.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StatePaused
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Lapser is a handle to one schedulable lapse of time. The lapser behind it
// accumulates the deltas fed by its scheduler and notifies listeners each
// time a target step elapses.
//
// The state is pooled. Once the scheduler recycles it the handle goes
// stale: setters return ErrInvalidState, getters return zero values and
// lifecycle calls are no-ops, even after the state is handed out again.
type Lapser struct {
	c   *lapser
	gen uint32
}

// lapser is the pooled state behind a Lapser handle.
type lapser struct {
	host   *Scheduler
	handle *Lapser
	gen    uint32
	id     int
	seq    uint64

	priority      int
	maxSkipFrames int
	skippedFrames int

	elapsed     float64
	lastElapsed float64
	rate        float64
	step        float64
	delta       float64

	destroyOnUnload bool
	fixedStep       bool
	started         bool
	state           State

	// Removed listeners are nil until the next update compacts them.
	listeners []Listener
}

func (l *lapser) reset(host *Scheduler, id, listenerCapacity int) {
	l.host = host
	l.handle = &Lapser{c: l, gen: l.gen}
	l.id = id
	l.seq = 0
	l.priority = 0
	l.maxSkipFrames = FrameNoSkip
	l.skippedFrames = 0
	l.elapsed = 0
	l.lastElapsed = 0
	l.delta = 0
	l.destroyOnUnload = true
	l.fixedStep = false
	l.started = false
	l.state = StateNotStarted
	if cap(l.listeners) < listenerCapacity {
		l.listeners = make([]Listener, 0, listenerCapacity)
	}
	l.setRate(1)
}

// release drops every collaborator reference before the lapser is pooled
// and retires the handle.
func (l *lapser) release() {
	clear(l.listeners)
	l.listeners = l.listeners[:0]
	l.host = nil
	l.handle = nil
	l.gen++
}

// live returns the state behind h, or nil once h is stale.
func (h *Lapser) live() *lapser {
	if h == nil || h.c == nil || h.c.gen != h.gen {
		return nil
	}
	return h.c
}

// mutable returns the state behind h for a setter.
func (h *Lapser) mutable(op string) (*lapser, error) {
	l := h.live()
	if l == nil {
		return nil, fmt.Errorf("Lapser.%s: lapser was recycled: %w", op, ErrInvalidState)
	}
	if l.state == StateDestroyed {
		return nil, fmt.Errorf("Lapser.%s: lapser %d is destroyed: %w", op, l.id, ErrInvalidState)
	}
	return l, nil
}

// IsValid reports whether the lapser is neither destroyed nor recycled.
func (h *Lapser) IsValid() bool {
	l := h.live()
	return l != nil && l.state != StateDestroyed
}

func (h *Lapser) ID() int {
	if l := h.live(); l != nil {
		return l.id
	}
	return 0
}

// Priority orders update calls; higher runs first.
func (h *Lapser) Priority() int {
	if l := h.live(); l != nil {
		return l.priority
	}
	return 0
}

func (h *Lapser) SetPriority(p int) error {
	l, err := h.mutable("SetPriority")
	if err != nil {
		return err
	}
	if l.priority != p {
		l.priority = p
		if l.state == StateRunning {
			l.host.dirty = true
		}
	}
	return nil
}

// MaxSkipFrames bounds how many late steps a single update may report.
func (h *Lapser) MaxSkipFrames() int {
	if l := h.live(); l != nil {
		return l.maxSkipFrames
	}
	return 0
}

func (h *Lapser) SetMaxSkipFrames(n int) error {
	l, err := h.mutable("SetMaxSkipFrames")
	if err != nil {
		return err
	}
	l.maxSkipFrames = min(max(n, FrameNoSkip), FrameAlwaysSkip)
	return nil
}

// SkippedFrames is the number of steps the last update reported beyond one.
func (h *Lapser) SkippedFrames() int {
	if l := h.live(); l != nil {
		return l.skippedFrames
	}
	return 0
}

// Rate is the target number of steps per second.
func (h *Lapser) Rate() float64 {
	if l := h.live(); l != nil {
		return l.rate
	}
	return 0
}

// SetRate clamps rate into the positive finite range. NaN clamps to the
// smallest rate.
func (h *Lapser) SetRate(rate float64) error {
	l, err := h.mutable("SetRate")
	if err != nil {
		return err
	}
	l.setRate(rate)
	return nil
}

func (l *lapser) setRate(rate float64) {
	rate = clampPositive(rate)
	l.rate = rate
	l.step = clampPositive(1 / rate)
}

// Step is the target seconds per step, the inverse of Rate.
func (h *Lapser) Step() float64 {
	if l := h.live(); l != nil {
		return l.step
	}
	return 0
}

func (h *Lapser) SetStep(step float64) error {
	l, err := h.mutable("SetStep")
	if err != nil {
		return err
	}
	step = clampPositive(step)
	l.step = step
	l.rate = clampPositive(1 / step)
	return nil
}

func clampPositive(v float64) float64 {
	if !(v >= smallestRate) {
		return smallestRate
	}
	return min(v, largestRate)
}

// DeltaTime is the time the last update reported.
func (h *Lapser) DeltaTime() float64 {
	if l := h.live(); l != nil {
		return l.delta
	}
	return 0
}

// DestroyOnUnload marks the lapser for UnloadScene. Default true.
func (h *Lapser) DestroyOnUnload() bool {
	l := h.live()
	return l != nil && l.destroyOnUnload
}

func (h *Lapser) SetDestroyOnUnload(v bool) error {
	l, err := h.mutable("SetDestroyOnUnload")
	if err != nil {
		return err
	}
	l.destroyOnUnload = v
	return nil
}

// FixedStep reports whole multiples of Step instead of the real elapsed time.
func (h *Lapser) FixedStep() bool {
	l := h.live()
	return l != nil && l.fixedStep
}

func (h *Lapser) SetFixedStep(v bool) error {
	l, err := h.mutable("SetFixedStep")
	if err != nil {
		return err
	}
	l.fixedStep = v
	return nil
}

// State reports StateDestroyed for a stale handle.
func (h *Lapser) State() State {
	if l := h.live(); l != nil {
		return l.state
	}
	return StateDestroyed
}

func (h *Lapser) IsUpdating() bool { return h.State() == StateRunning }

func (h *Lapser) IsDestroyed() bool { return h.State() == StateDestroyed }

// Start begins or resumes updating. The first start fires OnLapseStart,
// later ones fire OnLapseResume.
func (h *Lapser) Start() {
	if l := h.live(); l != nil {
		l.start()
	}
}

// Pause stops updating and keeps every listener registered.
func (h *Lapser) Pause() {
	if l := h.live(); l != nil {
		l.pause()
	}
}

// Stop pauses and rewinds the accumulated time. The next Start fires
// OnLapseStart again.
func (h *Lapser) Stop() {
	if l := h.live(); l != nil {
		l.stop()
	}
}

// Destroy flags the lapser. Listeners receive OnLapseEnd and the lapser is
// recycled on the scheduler's next pass, never synchronously.
func (h *Lapser) Destroy() {
	if l := h.live(); l != nil {
		l.destroy()
	}
}

// AddListener registers ln. A late listener is brought up to date with
// OnLapseStart, and OnLapsePause when the lapser is paused.
func (h *Lapser) AddListener(ln Listener) {
	l := h.live()
	if l == nil || ln == nil || l.state == StateDestroyed || l.contains(ln) {
		return
	}
	l.listeners = append(l.listeners, ln)
	if l.started {
		gen := l.gen
		ln.OnLapseStart(h)
		if l.gen == gen && l.state == StatePaused {
			ln.OnLapsePause(h)
		}
	}
}

// RemoveListener sends OnLapseEnd to ln and unregisters it.
func (h *Lapser) RemoveListener(ln Listener) bool {
	l := h.live()
	if l == nil || ln == nil || l.state == StateDestroyed {
		return false
	}
	for i := len(l.listeners) - 1; i >= 0; i-- {
		if l.listeners[i] == ln {
			l.listeners[i] = nil
			ln.OnLapseEnd(h)
			return true
		}
	}
	return false
}

func (h *Lapser) ContainsListener(ln Listener) bool {
	l := h.live()
	return l != nil && l.contains(ln)
}

// ClearListeners sends OnLapseEnd to every listener and unregisters them all.
func (h *Lapser) ClearListeners() {
	if l := h.live(); l != nil {
		l.endListeners()
	}
}

func (l *lapser) contains(ln Listener) bool {
	if ln == nil {
		return false
	}
	return slices.Contains(l.listeners, ln)
}

func (l *lapser) start() {
	if l.state == StateRunning || l.state == StateDestroyed {
		return
	}
	gen := l.gen
	if !l.started {
		l.started = true
		l.each(func(ln Listener) { ln.OnLapseStart(l.handle) })
	} else {
		l.each(func(ln Listener) { ln.OnLapseResume(l.handle) })
	}
	// A listener may have destroyed, restarted or unloaded us from the callback.
	if l.gen != gen || l.state == StateRunning || l.state == StateDestroyed {
		return
	}
	l.state = StateRunning
	l.host.attach(l)
}

func (l *lapser) pause() {
	if l.state != StateRunning {
		return
	}
	gen := l.gen
	l.each(func(ln Listener) { ln.OnLapsePause(l.handle) })
	if l.gen != gen || l.state != StateRunning {
		return
	}
	l.state = StatePaused
	l.host.detach(l)
}

func (l *lapser) stop() {
	if l.state == StateDestroyed {
		return
	}
	gen := l.gen
	l.pause()
	if l.gen != gen || l.state == StateDestroyed || l.state == StateRunning {
		return
	}
	l.state = StateNotStarted
	l.started = false
	l.elapsed = 0
	l.lastElapsed = 0
	l.delta = 0
	l.skippedFrames = 0
}

func (l *lapser) destroy() {
	if l.state == StateDestroyed {
		return
	}
	attached := l.state == StateRunning
	l.state = StateDestroyed
	if !attached && l.host != nil {
		l.host.attach(l)
	}
}

// each visits listeners in reverse registration order and stops once a
// callback recycled the lapser.
func (l *lapser) each(fn func(Listener)) {
	gen := l.gen
	for i := len(l.listeners) - 1; i >= 0 && l.gen == gen; i-- {
		if ln := l.listeners[i]; ln != nil {
			fn(ln)
		}
	}
}

// endListeners sends OnLapseEnd to every remaining listener. The scheduler
// runs it right before the lapser goes back to the pool.
func (l *lapser) endListeners() {
	h := l.handle
	for i := len(l.listeners) - 1; i >= 0; i-- {
		if ln := l.listeners[i]; ln != nil {
			l.listeners[i] = nil
			ln.OnLapseEnd(h)
		}
	}
}

// update accumulates delta and notifies listeners once a step has elapsed.
// It reports whether the lapser is still alive.
func (l *lapser) update(delta float64) bool {
	if l.state == StateDestroyed {
		return false
	}
	l.elapsed += delta
	if l.elapsed < l.step {
		return true
	}

	steps := math.Floor(l.elapsed / l.step)
	if l.fixedStep {
		passed := int(min(max(steps, 1), float64(l.maxSkipFrames+1)))
		l.skippedFrames = passed - 1
		l.delta = float64(passed) * l.step
		l.elapsed = math.Mod(l.elapsed, l.step)
	} else {
		l.delta = l.elapsed - l.lastElapsed
		l.skippedFrames = int(min(max(steps-1, 0), float64(l.maxSkipFrames)))
		l.elapsed -= l.delta
	}
	l.lastElapsed = l.elapsed

	h := l.handle
	for i := len(l.listeners) - 1; i >= 0; i-- {
		ln := l.listeners[i]
		if ln == nil {
			l.listeners = slices.Delete(l.listeners, i, i+1)
			continue
		}
		keep := ln.OnLapseUpdate(h)
		if l.state == StateDestroyed {
			// The list belongs to the teardown now.
			return false
		}
		if !keep && l.listeners[i] == ln {
			l.listeners[i] = nil
			ln.OnLapseEnd(h)
		}
	}
	return true
}
