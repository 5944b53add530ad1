package timeline

import (
	"fmt"
	"math"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

// Action is a callback registered against one event kind. It receives the
// controller that fired.
type Action[U Unit] func(c Controller[U])

// Controller is the surface shared by a root timeline and its sections.
// Playback state lives on the root: a section reads and writes its root's
// values, and seeks in root coordinates.
type Controller[U Unit] interface {
	IsValid() bool
	IsPlaying() (bool, error)
	IsLoop() (bool, error)
	SetLoop(on bool) error
	IsDestroyOnEnd() (bool, error)
	SetDestroyOnEnd(on bool) error
	IsFixedStep() (bool, error)
	SetFixedStep(on bool) error
	IsSkipFrames() (bool, error)
	SetSkipFrames(on bool) error
	Speed() (float64, error)
	SetSpeed(v float64) error

	// Progress is the position within this controller's own range, 0 to 1.
	Progress() (float64, error)
	// SetProgress always resolves to a seek on the root.
	SetProgress(p float64) error
	// Position is the current position relative to this controller's start.
	Position() (U, error)
	// Duration is end minus start.
	Duration() (U, error)
	SeekTo(pos U) error

	Play() error
	Pause() error
	Stop() error
	Destroy() error

	AddEvent(kind EventKind, fn Action[U]) (EventHandle, error)
	RemoveEvent(kind EventKind, h EventHandle) error

	AddSection(start, end U, capacity int) (Section[U], error)
	AddSectionFunc(start, end U, fn Action[U]) (Section[U], error)
	AddTrigger(at U, capacity int) (Trigger[U], error)
	AddTriggerFunc(at U, fn Action[U]) (Trigger[U], error)
}

// Frame and duration flavors.
type (
	FrameController = Controller[int]
	FrameTimeline   = Timeline[int]
	FrameSection    = Section[int]
	FrameTrigger    = Trigger[int]
	FrameAction     = Action[int]

	DurationController = Controller[float64]
	DurationTimeline   = Timeline[float64]
	DurationSection    = Section[float64]
	DurationTrigger    = Trigger[float64]
	DurationAction     = Action[float64]
)

func invalid(op string) error {
	return fmt.Errorf("timeline.%s: controller is destroyed or stale: %w", op, lapse.ErrInvalidState)
}

func usage(op, format string, args ...any) error {
	return fmt.Errorf("timeline.%s: %s: %w", op, fmt.Sprintf(format, args...), lapse.ErrUsage)
}

func checkRange[U Unit](op string, start, end U, capacity int) error {
	fs, fe := float64(start), float64(end)
	switch {
	case math.IsNaN(fs) || math.IsNaN(fe) || math.IsInf(fs, 0) || math.IsInf(fe, 0):
		return usage(op, "bounds must be finite")
	case start < 0:
		return usage(op, "start %v must be zero or greater", start)
	case end < start:
		return usage(op, "end %v must not precede start %v", end, start)
	case capacity < 0:
		return usage(op, "capacity %d must be zero or greater", capacity)
	}
	return nil
}

func checkKind(op string, kind EventKind) error {
	if !kind.valid() {
		return usage(op, "unknown event kind %d", int(kind))
	}
	return nil
}

// Timeline is a handle to a root controller. It stays comparable and cheap
// to copy; once the root is destroyed every call reports ErrInvalidState.
type Timeline[U Unit] struct {
	r   *root[U]
	gen uint32
}

var _ Controller[int] = Timeline[int]{}

func (t Timeline[U]) get(op string) (*root[U], error) {
	if t.r == nil || t.r.gen != t.gen || !t.r.valid {
		return nil, invalid(op)
	}
	return t.r, nil
}

func (t Timeline[U]) IsValid() bool {
	_, err := t.get("IsValid")
	return err == nil
}

func (t Timeline[U]) IsPlaying() (bool, error) {
	r, err := t.get("IsPlaying")
	if err != nil {
		return false, err
	}
	return r.playing(), nil
}

func (t Timeline[U]) IsLoop() (bool, error) {
	r, err := t.get("IsLoop")
	if err != nil {
		return false, err
	}
	return r.loop, nil
}

func (t Timeline[U]) SetLoop(on bool) error {
	r, err := t.get("SetLoop")
	if err != nil {
		return err
	}
	r.loop = on
	return nil
}

func (t Timeline[U]) IsDestroyOnEnd() (bool, error) {
	r, err := t.get("IsDestroyOnEnd")
	if err != nil {
		return false, err
	}
	return r.onEnd, nil
}

// SetDestroyOnEnd makes the root destroy itself after OnEnd. Looping wins.
func (t Timeline[U]) SetDestroyOnEnd(on bool) error {
	r, err := t.get("SetDestroyOnEnd")
	if err != nil {
		return err
	}
	r.onEnd = on
	return nil
}

func (t Timeline[U]) IsFixedStep() (bool, error) {
	r, err := t.get("IsFixedStep")
	if err != nil {
		return false, err
	}
	return r.lapser.FixedStep(), nil
}

func (t Timeline[U]) SetFixedStep(on bool) error {
	r, err := t.get("SetFixedStep")
	if err != nil {
		return err
	}
	return r.lapser.SetFixedStep(on)
}

func (t Timeline[U]) IsSkipFrames() (bool, error) {
	r, err := t.get("IsSkipFrames")
	if err != nil {
		return false, err
	}
	return r.lapser.MaxSkipFrames() != lapse.FrameNoSkip, nil
}

// SetSkipFrames lets a fixed-step root catch up on every late step.
func (t Timeline[U]) SetSkipFrames(on bool) error {
	r, err := t.get("SetSkipFrames")
	if err != nil {
		return err
	}
	if on {
		return r.lapser.SetMaxSkipFrames(lapse.FrameAlwaysSkip)
	}
	return r.lapser.SetMaxSkipFrames(lapse.FrameNoSkip)
}

func (t Timeline[U]) Speed() (float64, error) {
	r, err := t.get("Speed")
	if err != nil {
		return 0, err
	}
	return r.speed, nil
}

// SetSpeed scales playback. Non-positive values clamp to the smallest
// positive speed, infinity to the largest finite one.
func (t Timeline[U]) SetSpeed(v float64) error {
	r, err := t.get("SetSpeed")
	if err != nil {
		return err
	}
	r.setSpeed(v)
	return nil
}

func (t Timeline[U]) Progress() (float64, error) {
	r, err := t.get("Progress")
	if err != nil {
		return 0, err
	}
	return r.section.progress(), nil
}

func (t Timeline[U]) SetProgress(p float64) error {
	r, err := t.get("SetProgress")
	if err != nil {
		return err
	}
	r.setProgress(p)
	return nil
}

func (t Timeline[U]) Position() (U, error) {
	r, err := t.get("Position")
	if err != nil {
		return 0, err
	}
	return r.section.position(), nil
}

func (t Timeline[U]) Duration() (U, error) {
	r, err := t.get("Duration")
	if err != nil {
		return 0, err
	}
	return r.end, nil
}

// SetLength extends the timeline to at least n, independent of sections.
func (t Timeline[U]) SetLength(n U) error {
	r, err := t.get("SetLength")
	if err != nil {
		return err
	}
	if err := checkRange("SetLength", 0, n, 0); err != nil {
		return err
	}
	r.end = max(r.end, n)
	return nil
}

func (t Timeline[U]) SeekTo(pos U) error {
	r, err := t.get("SeekTo")
	if err != nil {
		return err
	}
	if math.IsNaN(float64(pos)) {
		return usage("SeekTo", "position is NaN")
	}
	r.seekTo(pos)
	return nil
}

func (t Timeline[U]) Play() error {
	r, err := t.get("Play")
	if err != nil {
		return err
	}
	r.play()
	return nil
}

func (t Timeline[U]) Pause() error {
	r, err := t.get("Pause")
	if err != nil {
		return err
	}
	r.pause()
	return nil
}

func (t Timeline[U]) Stop() error {
	r, err := t.get("Stop")
	if err != nil {
		return err
	}
	r.stop()
	return nil
}

// Destroy is idempotent: a stale handle is a no-op.
func (t Timeline[U]) Destroy() error {
	if r, err := t.get("Destroy"); err == nil {
		r.destroy()
	}
	return nil
}

func (t Timeline[U]) AddEvent(kind EventKind, fn Action[U]) (EventHandle, error) {
	r, err := t.get("AddEvent")
	if err != nil {
		return EventHandle{}, err
	}
	if err := checkKind("AddEvent", kind); err != nil {
		return EventHandle{}, err
	}
	if fn == nil {
		return EventHandle{}, usage("AddEvent", "action must not be nil")
	}
	return r.events.add(kind, fn), nil
}

func (t Timeline[U]) RemoveEvent(kind EventKind, h EventHandle) error {
	r, err := t.get("RemoveEvent")
	if err != nil {
		return err
	}
	if err := checkKind("RemoveEvent", kind); err != nil {
		return err
	}
	r.events.remove(kind, h)
	return nil
}

func (t Timeline[U]) AddSection(start, end U, capacity int) (Section[U], error) {
	r, err := t.get("AddSection")
	if err != nil {
		return Section[U]{}, err
	}
	if err := checkRange("AddSection", start, end, capacity); err != nil {
		return Section[U]{}, err
	}
	return r.addChild(start, end, capacity).ref(), nil
}

// AddSectionFunc adds a section with fn listening to its OnUpdate.
func (t Timeline[U]) AddSectionFunc(start, end U, fn Action[U]) (Section[U], error) {
	if fn == nil {
		return Section[U]{}, usage("AddSectionFunc", "action must not be nil")
	}
	s, err := t.AddSection(start, end, 1)
	if err != nil {
		return s, err
	}
	_, err = s.AddEvent(OnUpdate, fn)
	return s, err
}

func (t Timeline[U]) AddTrigger(at U, capacity int) (Trigger[U], error) {
	s, err := t.AddSection(at, at, capacity)
	return Trigger[U]{s: s}, err
}

// AddTriggerFunc adds a trigger firing fn when the position reaches at.
func (t Timeline[U]) AddTriggerFunc(at U, fn Action[U]) (Trigger[U], error) {
	if fn == nil {
		return Trigger[U]{}, usage("AddTriggerFunc", "action must not be nil")
	}
	tr, err := t.AddTrigger(at, 1)
	if err != nil {
		return tr, err
	}
	_, err = tr.AddEvent(fn)
	return tr, err
}

// Section is a handle to a child range of a root.
type Section[U Unit] struct {
	s   *section[U]
	gen uint32
}

var _ Controller[float64] = Section[float64]{}

func (s Section[U]) get(op string) (*section[U], error) {
	if s.s == nil || s.s.gen != s.gen || !s.s.valid || s.s.root == nil || !s.s.root.valid {
		return nil, invalid(op)
	}
	return s.s, nil
}

// Root returns the handle of the owning timeline.
func (s Section[U]) Root() (Timeline[U], error) { return s.timeline("Root") }

func (s Section[U]) timeline(op string) (Timeline[U], error) {
	c, err := s.get(op)
	if err != nil {
		return Timeline[U]{}, err
	}
	return c.root.ref(), nil
}

func (s Section[U]) IsValid() bool {
	_, err := s.get("IsValid")
	return err == nil
}

func (s Section[U]) IsPlaying() (bool, error) {
	t, err := s.timeline("IsPlaying")
	if err != nil {
		return false, err
	}
	return t.IsPlaying()
}

func (s Section[U]) IsLoop() (bool, error) {
	t, err := s.timeline("IsLoop")
	if err != nil {
		return false, err
	}
	return t.IsLoop()
}

func (s Section[U]) SetLoop(on bool) error {
	t, err := s.timeline("SetLoop")
	if err != nil {
		return err
	}
	return t.SetLoop(on)
}

func (s Section[U]) IsDestroyOnEnd() (bool, error) {
	t, err := s.timeline("IsDestroyOnEnd")
	if err != nil {
		return false, err
	}
	return t.IsDestroyOnEnd()
}

func (s Section[U]) SetDestroyOnEnd(on bool) error {
	t, err := s.timeline("SetDestroyOnEnd")
	if err != nil {
		return err
	}
	return t.SetDestroyOnEnd(on)
}

func (s Section[U]) IsFixedStep() (bool, error) {
	t, err := s.timeline("IsFixedStep")
	if err != nil {
		return false, err
	}
	return t.IsFixedStep()
}

func (s Section[U]) SetFixedStep(on bool) error {
	t, err := s.timeline("SetFixedStep")
	if err != nil {
		return err
	}
	return t.SetFixedStep(on)
}

func (s Section[U]) IsSkipFrames() (bool, error) {
	t, err := s.timeline("IsSkipFrames")
	if err != nil {
		return false, err
	}
	return t.IsSkipFrames()
}

func (s Section[U]) SetSkipFrames(on bool) error {
	t, err := s.timeline("SetSkipFrames")
	if err != nil {
		return err
	}
	return t.SetSkipFrames(on)
}

func (s Section[U]) Speed() (float64, error) {
	t, err := s.timeline("Speed")
	if err != nil {
		return 0, err
	}
	return t.Speed()
}

func (s Section[U]) SetSpeed(v float64) error {
	t, err := s.timeline("SetSpeed")
	if err != nil {
		return err
	}
	return t.SetSpeed(v)
}

func (s Section[U]) Progress() (float64, error) {
	c, err := s.get("Progress")
	if err != nil {
		return 0, err
	}
	return c.progress(), nil
}

// SetProgress maps p into root coordinates and seeks the root there.
func (s Section[U]) SetProgress(p float64) error {
	c, err := s.get("SetProgress")
	if err != nil {
		return err
	}
	r := c.root
	if r.end == 0 {
		r.setProgress(0)
		return nil
	}
	abs := p*float64(c.end-c.start) + float64(c.start)
	r.setProgress(abs / float64(r.end))
	return nil
}

func (s Section[U]) Position() (U, error) {
	c, err := s.get("Position")
	if err != nil {
		return 0, err
	}
	return c.position(), nil
}

func (s Section[U]) Duration() (U, error) {
	c, err := s.get("Duration")
	if err != nil {
		return 0, err
	}
	return c.end - c.start, nil
}

// Start and End are the section's bounds in root coordinates.
func (s Section[U]) Start() (U, error) {
	c, err := s.get("Start")
	if err != nil {
		return 0, err
	}
	return c.start, nil
}

func (s Section[U]) End() (U, error) {
	c, err := s.get("End")
	if err != nil {
		return 0, err
	}
	return c.end, nil
}

// SeekTo takes a root position.
func (s Section[U]) SeekTo(pos U) error {
	t, err := s.timeline("SeekTo")
	if err != nil {
		return err
	}
	return t.SeekTo(pos)
}

func (s Section[U]) Play() error {
	t, err := s.timeline("Play")
	if err != nil {
		return err
	}
	return t.Play()
}

func (s Section[U]) Pause() error {
	t, err := s.timeline("Pause")
	if err != nil {
		return err
	}
	return t.Pause()
}

func (s Section[U]) Stop() error {
	t, err := s.timeline("Stop")
	if err != nil {
		return err
	}
	return t.Stop()
}

// Destroy destroys the whole timeline.
func (s Section[U]) Destroy() error {
	if t, err := s.timeline("Destroy"); err == nil {
		return t.Destroy()
	}
	return nil
}

func (s Section[U]) AddEvent(kind EventKind, fn Action[U]) (EventHandle, error) {
	c, err := s.get("AddEvent")
	if err != nil {
		return EventHandle{}, err
	}
	if err := checkKind("AddEvent", kind); err != nil {
		return EventHandle{}, err
	}
	if fn == nil {
		return EventHandle{}, usage("AddEvent", "action must not be nil")
	}
	return c.events.add(kind, fn), nil
}

func (s Section[U]) RemoveEvent(kind EventKind, h EventHandle) error {
	c, err := s.get("RemoveEvent")
	if err != nil {
		return err
	}
	if err := checkKind("RemoveEvent", kind); err != nil {
		return err
	}
	c.events.remove(kind, h)
	return nil
}

func (s Section[U]) AddSection(start, end U, capacity int) (Section[U], error) {
	t, err := s.timeline("AddSection")
	if err != nil {
		return Section[U]{}, err
	}
	return t.AddSection(start, end, capacity)
}

func (s Section[U]) AddSectionFunc(start, end U, fn Action[U]) (Section[U], error) {
	t, err := s.timeline("AddSectionFunc")
	if err != nil {
		return Section[U]{}, err
	}
	return t.AddSectionFunc(start, end, fn)
}

func (s Section[U]) AddTrigger(at U, capacity int) (Trigger[U], error) {
	t, err := s.timeline("AddTrigger")
	if err != nil {
		return Trigger[U]{}, err
	}
	return t.AddTrigger(at, capacity)
}

func (s Section[U]) AddTriggerFunc(at U, fn Action[U]) (Trigger[U], error) {
	t, err := s.timeline("AddTriggerFunc")
	if err != nil {
		return Trigger[U]{}, err
	}
	return t.AddTriggerFunc(at, fn)
}

// Trigger is a zero-length section. Its actions run on the OnStart of that
// section, when the position reaches the trigger point.
type Trigger[U Unit] struct {
	s Section[U]
}

func (t Trigger[U]) IsValid() bool { return t.s.IsValid() }

// Section exposes the full controller behind the trigger.
func (t Trigger[U]) Section() Section[U] { return t.s }

func (t Trigger[U]) AddEvent(fn Action[U]) (EventHandle, error) {
	return t.s.AddEvent(OnStart, fn)
}

func (t Trigger[U]) RemoveEvent(h EventHandle) error {
	return t.s.RemoveEvent(OnStart, h)
}
