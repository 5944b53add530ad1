package timeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/core/pool"
)

// store pools the controllers of one flavor.
type store[U Unit] struct {
	roots    *pool.Pool[root[U]]
	sections *pool.Pool[section[U]]
	live     int
}

func newStore[U Unit](capacity int) store[U] {
	return store[U]{
		roots:    pool.New(capacity, func() *root[U] { return &root[U]{} }, (*root[U]).release),
		sections: pool.New(capacity, func() *section[U] { return &section[U]{} }, (*section[U]).release),
	}
}

func (st *store[U]) setRecycle(on bool) {
	st.roots.SetRecycle(on)
	st.sections.SetRecycle(on)
}

// Stats counts live roots and idle pooled controllers per flavor.
type Stats struct {
	Frames, Durations             int
	PooledFrames, PooledDurations int
}

// Host creates timelines on top of a scheduler and pools their controllers.
// It attaches to the scheduler as an addon and follows its recycle flag.
type Host struct {
	sched     *lapse.Scheduler
	log       *zap.Logger
	frames    store[int]
	durations store[float64]
}

func NewHost(sched *lapse.Scheduler, capacity int, log *zap.Logger) (*Host, error) {
	if sched == nil {
		return nil, fmt.Errorf("timeline.NewHost: %w", lapse.ErrNotInitialized)
	}
	if capacity < 0 {
		return nil, fmt.Errorf("timeline.NewHost: capacity %d must be zero or greater: %w", capacity, lapse.ErrUsage)
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Host{
		sched:     sched,
		log:       log,
		frames:    newStore[int](capacity),
		durations: newStore[float64](capacity),
	}
	if err := sched.AttachAddon(h); err != nil {
		return nil, fmt.Errorf("timeline.NewHost: %w", err)
	}
	return h, nil
}

// OnRecycleFlagSet implements lapse.Addon.
func (h *Host) OnRecycleFlagSet(on bool) {
	h.frames.setRecycle(on)
	h.durations.setRecycle(on)
}

// CreateFrames returns a frame-counted root advancing rate frames per second.
func (h *Host) CreateFrames(rate float64, capacity, priority int) (FrameTimeline, error) {
	if h == nil {
		return FrameTimeline{}, fmt.Errorf("timeline.CreateFrames: %w", lapse.ErrNotInitialized)
	}
	return create(h, &h.frames, frames{}, rate, capacity, priority)
}

// CreateDuration returns a time-based root sampled rate times per second.
func (h *Host) CreateDuration(rate float64, capacity, priority int) (DurationTimeline, error) {
	if h == nil {
		return DurationTimeline{}, fmt.Errorf("timeline.CreateDuration: %w", lapse.ErrNotInitialized)
	}
	return create(h, &h.durations, durations{}, rate, capacity, priority)
}

func create[U Unit](h *Host, st *store[U], kind flavor[U], rate float64, capacity, priority int) (Timeline[U], error) {
	if capacity < 0 {
		return Timeline[U]{}, fmt.Errorf("timeline.Create: capacity %d must be zero or greater: %w", capacity, lapse.ErrUsage)
	}
	l, err := h.sched.CreateLapser(1)
	if err != nil {
		return Timeline[U]{}, fmt.Errorf("timeline.Create: %w", err)
	}
	if err := errors.Join(l.SetRate(rate), l.SetPriority(priority)); err != nil {
		l.Destroy()
		return Timeline[U]{}, fmt.Errorf("timeline.Create: %w", err)
	}

	r := st.roots.Get()
	r.init(h, st, kind, l, capacity)
	st.live++
	h.log.Debug("timeline created",
		zap.String("kind", kind.name()),
		zap.Int("lapser", l.ID()),
		zap.Float64("rate", l.Rate()),
		zap.Int("priority", priority),
	)
	return r.ref(), nil
}

func (h *Host) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Frames:          h.frames.live,
		Durations:       h.durations.live,
		PooledFrames:    h.frames.roots.Len(),
		PooledDurations: h.durations.roots.Len(),
	}
}
