package timeline

import (
	"math"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

// Unit is a timeline coordinate: whole frames or seconds.
type Unit interface {
	~int | ~float64
}

// flavor holds what differs between frame and duration timelines.
type flavor[U Unit] interface {
	// step consumes one lapser update.
	step(r *root[U], l *lapse.Lapser)
	// behind is the distance of one step, used to place the edge cursor.
	behind(r *root[U]) U
	// at converts a root progress ratio into a position.
	at(progress float64, length U) U
	name() string
}

// section is a child range of a root. It owns no lapser and no children;
// playback state is read from its root.
type section[U Unit] struct {
	gen   uint32
	valid bool
	root  *root[U]

	start, end, cur U
	events          eventTable[U]
}

func (s *section[U]) ref() Section[U] { return Section[U]{s: s, gen: s.gen} }

func (s *section[U]) release() {
	s.gen++
	s.valid = false
	s.root = nil
	s.events.clear()
}

func (s *section[U]) progress() float64 {
	if s.end == s.start {
		return 0
	}
	p := float64(s.cur-s.start) / float64(s.end-s.start)
	return min(max(p, 0), 1)
}

func (s *section[U]) position() U {
	return min(max(s.cur, s.start), s.end) - s.start
}

// root owns the lapser that drives it and the sorted list of children.
type root[U Unit] struct {
	section[U]

	host   *Host
	store  *store[U]
	kind   flavor[U]
	lapser *lapse.Lapser

	// children is ordered by start; equal starts keep insertion order.
	children []*section[U]
	childIdx int

	prev     U
	reset    bool
	loop     bool
	onEnd    bool
	dying    bool
	speed    float64
	baseRate float64
}

func (r *root[U]) init(h *Host, st *store[U], kind flavor[U], l *lapse.Lapser, capacity int) {
	r.valid = true
	r.host = h
	r.store = st
	r.kind = kind
	r.lapser = l
	r.start, r.end, r.cur = 0, 0, 0
	r.childIdx = 0
	r.loop = false
	r.onEnd = false
	r.dying = false
	r.baseRate = l.Rate()
	r.setSpeed(1)
	r.prev = -kind.behind(r)
	r.reset = true
	if cap(r.children) < capacity {
		r.children = make([]*section[U], 0, capacity)
	}
	l.AddListener(r)
}

func (r *root[U]) release() {
	r.section.release()
	clear(r.children)
	r.children = r.children[:0]
	r.host = nil
	r.store = nil
	r.kind = nil
	r.lapser = nil
}

func (r *root[U]) ref() Timeline[U] { return Timeline[U]{r: r, gen: r.gen} }

func (r *root[U]) alive(gen uint32) bool { return r.gen == gen && r.valid }

// fire dispatches kind on the root itself.
func (r *root[U]) fire(kind EventKind) bool {
	gen := r.gen
	return r.events.invoke(kind, r.ref(), func() bool { return r.alive(gen) })
}

// fireChild dispatches kind on c, aborting once the root is gone.
func (r *root[U]) fireChild(c *section[U], kind EventKind) bool {
	gen := r.gen
	return c.events.invoke(kind, c.ref(), func() bool { return r.alive(gen) })
}

// fireUpdatable dispatches kind on every child whose start has been reached.
func (r *root[U]) fireUpdatable(kind EventKind) bool {
	for i := r.childIdx; i < len(r.children); i++ {
		c := r.children[i]
		if c.start > r.cur {
			break
		}
		if !r.fireChild(c, kind) {
			return false
		}
		i = r.locate(i, c)
	}
	return true
}

// locate returns the index of c, which was at i before its actions ran.
// An action may have added children ahead of it.
func (r *root[U]) locate(i int, c *section[U]) int {
	if i < len(r.children) && r.children[i] == c {
		return i
	}
	return slices.Index(r.children, c)
}

// skipEnded moves the fast-forward index past children that have ended at
// or before the current position.
func (r *root[U]) skipEnded() {
	for r.childIdx < len(r.children) && r.children[r.childIdx].end <= r.cur {
		r.childIdx++
	}
}

// resetChildIndex points the fast-forward index at the first child that
// has not ended before the current position, or past the list when every
// child has.
func (r *root[U]) resetChildIndex() {
	r.childIdx = len(r.children)
	for i, c := range r.children {
		if c.end >= r.cur {
			r.childIdx = i
			return
		}
	}
}

// seek moves to pos clamped into the timeline. keepPrev leaves the edge
// cursor untouched so boundaries already crossed are not crossed again.
// emit re-fires OnUpdate on the root and every updatable child.
func (r *root[U]) seek(pos U, emit, keepPrev bool) bool {
	r.cur = min(max(pos, 0), r.end)
	if !keepPrev {
		r.prev = r.cur - r.kind.behind(r)
	}
	r.resetChildIndex()
	if !emit {
		return true
	}
	if !r.fire(OnUpdate) {
		return false
	}
	for i := r.childIdx; i < len(r.children); i++ {
		c := r.children[i]
		if c.start > r.cur {
			break
		}
		c.cur = r.cur
		if !r.fireChild(c, OnUpdate) {
			return false
		}
		i = r.locate(i, c)
	}
	return true
}

func (r *root[U]) reached() bool { return r.prev < 0 && r.cur >= 0 }

// finish runs the end-of-step rules. It reports whether the step loop may
// continue.
func (r *root[U]) finish() bool {
	if r.cur < r.end {
		r.prev = r.cur
		return true
	}
	r.prev = r.cur
	if r.loop {
		r.reset = true
		return r.fire(OnLoop)
	}
	r.cur = r.end
	r.lapser.Pause()
	r.seek(r.cur, false, true)
	if !r.fire(OnEnd) {
		return false
	}
	if r.onEnd {
		r.destroy()
	}
	return false
}

func (r *root[U]) playing() bool { return r.lapser != nil && r.lapser.IsUpdating() }

func (r *root[U]) play() {
	if r.end == 0 || (r.cur >= r.end && !r.loop) || r.playing() {
		return
	}
	gen := r.gen
	r.lapser.Start()
	if !r.alive(gen) || !r.seek(r.cur, true, true) {
		return
	}
	if r.fire(OnPlay) {
		r.fireUpdatable(OnPlay)
	}
}

func (r *root[U]) pause() {
	if !r.playing() {
		return
	}
	gen := r.gen
	r.lapser.Pause()
	if !r.alive(gen) {
		return
	}
	r.seek(r.cur, false, true)
	if r.fire(OnPause) {
		r.fireUpdatable(OnPause)
	}
}

func (r *root[U]) stop() {
	gen := r.gen
	r.pause()
	if !r.alive(gen) {
		return
	}
	r.lapser.Stop()
	r.seek(0, false, false)
	r.reset = true
	if r.fire(OnStop) {
		r.fireUpdatable(OnStop)
	}
}

// seekTo is the public seek: the cursor restarts one step behind and a
// pending loop reset is dropped.
func (r *root[U]) seekTo(pos U) {
	r.reset = false
	r.seek(pos, true, false)
}

func (r *root[U]) setProgress(p float64) {
	if math.IsNaN(p) {
		p = 0
	}
	r.seekTo(min(max(r.kind.at(p, r.end), 0), r.end))
}

func (r *root[U]) setSpeed(v float64) {
	if !(v >= math.SmallestNonzeroFloat64) {
		v = math.SmallestNonzeroFloat64
	}
	r.speed = min(v, math.MaxFloat64)
	// The lapser clamps an overflowing product into its own range.
	_ = r.lapser.SetRate(r.speed * r.baseRate)
}

// destroy tears the root down. OnDestroy reaches the root only; children
// are dropped silently.
func (r *root[U]) destroy() {
	if !r.valid || r.dying {
		return
	}
	r.dying = true
	if l := r.lapser; l != nil {
		r.lapser = nil
		l.RemoveListener(r)
		l.Destroy()
	}
	r.fire(OnDestroy)
	r.events.clear()
	r.valid = false

	h, st := r.host, r.store
	for _, c := range r.children {
		st.sections.Put(c)
	}
	clear(r.children)
	r.children = r.children[:0]
	h.log.Debug("timeline destroyed", zap.String("kind", r.kind.name()))
	st.live--
	st.roots.Put(r)
}

func (r *root[U]) addChild(start, end U, capacity int) *section[U] {
	c := r.store.sections.Get()
	c.valid = true
	c.root = r
	c.start, c.end, c.cur = start, end, 0
	r.end = max(r.end, end)
	i := sort.Search(len(r.children), func(i int) bool { return r.children[i].start > start })
	r.children = slices.Insert(r.children, i, c)
	r.resetChildIndex()
	// Sections mostly listen to OnUpdate, triggers to OnStart.
	for _, k := range [...]EventKind{OnStart, OnUpdate} {
		if cap(c.events.lists[k]) < capacity {
			c.events.lists[k] = make([]entry[U], 0, capacity)
		}
	}
	return c
}

// lapse.Listener

func (r *root[U]) OnLapseStart(*lapse.Lapser)  {}
func (r *root[U]) OnLapseResume(*lapse.Lapser) {}
func (r *root[U]) OnLapsePause(*lapse.Lapser)  {}

func (r *root[U]) OnLapseUpdate(l *lapse.Lapser) bool {
	if r.valid && !r.dying {
		r.kind.step(r, l)
	}
	return true
}

// OnLapseEnd reaches a live root only when the scheduler tore its lapser
// down, as on scene unload. The timeline cannot outlive it.
func (r *root[U]) OnLapseEnd(l *lapse.Lapser) {
	if r.valid && r.lapser == l {
		r.destroy()
	}
}
