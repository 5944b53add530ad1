package timeline

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

func newHost(t *testing.T) (*lapse.Scheduler, *Host) {
	t.Helper()
	s, err := lapse.NewScheduler(4, nil)
	require.NoError(t, err)
	h, err := NewHost(s, 4, nil)
	require.NoError(t, err)
	return s, h
}

// record appends "<name>:<kind>@<root position>" for each kind.
func record[U Unit](t *testing.T, log *[]string, c Controller[U], at func() U, name string, kinds ...EventKind) {
	t.Helper()
	for _, k := range kinds {
		_, err := c.AddEvent(k, func(Controller[U]) {
			*log = append(*log, fmt.Sprintf("%s:%s@%v", name, k, at()))
		})
		require.NoError(t, err)
	}
}

func frameAt(tl FrameTimeline) func() int {
	return func() int { p, _ := tl.Position(); return p }
}

func nan() float64 { return math.NaN() }

func tick(s *lapse.Scheduler, n int, delta float64) {
	for i := 0; i < n; i++ {
		s.Advance(delta)
	}
}

func TestFrameTimeline(t *testing.T) {
	t.Run("section fires one start end pair and updates every frame in range", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 2, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(10))
		sec, err := tl.AddSection(3, 6, 0)
		require.NoError(t, err)

		var childLog, rootLog []string
		record(t, &childLog, Controller[int](sec), frameAt(tl), "child", OnStart, OnUpdate, OnEnd)
		playing := true
		_, err = tl.AddEvent(OnEnd, func(c FrameController) {
			rootLog = append(rootLog, "root:OnEnd")
			playing, _ = c.IsPlaying()
		})
		require.NoError(t, err)

		require.NoError(t, tl.Play())
		tick(s, 15, 1)

		assert.Equal(t, []string{
			"child:OnStart@3",
			"child:OnUpdate@3", "child:OnUpdate@4", "child:OnUpdate@5", "child:OnUpdate@6",
			"child:OnEnd@6",
		}, childLog)
		assert.Equal(t, []string{"root:OnEnd"}, rootLog)
		assert.False(t, playing, "paused before OnEnd fires")
		pos, err := tl.Position()
		require.NoError(t, err)
		assert.Equal(t, 10, pos)
	})

	t.Run("skipped frames are replayed one by one", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(10))
		require.NoError(t, tl.SetSkipFrames(true))
		fired := 0
		_, err = tl.AddTriggerFunc(2, func(FrameController) { fired++ })
		require.NoError(t, err)

		require.NoError(t, tl.Play())
		s.Advance(4)

		assert.Equal(t, 1, fired)
		pos, _ := tl.Position()
		assert.Equal(t, 3, pos)
	})

	t.Run("loop fires OnLoop per wrap and OnEnd once looping stops", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(3))
		require.NoError(t, tl.SetLoop(true))

		var log []string
		record(t, &log, Controller[int](tl), frameAt(tl), "root", OnStart, OnLoop, OnEnd)

		require.NoError(t, tl.Play())
		tick(s, 8, 1)
		assert.Equal(t, []string{"root:OnStart@0", "root:OnLoop@3", "root:OnLoop@3"}, log)

		require.NoError(t, tl.SetLoop(false))
		tick(s, 6, 1)
		assert.Equal(t, []string{"root:OnStart@0", "root:OnLoop@3", "root:OnLoop@3", "root:OnEnd@3"}, log)
	})

	t.Run("pause and resume never re-cross a boundary", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(6))
		sec, err := tl.AddSection(2, 4, 0)
		require.NoError(t, err)

		var log []string
		record(t, &log, Controller[int](sec), frameAt(tl), "sec", OnStart, OnPlay, OnPause, OnEnd)

		require.NoError(t, tl.Play())
		tick(s, 3, 1)
		require.NoError(t, tl.Pause())
		tick(s, 3, 1)
		require.NoError(t, tl.Play())
		tick(s, 2, 1)
		require.NoError(t, tl.Pause())
		require.NoError(t, tl.Play())
		tick(s, 4, 1)

		assert.Equal(t, []string{
			"sec:OnStart@2", "sec:OnPause@2", "sec:OnPlay@2",
			"sec:OnEnd@4", "sec:OnPause@4", "sec:OnPlay@4",
		}, log)
	})

	t.Run("seeking to the end then the start plays one start and one end", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(8))
		sec, err := tl.AddSection(2, 5, 0)
		require.NoError(t, err)

		var log []string
		record(t, &log, Controller[int](sec), frameAt(tl), "sec", OnStart, OnEnd)

		require.NoError(t, tl.SeekTo(5))
		require.NoError(t, tl.SeekTo(2))
		assert.Empty(t, log, "seeking alone never crosses an edge")

		require.NoError(t, tl.Play())
		tick(s, 10, 1)
		assert.Equal(t, []string{"sec:OnStart@3", "sec:OnEnd@5"}, log)
	})

	t.Run("seeking to the start then the end never doubles an edge", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(8))
		sec, err := tl.AddSection(2, 5, 0)
		require.NoError(t, err)

		var log []string
		record(t, &log, Controller[int](sec), frameAt(tl), "sec", OnStart, OnEnd)

		require.NoError(t, tl.SeekTo(2))
		require.NoError(t, tl.SeekTo(5))
		require.NoError(t, tl.Play())
		tick(s, 10, 1)
		assert.Equal(t, []string{"sec:OnEnd@6"}, log)
	})

	t.Run("equal starts keep insertion order", func(t *testing.T) {
		_, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)

		var log []string
		for _, c := range []struct {
			name       string
			start, end int
		}{{"a", 2, 5}, {"b", 1, 3}, {"c", 2, 4}} {
			_, err := tl.AddSectionFunc(c.start, c.end, func(FrameController) { log = append(log, c.name) })
			require.NoError(t, err)
		}
		require.NoError(t, tl.SeekTo(2))
		assert.Equal(t, []string{"b", "a", "c"}, log)
	})

	t.Run("sections added from a start action leave the current section alone", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(10))
		outer, err := tl.AddSection(3, 6, 0)
		require.NoError(t, err)

		var log []string
		updates := 0
		_, err = outer.AddEvent(OnUpdate, func(FrameController) { updates++ })
		require.NoError(t, err)
		record(t, &log, Controller[int](outer), frameAt(tl), "outer", OnEnd)
		_, err = outer.AddEvent(OnStart, func(FrameController) {
			log = append(log, "outer:OnStart")
			behind, err := tl.AddSection(1, 2, 0)
			require.NoError(t, err)
			record(t, &log, Controller[int](behind), frameAt(tl), "behind", OnStart, OnUpdate, OnEnd)
			ahead, err := tl.AddSection(4, 5, 0)
			require.NoError(t, err)
			record(t, &log, Controller[int](ahead), frameAt(tl), "ahead", OnStart, OnEnd)
		})
		require.NoError(t, err)

		require.NoError(t, tl.Play())
		tick(s, 10, 1)

		assert.Equal(t, []string{"outer:OnStart", "ahead:OnStart@4", "ahead:OnEnd@5", "outer:OnEnd@6"}, log)
		assert.Equal(t, 4, updates)
	})

	t.Run("stop rewinds and the next play starts over", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(5))

		var log []string
		record(t, &log, Controller[int](tl), frameAt(tl), "root", OnStart, OnPause, OnStop)

		require.NoError(t, tl.Play())
		tick(s, 3, 1)
		require.NoError(t, tl.Stop())
		playing, _ := tl.IsPlaying()
		assert.False(t, playing)
		pos, _ := tl.Position()
		assert.Equal(t, 0, pos)

		require.NoError(t, tl.Play())
		s.Advance(1)
		assert.Equal(t, []string{"root:OnStart@0", "root:OnPause@2", "root:OnStop@0", "root:OnStart@0"}, log)
	})

	t.Run("progress writes from a section land in root coordinates", func(t *testing.T) {
		_, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(8))
		sec, err := tl.AddSection(4, 8, 0)
		require.NoError(t, err)

		require.NoError(t, sec.SetProgress(0.5))
		pos, _ := tl.Position()
		assert.Equal(t, 6, pos)
		p, _ := sec.Progress()
		assert.Equal(t, 0.5, p)
		rel, _ := sec.Position()
		assert.Equal(t, 2, rel)
	})
}

func TestDurationTimeline(t *testing.T) {
	t.Run("progress seek re-indexes the children", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(10, 3, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(10))

		var log []string
		at := func() float64 { p, _ := tl.Position(); return p }
		for _, c := range []struct {
			name       string
			start, end float64
		}{{"a", 1, 2}, {"b", 4, 8}, {"c", 6, 9}} {
			sec, err := tl.AddSection(c.start, c.end, 0)
			require.NoError(t, err)
			_, err = sec.AddEvent(OnStart, func(DurationController) {
				log = append(log, c.name+":OnStart")
			})
			require.NoError(t, err)
		}

		require.NoError(t, tl.SetProgress(0.5))
		pos, err := tl.Position()
		require.NoError(t, err)
		assert.Equal(t, 5.0, pos)
		assert.Equal(t, 1, tl.r.childIdx)

		require.NoError(t, tl.Play())
		s.Advance(0.1)
		assert.Empty(t, log)
		assert.InDelta(t, 5.1, at(), 1e-9)

		tick(s, 14, 0.1)
		assert.Equal(t, []string{"c:OnStart"}, log)
	})

	t.Run("one long step fires start update and end on a short section", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(10))
		sec, err := tl.AddSection(2, 3, 0)
		require.NoError(t, err)

		var log []string
		at := func() float64 { p, _ := tl.Position(); return p }
		record(t, &log, Controller[float64](sec), at, "sec", OnStart, OnUpdate, OnEnd)

		require.NoError(t, tl.Play())
		s.Advance(5)
		assert.Equal(t, []string{"sec:OnStart@5", "sec:OnUpdate@5", "sec:OnEnd@5"}, log)
	})

	t.Run("delta past the end wraps into the next loop", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(2))
		require.NoError(t, tl.SetLoop(true))
		loops := 0
		_, err = tl.AddEvent(OnLoop, func(DurationController) { loops++ })
		require.NoError(t, err)

		require.NoError(t, tl.Play())
		s.Advance(3)

		assert.Equal(t, 1, loops)
		pos, _ := tl.Position()
		assert.Equal(t, 1.0, pos)
	})

	t.Run("infinite speed stays finite and a looping update ends", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(10, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(2))
		require.NoError(t, tl.SetLoop(true))
		require.NoError(t, tl.SetSpeed(math.Inf(1)))
		loops := 0
		_, err = tl.AddEvent(OnLoop, func(DurationController) { loops++ })
		require.NoError(t, err)

		speed, err := tl.Speed()
		require.NoError(t, err)
		assert.Equal(t, math.MaxFloat64, speed)
		rate := tl.r.lapser.Rate()
		assert.False(t, math.IsInf(rate, 0))
		assert.Positive(t, tl.r.lapser.Step())

		require.NoError(t, tl.Play())
		s.Advance(2)
		assert.Positive(t, loops)
		assert.Less(t, loops, maxDurationSteps)
	})

	t.Run("speed scales both the sampling rate and the delta", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(10, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(5))
		require.NoError(t, tl.SetSpeed(2))

		require.NoError(t, tl.Play())
		s.Advance(0.1)

		pos, _ := tl.Position()
		assert.InDelta(t, 0.2, pos, 1e-9)
		assert.InDelta(t, 20, tl.r.lapser.Rate(), 1e-9)
	})

	t.Run("destroy on end invalidates every handle", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(1, 0, 0)
		require.NoError(t, err)
		sec, err := tl.AddSection(0, 2, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetDestroyOnEnd(true))

		var log []string
		at := func() float64 { return 0 }
		record(t, &log, Controller[float64](tl), at, "root", OnEnd, OnDestroy)
		record(t, &log, Controller[float64](sec), at, "sec", OnDestroy)

		require.NoError(t, tl.Play())
		tick(s, 3, 1)

		assert.Equal(t, []string{"root:OnEnd@0", "root:OnDestroy@0"}, log)
		assert.False(t, tl.IsValid())
		assert.False(t, sec.IsValid())
		_, err = tl.Progress()
		assert.ErrorIs(t, err, lapse.ErrInvalidState)
		assert.NoError(t, tl.Destroy())
		assert.Equal(t, Stats{PooledDurations: 1}, h.Stats())
		assert.Equal(t, 0, s.Stats().Live)
	})
}

func TestTimelineLifecycle(t *testing.T) {
	t.Run("stale handles stay invalid after the root is reused", func(t *testing.T) {
		_, h := newHost(t)
		old, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, old.Destroy())

		fresh, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		assert.Same(t, old.r, fresh.r)
		assert.False(t, old.IsValid())
		assert.True(t, fresh.IsValid())
		assert.ErrorIs(t, old.Play(), lapse.ErrInvalidState)
	})

	t.Run("destroy from inside a section action stops the step", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.SetLength(5))

		var log []string
		_, err = tl.AddTriggerFunc(1, func(c FrameController) {
			log = append(log, "first")
			assert.NoError(t, c.Destroy())
		})
		require.NoError(t, err)
		_, err = tl.AddTriggerFunc(1, func(FrameController) { log = append(log, "second") })
		require.NoError(t, err)
		_, err = tl.AddEvent(OnDestroy, func(FrameController) { log = append(log, "destroyed") })
		require.NoError(t, err)

		require.NoError(t, tl.Play())
		assert.NotPanics(t, func() { tick(s, 4, 1) })

		assert.Equal(t, []string{"first", "destroyed"}, log)
		assert.Equal(t, 0, s.Stats().Live)
	})

	t.Run("scene unload destroys the timeline with its lapser", func(t *testing.T) {
		s, h := newHost(t)
		tl, err := h.CreateDuration(1, 0, 0)
		require.NoError(t, err)
		destroyed := 0
		_, err = tl.AddEvent(OnDestroy, func(DurationController) { destroyed++ })
		require.NoError(t, err)

		require.NoError(t, s.UnloadScene())
		assert.Equal(t, 1, destroyed)
		assert.False(t, tl.IsValid())
		assert.Equal(t, 0, h.Stats().Durations)
	})

	t.Run("an action may remove itself mid dispatch", func(t *testing.T) {
		_, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)

		var log []string
		var self EventHandle
		self, err = tl.AddEvent(OnUpdate, func(c FrameController) {
			log = append(log, "once")
			assert.NoError(t, c.RemoveEvent(OnUpdate, self))
		})
		require.NoError(t, err)
		_, err = tl.AddEvent(OnUpdate, func(FrameController) { log = append(log, "always") })
		require.NoError(t, err)

		require.NoError(t, tl.SeekTo(0))
		require.NoError(t, tl.SeekTo(0))
		assert.Equal(t, []string{"once", "always", "always"}, log)
	})

	t.Run("invalid arguments are usage errors", func(t *testing.T) {
		_, h := newHost(t)
		fr, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		du, err := h.CreateDuration(1, 0, 0)
		require.NoError(t, err)

		_, err = fr.AddSection(-1, 2, 0)
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = fr.AddSection(5, 3, 0)
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = fr.AddTrigger(1, -1)
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = du.AddSection(0, nan(), 0)
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = fr.AddEvent(EventKind(42), func(FrameController) {})
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = fr.AddEvent(OnEnd, nil)
		assert.ErrorIs(t, err, lapse.ErrUsage)
		_, err = h.CreateFrames(1, -1, 0)
		assert.ErrorIs(t, err, lapse.ErrUsage)

		var zero FrameTimeline
		assert.ErrorIs(t, zero.Play(), lapse.ErrInvalidState)
		var noHost *Host
		_, err = noHost.CreateFrames(1, 0, 0)
		assert.ErrorIs(t, err, lapse.ErrNotInitialized)
	})

	t.Run("play is a no-op on an empty timeline", func(t *testing.T) {
		_, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.Play())
		playing, err := tl.IsPlaying()
		require.NoError(t, err)
		assert.False(t, playing)
	})

	t.Run("sections delegate playback state to the root", func(t *testing.T) {
		_, h := newHost(t)
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		tr, err := tl.AddTrigger(3, 0)
		require.NoError(t, err)
		sec := tr.Section()

		require.NoError(t, sec.SetLoop(true))
		require.NoError(t, sec.SetSpeed(3))
		loop, _ := tl.IsLoop()
		speed, _ := tl.Speed()
		assert.True(t, loop)
		assert.Equal(t, 3.0, speed)

		root, err := sec.Root()
		require.NoError(t, err)
		assert.Equal(t, tl, root)
		d, _ := tl.Duration()
		assert.Equal(t, 3, d)
	})

	t.Run("recycle flag follows the scheduler", func(t *testing.T) {
		s, h := newHost(t)
		require.NoError(t, s.SetRecycle(false))
		tl, err := h.CreateFrames(1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, tl.Destroy())
		assert.Equal(t, 0, h.Stats().PooledFrames)
	})
}

func TestEventKind(t *testing.T) {
	assert.Equal(t, "OnDestroy", OnDestroy.String())
	k, ok := ParseEventKind("on_update")
	assert.True(t, ok)
	assert.Equal(t, OnUpdate, k)
	k, ok = ParseEventKind("OnLoop")
	assert.True(t, ok)
	assert.Equal(t, OnLoop, k)
	_, ok = ParseEventKind("on_nothing")
	assert.False(t, ok)
	assert.Equal(t, "on_destroy", OnDestroy.Key())
	assert.Equal(t, "", EventKind(99).Key())
}
