package timeline

import (
	"math"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

// durations counts seconds. A tick's delta, scaled by speed, is applied in
// one step unless it runs past the end; a pending reset takes a step of its
// own at position 0 without consuming time.
type durations struct{}

// maxDurationSteps bounds the passes one update may take, each pass ending
// at the root's end or a pending reset.
const maxDurationSteps = 1 << 16

func (durations) name() string { return "duration" }

func (durations) behind(r *root[float64]) float64 { return r.speed / r.baseRate }

func (durations) at(progress float64, length float64) float64 { return progress * length }

func (durations) step(r *root[float64], l *lapse.Lapser) {
	remaining := min(l.DeltaTime()*r.speed, math.MaxFloat64)
	// Time left after maxDurationSteps passes is dropped.
	for n := 0; remaining > 0 && n < maxDurationSteps; n++ {
		if r.reset {
			r.reset = false
			started := r.prev < 0
			r.seek(0, false, false)
			if started && !r.fire(OnStart) {
				return
			}
		} else {
			if r.cur+remaining > r.end {
				remaining -= r.end - r.cur
				r.cur = r.end
			} else {
				r.cur += remaining
				remaining = 0
			}
			if r.reached() && !r.fire(OnStart) {
				return
			}
		}
		if !r.fire(OnUpdate) || !crossDurations(r) || !r.finish() {
			return
		}
	}
}

// crossDurations fires a child's start, update and end together when one
// step spans the whole section.
func crossDurations(r *root[float64]) bool {
	for i := r.childIdx; i < len(r.children); i++ {
		c := r.children[i]
		if c.start > r.cur {
			break
		}
		c.cur = r.cur
		if !crossDuration(r, c) {
			return false
		}
		i = r.locate(i, c)
	}
	r.skipEnded()
	return true
}

func crossDuration(r *root[float64], c *section[float64]) bool {
	switch {
	case r.prev < c.start && r.cur >= c.start:
		if !r.fireChild(c, OnStart) || !r.fireChild(c, OnUpdate) {
			return false
		}
		if r.cur >= c.end && !r.fireChild(c, OnEnd) {
			return false
		}
	case r.cur < c.end:
		return r.fireChild(c, OnUpdate)
	case r.prev < c.end:
		return r.fireChild(c, OnUpdate) && r.fireChild(c, OnEnd)
	}
	return true
}
