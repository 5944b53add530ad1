package timeline

import "github.com/l1jgo/lapse/internal/core/lapse"

// frames counts whole frames. Every skipped frame is replayed as its own
// step so no integer boundary is ever missed.
type frames struct{}

func (frames) name() string { return "frames" }

func (frames) behind(*root[int]) int { return 1 }

func (frames) at(progress float64, length int) int {
	return int(progress * float64(length))
}

func (frames) step(r *root[int], l *lapse.Lapser) {
	for n := l.SkippedFrames() + 1; n > 0; n-- {
		r.cur++
		started := r.reached()
		if r.reset {
			r.reset = false
			r.seek(0, false, false)
		}
		if started && !r.fire(OnStart) {
			return
		}
		if !r.fire(OnUpdate) || !crossFrames(r) || !r.finish() {
			return
		}
	}
}

func crossFrames(r *root[int]) bool {
	for i := r.childIdx; i < len(r.children); i++ {
		c := r.children[i]
		if c.start > r.cur {
			break
		}
		c.cur = r.cur
		if !crossFrame(r, c) {
			return false
		}
		i = r.locate(i, c)
	}
	r.skipEnded()
	return true
}

func crossFrame(r *root[int], c *section[int]) bool {
	if r.prev < c.start && r.cur >= c.start && !r.fireChild(c, OnStart) {
		return false
	}
	if r.cur >= c.start && r.cur <= c.end && !r.fireChild(c, OnUpdate) {
		return false
	}
	if r.prev < c.end && r.cur >= c.end && !r.fireChild(c, OnEnd) {
		return false
	}
	return true
}
