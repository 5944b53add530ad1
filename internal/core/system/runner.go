package system

import (
	"fmt"
	"time"
)

// Runner drives one daemon tick: queued play requests and reloads are
// drained, last tick's clip notices reach their subscribers, the scheduler
// advances, status and audit rows are written, and destroyed clips are
// forgotten. Each phase keeps its systems in registration order.
type Runner struct {
	phases [phaseCount][]System
	n      int
}

func NewRunner() *Runner {
	return &Runner{}
}

// Register appends s to its phase. A phase outside the known set is a
// programming error.
func (r *Runner) Register(s System) {
	p := s.Phase()
	if p < 0 || p >= phaseCount {
		panic(fmt.Sprintf("system: %T registered with unknown phase %d", s, p))
	}
	r.phases[p] = append(r.phases[p], s)
	r.n++
}

// Len is the number of registered systems.
func (r *Runner) Len() int { return r.n }

// Systems lists the systems of one phase in run order.
func (r *Runner) Systems(p Phase) []System {
	if p < 0 || p >= phaseCount {
		return nil
	}
	return r.phases[p]
}

func (r *Runner) Tick(dt time.Duration) {
	for p := range r.phases {
		for _, s := range r.phases[p] {
			s.Update(dt)
		}
	}
}

// TickPhase runs only the systems of one phase. Shutdown uses it to deliver
// the destroy notices of the final unload without advancing time.
func (r *Runner) TickPhase(p Phase, dt time.Duration) {
	for _, s := range r.Systems(p) {
		s.Update(dt)
	}
}
