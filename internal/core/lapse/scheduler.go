package lapse

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/pool"
)

// Addon is notified when the scheduler's recycle flag changes, so
// subsystems with their own pools follow the same policy.
type Addon interface {
	OnRecycleFlagSet(recycle bool)
}

// Option configures a Scheduler at Init.
type Option func(*Scheduler)

// WithOwnerCheck binds the scheduler to the goroutine calling Init.
// Creating lapsers or ticking from any other goroutine is rejected.
func WithOwnerCheck() Option {
	return func(s *Scheduler) { s.ownerCheck = true }
}

// Stats is a snapshot of scheduler bookkeeping.
type Stats struct {
	Active int // entries in the update set, pending removals included
	Live   int // lapsers handed out and not yet recycled
	Pooled int // idle lapsers waiting for reuse
}

// Scheduler owns the live lapsers and advances every running one once per
// external tick, highest priority first. Single goroutine only.
//
// The zero value is usable after Init.
type Scheduler struct {
	ready   bool
	ticking bool
	dirty   bool
	nextID  int
	nextSeq uint64

	// Detached entries are nil until the next pass removes them.
	active  []*lapser
	live    map[int]*lapser
	lapsers *pool.Pool[lapser]
	addons  []Addon

	ownerCheck bool
	owner      int64

	log *zap.Logger
}

// NewScheduler creates and initializes a scheduler.
func NewScheduler(capacity int, log *zap.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{}
	if err := s.Init(capacity, log, opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// Init prepares the scheduler. Calling it again is a no-op.
func (s *Scheduler) Init(capacity int, log *zap.Logger, opts ...Option) error {
	if s.ready {
		return nil
	}
	if capacity < 0 {
		return fmt.Errorf("Scheduler.Init: capacity %d must be zero or greater: %w", capacity, ErrUsage)
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log
	s.active = make([]*lapser, 0, capacity)
	s.live = make(map[int]*lapser, capacity)
	s.lapsers = pool.New(capacity, func() *lapser { return &lapser{} }, (*lapser).release)
	s.owner = goid.Get()
	s.ready = true
	return nil
}

func (s *Scheduler) check(op string) error {
	if s == nil || !s.ready {
		return fmt.Errorf("Scheduler.%s: %w", op, ErrNotInitialized)
	}
	if s.ownerCheck && goid.Get() != s.owner {
		return fmt.Errorf("Scheduler.%s: called off the owner goroutine: %w", op, ErrUsage)
	}
	return nil
}

// CreateLapser hands out a lapser with a fresh identity.
func (s *Scheduler) CreateLapser(listenerCapacity int) (*Lapser, error) {
	if err := s.check("CreateLapser"); err != nil {
		return nil, err
	}
	if listenerCapacity < 0 {
		return nil, fmt.Errorf("Scheduler.CreateLapser: listener capacity %d must be zero or greater: %w", listenerCapacity, ErrUsage)
	}
	s.nextID++
	l := s.lapsers.Get()
	l.reset(s, s.nextID, listenerCapacity)
	s.live[l.id] = l
	s.log.Debug("lapser created", zap.Int("id", l.id))
	return l.handle, nil
}

// FindLapserWithID scans the update set for id.
func (s *Scheduler) FindLapserWithID(id int) (*Lapser, bool, error) {
	if err := s.check("FindLapserWithID"); err != nil {
		return nil, false, err
	}
	for _, l := range s.active {
		if l != nil && l.id == id {
			return l.handle, true, nil
		}
	}
	return nil, false, nil
}

// AttachAddon registers a to follow the recycle flag and immediately tells
// it the current value.
func (s *Scheduler) AttachAddon(a Addon) error {
	if err := s.check("AttachAddon"); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("Scheduler.AttachAddon: addon must not be nil: %w", ErrUsage)
	}
	if slices.Contains(s.addons, a) {
		return nil
	}
	s.addons = append(s.addons, a)
	a.OnRecycleFlagSet(s.lapsers.Recycling())
	return nil
}

// SetRecycle toggles object reuse for lapsers and every attached addon.
func (s *Scheduler) SetRecycle(on bool) error {
	if err := s.check("SetRecycle"); err != nil {
		return err
	}
	s.lapsers.SetRecycle(on)
	for _, a := range s.addons {
		a.OnRecycleFlagSet(on)
	}
	return nil
}

func (s *Scheduler) Recycling() (bool, error) {
	if err := s.check("Recycling"); err != nil {
		return false, err
	}
	return s.lapsers.Recycling(), nil
}

func (s *Scheduler) Stats() Stats {
	if s == nil || !s.ready {
		return Stats{}
	}
	return Stats{Active: len(s.active), Live: len(s.live), Pooled: s.lapsers.Len()}
}

// attach queues l for updates; the set is re-sorted before the next pass.
func (s *Scheduler) attach(l *lapser) {
	s.nextSeq++
	l.seq = s.nextSeq
	s.active = append(s.active, l)
	s.dirty = true
}

func (s *Scheduler) detach(l *lapser) {
	for i := len(s.active) - 1; i >= 0; i-- {
		if s.active[i] == l {
			s.active[i] = nil
			return
		}
	}
}

func (s *Scheduler) detachAll(l *lapser) {
	for i, x := range s.active {
		if x == l {
			s.active[i] = nil
		}
	}
}

// sortActive orders the set so that iterating back to front visits
// priorities high to low, equal priorities in attach order. Pending
// removals gather at the front.
func (s *Scheduler) sortActive() {
	sort.SliceStable(s.active, func(i, j int) bool {
		a, b := s.active[i], s.active[j]
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq > b.seq
	})
}

// Advance feeds delta seconds to every running lapser. Destroyed lapsers
// are torn down and recycled during the same pass.
func (s *Scheduler) Advance(delta float64) {
	if err := s.check("Advance"); err != nil {
		if s != nil && s.log != nil {
			s.log.Warn("tick rejected", zap.Error(err))
		}
		return
	}
	if s.ticking {
		s.log.Warn("re-entrant tick ignored")
		return
	}
	if !(delta >= 0) || math.IsInf(delta, 1) {
		delta = 0
	}

	s.ticking = true
	defer func() { s.ticking = false }()

	if s.dirty {
		s.dirty = false
		s.sortActive()
	}

	for i := len(s.active) - 1; i >= 0; i-- {
		l := s.active[i]
		if l != nil && !l.update(delta) {
			s.detachAll(l)
			s.recycle(l)
		}
		if s.active[i] == nil {
			s.active = slices.Delete(s.active, i, i+1)
		}
	}
}

// UnloadScene destroys and recycles every live lapser flagged
// destroy-on-unload. Inside a tick it only flags them; the pass in
// progress or the next one recycles them.
func (s *Scheduler) UnloadScene() error {
	if err := s.check("UnloadScene"); err != nil {
		return err
	}
	ids := make([]int, 0, len(s.live))
	for id, l := range s.live {
		if l.destroyOnUnload {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		// A teardown callback may have unloaded or ticked in between.
		l, ok := s.live[id]
		if !ok {
			continue
		}
		if s.ticking {
			l.destroy()
			continue
		}
		l.state = StateDestroyed
		s.detachAll(l)
		s.recycle(l)
	}
	if len(ids) > 0 {
		s.log.Debug("scene unloaded", zap.Int("lapsers", len(ids)))
	}
	return nil
}

// recycle forgets l before ending its listeners, so a nested unload or
// tick from OnLapseEnd cannot reach it twice.
func (s *Scheduler) recycle(l *lapser) {
	id := l.id
	delete(s.live, id)
	l.endListeners()
	s.lapsers.Put(l)
	s.log.Debug("lapser recycled", zap.Int("id", id))
}
