package director

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type scheduled struct {
	spec string
	id   cron.EntryID
}

// schedules keeps one cron entry per clip with a schedule. Entries only
// enqueue play requests; the clip itself is touched on the tick goroutine.
type schedules struct {
	d       *Director
	cron    *cron.Cron
	entries map[string]scheduled
}

func newSchedules(d *Director) *schedules {
	logger := cron.PrintfLogger(zap.NewStdLog(d.log.Named("cron")))
	return &schedules{
		d:       d,
		cron:    cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		entries: make(map[string]scheduled),
	}
}

// sync makes the cron entries match the current definitions.
func (s *schedules) sync() {
	for key, e := range s.entries {
		if def, ok := s.d.defs[key]; !ok || def.Schedule != e.spec {
			s.cron.Remove(e.id)
			delete(s.entries, key)
		}
	}
	for _, key := range s.d.order {
		def := s.d.defs[key]
		if def.Schedule == "" {
			continue
		}
		if _, ok := s.entries[key]; ok {
			continue
		}
		name := def.Name
		id, err := s.cron.AddFunc(def.Schedule, func() { s.d.RequestPlay(name) })
		if err != nil {
			s.d.log.Error("clip schedule rejected", zap.String("clip", name), zap.String("schedule", def.Schedule), zap.Error(err))
			continue
		}
		s.entries[key] = scheduled{spec: def.Schedule, id: id}
		s.d.log.Info("clip scheduled", zap.String("clip", name), zap.String("schedule", def.Schedule))
	}
}

// StartSchedules runs the cron loop in its own goroutine.
func (d *Director) StartSchedules() {
	d.sched.cron.Start()
}

// StopSchedules stops the cron loop and waits for running jobs until ctx
// expires.
func (d *Director) StopSchedules(ctx context.Context) {
	select {
	case <-d.sched.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Scheduled is the number of clips with an active cron entry.
func (d *Director) Scheduled() int { return len(d.sched.entries) }
