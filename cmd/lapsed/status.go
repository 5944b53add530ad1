package main

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/director"
	"github.com/l1jgo/lapse/internal/engine"
	"github.com/l1jgo/lapse/internal/persist"
	"github.com/l1jgo/lapse/internal/scripting"
)

// statusSystem logs a stats line every interval.
type statusSystem struct {
	interval time.Duration
	elapsed  time.Duration
	eng      *engine.Engine
	dir      *director.Director
	scripts  *scripting.Engine
	db       *persist.DB // nil without a database
	log      *zap.Logger
}

func newStatusSystem(interval time.Duration, eng *engine.Engine, dir *director.Director, scripts *scripting.Engine, db *persist.DB, log *zap.Logger) *statusSystem {
	return &statusSystem{interval: interval, eng: eng, dir: dir, scripts: scripts, db: db, log: log}
}

func (s *statusSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *statusSystem) Update(dt time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0

	es := s.eng.Stats()
	ds := s.dir.Stats()
	ls := s.scripts.Stats()
	fields := []zap.Field{
		zap.Int("clips", ds.Defined),
		zap.Int("clips_live", ds.Live),
		zap.Int("clips_playing", ds.Playing),
		zap.Int("lapsers_live", es.Scheduler.Live),
		zap.Int("lapsers_active", es.Scheduler.Active),
		zap.Int("lapsers_pooled", es.Scheduler.Pooled),
		zap.Int("timers", es.Timers),
		zap.Int("lua_calls", ls.Calls),
		zap.Int("lua_failures", ls.Failures),
	}
	if s.db != nil {
		ps := s.db.Stats()
		fields = append(fields, zap.Int32("db_conns", ps.Total), zap.Int32("db_acquired", ps.Acquired))
	}
	s.log.Info("status", fields...)
}
