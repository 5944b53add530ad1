package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/event"
	coresys "github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/persist"
)

// maxPending bounds the rows held while the database is unreachable.
const maxPending = 4096

// eventWriter is the slice of persist.EventLogRepo the audit log needs.
type eventWriter interface {
	WriteBatch(ctx context.Context, entries []persist.ClipEventRow) error
}

// auditLog records clip notifications from the bus and writes them to the
// event log table every interval. Without a repo it only logs them.
type auditLog struct {
	repo     eventWriter
	pending  []persist.ClipEventRow
	interval time.Duration
	elapsed  time.Duration
	log      *zap.Logger
}

func newAuditLog(bus *event.Bus, repo eventWriter, interval time.Duration, log *zap.Logger) *auditLog {
	a := &auditLog{repo: repo, interval: interval, log: log}
	event.Subscribe(bus, func(e event.ClipEnded) { a.record(e.Name, "ended", 0) })
	event.Subscribe(bus, func(e event.ClipLooped) { a.record(e.Name, "looped", e.Loops) })
	event.Subscribe(bus, func(e event.ClipDestroyed) { a.record(e.Name, "destroyed", 0) })
	event.Subscribe(bus, func(e event.ClipsReloaded) {
		log.Info("clips reloaded", zap.Int("built", e.Built), zap.Int("removed", e.Removed), zap.Int("kept", e.Kept))
	})
	return a
}

func (a *auditLog) record(clip, ev string, detail int) {
	a.log.Debug("clip event", zap.String("clip", clip), zap.String("event", ev), zap.Int("detail", detail))
	if a.repo == nil {
		return
	}
	if len(a.pending) >= maxPending {
		a.pending = a.pending[1:]
	}
	a.pending = append(a.pending, persist.ClipEventRow{
		Clip:       clip,
		Event:      ev,
		Detail:     detail,
		OccurredAt: time.Now(),
	})
}

func (a *auditLog) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (a *auditLog) Update(dt time.Duration) {
	a.elapsed += dt
	if a.elapsed < a.interval {
		return
	}
	a.elapsed = 0
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.flush(ctx)
}

// flush writes pending rows; on failure they are kept for the next flush.
func (a *auditLog) flush(ctx context.Context) {
	if a.repo == nil || len(a.pending) == 0 {
		return
	}
	if err := a.repo.WriteBatch(ctx, a.pending); err != nil {
		a.log.Error("event log write failed", zap.Int("pending", len(a.pending)), zap.Error(err))
		return
	}
	a.pending = a.pending[:0]
}
