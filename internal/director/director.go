// Package director turns clip definitions into running timelines. It binds
// clip events to Lua actions, publishes clip notifications on the event bus
// and accepts play requests from cron schedules and file watchers, always
// applying them on the tick goroutine.
package director

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/event"
	"github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/data"
	"github.com/l1jgo/lapse/internal/engine"
	"github.com/l1jgo/lapse/internal/scripting"
	"github.com/l1jgo/lapse/internal/timeline"
)

const requestBuffer = 64

// Source supplies the full clip set for a reload.
type Source func() ([]data.ClipDef, error)

// player is the playback surface shared by both timeline flavors.
type player interface {
	IsValid() bool
	IsPlaying() (bool, error)
	IsLoop() (bool, error)
	Progress() (float64, error)
	Play() error
	Pause() error
	Stop() error
	Destroy() error
}

type clip struct {
	def   data.ClipDef
	ctl   player
	loops int
}

func (c *clip) live() bool { return c != nil && c.ctl != nil && c.ctl.IsValid() }

// Stats is a snapshot of the clip set.
type Stats struct {
	Defined int // definitions known
	Live    int // built and not destroyed
	Playing int
}

type Director struct {
	eng     *engine.Engine
	scripts *scripting.Engine
	bus     *event.Bus
	log     *zap.Logger

	defs    map[string]data.ClipDef
	digests map[string]string
	order   []string // folded names in load order
	clips   map[string]*clip

	source   Source
	requests chan request
	sched    *schedules
}

var _ system.System = (*Director)(nil)

// New creates a director. scripts and bus are optional.
func New(eng *engine.Engine, scripts *scripting.Engine, bus *event.Bus, log *zap.Logger) (*Director, error) {
	if eng == nil {
		return nil, fmt.Errorf("director.New: %w", lapse.ErrNotInitialized)
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Director{
		eng:      eng,
		scripts:  scripts,
		bus:      bus,
		log:      log,
		defs:     make(map[string]data.ClipDef),
		digests:  make(map[string]string),
		clips:    make(map[string]*clip),
		requests: make(chan request, requestBuffer),
	}
	d.sched = newSchedules(d)
	if scripts != nil {
		scripts.Register("play_clip", d.Play)
		scripts.Register("pause_clip", d.Pause)
		scripts.Register("stop_clip", d.Stop)
	}
	return d, nil
}

// SetSource sets where reload requests read clips from. Without one a
// watch-triggered reload reads the watched directory.
func (d *Director) SetSource(src Source) { d.source = src }

// Load registers defs and builds a timeline for each. A clip already known
// under the same folded name is replaced. Autoplay clips start playing.
func (d *Director) Load(defs []data.ClipDef) error {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("director.Load: %w", err)
		}
		digest, err := data.Digest(def)
		if err != nil {
			return fmt.Errorf("director.Load: %w", err)
		}
		key := data.FoldName(def.Name)
		d.drop(key)
		if err := d.define(key, def, digest); err != nil {
			return err
		}
	}
	d.sched.sync()
	return nil
}

func (d *Director) define(key string, def data.ClipDef, digest string) error {
	c, err := d.build(def)
	if err != nil {
		return fmt.Errorf("director.Load: %w", err)
	}
	if _, known := d.defs[key]; !known {
		d.order = append(d.order, key)
	}
	d.defs[key] = def
	d.digests[key] = digest
	d.clips[key] = c
	d.log.Info("clip loaded", zap.String("clip", def.Name), zap.String("kind", string(def.Kind)))
	if def.Autoplay {
		return c.ctl.Play()
	}
	return nil
}

// drop destroys the clip's timeline and keeps its definition.
func (d *Director) drop(key string) {
	if c := d.clips[key]; c.live() {
		_ = c.ctl.Destroy()
	}
	delete(d.clips, key)
}

// forget drops the clip and its definition.
func (d *Director) forget(key string) {
	d.drop(key)
	if _, ok := d.defs[key]; ok {
		delete(d.defs, key)
		delete(d.digests, key)
		d.order = slices.DeleteFunc(d.order, func(k string) bool { return k == key })
	}
}

// Reload applies a full clip set: clips missing from defs are removed,
// clips whose digest changed are rebuilt, and the rest keep running. A
// rebuilt clip resumes playing if its predecessor was playing.
func (d *Director) Reload(defs []data.ClipDef) (event.ClipsReloaded, error) {
	var res event.ClipsReloaded
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return res, fmt.Errorf("director.Reload: %w", err)
		}
		seen[data.FoldName(def.Name)] = true
	}
	for _, key := range slices.Clone(d.order) {
		if !seen[key] {
			d.log.Info("clip removed", zap.String("clip", d.defs[key].Name))
			d.forget(key)
			res.Removed++
		}
	}

	for _, def := range defs {
		key := data.FoldName(def.Name)
		digest, err := data.Digest(def)
		if err != nil {
			return res, fmt.Errorf("director.Reload: %w", err)
		}
		if known, ok := d.digests[key]; ok && known == digest {
			res.Kept++
			continue
		}
		old := d.clips[key]
		resume := false
		if old.live() {
			resume, _ = old.ctl.IsPlaying()
		}
		d.drop(key)
		if err := d.define(key, def, digest); err != nil {
			return res, err
		}
		if resume {
			if err := d.clips[key].ctl.Play(); err != nil {
				return res, fmt.Errorf("director.Reload: %w", err)
			}
		}
		res.Built++
	}
	d.sched.sync()
	d.emit(res)
	d.log.Info("clips reloaded", zap.Int("built", res.Built), zap.Int("removed", res.Removed), zap.Int("kept", res.Kept))
	return res, nil
}

func (d *Director) lookup(op, name string) (string, *clip, error) {
	key := data.FoldName(name)
	if _, ok := d.defs[key]; !ok {
		return "", nil, fmt.Errorf("director.%s: unknown clip %q: %w", op, name, lapse.ErrUsage)
	}
	return key, d.clips[key], nil
}

// Has reports whether a definition named name is loaded.
func (d *Director) Has(name string) bool {
	_, ok := d.defs[data.FoldName(name)]
	return ok
}

// Play starts the clip. A clip that destroyed itself is rebuilt first, and
// one parked at its end is rewound.
func (d *Director) Play(name string) error {
	key, c, err := d.lookup("Play", name)
	if err != nil {
		return err
	}
	if !c.live() {
		if c, err = d.build(d.defs[key]); err != nil {
			return fmt.Errorf("director.Play: %w", err)
		}
		d.clips[key] = c
	} else if p, _ := c.ctl.Progress(); p >= 1 {
		if loop, _ := c.ctl.IsLoop(); !loop {
			if err := c.ctl.Stop(); err != nil {
				return err
			}
		}
	}
	return c.ctl.Play()
}

// Pause is a no-op for a clip with no live timeline.
func (d *Director) Pause(name string) error {
	_, c, err := d.lookup("Pause", name)
	if err != nil || !c.live() {
		return err
	}
	return c.ctl.Pause()
}

// Stop is a no-op for a clip with no live timeline.
func (d *Director) Stop(name string) error {
	_, c, err := d.lookup("Stop", name)
	if err != nil || !c.live() {
		return err
	}
	return c.ctl.Stop()
}

// Reap forgets timelines that were destroyed, by ending, by a script or by a
// scene unload. Their definitions stay so Play can rebuild them.
func (d *Director) Reap() int {
	n := 0
	for key, c := range d.clips {
		if !c.live() {
			delete(d.clips, key)
			n++
		}
	}
	return n
}

// Reaper wraps Reap as a cleanup-phase system.
func (d *Director) Reaper() system.System {
	return system.Func{P: system.PhaseCleanup, Fn: func(time.Duration) { d.Reap() }}
}

func (d *Director) Stats() Stats {
	st := Stats{Defined: len(d.defs)}
	for _, c := range d.clips {
		if !c.live() {
			continue
		}
		st.Live++
		if playing, _ := c.ctl.IsPlaying(); playing {
			st.Playing++
		}
	}
	return st
}

// Names returns the display names of every definition in load order.
func (d *Director) Names() []string {
	names := make([]string, 0, len(d.order))
	for _, key := range d.order {
		names = append(names, d.defs[key].Name)
	}
	return names
}

func (d *Director) build(def data.ClipDef) (*clip, error) {
	c := &clip{def: def}
	capacity := len(def.Sections) + len(def.Triggers)
	var err error
	switch def.Kind {
	case data.KindFrames:
		var tl timeline.FrameTimeline
		if tl, err = d.eng.CreateFrameTimeline(def.Rate, capacity, def.Priority); err == nil {
			c.ctl = tl
			err = wire(d, c, tl, func(v float64) int { return int(v) })
		}
	case data.KindDuration:
		var tl timeline.DurationTimeline
		if tl, err = d.eng.CreateDurationTimeline(def.Rate, capacity, def.Priority); err == nil {
			c.ctl = tl
			err = wire(d, c, tl, func(v float64) float64 { return v })
		}
	default:
		err = fmt.Errorf("unknown kind %q: %w", def.Kind, lapse.ErrUsage)
	}
	if err != nil {
		if c.ctl != nil {
			_ = c.ctl.Destroy()
		}
		return nil, fmt.Errorf("build clip %s: %w", def.Name, err)
	}
	return c, nil
}

func wire[U timeline.Unit](d *Director, c *clip, tl timeline.Timeline[U], at func(float64) U) error {
	def := &c.def
	if err := tl.SetLength(at(def.Length)); err != nil {
		return err
	}
	if err := tl.SetLoop(def.Loop); err != nil {
		return err
	}
	if err := tl.SetDestroyOnEnd(def.DestroyOnEnd); err != nil {
		return err
	}
	if err := tl.SetFixedStep(def.FixedStep); err != nil {
		return err
	}
	if err := tl.SetSkipFrames(def.SkipFrames); err != nil {
		return err
	}
	if def.Speed > 0 {
		if err := tl.SetSpeed(def.Speed); err != nil {
			return err
		}
	}

	notify := []struct {
		kind timeline.EventKind
		fn   timeline.Action[U]
	}{
		{timeline.OnStart, func(timeline.Controller[U]) { d.emit(event.ClipStarted{Name: def.Name}) }},
		{timeline.OnLoop, func(timeline.Controller[U]) {
			c.loops++
			d.emit(event.ClipLooped{Name: def.Name, Loops: c.loops})
		}},
		{timeline.OnEnd, func(timeline.Controller[U]) { d.emit(event.ClipEnded{Name: def.Name}) }},
		{timeline.OnDestroy, func(timeline.Controller[U]) { d.emit(event.ClipDestroyed{Name: def.Name}) }},
	}
	for _, n := range notify {
		if _, err := tl.AddEvent(n.kind, n.fn); err != nil {
			return err
		}
	}

	if err := bindEvents(d, c, timeline.Controller[U](tl), def.Events, 0); err != nil {
		return err
	}
	for i, s := range def.Sections {
		sec, err := tl.AddSection(at(s.Start), at(s.End), len(s.Events))
		if err != nil {
			return err
		}
		if err := bindEvents(d, c, timeline.Controller[U](sec), s.Events, i+1); err != nil {
			return err
		}
	}
	for _, tr := range def.Triggers {
		trig, err := tl.AddTrigger(at(tr.At), 1)
		if err != nil {
			return err
		}
		d.checkAction(def.Name, tr.Action)
		if _, err := trig.AddEvent(action[U](d, c, timeline.OnStart, tr.Action, 0, true)); err != nil {
			return err
		}
	}
	return nil
}

func bindEvents[U timeline.Unit](d *Director, c *clip, ctl timeline.Controller[U], events data.EventMap, section int) error {
	for _, name := range slices.Sorted(maps.Keys(events)) {
		kind, ok := timeline.ParseEventKind(name)
		if !ok {
			return fmt.Errorf("unknown event %q: %w", name, lapse.ErrUsage)
		}
		fn := events[name]
		d.checkAction(c.def.Name, fn)
		if _, err := ctl.AddEvent(kind, action[U](d, c, kind, fn, section, false)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Director) checkAction(clip, fn string) {
	switch {
	case d.scripts == nil:
		d.log.Warn("clip action bound without a script engine", zap.String("clip", clip), zap.String("action", fn))
	case !d.scripts.Has(fn):
		d.log.Warn("clip action not defined yet", zap.String("clip", clip), zap.String("action", fn))
	}
}

// action runs a Lua function and applies the command it returns, one of
// "pause", "stop" or "destroy". Script errors are logged by the script
// engine and never abort the tick.
func action[U timeline.Unit](d *Director, c *clip, kind timeline.EventKind, fn string, section int, trigger bool) timeline.Action[U] {
	return func(ctl timeline.Controller[U]) {
		if d.scripts == nil {
			return
		}
		pos, _ := ctl.Position()
		progress, _ := ctl.Progress()
		cmd, err := d.scripts.Call(fn, scripting.ActionContext{
			Clip:     c.def.Name,
			Event:    kind.Key(),
			Position: float64(pos),
			Progress: progress,
			Section:  section,
			Trigger:  trigger,
		})
		if err != nil {
			return
		}
		switch cmd {
		case "":
		case "pause":
			err = ctl.Pause()
		case "stop":
			err = ctl.Stop()
		case "destroy":
			err = ctl.Destroy()
		default:
			d.log.Warn("unknown action result", zap.String("clip", c.def.Name), zap.String("action", fn), zap.String("result", cmd))
		}
		if err != nil {
			d.log.Error("action result failed", zap.String("clip", c.def.Name), zap.String("result", cmd), zap.Error(err))
		}
	}
}

func (d *Director) emit(ev any) {
	if d.bus == nil {
		return
	}
	switch e := ev.(type) {
	case event.ClipStarted:
		event.Emit(d.bus, e)
	case event.ClipLooped:
		event.Emit(d.bus, e)
	case event.ClipEnded:
		event.Emit(d.bus, e)
	case event.ClipDestroyed:
		event.Emit(d.bus, e)
	case event.ClipsReloaded:
		event.Emit(d.bus, e)
	}
}
