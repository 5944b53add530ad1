// Package lapse is the library face of the engine: a scheduler of
// independently rated lapsers and the frame or duration timelines, timers
// and clip director built on it.
//
// A host creates one Engine, feeds it the elapsed time once per frame with
// Advance (or registers it with a tick runner) and calls UnloadScene on
// scene teardown. Everything is single-goroutine.
package lapse

import (
	"go.uber.org/zap"

	core "github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/engine"
	"github.com/l1jgo/lapse/internal/timeline"
	"github.com/l1jgo/lapse/internal/timer"
)

type (
	Engine  = engine.Engine
	Options = engine.Options
	Stats   = engine.Stats

	Lapser        = core.Lapser
	Listener      = core.Listener
	ListenerFuncs = core.ListenerFuncs
	Scheduler     = core.Scheduler

	EventKind   = timeline.EventKind
	EventHandle = timeline.EventHandle

	FrameController    = timeline.FrameController
	FrameTimeline      = timeline.FrameTimeline
	FrameSection       = timeline.FrameSection
	FrameTrigger       = timeline.FrameTrigger
	FrameAction        = timeline.FrameAction
	DurationController = timeline.DurationController
	DurationTimeline   = timeline.DurationTimeline
	DurationSection    = timeline.DurationSection
	DurationTrigger    = timeline.DurationTrigger
	DurationAction     = timeline.DurationAction

	Delay    = timer.Delay
	Interval = timer.Interval
)

const (
	OnStart   = timeline.OnStart
	OnPlay    = timeline.OnPlay
	OnUpdate  = timeline.OnUpdate
	OnPause   = timeline.OnPause
	OnLoop    = timeline.OnLoop
	OnStop    = timeline.OnStop
	OnEnd     = timeline.OnEnd
	OnDestroy = timeline.OnDestroy

	FrameNoSkip     = core.FrameNoSkip
	FrameAlwaysSkip = core.FrameAlwaysSkip
)

var (
	ErrUsage          = core.ErrUsage
	ErrNotInitialized = core.ErrNotInitialized
	ErrInvalidState   = core.ErrInvalidState
)

// New creates an engine with its pools sized for capacity lapsers.
func New(capacity int, log *zap.Logger) (*Engine, error) {
	return engine.New(Options{Capacity: capacity, Recycle: true}, log)
}

// NewWithOptions creates an engine from explicit options.
func NewWithOptions(opts Options, log *zap.Logger) (*Engine, error) {
	return engine.New(opts, log)
}
