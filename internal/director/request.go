package director

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/data"
)

type op int

const (
	opPlay op = iota
	opPause
	opStop
	opReload
	opScripts
)

var opNames = [...]string{"play", "pause", "stop", "reload", "scripts"}

type request struct {
	op   op
	name string
	dir  string // clip directory for opReload without a source
}

// enqueue never blocks; a full queue drops the request.
func (d *Director) enqueue(r request) bool {
	select {
	case d.requests <- r:
		return true
	default:
		d.log.Warn("director request dropped", zap.String("op", opNames[r.op]), zap.String("clip", r.name))
		return false
	}
}

// RequestPlay queues a Play for the next tick. Safe from any goroutine.
func (d *Director) RequestPlay(name string) bool {
	return d.enqueue(request{op: opPlay, name: name})
}

func (d *Director) RequestPause(name string) bool {
	return d.enqueue(request{op: opPause, name: name})
}

func (d *Director) RequestStop(name string) bool {
	return d.enqueue(request{op: opStop, name: name})
}

// RequestReload queues a reload from the configured source.
func (d *Director) RequestReload() bool {
	return d.enqueue(request{op: opReload})
}

// Phase implements system.System.
func (d *Director) Phase() system.Phase { return system.PhaseInput }

// Update drains queued requests on the tick goroutine.
func (d *Director) Update(_ time.Duration) {
	for {
		select {
		case r := <-d.requests:
			d.handle(r)
		default:
			return
		}
	}
}

func (d *Director) handle(r request) {
	var err error
	switch r.op {
	case opPlay:
		err = d.Play(r.name)
	case opPause:
		err = d.Pause(r.name)
	case opStop:
		err = d.Stop(r.name)
	case opReload:
		err = d.reloadFrom(r.dir)
	case opScripts:
		if d.scripts != nil {
			err = d.scripts.Reload()
		}
	}
	if err != nil {
		d.log.Error("director request failed", zap.String("op", opNames[r.op]), zap.String("clip", r.name), zap.Error(err))
	}
}

func (d *Director) reloadFrom(dir string) error {
	var defs []data.ClipDef
	switch {
	case d.source != nil:
		var err error
		if defs, err = d.source(); err != nil {
			return err
		}
	case dir != "":
		tbl, err := data.LoadClipTable(dir)
		if err != nil {
			return err
		}
		defs = tbl.Defs()
	default:
		d.log.Warn("reload requested without a clip source")
		return nil
	}
	_, err := d.Reload(defs)
	return err
}
