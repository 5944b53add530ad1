package lapse

// Listener observes a lapser's lifecycle. Implementations must be
// comparable (pointer types in practice); a lapser holds at most one
// registration per listener value.
type Listener interface {
	OnLapseStart(l *Lapser)
	// OnLapseUpdate returns false to stop listening.
	OnLapseUpdate(l *Lapser) bool
	OnLapseResume(l *Lapser)
	OnLapsePause(l *Lapser)
	OnLapseEnd(l *Lapser)
}

// ListenerFuncs adapts optional callbacks to Listener. A nil Update keeps
// the listener registered.
type ListenerFuncs struct {
	Start  func(l *Lapser)
	Update func(l *Lapser) bool
	Resume func(l *Lapser)
	Pause  func(l *Lapser)
	End    func(l *Lapser)
}

func (f *ListenerFuncs) OnLapseStart(l *Lapser) {
	if f.Start != nil {
		f.Start(l)
	}
}

func (f *ListenerFuncs) OnLapseUpdate(l *Lapser) bool {
	if f.Update != nil {
		return f.Update(l)
	}
	return true
}

func (f *ListenerFuncs) OnLapseResume(l *Lapser) {
	if f.Resume != nil {
		f.Resume(l)
	}
}

func (f *ListenerFuncs) OnLapsePause(l *Lapser) {
	if f.Pause != nil {
		f.Pause(l)
	}
}

func (f *ListenerFuncs) OnLapseEnd(l *Lapser) {
	if f.End != nil {
		f.End(l)
	}
}
