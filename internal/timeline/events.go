package timeline

// EventKind is one of the fixed lifecycle notifications a controller emits.
type EventKind int

const (
	// OnStart fires when the position crosses into the controller's range.
	OnStart EventKind = iota
	// OnPlay fires on an explicit Play.
	OnPlay
	// OnUpdate fires on every live step while in range.
	OnUpdate
	// OnPause fires on an explicit Pause.
	OnPause
	// OnLoop fires on the root at every wraparound.
	OnLoop
	// OnStop fires on an explicit Stop.
	OnStop
	// OnEnd fires once when the position crosses out of the range.
	OnEnd
	// OnDestroy fires on the root only, once, at teardown.
	OnDestroy

	eventKinds
)

var eventNames = [eventKinds]string{
	"OnStart", "OnPlay", "OnUpdate", "OnPause", "OnLoop", "OnStop", "OnEnd", "OnDestroy",
}

func (k EventKind) String() string {
	if !k.valid() {
		return "EventKind(?)"
	}
	return eventNames[k]
}

// Key is the snake-case name used in clip files, "on_end" for OnEnd.
func (k EventKind) Key() string {
	if !k.valid() {
		return ""
	}
	return snake(eventNames[k])
}

// ParseEventKind maps a name such as "OnEnd" (or "on_end") back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name || snake(n) == name {
			return EventKind(k), true
		}
	}
	return 0, false
}

func (k EventKind) valid() bool { return k >= 0 && k < eventKinds }

// snake turns "OnEnd" into "on_end".
func snake(s string) string {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// EventHandle identifies one registered action. The zero value matches
// nothing.
type EventHandle struct {
	kind EventKind
	id   uint64
}

// Kind reports which event list the handle belongs to.
func (h EventHandle) Kind() EventKind { return h.kind }

type entry[U Unit] struct {
	id uint64
	fn Action[U]
}

// eventTable keeps one ordered action list per kind. Removal tombstones
// the slot; holes are compacted when the outermost dispatch finishes, so
// an action may remove itself or a sibling mid-dispatch.
type eventTable[U Unit] struct {
	lists  [eventKinds][]entry[U]
	nextID uint64
	depth  int
	holes  int
}

func (t *eventTable[U]) add(kind EventKind, fn Action[U]) EventHandle {
	t.nextID++
	t.lists[kind] = append(t.lists[kind], entry[U]{id: t.nextID, fn: fn})
	return EventHandle{kind: kind, id: t.nextID}
}

func (t *eventTable[U]) remove(kind EventKind, h EventHandle) bool {
	if h.id == 0 || h.kind != kind {
		return false
	}
	list := t.lists[kind]
	for i := range list {
		if list[i].id == h.id && list[i].fn != nil {
			list[i].fn = nil
			t.holes++
			t.compact()
			return true
		}
	}
	return false
}

func (t *eventTable[U]) clear() {
	for k := range t.lists {
		clear(t.lists[k])
		t.lists[k] = t.lists[k][:0]
	}
	t.holes = 0
}

// invoke runs every action of kind in registration order with arg. alive is
// consulted after each action; once it reports false the dispatch stops and
// invoke returns false.
func (t *eventTable[U]) invoke(kind EventKind, arg Controller[U], alive func() bool) bool {
	t.depth++
	defer func() {
		t.depth--
		t.compact()
	}()
	for i := 0; i < len(t.lists[kind]); i++ {
		fn := t.lists[kind][i].fn
		if fn == nil {
			continue
		}
		fn(arg)
		if !alive() {
			return false
		}
	}
	return true
}

func (t *eventTable[U]) compact() {
	if t.depth > 0 || t.holes == 0 {
		return
	}
	for k := range t.lists {
		list := t.lists[k]
		n := 0
		for _, e := range list {
			if e.fn != nil {
				list[n] = e
				n++
			}
		}
		clear(list[n:])
		t.lists[k] = list[:n]
	}
	t.holes = 0
}
