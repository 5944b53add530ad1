package event

// Clip notifications published by the director. Names are the display
// names from the clip table.

type ClipStarted struct {
	Name string
}

type ClipLooped struct {
	Name  string
	Loops int
}

type ClipEnded struct {
	Name string
}

type ClipDestroyed struct {
	Name string
}

// ClipsReloaded reports one applied reload.
type ClipsReloaded struct {
	Built   int
	Removed int
	Kept    int
}
