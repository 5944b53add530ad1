package persist

import "github.com/l1jgo/lapse/internal/data"

func clipFixture() data.ClipDef {
	return data.ClipDef{
		Name:     "Door",
		Kind:     data.KindFrames,
		Rate:     24,
		Length:   48,
		Events:   data.EventMap{"on_end": "door_closed"},
		Triggers: []data.TriggerDef{{At: 12, Action: "creak"}},
	}
}
