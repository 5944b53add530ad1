package data

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/lapse/internal/core/lapse"
	"github.com/l1jgo/lapse/internal/timeline"
)

// ClipKind selects the timeline flavor a clip is built on.
type ClipKind string

const (
	KindFrames   ClipKind = "frames"
	KindDuration ClipKind = "duration"
)

// EventMap binds event names ("on_start", "OnEnd", ...) to Lua function names.
type EventMap map[string]string

// SectionDef is a child range of a clip.
type SectionDef struct {
	Start  float64  `yaml:"start"`
	End    float64  `yaml:"end"`
	Events EventMap `yaml:"events,omitempty"`
}

// TriggerDef is a zero-length section whose action runs when the clip
// reaches At.
type TriggerDef struct {
	At     float64 `yaml:"at"`
	Action string  `yaml:"action"`
}

// ClipDef is one authored clip.
type ClipDef struct {
	Name         string       `yaml:"name"`
	Kind         ClipKind     `yaml:"kind"`
	Rate         float64      `yaml:"rate"`
	Priority     int          `yaml:"priority,omitempty"`
	Loop         bool         `yaml:"loop,omitempty"`
	DestroyOnEnd bool         `yaml:"destroy_on_end,omitempty"`
	FixedStep    bool         `yaml:"fixed_step,omitempty"`
	SkipFrames   bool         `yaml:"skip_frames,omitempty"`
	Speed        float64      `yaml:"speed,omitempty"`  // 0 means 1
	Length       float64      `yaml:"length,omitempty"` // explicit total, extended by sections
	Autoplay     bool         `yaml:"autoplay,omitempty"`
	Schedule     string       `yaml:"schedule,omitempty"` // cron expression that plays the clip
	Events       EventMap     `yaml:"events,omitempty"`
	Sections     []SectionDef `yaml:"sections,omitempty"`
	Triggers     []TriggerDef `yaml:"triggers,omitempty"`
}

var folder = cases.Fold()

// FoldName is the lookup key for a clip name; names differing only in case
// refer to the same clip.
func FoldName(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// Validate checks one definition in isolation.
func (d *ClipDef) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("clip name is empty: %w", lapse.ErrUsage)
	}
	if d.Kind != KindFrames && d.Kind != KindDuration {
		return fmt.Errorf("clip %q: unknown kind %q: %w", d.Name, d.Kind, lapse.ErrUsage)
	}
	if !(d.Rate > 0) || math.IsInf(d.Rate, 0) {
		return fmt.Errorf("clip %q: rate %v must be positive: %w", d.Name, d.Rate, lapse.ErrUsage)
	}
	if d.Speed < 0 || math.IsNaN(d.Speed) {
		return fmt.Errorf("clip %q: speed %v must not be negative: %w", d.Name, d.Speed, lapse.ErrUsage)
	}
	if err := d.checkPos("length", d.Length); err != nil {
		return err
	}
	if err := checkEvents(d.Name, d.Events); err != nil {
		return err
	}
	for i, s := range d.Sections {
		if err := d.checkPos(fmt.Sprintf("sections[%d].start", i), s.Start); err != nil {
			return err
		}
		if err := d.checkPos(fmt.Sprintf("sections[%d].end", i), s.End); err != nil {
			return err
		}
		if s.End < s.Start {
			return fmt.Errorf("clip %q: sections[%d] ends at %v before it starts at %v: %w", d.Name, i, s.End, s.Start, lapse.ErrUsage)
		}
		if err := checkEvents(d.Name, s.Events); err != nil {
			return err
		}
	}
	for i, tr := range d.Triggers {
		if err := d.checkPos(fmt.Sprintf("triggers[%d].at", i), tr.At); err != nil {
			return err
		}
		if tr.Action == "" {
			return fmt.Errorf("clip %q: triggers[%d] has no action: %w", d.Name, i, lapse.ErrUsage)
		}
	}
	if d.Schedule != "" {
		if _, err := cron.ParseStandard(d.Schedule); err != nil {
			return fmt.Errorf("clip %q: schedule %q: %v: %w", d.Name, d.Schedule, err, lapse.ErrUsage)
		}
	}
	return nil
}

// checkPos rejects negative or non-finite positions, and fractional ones on
// frame clips.
func (d *ClipDef) checkPos(field string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 0) {
		return fmt.Errorf("clip %q: %s %v must be finite and zero or greater: %w", d.Name, field, v, lapse.ErrUsage)
	}
	if d.Kind == KindFrames && v != math.Trunc(v) {
		return fmt.Errorf("clip %q: %s %v must be a whole frame: %w", d.Name, field, v, lapse.ErrUsage)
	}
	return nil
}

func checkEvents(clip string, events EventMap) error {
	for name, fn := range events {
		if _, ok := timeline.ParseEventKind(name); !ok {
			return fmt.Errorf("clip %q: unknown event %q: %w", clip, name, lapse.ErrUsage)
		}
		if fn == "" {
			return fmt.Errorf("clip %q: event %q has no action: %w", clip, name, lapse.ErrUsage)
		}
	}
	return nil
}

// Digest fingerprints a definition so unchanged clips can be skipped on
// reload and save.
func Digest(d ClipDef) (string, error) {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("digest clip %q: %w", d.Name, err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ParseClips decodes one YAML document holding a list of clips.
func ParseClips(raw []byte) ([]ClipDef, error) {
	var defs []ClipDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, err
	}
	for i := range defs {
		defs[i].Kind = ClipKind(strings.ToLower(string(defs[i].Kind)))
	}
	return defs, nil
}

// ParseClip decodes a single clip mapping, the form the clip store keeps.
func ParseClip(raw []byte) (ClipDef, error) {
	var d ClipDef
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return ClipDef{}, err
	}
	d.Kind = ClipKind(strings.ToLower(string(d.Kind)))
	return d, nil
}

// ClipTable holds validated clips in load order with case-folded lookup.
type ClipTable struct {
	clips []ClipDef
	index map[string]int
}

// NewClipTable validates defs. A later definition with the same folded
// name is rejected.
func NewClipTable(defs []ClipDef) (*ClipTable, error) {
	t := &ClipTable{
		clips: make([]ClipDef, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i := range defs {
		if err := t.add(defs[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *ClipTable) add(d ClipDef) error {
	if err := d.Validate(); err != nil {
		return err
	}
	key := FoldName(d.Name)
	if _, dup := t.index[key]; dup {
		return fmt.Errorf("clip %q: duplicate name: %w", d.Name, lapse.ErrUsage)
	}
	t.index[key] = len(t.clips)
	t.clips = append(t.clips, d)
	return nil
}

// LoadClipTable loads every *.yaml and *.yml file in dir, in file name order.
func LoadClipTable(dir string) (*ClipTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load clips %s: %w", dir, err)
	}
	var defs []ClipDef
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read clips %s: %w", path, err)
		}
		parsed, err := ParseClips(raw)
		if err != nil {
			return nil, fmt.Errorf("parse clips %s: %w", path, err)
		}
		defs = append(defs, parsed...)
	}
	t, err := NewClipTable(defs)
	if err != nil {
		return nil, fmt.Errorf("load clips %s: %w", dir, err)
	}
	return t, nil
}

// Get returns the clip with the given name, or nil if none.
func (t *ClipTable) Get(name string) *ClipDef {
	i, ok := t.index[FoldName(name)]
	if !ok {
		return nil
	}
	return &t.clips[i]
}

// Each visits clips in load order until fn returns false.
func (t *ClipTable) Each(fn func(*ClipDef) bool) {
	for i := range t.clips {
		if !fn(&t.clips[i]) {
			return
		}
	}
}

// Defs returns a copy of every clip in load order.
func (t *ClipTable) Defs() []ClipDef {
	return append([]ClipDef(nil), t.clips...)
}

// Count returns the total number of clips loaded.
func (t *ClipTable) Count() int {
	return len(t.clips)
}

// Merge overlays defs on the table: a clip with a matching folded name is
// replaced in place, new ones are appended.
func (t *ClipTable) Merge(defs []ClipDef) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if i, ok := t.index[FoldName(d.Name)]; ok {
			t.clips[i] = d
			continue
		}
		if err := t.add(d); err != nil {
			return err
		}
	}
	return nil
}
