package scripting

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

// Engine wraps a single gopher-lua VM running clip actions.
// Single-goroutine access only (tick loop). Reload swaps in a fresh VM.
type Engine struct {
	vm    *lua.LState
	dir   string
	log   *zap.Logger
	funcs map[string]HostFunc

	calls, failures int
}

// HostFunc is a Go function exposed to scripts. It receives the script's
// single string argument; a returned error is raised in Lua.
type HostFunc func(arg string) error

// ActionContext is what every action receives as its one table argument.
type ActionContext struct {
	Clip     string
	Event    string // "on_start", "on_end", ...
	Position float64
	Progress float64
	Section  int // 1-based section index, 0 for the clip itself
	Trigger  bool
}

// Stats counts calls since the engine was created.
type Stats struct {
	Calls    int
	Failures int
}

// NewEngine creates a Lua engine and loads every script under dir. A
// missing dir yields an empty engine.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{dir: dir, log: log, funcs: make(map[string]HostFunc)}
	vm, err := e.newVM()
	if err != nil {
		return nil, err
	}
	e.vm = vm
	return e, nil
}

func (e *Engine) newVM() (*lua.LState, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("log_info", vm.NewFunction(func(L *lua.LState) int {
		e.log.Info("lua", zap.String("msg", L.CheckString(1)))
		return 0
	}))
	names := make([]string, 0, len(e.funcs))
	for name := range e.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bind(vm, name, e.funcs[name])
	}

	if e.dir != "" {
		if err := e.loadDir(vm, e.dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load scripts %s: %w", e.dir, err)
		}
	}
	return vm, nil
}

// loadDir loads all .lua files under dir, walking subdirectories in name
// order.
func (e *Engine) loadDir(vm *lua.LState, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".lua" {
			return nil
		}
		if err := vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
		return nil
	})
	if os.IsNotExist(err) {
		return nil // skip missing dirs
	}
	return err
}

func bind(vm *lua.LState, name string, fn HostFunc) {
	vm.SetGlobal(name, vm.NewFunction(func(L *lua.LState) int {
		if err := fn(L.CheckString(1)); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))
}

// Register exposes fn to scripts as a global. Registrations survive Reload.
func (e *Engine) Register(name string, fn HostFunc) {
	e.funcs[name] = fn
	bind(e.vm, name, fn)
}

// LoadString runs src in the current VM; name labels errors.
func (e *Engine) LoadString(name, src string) error {
	fn, err := e.vm.Load(strings.NewReader(src), name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	e.vm.Push(fn)
	if err := e.vm.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// Reload rebuilds the VM from the script directory. On failure the old VM
// stays in place.
func (e *Engine) Reload() error {
	vm, err := e.newVM()
	if err != nil {
		return err
	}
	old := e.vm
	e.vm = vm
	old.Close()
	e.log.Info("lua scripts reloaded", zap.String("dir", e.dir))
	return nil
}

// Has reports whether name is a global Lua function.
func (e *Engine) Has(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Call runs the action name with ctx. A string return value is handed back
// as a command for the caller. Errors are logged here as well as returned.
func (e *Engine) Call(name string, ctx ActionContext) (string, error) {
	e.calls++
	fn, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	if !ok {
		e.failures++
		e.log.Error("lua function not found", zap.String("name", name), zap.String("clip", ctx.Clip))
		return "", fmt.Errorf("lua function %s not found: %w", name, lapse.ErrUsage)
	}

	t := e.vm.NewTable()
	t.RawSetString("clip", lua.LString(ctx.Clip))
	t.RawSetString("event", lua.LString(ctx.Event))
	t.RawSetString("position", lua.LNumber(ctx.Position))
	t.RawSetString("progress", lua.LNumber(ctx.Progress))
	if ctx.Section > 0 {
		t.RawSetString("section", lua.LNumber(ctx.Section))
	}
	t.RawSetString("trigger", lua.LBool(ctx.Trigger))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.failures++
		e.log.Error("lua call error", zap.String("func", name), zap.String("clip", ctx.Clip), zap.Error(err))
		return "", fmt.Errorf("lua %s: %w", name, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	if s, ok := result.(lua.LString); ok {
		return string(s), nil
	}
	return "", nil
}

func (e *Engine) Stats() Stats {
	return Stats{Calls: e.calls, Failures: e.failures}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
