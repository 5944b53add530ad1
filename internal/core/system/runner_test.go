package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	var log []string
	sys := func(p Phase, name string) System {
		return Func{P: p, Fn: func(time.Duration) { log = append(log, name) }}
	}

	t.Run("runs phases in order and keeps registration order within a phase", func(t *testing.T) {
		log = nil
		r := NewRunner()
		r.Register(sys(PhaseCleanup, "reap"))
		r.Register(sys(PhaseUpdate, "advance"))
		r.Register(sys(PhaseInput, "drain"))
		r.Register(sys(PhaseUpdate, "status"))
		r.Register(sys(PhasePreUpdate, "dispatch"))

		r.Tick(time.Millisecond)
		assert.Equal(t, []string{"drain", "dispatch", "advance", "status", "reap"}, log)
		assert.Equal(t, 5, r.Len())
	})

	t.Run("tick phase runs a single phase", func(t *testing.T) {
		log = nil
		r := NewRunner()
		r.Register(sys(PhaseUpdate, "advance"))
		r.Register(sys(PhaseInput, "drain"))

		r.TickPhase(PhaseInput, 0)
		assert.Equal(t, []string{"drain"}, log)
	})

	t.Run("systems lists one phase in run order", func(t *testing.T) {
		log = nil
		r := NewRunner()
		r.Register(sys(PhasePostUpdate, "status"))
		r.Register(sys(PhaseUpdate, "advance"))
		r.Register(sys(PhasePostUpdate, "audit"))

		post := r.Systems(PhasePostUpdate)
		require.Len(t, post, 2)
		post[1].Update(0)
		assert.Equal(t, []string{"audit"}, log)
		assert.Empty(t, r.Systems(Phase(42)))
	})

	t.Run("an unknown phase panics on register", func(t *testing.T) {
		r := NewRunner()
		assert.Panics(t, func() { r.Register(sys(Phase(-1), "lost")) })
		assert.Equal(t, 0, r.Len())
	})

	t.Run("systems receive the tick delta", func(t *testing.T) {
		var got time.Duration
		r := NewRunner()
		r.Register(Func{P: PhaseUpdate, Fn: func(dt time.Duration) { got = dt }})
		r.Tick(16 * time.Millisecond)
		assert.Equal(t, 16*time.Millisecond, got)
	})

	assert.Equal(t, "cleanup", PhaseCleanup.String())
}
