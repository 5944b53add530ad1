package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/lapse/internal/config"
	"github.com/l1jgo/lapse/internal/core/event"
	coresys "github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/director"
	"github.com/l1jgo/lapse/internal/engine"
	"github.com/l1jgo/lapse/internal/persist"
	"github.com/l1jgo/lapse/internal/scripting"
)

func TestNewLogger(t *testing.T) {
	log, err := newLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = newLogger(config.LoggingConfig{Level: "nonsense", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestClipSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("- name: a\n  kind: frames\n  rate: 1\n"), 0o644))

	defs, err := clipSource(dir, nil, zap.NewNop())()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].Name)

	_, err = clipSource(filepath.Join(dir, "absent"), nil, zap.NewNop())()
	assert.Error(t, err)
}

func TestSystems(t *testing.T) {
	eng, err := engine.New(engine.Options{Recycle: true}, nil)
	require.NoError(t, err)
	scripts, err := scripting.NewEngine("", nil)
	require.NoError(t, err)
	defer scripts.Close()
	bus := event.NewBus()
	dr, err := director.New(eng, scripts, bus, nil)
	require.NoError(t, err)

	audit := newAuditLog(bus, nil, time.Second, zap.NewNop())
	event.Emit(bus, event.ClipEnded{Name: "a"})
	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Empty(t, audit.pending, "nothing is buffered without a store")

	st := newStatusSystem(time.Second, eng, dr, scripts, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		st.Update(600 * time.Millisecond)
		st.Update(600 * time.Millisecond)
	})
	assert.Equal(t, time.Duration(0), st.elapsed)
}

type batchRecorder struct {
	batches [][]persist.ClipEventRow
	err     error
}

func (r *batchRecorder) WriteBatch(_ context.Context, entries []persist.ClipEventRow) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, slices.Clone(entries))
	return nil
}

func TestAuditLog(t *testing.T) {
	dispatch := func(bus *event.Bus) {
		bus.SwapBuffers()
		bus.DispatchAll()
	}

	t.Run("flushes on its own interval with the status line disabled", func(t *testing.T) {
		bus := event.NewBus()
		rec := &batchRecorder{}
		audit := newAuditLog(bus, rec, time.Second, zap.NewNop())
		st := newStatusSystem(0, nil, nil, nil, nil, zap.NewNop())
		event.Emit(bus, event.ClipEnded{Name: "door"})
		event.Emit(bus, event.ClipLooped{Name: "chime", Loops: 2})
		dispatch(bus)

		st.Update(600 * time.Millisecond)
		audit.Update(600 * time.Millisecond)
		assert.Empty(t, rec.batches)

		st.Update(600 * time.Millisecond)
		audit.Update(600 * time.Millisecond)
		require.Len(t, rec.batches, 1)
		assert.Equal(t, "door", rec.batches[0][0].Clip)
		assert.Equal(t, "ended", rec.batches[0][0].Event)
		assert.Equal(t, "looped", rec.batches[0][1].Event)
		assert.Equal(t, 2, rec.batches[0][1].Detail)
		assert.Empty(t, audit.pending)
		assert.Equal(t, coresys.PhasePostUpdate, audit.Phase())
	})

	t.Run("a failed write keeps the rows for the next flush", func(t *testing.T) {
		bus := event.NewBus()
		rec := &batchRecorder{err: errors.New("connection refused")}
		audit := newAuditLog(bus, rec, time.Second, zap.NewNop())
		event.Emit(bus, event.ClipEnded{Name: "door"})
		dispatch(bus)

		audit.Update(time.Second)
		assert.Len(t, audit.pending, 1)

		rec.err = nil
		audit.Update(time.Second)
		require.Len(t, rec.batches, 1)
		assert.Empty(t, audit.pending)
	})

	t.Run("the buffer drops the oldest rows past its bound", func(t *testing.T) {
		bus := event.NewBus()
		audit := newAuditLog(bus, &batchRecorder{}, time.Hour, zap.NewNop())
		for i := 0; i < maxPending+10; i++ {
			audit.record("door", "looped", i)
		}
		require.Len(t, audit.pending, maxPending)
		assert.Equal(t, 10, audit.pending[0].Detail)
	})
}
