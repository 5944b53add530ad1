package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/lapse/internal/core/lapse"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lapse.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("file values overlay the defaults", func(t *testing.T) {
		path := writeConfig(t, `
[engine]
tick_rate = "20ms"
strict_goroutine = true

[clips]
dir = "clips"
watch = false

[logging]
level = "debug"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 20*time.Millisecond, cfg.Engine.TickRate)
		assert.True(t, cfg.Engine.StrictGoroutine)
		assert.Equal(t, 250*time.Millisecond, cfg.Engine.MaxTickDelta)
		assert.True(t, cfg.Engine.Recycle)
		assert.Equal(t, "clips", cfg.Clips.Dir)
		assert.False(t, cfg.Clips.Watch)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.False(t, cfg.Database.Enabled)
		assert.Equal(t, 5*time.Second, cfg.Database.FlushInterval)
	})

	t.Run("invalid values are usage errors", func(t *testing.T) {
		path := writeConfig(t, "[engine]\nlapser_capacity = -1\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, lapse.ErrUsage)

		path = writeConfig(t, "[database]\nenabled = true\ndsn = \"\"\n")
		_, err = Load(path)
		assert.ErrorIs(t, err, lapse.ErrUsage)

		path = writeConfig(t, "[database]\nflush_interval = \"0s\"\n")
		_, err = Load(path)
		assert.ErrorIs(t, err, lapse.ErrUsage)
	})

	t.Run("missing and malformed files fail", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)

		_, err = Load(writeConfig(t, "[engine\n"))
		assert.Error(t, err)
	})

	t.Run("defaults validate", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}
