package persist

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/00001_clips.sql", "migrations/00002_clip_events.sql"}, files)

	for _, f := range files {
		raw, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.HasPrefix(body, "-- +goose Up"), f)
		assert.Contains(t, body, "-- +goose Down", f)
	}
}

func TestMigrationLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := migrationLog{zap.New(core).Sugar()}
	l.Printf("OK   %s", "00001_clips.sql")
	l.Fatalf("failed %d", 2)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "OK   00001_clips.sql", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level, "goose failures never exit the process")
}

func TestClipCodec(t *testing.T) {
	def := clipFixture()
	definition, digest, err := encodeClip(def)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	got, err := decodeClip(definition)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	def.Rate = 0
	_, _, err = encodeClip(def)
	assert.Error(t, err, "invalid clips are never stored")
}
