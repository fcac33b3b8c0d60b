package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	out := sanitize([]any{"api_key", "sk-123", "model", "gpt", "Postgres_DSN", "postgres://u:p@h/db", "dangling"})
	assert.Equal(t, []any{"api_key", redacted, "model", "gpt", "Postgres_DSN", redacted, "dangling"}, out)
}

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("dataset_id", int64(3))

	l.Info("аннотация сохранена", "chunk_id", 5, "token", "abc")
	l.Warn("пропуск")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["dataset_id"])
	assert.Equal(t, int64(5), fields["chunk_id"])
	assert.Equal(t, redacted, fields["token"])
	assert.Equal(t, "пропуск", entries[1].Message)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"prod", "dev", ""} {
		l, err := New(mode)
		require.NoError(t, err)
		l.Debug("ok")
	}
	NewNop().Info("тихо")
}
