package logger

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/pkg/config"
)

func TestNew_SetLevelAtRuntime(t *testing.T) {
	cfg := config.Config{AppEnv: "test"}
	cfg.Logger.Level = "warn"
	cfg.Logger.Format = "text"
	cfg.Logger.File.Path = filepath.Join(t.TempDir(), "bot.log")

	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))

	l.SetLevel("debug")
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}
