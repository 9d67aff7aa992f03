package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Stdout(t *testing.T) {
	cfg := &config.LoggerConfig{Format: "console", Color: true}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "stdout", cfg.Output)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chatmk.log")
	cfg := &config.LoggerConfig{Output: "file", FilePath: path, Level: "debug"}
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	l.Debug("written to file")
	_ = l.Sync()

	_, statErr := os.Stat(filepath.Dir(path))
	assert.NoError(t, statErr)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, getLogLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, getLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel("bogus"))
}
