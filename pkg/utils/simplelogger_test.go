package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelsAndKeyvals(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)
	t.Cleanup(Close)

	Debug("hidden", "k", 1)
	Info("cache hit", "function", "web_search", "similarity", 0.95)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, "function=web_search")
	assert.Contains(t, out, "similarity=0.95")
}

func TestInitLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.log")
	require.NoError(t, InitLogger(path, true))

	Debug("budget consumed", "remaining", 4)
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "remaining=4")

	// после Close логи отбрасываются без паники
	Info("after close")
}
