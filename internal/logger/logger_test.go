package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})

	t.Run("file output carries context fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "exdfilter.log")
		log, err := New(Config{
			Level:  "info",
			Format: "json",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		require.NoError(t, err)

		log.WithComponent("pipeline").WithRun("run-1").Info("Pass finished")
		log.LogRequest("POST", "/api/runs", map[string][]string{
			"Authorization": {"Bearer secret"},
			"Accept":        {"application/json"},
		}, 202, time.Millisecond)
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out := string(data)
		assert.Contains(t, out, `"component":"pipeline"`)
		assert.Contains(t, out, `"run_id":"run-1"`)
		assert.Contains(t, out, `"status_code":202`)
		assert.Contains(t, out, "[REDACTED]")
		assert.False(t, strings.Contains(out, "secret"))
	})
}

func TestIsSensitiveHeader(t *testing.T) {
	assert.True(t, isSensitiveHeader("Authorization"))
	assert.True(t, isSensitiveHeader("X-Api-Key"))
	assert.False(t, isSensitiveHeader("Content-Type"))
}
