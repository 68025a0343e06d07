package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/exdfilter/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exdfilter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, pipeline.Localized, cfg.Pipeline.Variant)
	assert.Equal(t, "ko", cfg.Pipeline.Locale)
	assert.Equal(t, pipeline.KeepEmpty, cfg.Pipeline.EmptyFilePolicy)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
	assert.Equal(t, "quest/", cfg.Anonymizer.Subtree)
}

func TestLoad(t *testing.T) {
	t.Run("file values and variant defaults", func(t *testing.T) {
		path := writeConfig(t, `
paths:
  target: /data/rawexd
pipeline:
  variant: global
  retry_backoff: 250ms
anonymizer:
  markers: ["선택"]
logging:
  level: debug
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/data/rawexd", cfg.Paths.Target)
		assert.Equal(t, "config/rsv.json", cfg.Paths.TokenStore)
		assert.Equal(t, pipeline.Global, cfg.Pipeline.Variant)
		assert.Equal(t, "ja", cfg.Pipeline.Locale)
		assert.Equal(t, pipeline.DeleteEmpty, cfg.Pipeline.EmptyFilePolicy)
		assert.Equal(t, []string{"Name", "Description", "Text"}, cfg.Pipeline.HeaderKeywords)
		assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.RetryBackoff)
		assert.Equal(t, []string{"선택"}, cfg.Anonymizer.Markers)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("EXDFILTER_SERVER_PORT", "9191")
		t.Setenv("EXDFILTER_PIPELINE_EMPTY_FILE_POLICY", "delete")

		cfg, err := Load(writeConfig(t, "logging:\n  format: json\n"))
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, pipeline.DeleteEmpty, cfg.Pipeline.EmptyFilePolicy)
		assert.Equal(t, "ko", cfg.Pipeline.Locale)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		for name, content := range map[string]string{
			"variant":      "pipeline:\n  variant: regional\n",
			"policy":       "pipeline:\n  empty_file_policy: archive\n",
			"rules source": "rules:\n  source: sql\n",
			"log level":    "logging:\n  level: trace\n",
			"redis feed":   "tokens:\n  redis:\n    enabled: true\n",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Load(writeConfig(t, content))
				assert.Error(t, err)
			})
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXDFILTER_TEST_DOTENV=loaded\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("EXDFILTER_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("EXDFILTER_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestWatchWithoutFile(t *testing.T) {
	mu.Lock()
	active = nil
	mu.Unlock()
	assert.Error(t, Watch(func(*Config) {}, nil))
}
