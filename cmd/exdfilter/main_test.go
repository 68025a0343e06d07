package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/exdfilter/internal/app"
	"github.com/raaihank/exdfilter/internal/config"
	"github.com/raaihank/exdfilter/internal/logger"
	"github.com/raaihank/exdfilter/internal/pipeline"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath, envFile, variant, target, logLevel = "", ".env", "", "", ""
		cfg, log = nil, nil
	})
}

func TestSetup(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	configPath = filepath.Join(dir, "exdfilter.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("paths:\n  target: from-file\nlogging:\n  level: info\n"), 0o644))
	envFile = filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("EXDFILTER_SERVER_PORT=9393\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("EXDFILTER_SERVER_PORT") })

	variant = "global"
	t.Setenv(config.EnvPrefix+"_PIPELINE_VARIANT", "")
	target = filepath.Join(dir, "rawexd")
	logLevel = "debug"

	require.NoError(t, setup())
	require.NotNil(t, log)

	assert.Equal(t, pipeline.Global, cfg.Pipeline.Variant)
	assert.Equal(t, "ja", cfg.Pipeline.Locale)
	assert.Equal(t, target, cfg.Paths.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9393, cfg.Server.Port)
}

func TestSetupInvalidVariant(t *testing.T) {
	resetFlags(t)
	envFile = filepath.Join(t.TempDir(), "absent.env")
	variant = "regional"
	t.Setenv(config.EnvPrefix+"_PIPELINE_VARIANT", "")

	assert.Error(t, setup())
}

func TestLiveRunnerSwap(t *testing.T) {
	newApp := func(v pipeline.Variant) *app.App {
		c := config.GetDefaults()
		c.Pipeline = pipeline.DefaultConfig(v)
		c.Paths.Target = t.TempDir()
		c.Paths.Output = t.TempDir()
		c.Paths.ConfigDir = t.TempDir()
		c.Paths.TokenStore = filepath.Join(c.Paths.ConfigDir, "rsv.json")
		c.Paths.Presets = filepath.Join(c.Paths.ConfigDir, "preset.json")
		c.Paths.Report = filepath.Join(c.Paths.Output, "validation.json")
		return app.New(c, logger.Nop())
	}

	runner := &liveRunner{current: newApp(pipeline.Localized)}
	runner.swap(newApp(pipeline.Global))

	result, err := runner.Run(context.Background(), app.RunOptions{RunID: "swap"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Global, result.Summary.Variant)
	assert.Len(t, runner.retired, 1)
	assert.NoError(t, runner.Close())
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	assert.NoError(t, checkHealth(srv.URL+"/health"))
	assert.Error(t, checkHealth(srv.URL+"/missing"))
}
