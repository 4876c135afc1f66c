package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.BatchPacing, cfg.BatchPacing)
	assert.Equal(t, def.MaxRetries, cfg.MaxRetries)
	assert.Equal(t, def.MaxDimension, cfg.MaxDimension)
	assert.Equal(t, def.AutoScreenshotKeep, cfg.AutoScreenshotKeep)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"batch_pacing: 250ms\nmax_retries: 5\nopenai_model: gpt-4o-mini\n",
	), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchPacing)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	// Untouched fields keep defaults.
	assert.Equal(t, Default().AICooldown, cfg.AICooldown)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_pacing: [nonsense"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestSocketEnvOverride(t *testing.T) {
	t.Setenv("SURF_SOCKET", "/tmp/custom.sock")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: -1\n"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("auto_screenshot_keep: 0\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
