package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)

	// The file is created on first load.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadFrom_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.AuthRetryLimit = 5
	cfg.StopGracePeriod = 10 * time.Second
	cfg.Debug = true
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFrom_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_setting: true\n"), 0600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestValidate_FallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth_retry_limit: -1\nhistory_keep: 0\n"), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AuthRetryLimit, cfg.AuthRetryLimit)
	assert.Equal(t, DefaultConfig().HistoryKeep, cfg.HistoryKeep)
	assert.Equal(t, DefaultConfig().StopGracePeriod, cfg.StopGracePeriod)
}
