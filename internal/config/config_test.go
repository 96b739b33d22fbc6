package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constellation.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, defaultHeartbeatIntervalMs, cfg.Heartbeat.IntervalMs)

	cfg2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Webserver.Port, cfg2.Webserver.Port)
}

func TestValidateBoundaries(t *testing.T) {
	cfg := Default()
	cfg.Admin.ApiKeys = []string{"secret"}

	cfg.Heartbeat.IntervalMs = 999
	assert.Error(t, cfg.Validate())

	cfg.Heartbeat.IntervalMs = 1000
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyApiKeys(t *testing.T) {
	cfg := Default()
	cfg.Admin.ApiKeys = nil
	assert.Error(t, cfg.Validate())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "constellation.json")

	cfg := Default()
	cfg.Admin.ApiKeys = []string{"k1", "k2"}
	cfg.Webserver.Port = 9999
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Webserver.Port)
	assert.Equal(t, []string{"k1", "k2"}, loaded.Admin.ApiKeys)
}
