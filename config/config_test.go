package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ec := cfg.EngineConfig()
	assert.Equal(t, 200*time.Millisecond, ec.PollInterval)
	assert.Equal(t, 5, ec.SampleEvery)
	assert.Equal(t, time.Second, ec.DwellTick)
	assert.Equal(t, time.Duration(0), ec.MaxStabilize)

	po := cfg.PollerOptions()
	assert.Equal(t, time.Second, po.Interval)
	assert.Equal(t, 500*time.Millisecond, po.ErrorBackoff)

	so := cfg.SerialOptions()
	assert.Equal(t, 2400, so.Baud)
	assert.Equal(t, time.Second, so.ReadTimeout)
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotplate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[serial]
port = "/dev/ttyS1"

[engine]
max_stabilize_ms = 60000
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Port)
	assert.Equal(t, 2400, cfg.Serial.Baud)
	assert.Equal(t, time.Minute, cfg.EngineConfig().MaxStabilize)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotplate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:8080"
poller:
  interval_ms: 250
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "./data", cfg.Server.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.PollerOptions().Interval)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nsample_every = 0\ndwell_tick_ms = -1\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.sample_every")
	assert.Contains(t, err.Error(), "engine.dwell_tick_ms")

	require.NoError(t, os.WriteFile(path, []byte("[engine\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
