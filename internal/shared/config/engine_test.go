package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Engine.Workers)
	require.Equal(t, 64, cfg.Engine.ChunkSize)
	require.Equal(t, 64, cfg.Engine.QueueSize)
	require.Equal(t, 8, cfg.Engine.MaxBatchFailures)
	require.Equal(t, 2*time.Second, cfg.Engine.ShutdownGrace)
	require.Equal(t, 0, cfg.Spill.Threshold)
	require.Equal(t, "plain", cfg.Output.Format)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsar.yaml")
	content := `
engine:
  workers: 3
  chunk_size: 16
  shutdown_grace: 500ms
spill:
  threshold: 1000
  dir: /tmp/spill
output:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("PULSAR_ENGINE_CHUNK_SIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Engine.Workers)
	require.Equal(t, 8, cfg.Engine.ChunkSize)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.ShutdownGrace)
	require.Equal(t, 1000, cfg.Spill.Threshold)
	require.Equal(t, "/tmp/spill", cfg.Spill.Dir)
	require.Equal(t, "json", cfg.Output.Format)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  format: xml\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "output.format")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Engine: EngineConfig{ChunkSize: 64},
		Output: OutputConfig{Format: "plain"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }},
		{"zero chunk size", func(c *Config) { c.Engine.ChunkSize = 0 }},
		{"negative concurrency", func(c *Config) { c.Engine.Concurrency = -2 }},
		{"negative spill threshold", func(c *Config) { c.Spill.Threshold = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
