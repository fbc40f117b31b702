package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 64, cfg.Scheduler.QueueSize)
	assert.Zero(t, cfg.Scheduler.PerRepoLimit)
	assert.Equal(t, 10*time.Minute, cfg.Execution.StepTimeout)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseFullFile(t *testing.T) {
	cfg, err := Parse("pipewatch.hcl", []byte(`
server { listen = ":9000" }
scheduler {
  workers        = 8
  queue_size     = 128
  per_repo_limit = 2
}
execution {
  workspace      = "/var/lib/pipewatch"
  step_timeout   = "30s"
  keep_workspace = true
}
storage {
  driver = "sqlite"
  path   = "pipewatch.db"
}
log {
  level  = "debug"
  format = "text"
}
`))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 128, cfg.Scheduler.QueueSize)
	assert.Equal(t, 2, cfg.Scheduler.PerRepoLimit)
	assert.Equal(t, "/var/lib/pipewatch", cfg.Execution.Workspace)
	assert.Equal(t, 30*time.Second, cfg.Execution.StepTimeout)
	assert.True(t, cfg.Execution.KeepWorkspace)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "pipewatch.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestPartialBlocksKeepDefaults(t *testing.T) {
	cfg, err := Parse("pipewatch.hcl", []byte(`scheduler { workers = 2 }`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 64, cfg.Scheduler.QueueSize)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("PIPEWATCH_TEST_LISTEN", ":7777")
	cfg, err := Parse("pipewatch.hcl", []byte(`server { listen = env.PIPEWATCH_TEST_LISTEN }`))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Listen)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipewatch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`log { level = "warn" }`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name string
		src  string
	}{
		{"zero workers", `scheduler { workers = 0 }`},
		{"negative queue", `scheduler { queue_size = -1 }`},
		{"negative per repo limit", `scheduler { per_repo_limit = -1 }`},
		{"bad step timeout", `execution { step_timeout = "soon" }`},
		{"sqlite without path", `storage { driver = "sqlite" }`},
		{"unknown driver", `storage { driver = "postgres" }`},
		{"bad log level", `log { level = "verbose" }`},
		{"bad log format", `log { format = "xml" }`},
		{"malformed hcl", `server {`},
		{"unknown attribute", `server { port = 8080 }`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("pipewatch.hcl", []byte(tc.src))
			assert.Error(t, err)
		})
	}
}
