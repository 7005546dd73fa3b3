package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
store:
  driver: badger
  badger_dir: /var/lib/tracer
region:
  stack: 3
  extent: {max_x: 2048, max_y: 2048, max_section: 120}
  margins: {spatial: 64, backward: 2, forward: 3}
solver:
  path: /opt/solver/bin/solve
  args: ["--threads", "4"]
  timeout: 45s
trace:
  priors: {continuation: -0.5, branch: 1.5, end: 2}
  images: {base_url: "http://img/slices", extension: jpg}
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, 45*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, []string{"--threads", "4"}, cfg.Solver.Invoker().Args)
	assert.Equal(t, 1.5, cfg.Trace.Priors.Branch)
	assert.Equal(t, "jpg", cfg.Trace.Images.Extension)

	rc := cfg.Region.Context()
	assert.Equal(t, int64(3), rc.Stack)
	assert.Equal(t, uint32(120), rc.Extent.Z2)
	assert.Equal(t, 64.0, rc.Spatial)
	assert.Equal(t, uint32(3), rc.Forward)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Server.ReadTimeout, cfg.Server.ReadTimeout)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"negative margin":    "region:\n  margins: {spatial: -1}\n",
		"huge section range": "region:\n  margins: {forward: 5000}\n",
		"unknown driver":     "store:\n  driver: sqlite\n",
		"postgres sans dsn":  "store:\n  driver: postgres\n",
		"zero timeout":       "solver:\n  timeout: 0s\n",
		"bad log level":      "log:\n  level: chatty\n",
		"inverted extent":    "region:\n  extent: {min_x: 10, max_x: 5, max_y: 1}\n",
		"unknown key":        "solver:\n  binary: x\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SLICE_TRACER_SOLVER_PATH", "/usr/local/bin/other")
	t.Setenv("SLICE_TRACER_SOLVER_TIMEOUT", "3s")
	t.Setenv("SLICE_TRACER_STACK", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/other", cfg.Solver.Path)
	assert.Equal(t, 3*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, int64(9), cfg.Region.Stack)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
