package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/store/badgerstore"
	"slice_tracer/pkg/store/storetest"
)

func writeDataset(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(storetest.Chain().Dataset())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestImportIntoBadger(t *testing.T) {
	dataset := writeDataset(t)
	dir := filepath.Join(t.TempDir(), "badger")

	rootCmd.SetArgs([]string{"import", "--dataset", dataset, "--db", dir, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	s, err := badgerstore.Open(badgerstore.DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Slices: 4, Segments: 4, EndSegments: 8, Groups: 8}, counts)
}

func TestTraceEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script solver requires a POSIX shell")
	}
	dir := t.TempDir()
	solverPath := filepath.Join(dir, "solver.sh")
	require.NoError(t, os.WriteFile(solverPath,
		[]byte("#!/bin/sh\nprintf 'fake\\n1\\n4 201 101 102 206\\n'\n"), 0o755))

	cfgPath := filepath.Join(dir, "tracer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
store:
  driver: memory
  dataset: `+writeDataset(t)+`
region:
  stack: 1
  margins:
    spatial: 5
    backward: 1
    forward: 1
solver:
  path: `+solverPath+`
  timeout: 5s
  scratch_dir: `+dir+`
log:
  level: error
`), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"trace", "--config", cfgPath, "--node-id", storetest.NodeB, "--mode", "force"})
	require.NoError(t, rootCmd.Execute())

	var resp struct {
		RunID  string                       `json:"run_id"`
		State  string                       `json:"state"`
		Slices map[string][]json.RawMessage `json:"slices"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "done", resp.State)
	assert.Len(t, resp.Slices["0"], 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "scratch file left behind")
}

func TestTraceRequestFromFlags(t *testing.T) {
	defer func() {
		traceNodeID, traceMode, traceMinComponent = "", "", -1
	}()

	traceNodeID, traceMode, traceMinComponent = "", "force", -1
	traceX, traceY, traceSection = 3, 4, 2
	req, err := traceRequest(traceCmd, 9, constraint.Priors{}, 2, false)
	require.NoError(t, err)
	assert.True(t, req.Seed.IsPoint())
	assert.Equal(t, int64(9), req.Seed.Stack)
	assert.Equal(t, problem.Exactly, req.Params.Sense)
	assert.Equal(t, 2, req.MinComponentSize)

	traceNodeID, traceMinComponent = storetest.NodeB, 0
	req, err = traceRequest(traceCmd, 9, constraint.Priors{}, 2, false)
	require.NoError(t, err)
	assert.Equal(t, storetest.NodeB, req.Seed.NodeID)
	assert.Equal(t, 0, req.MinComponentSize)

	traceMode = "=="
	_, err = traceRequest(traceCmd, 9, constraint.Priors{}, 2, false)
	assert.Error(t, err)
}
