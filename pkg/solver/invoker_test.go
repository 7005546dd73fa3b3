package solver

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slice_tracer/pkg/problem"
)

func testProblem() *problem.Problem {
	return &problem.Problem{
		Variables: []problem.Variable{{ID: 101, Cost: -1}, {ID: 201, Cost: 0.5}},
		Sense:     problem.Exactly,
		Groups:    []problem.Group{{ID: 1, Members: []int64{101, 201}}},
		Buckets: []problem.Bucket{
			{Slice: "0_1", Terms: []problem.Term{{Var: 201, Role: problem.Incoming}, {Var: 101, Role: problem.Outgoing}}},
		},
	}
}

// fakeSolver writes a shell script standing in for the solver binary.
func fakeSolver(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script solver requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestSolveSuccess(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "captured.txt")
	path := fakeSolver(t, `
[ "$1" = "--quiet" ] || exit 9
[ "$2" = "-i" ] || exit 9
cp "$3" "`+capture+`"
printf 'solver v1\n1\n2 101 201\n'`)
	scratch := t.TempDir()

	inv := New(Config{Path: path, Args: []string{"--quiet"}, Timeout: 5 * time.Second, ScratchDir: scratch})
	sol, err := inv.Solve(context.Background(), "run1", testProblem())
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 201}, sol.Selected)

	got, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n101 -1\n201 0.5\n1\n==\n2 101 201\n1\n2 201 -101\n", string(got))
	assertScratchEmpty(t, scratch)
}

func TestSolveInfeasible(t *testing.T) {
	path := fakeSolver(t, `printf 'solver v1\n0\n'`)
	scratch := t.TempDir()

	_, err := New(Config{Path: path, ScratchDir: scratch}).Solve(context.Background(), "run2", testProblem())
	assert.ErrorIs(t, err, ErrInfeasible)
	assert.NotErrorIs(t, err, ErrProcessFailure)
	assertScratchEmpty(t, scratch)
}

func TestSolveProcessFailure(t *testing.T) {
	tests := map[string]string{
		"non-zero exit":    `echo "license expired" >&2; exit 2`,
		"garbage output":   `printf 'solver v1\nmaybe\n'`,
		"count mismatch":   `printf 'solver v1\n1\n3 101\n'`,
		"no selection row": `printf 'solver v1\n1\n'`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			scratch := t.TempDir()
			_, err := New(Config{Path: fakeSolver(t, body), ScratchDir: scratch}).
				Solve(context.Background(), "run3", testProblem())
			assert.ErrorIs(t, err, ErrProcessFailure)
			assert.NotErrorIs(t, err, ErrTimeout)
			assertScratchEmpty(t, scratch)
		})
	}
}

func TestSolveStderrInError(t *testing.T) {
	path := fakeSolver(t, `echo "license expired" >&2; exit 2`)
	_, err := New(Config{Path: path, ScratchDir: t.TempDir()}).Solve(context.Background(), "run4", testProblem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "license expired")
}

func TestSolveMissingBinary(t *testing.T) {
	scratch := t.TempDir()
	inv := New(Config{Path: filepath.Join(t.TempDir(), "no-such-solver"), ScratchDir: scratch})
	_, err := inv.Solve(context.Background(), "run5", testProblem())
	assert.ErrorIs(t, err, ErrProcessFailure)
	assertScratchEmpty(t, scratch)
}

func TestSolveTimeout(t *testing.T) {
	path := fakeSolver(t, `exec sleep 10`)
	scratch := t.TempDir()

	start := time.Now()
	_, err := New(Config{Path: path, Timeout: 200 * time.Millisecond, ScratchDir: scratch}).
		Solve(context.Background(), "run6", testProblem())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrProcessFailure)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertScratchEmpty(t, scratch)
}

func TestSolveCallerCancel(t *testing.T) {
	path := fakeSolver(t, `exec sleep 10`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{Path: path, ScratchDir: t.TempDir()}).Solve(ctx, "run7", testProblem())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveCallerDeadline(t *testing.T) {
	path := fakeSolver(t, `exec sleep 10`)
	scratch := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := New(Config{Path: path, Timeout: 5 * time.Second, ScratchDir: scratch}).
		Solve(ctx, "run10", testProblem())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout, "caller deadline is not a solver timeout")
	assertScratchEmpty(t, scratch)
}

func TestPrepareRejectsUnsetSense(t *testing.T) {
	scratch := t.TempDir()
	_, err := New(Config{ScratchDir: scratch}).Prepare("run8", &problem.Problem{})
	assert.ErrorIs(t, err, problem.ErrNotEncodable)
	assertScratchEmpty(t, scratch)
}

func TestScratchUniqueAndIdempotentRelease(t *testing.T) {
	dir := t.TempDir()
	a, err := NewScratch(dir, "same")
	require.NoError(t, err)
	b, err := NewScratch(dir, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a.Path(), b.Path())

	require.NoError(t, a.WriteProblem(testProblem()))
	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	_, err = os.Stat(a.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, b.Release())
	assertScratchEmpty(t, dir)
}
