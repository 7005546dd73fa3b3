// Package solver runs the external integer-program solver on a problem file
// and interprets its answer.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"slice_tracer/pkg/problem"
)

var (
	// ErrInfeasible is returned when the solver reports no feasible assignment.
	ErrInfeasible = errors.New("problem is infeasible")

	// ErrProcessFailure covers spawn failures, non-zero exits and unparsable
	// output.
	ErrProcessFailure = errors.New("solver process failed")

	// ErrTimeout is returned when the run deadline expires. It wraps
	// ErrProcessFailure.
	ErrTimeout = fmt.Errorf("%w: deadline exceeded", ErrProcessFailure)
)

// waitDelay bounds how long Run waits for the output pipes after the solver
// was killed.
const waitDelay = 2 * time.Second

// stderrLimit caps how much solver stderr is carried in errors.
const stderrLimit = 512

// Config describes how to launch the solver.
type Config struct {
	// Path is the solver executable.
	Path string
	// Args are passed before "-i <file>".
	Args []string
	// Timeout bounds one run; zero leaves only the caller's context.
	Timeout time.Duration
	// ScratchDir holds problem files; empty means os.TempDir().
	ScratchDir string
}

// Invoker prepares problem files and runs the solver. Safe for concurrent use;
// every run has its own scratch file.
type Invoker struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invoker) {
		inv.logger = l
	}
}

// New creates an Invoker.
func New(cfg Config, opts ...Option) *Invoker {
	inv := &Invoker{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Prepare writes p into a fresh scratch file named after runID. The caller
// owns the returned Scratch and must Release it.
func (inv *Invoker) Prepare(runID string, p *problem.Problem) (*Scratch, error) {
	scr, err := NewScratch(inv.cfg.ScratchDir, runID)
	if err != nil {
		return nil, err
	}
	if err := scr.WriteProblem(p); err != nil {
		scr.Release()
		return nil, err
	}
	return scr, nil
}

// Run executes "<path> <args> -i <file>" and parses stdout.
func (inv *Invoker) Run(ctx context.Context, scr *Scratch) (problem.Solution, error) {
	runCtx := ctx
	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(inv.cfg.Args)+2)
	args = append(args, inv.cfg.Args...)
	args = append(args, "-i", scr.Path())

	cmd := exec.CommandContext(runCtx, inv.cfg.Path, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// The caller's own cancellation or deadline takes precedence over ours.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return problem.Solution{}, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		inv.logger.Warn("solver timed out",
			slog.String("file", scr.Path()),
			slog.Duration("elapsed", elapsed),
		)
		return problem.Solution{}, fmt.Errorf("%w after %s", ErrTimeout, elapsed.Round(time.Millisecond))
	}
	if err != nil {
		inv.logger.Error("solver failed",
			slog.String("path", inv.cfg.Path),
			slog.String("error", err.Error()),
			slog.String("stderr", tail(stderr.String())),
		)
		return problem.Solution{}, fmt.Errorf("%w: %w (stderr: %q)", ErrProcessFailure, err, tail(stderr.String()))
	}

	sol, feasible, err := problem.ParseSolverOutput(stdout.String())
	if err != nil {
		return problem.Solution{}, fmt.Errorf("%w: %w", ErrProcessFailure, err)
	}
	if !feasible {
		inv.logger.Info("solver reported infeasible", slog.Duration("elapsed", elapsed))
		return problem.Solution{}, ErrInfeasible
	}

	inv.logger.Debug("solver finished",
		slog.Int("selected", len(sol.Selected)),
		slog.Duration("elapsed", elapsed),
	)
	return sol, nil
}

// Solve prepares, runs and releases in one call.
func (inv *Invoker) Solve(ctx context.Context, runID string, p *problem.Problem) (problem.Solution, error) {
	scr, err := inv.Prepare(runID, p)
	if err != nil {
		return problem.Solution{}, err
	}
	defer scr.Release()
	return inv.Run(ctx, scr)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		return "..." + s[len(s)-stderrLimit:]
	}
	return s
}
