package tracing

import (
	"context"
	"errors"
	"fmt"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/region"
	"slice_tracer/pkg/solver"
	"slice_tracer/pkg/store"
)

// Stable error codes, used in logs, metric labels and HTTP error bodies.
const (
	CodeInvalidSeed          = "invalid_seed"
	CodeInvalidRequest       = "invalid_request"
	CodeEmptyRegion          = "empty_region"
	CodeInfeasible           = "infeasible"
	CodeInconsistentTopology = "inconsistent_topology"
	CodeSolverTimeout        = "solver_timeout"
	CodeSolverFailure        = "solver_failure"
	CodeCanceled             = "canceled"
	CodeDeadlineExceeded     = "deadline_exceeded"
	CodeInternal             = "internal"
)

// RunError is returned by Engine.Trace for every failed run.
type RunError struct {
	RunID string
	// State is the terminal state, Aborted or Faulted.
	State State
	// Last is the last state reached before the failure.
	Last   State
	Seed   region.Seed
	Volume geo.Volume
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s %s after %s (seed %s): %v", e.RunID, e.State, e.Last, e.Seed, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Code classifies err into one of the stable error codes. It returns "" for
// a nil error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, region.ErrInvalidSeed):
		return CodeInvalidSeed
	case errors.Is(err, constraint.ErrSenseRequired):
		return CodeInvalidRequest
	case errors.Is(err, constraint.ErrEmptyRegion):
		return CodeEmptyRegion
	case errors.Is(err, solver.ErrInfeasible):
		return CodeInfeasible
	case errors.Is(err, store.ErrInconsistentTopology):
		return CodeInconsistentTopology
	case errors.Is(err, solver.ErrTimeout):
		return CodeSolverTimeout
	case errors.Is(err, solver.ErrProcessFailure):
		return CodeSolverFailure
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	default:
		return CodeInternal
	}
}
