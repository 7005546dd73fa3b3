// Package tracing runs the trace pipeline: resolve the region, build and
// solve the linking problem, rebuild the graph and extract components.
package tracing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/graph"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/region"
	"slice_tracer/pkg/solver"
	"slice_tracer/pkg/store"
)

// Request is one trace query.
type Request struct {
	Seed   region.Seed
	Params constraint.Params
	// AllComponents returns every component above MinComponentSize instead
	// of only the one holding the seed.
	AllComponents    bool
	MinComponentSize int
	IncludeTermini   bool
}

// Response is the result of a finished run.
type Response struct {
	RunID  string           `json:"run_id"`
	State  State            `json:"state"`
	Seed   string           `json:"seed"`
	Volume string           `json:"volume"`
	Stats  constraint.Stats `json:"stats"`
	*graph.Result
}

// Tracer is the interface for trace queries.
type Tracer interface {
	Trace(ctx context.Context, req Request) (*Response, error)
}

// Solver prepares a problem file and runs the solver on it.
type Solver interface {
	Prepare(runID string, p *problem.Problem) (*solver.Scratch, error)
	Run(ctx context.Context, scr *solver.Scratch) (problem.Solution, error)
}

// Engine implements Tracer over a store and a solver.
type Engine struct {
	store    store.Store
	selector *region.Selector
	builder  *constraint.Builder
	solver   Solver
	images   graph.SliceImages
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSliceImages adds image locations to result nodes.
func WithSliceImages(c graph.SliceImages) Option {
	return func(e *Engine) {
		e.images = c
	}
}

// NewEngine creates a trace engine for the stack described by rc.
func NewEngine(s store.Store, rc region.Context, sv Solver, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		solver: sv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.selector = region.NewSelector(s, rc)
	e.builder = constraint.NewBuilder(s, e.logger)
	return e
}

// Trace runs one request to completion. Failures are returned as *RunError.
func (e *Engine) Trace(ctx context.Context, req Request) (*Response, error) {
	run := newRun(uuid.NewString(), req.Seed)

	ctx, span := tracer.Start(ctx, "tracing.Trace",
		trace.WithAttributes(
			attribute.String("trace.run_id", run.ID),
			attribute.String("trace.seed", req.Seed.String()),
			attribute.String("trace.sense", req.Params.Sense.String()),
		),
	)
	defer span.End()

	resp, err := e.trace(ctx, run, req)
	runDuration.Observe(run.Elapsed().Seconds())

	if err != nil {
		code := Code(err)
		runsTotal.WithLabelValues(code).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, code)

		runErr := &RunError{RunID: run.ID, Last: run.State(), Seed: req.Seed, Volume: run.Volume, Err: err}
		if errors.Is(err, solver.ErrInfeasible) {
			run.advance(Infeasible)
			run.advance(Aborted)
		} else {
			run.advance(Faulted)
		}
		runErr.State = run.State()

		level := slog.LevelError
		switch code {
		case CodeInvalidSeed, CodeInvalidRequest, CodeEmptyRegion, CodeInfeasible, CodeCanceled:
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "trace run failed",
			slog.String("run_id", run.ID),
			slog.String("seed", req.Seed.String()),
			slog.String("state", runErr.State.String()),
			slog.String("last", runErr.Last.String()),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return nil, runErr
	}

	runsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("trace.components", resp.Len()))
	span.SetStatus(codes.Ok, "")
	e.logger.Info("trace run done",
		slog.String("run_id", run.ID),
		slog.String("seed", req.Seed.String()),
		slog.Int("components", resp.Len()),
		slog.Duration("elapsed", run.Elapsed()),
	)
	return resp, nil
}

func (e *Engine) trace(ctx context.Context, run *Run, req Request) (*Response, error) {
	if req.Params.Sense == problem.SenseUnset {
		return nil, constraint.ErrSenseRequired
	}

	// Step 1: Resolve the seed and its bounding volume.
	res, err := e.selector.Resolve(ctx, req.Seed)
	if err != nil {
		return nil, err
	}
	run.Volume = res.Volume
	run.advance(BoundingBoxResolved)

	// Step 2: Collect variables and close the constraint set.
	slices, err := e.builder.FetchSlices(ctx, res.Volume)
	if err != nil {
		return nil, err
	}
	run.advance(SlicesFetched)

	ws, err := e.builder.Collect(ctx, slices)
	if err != nil {
		return nil, err
	}
	run.advance(VariablesCollected)

	if _, err := e.builder.Close(ctx, ws); err != nil {
		return nil, err
	}
	run.advance(ConstraintsClosed)

	p, err := ws.Problem(req.Params)
	if err != nil {
		return nil, err
	}

	// Step 3: Serialize and solve.
	scr, err := e.solver.Prepare(run.ID, p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scr.Release(); err != nil {
			e.logger.Warn("scratch release failed",
				slog.String("run_id", run.ID),
				slog.String("path", scr.Path()),
				slog.String("error", err.Error()),
			)
		}
	}()
	problemVariables.Observe(float64(len(p.Variables)))
	problemGroups.Observe(float64(len(p.Groups)))
	run.advance(ProblemSerialized)

	run.advance(SolverRunning)
	sol, err := e.solve(ctx, scr)
	if err != nil {
		return nil, err
	}
	run.advance(SolutionFound)

	// Step 4: Rebuild the graph and pick components.
	opts := graph.Options{
		Seed:             res.Slice.NodeID,
		MinComponentSize: req.MinComponentSize,
		IncludeTermini:   req.IncludeTermini,
		Images:           e.images,
	}
	if req.AllComponents {
		opts.Seed = ""
	}
	g, err := graph.Reconstruct(ctx, e.store, sol, opts)
	if err != nil {
		return nil, err
	}
	run.advance(GraphBuilt)

	result, err := graph.Extract(g, opts)
	if err != nil {
		return nil, err
	}
	run.advance(ComponentsExtracted)
	run.advance(Done)

	return &Response{
		RunID:  run.ID,
		State:  run.State(),
		Seed:   res.Slice.NodeID,
		Volume: res.Volume.String(),
		Stats:  ws.Stats(),
		Result: result,
	}, nil
}

func (e *Engine) solve(ctx context.Context, scr *solver.Scratch) (problem.Solution, error) {
	ctx, span := tracer.Start(ctx, "solver.Run")
	defer span.End()

	start := time.Now()
	sol, err := e.solver.Run(ctx, scr)
	solverDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		return sol, err
	}
	span.SetAttributes(attribute.Int("solver.selected", len(sol.Selected)))
	return sol, nil
}
