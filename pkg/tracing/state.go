package tracing

import (
	"fmt"
	"time"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/region"
)

// State is a step of a trace run.
type State uint8

const (
	Idle State = iota
	BoundingBoxResolved
	SlicesFetched
	VariablesCollected
	ConstraintsClosed
	ProblemSerialized
	SolverRunning
	SolutionFound
	Infeasible
	GraphBuilt
	ComponentsExtracted
	Done
	Aborted
	Faulted
)

var stateNames = [...]string{
	Idle:                "idle",
	BoundingBoxResolved: "bounding_box_resolved",
	SlicesFetched:       "slices_fetched",
	VariablesCollected:  "variables_collected",
	ConstraintsClosed:   "constraints_closed",
	ProblemSerialized:   "problem_serialized",
	SolverRunning:       "solver_running",
	SolutionFound:       "solution_found",
	Infeasible:          "infeasible",
	GraphBuilt:          "graph_built",
	ComponentsExtracted: "components_extracted",
	Done:                "done",
	Aborted:             "aborted",
	Faulted:             "faulted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted || s == Faulted
}

// next lists the legal successors of each non-terminal state. Faulted is
// reachable from every non-terminal state and is not listed.
var next = map[State][]State{
	Idle:                {BoundingBoxResolved},
	BoundingBoxResolved: {SlicesFetched},
	SlicesFetched:       {VariablesCollected},
	VariablesCollected:  {ConstraintsClosed},
	ConstraintsClosed:   {ProblemSerialized},
	ProblemSerialized:   {SolverRunning},
	SolverRunning:       {SolutionFound, Infeasible},
	SolutionFound:       {GraphBuilt},
	Infeasible:          {Aborted},
	GraphBuilt:          {ComponentsExtracted},
	ComponentsExtracted: {Done},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Faulted {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is a state reached at a point in time.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Run records one trace run. It is owned by a single goroutine.
type Run struct {
	ID      string
	Seed    region.Seed
	Volume  geo.Volume
	History []Transition
}

func newRun(id string, seed region.Seed) *Run {
	return &Run{
		ID:      id,
		Seed:    seed,
		History: []Transition{{State: Idle, At: time.Now()}},
	}
}

// State returns the current state.
func (r *Run) State() State {
	return r.History[len(r.History)-1].State
}

// advance moves the run to s. Illegal transitions are programming errors.
func (r *Run) advance(s State) {
	if !CanTransition(r.State(), s) {
		panic(fmt.Sprintf("tracing: illegal transition %s -> %s", r.State(), s))
	}
	r.History = append(r.History, Transition{State: s, At: time.Now()})
}

// Elapsed returns the time from the first to the last transition.
func (r *Run) Elapsed() time.Duration {
	return r.History[len(r.History)-1].At.Sub(r.History[0].At)
}
