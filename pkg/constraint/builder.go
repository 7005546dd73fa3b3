// Package constraint collects the variables and constraints that describe all
// legal explanations of a region and assembles them into a solver Problem.
package constraint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/store"
)

var (
	// ErrEmptyRegion is returned when the query volume holds no slices.
	ErrEmptyRegion = errors.New("empty region")

	// ErrSenseRequired is returned when Params.Sense was left unset.
	ErrSenseRequired = errors.New("exclusivity sense must be chosen explicitly")
)

// canonicalEnd is the only end-segment direction used as a group lookup anchor,
// so a slice's two end-segments are never counted as two anchors.
const canonicalEnd = store.Outgoing

// Priors are constant cost offsets added per variable kind.
type Priors struct {
	Continuation float64 `yaml:"continuation" json:"continuation"`
	Branch       float64 `yaml:"branch" json:"branch"`
	End          float64 `yaml:"end" json:"end"`
}

// Params are the caller's choices for one problem. Sense has no default.
type Params struct {
	Sense  problem.Sense
	Priors Priors
}

// Stats describes the size of a working set.
type Stats struct {
	Slices        int `json:"slices"`
	Segments      int `json:"segments"`
	EndSegments   int `json:"end_segments"`
	Groups        int `json:"groups"`
	ClosureRounds int `json:"closure_rounds"`
	ClosureAdded  int `json:"closure_added"`
}

// WorkingSet is the variable and constraint state built for one run.
type WorkingSet struct {
	Slices   []store.Slice
	Segments map[int64]store.Segment
	Ends     map[int64]store.EndSegment
	Groups   map[int64]store.Group

	buckets map[string][]problem.Term
	queried map[int64]bool
	stats   Stats
}

// Stats returns the current working set counts.
func (ws *WorkingSet) Stats() Stats {
	s := ws.stats
	s.Slices = len(ws.Slices)
	s.Segments = len(ws.Segments)
	s.EndSegments = len(ws.Ends)
	s.Groups = len(ws.Groups)
	return s
}

// BucketCount returns the number of per-slice equality buckets.
func (ws *WorkingSet) BucketCount() int {
	return len(ws.buckets)
}

// Builder reads the store and builds working sets. Safe for concurrent use.
type Builder struct {
	store  store.Store
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger falls back to slog.Default().
func NewBuilder(s store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, logger: logger}
}

// Build runs every step for volume v and returns the problem with its
// working set.
func (b *Builder) Build(ctx context.Context, v geo.Volume, params Params) (*problem.Problem, *WorkingSet, error) {
	if params.Sense == problem.SenseUnset {
		return nil, nil, ErrSenseRequired
	}
	slices, err := b.FetchSlices(ctx, v)
	if err != nil {
		return nil, nil, err
	}
	ws, err := b.Collect(ctx, slices)
	if err != nil {
		return nil, nil, err
	}
	if _, err := b.Close(ctx, ws); err != nil {
		return nil, nil, err
	}
	p, err := ws.Problem(params)
	if err != nil {
		return nil, nil, err
	}
	return p, ws, nil
}

// FetchSlices returns all slices in v, or ErrEmptyRegion.
func (b *Builder) FetchSlices(ctx context.Context, v geo.Volume) ([]store.Slice, error) {
	slices, err := b.store.SlicesInRegion(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("slices in region %s: %w", v, err)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRegion, v)
	}
	return slices, nil
}

// Collect derives the variables touching the slices, builds the equality
// buckets and checks the per-slice topology invariants.
func (b *Builder) Collect(ctx context.Context, slices []store.Slice) (*WorkingSet, error) {
	nodeIDs := make([]string, len(slices))
	inRegion := make(map[string]bool, len(slices))
	for i, s := range slices {
		nodeIDs[i] = s.NodeID
		inRegion[s.NodeID] = true
	}

	var normal, ends []store.Association
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		normal, err = b.store.SliceSegmentMap(gctx, nodeIDs, true)
		return err
	})
	g.Go(func() error {
		var err error
		ends, err = b.store.SliceSegmentMap(gctx, nodeIDs, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("slice segment map: %w", err)
	}

	ws := &WorkingSet{
		Slices:   slices,
		Segments: make(map[int64]store.Segment),
		Ends:     make(map[int64]store.EndSegment),
		Groups:   make(map[int64]store.Group),
		buckets:  make(map[string][]problem.Term, len(slices)),
		queried:  make(map[int64]bool),
	}

	var segIDs, endIDs []int64
	endSides := make(map[string][2]int, len(slices))
	for _, rows := range [][]store.Association{normal, ends} {
		for _, a := range rows {
			if !inRegion[a.SliceNodeID] {
				return nil, fmt.Errorf("%w: association for slice %s outside the region",
					store.ErrInconsistentTopology, a.SliceNodeID)
			}
			ws.buckets[a.SliceNodeID] = append(ws.buckets[a.SliceNodeID], problem.Term{
				Var:  a.VariableID,
				Role: roleOf(a.Direction),
			})
			if a.End {
				sides := endSides[a.SliceNodeID]
				sides[a.Direction]++
				endSides[a.SliceNodeID] = sides
				endIDs = append(endIDs, a.VariableID)
			} else {
				segIDs = append(segIDs, a.VariableID)
			}
		}
	}

	if len(ws.buckets) != len(slices) {
		for _, id := range nodeIDs {
			if _, ok := ws.buckets[id]; !ok {
				return nil, fmt.Errorf("%w: %d buckets for %d slices, slice %s has none",
					store.ErrInconsistentTopology, len(ws.buckets), len(slices), id)
			}
		}
	}
	if len(ends) != 2*len(slices) {
		return nil, fmt.Errorf("%w: %d end-segment rows for %d slices",
			store.ErrInconsistentTopology, len(ends), len(slices))
	}
	for _, id := range nodeIDs {
		if sides := endSides[id]; sides[store.Incoming] != 1 || sides[store.Outgoing] != 1 {
			return nil, fmt.Errorf("%w: slice %s has %d incoming and %d outgoing end-segments",
				store.ErrInconsistentTopology, id, sides[store.Incoming], sides[store.Outgoing])
		}
	}

	if err := b.fetchVariables(ctx, ws, segIDs, endIDs); err != nil {
		return nil, err
	}

	b.logger.Debug("variables collected",
		slog.Int("slices", len(slices)),
		slog.Int("segments", len(ws.Segments)),
		slog.Int("end_segments", len(ws.Ends)),
	)
	return ws, nil
}

// Close pulls in every variable referenced by an exclusivity group of the
// working set, repeating until no new variables appear. It returns the number
// of variables added; calling it again on a closed set adds none.
func (b *Builder) Close(ctx context.Context, ws *WorkingSet) (int, error) {
	added := 0
	for {
		anchors := ws.unqueried()
		if len(anchors) == 0 {
			break
		}
		for _, id := range anchors {
			ws.queried[id] = true
		}

		groupIDs, err := b.store.ConstraintGroupsFor(ctx, anchors)
		if err != nil {
			return added, fmt.Errorf("constraint groups: %w", err)
		}
		var fresh []int64
		for _, id := range groupIDs {
			if _, ok := ws.Groups[id]; !ok {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		groups, err := b.store.GroupMembers(ctx, fresh)
		if err != nil {
			return added, fmt.Errorf("group members: %w", err)
		}
		if len(groups) != len(fresh) {
			return added, fmt.Errorf("%w: %d of %d constraint groups not found",
				store.ErrInconsistentTopology, len(fresh)-len(groups), len(fresh))
		}

		var segIDs, endIDs []int64
		for _, g := range groups {
			ws.Groups[g.ID] = g
			for _, id := range g.Segments {
				if _, ok := ws.Segments[id]; !ok {
					segIDs = append(segIDs, id)
				}
			}
			for _, id := range g.EndSegments {
				if _, ok := ws.Ends[id]; !ok {
					endIDs = append(endIDs, id)
				}
			}
		}
		segIDs, endIDs = store.UniqueIDs(segIDs), store.UniqueIDs(endIDs)
		if len(segIDs)+len(endIDs) == 0 {
			continue
		}

		if err := b.fetchVariables(ctx, ws, segIDs, endIDs); err != nil {
			return added, err
		}
		added += len(segIDs) + len(endIDs)
		ws.stats.ClosureRounds++
	}
	ws.stats.ClosureAdded += added

	if added > 0 {
		b.logger.Debug("constraint closure grew working set",
			slog.Int("added", added),
			slog.Int("rounds", ws.stats.ClosureRounds),
		)
	}
	return added, nil
}

// fetchVariables loads segment and end-segment records concurrently and
// fails if any id is unknown to the store.
func (b *Builder) fetchVariables(ctx context.Context, ws *WorkingSet, segIDs, endIDs []int64) error {
	segIDs, endIDs = store.UniqueIDs(segIDs), store.UniqueIDs(endIDs)

	var segs []store.Segment
	var ends []store.EndSegment
	g, gctx := errgroup.WithContext(ctx)
	if len(segIDs) > 0 {
		g.Go(func() error {
			var err error
			segs, err = b.store.Segments(gctx, segIDs)
			return err
		})
	}
	if len(endIDs) > 0 {
		g.Go(func() error {
			var err error
			ends, err = b.store.EndSegments(gctx, endIDs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch variables: %w", err)
	}

	if len(segs) != len(segIDs) || len(ends) != len(endIDs) {
		return fmt.Errorf("%w: %s", store.ErrInconsistentTopology,
			missingReport(segIDs, segs, endIDs, ends))
	}
	for _, s := range segs {
		ws.Segments[s.ID] = s
	}
	for _, e := range ends {
		ws.Ends[e.ID] = e
	}
	return nil
}

// unqueried returns the group lookup anchors not yet looked up: all segments
// plus canonical-direction end-segments.
func (ws *WorkingSet) unqueried() []int64 {
	var out []int64
	for id := range ws.Segments {
		if !ws.queried[id] {
			out = append(out, id)
		}
	}
	for id, e := range ws.Ends {
		if e.Direction == canonicalEnd && !ws.queried[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Problem assembles the solver instance. Variables come segments first then
// end-segments, each ordered by id; buckets follow slice order with incoming
// terms before outgoing ones.
func (ws *WorkingSet) Problem(params Params) (*problem.Problem, error) {
	if params.Sense == problem.SenseUnset {
		return nil, ErrSenseRequired
	}

	p := &problem.Problem{
		Variables: make([]problem.Variable, 0, len(ws.Segments)+len(ws.Ends)),
		Sense:     params.Sense,
		Groups:    make([]problem.Group, 0, len(ws.Groups)),
		Buckets:   make([]problem.Bucket, 0, len(ws.buckets)),
	}

	for _, id := range sortedKeys(ws.Segments) {
		s := ws.Segments[id]
		v := problem.Variable{ID: id, Cost: s.Cost + params.Priors.Continuation, Kind: problem.Continuation}
		if s.Type == store.Branch {
			v.Cost = s.Cost + params.Priors.Branch
			v.Kind = problem.Branch
		}
		p.Variables = append(p.Variables, v)
	}
	for _, id := range sortedKeys(ws.Ends) {
		p.Variables = append(p.Variables, problem.Variable{
			ID:   id,
			Cost: ws.Ends[id].Cost + params.Priors.End,
			Kind: problem.End,
		})
	}

	for _, id := range sortedKeys(ws.Groups) {
		p.Groups = append(p.Groups, problem.Group{ID: id, Members: ws.Groups[id].Members()})
	}

	for _, s := range ws.Slices {
		terms := append([]problem.Term(nil), ws.buckets[s.NodeID]...)
		sort.SliceStable(terms, func(i, j int) bool {
			if terms[i].Role != terms[j].Role {
				return terms[i].Role == problem.Incoming
			}
			return terms[i].Var < terms[j].Var
		})
		p.Buckets = append(p.Buckets, problem.Bucket{Slice: s.NodeID, Terms: terms})
	}
	return p, nil
}

func roleOf(d store.Direction) problem.Role {
	if d == store.Outgoing {
		return problem.Outgoing
	}
	return problem.Incoming
}

func sortedKeys[V any](m map[int64]V) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missingReport(segIDs []int64, segs []store.Segment, endIDs []int64, ends []store.EndSegment) string {
	found := make(map[int64]bool, len(segs)+len(ends))
	for _, s := range segs {
		found[s.ID] = true
	}
	for _, e := range ends {
		found[e.ID] = true
	}
	var missingSegs, missingEnds []int64
	for _, id := range segIDs {
		if !found[id] {
			missingSegs = append(missingSegs, id)
		}
	}
	for _, id := range endIDs {
		if !found[id] {
			missingEnds = append(missingEnds, id)
		}
	}
	return fmt.Sprintf("unknown segments %v, unknown end-segments %v", missingSegs, missingEnds)
}
