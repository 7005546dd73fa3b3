package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/store"
)

// Options control reconstruction and component selection.
type Options struct {
	// Seed restricts the result to the component holding this slice node id.
	Seed string
	// MinComponentSize keeps only components with more nodes than this when
	// Seed is empty.
	MinComponentSize int
	// IncludeTermini adds slices of selected end-segments and flags them as
	// trace starts and ends.
	IncludeTermini bool
	// Images adds image path and url attributes when enabled.
	Images SliceImages
}

// EdgeID formats the identifier of the edge a segment contributes.
func EdgeID(originSection, targetSection uint32, segmentID int64) string {
	return fmt.Sprintf("%d_%d-%d", originSection, targetSection, segmentID)
}

// Reconstruct fetches the selected segments and end-segments and builds the
// directed trace graph. A continuation adds one edge origin -> target, a
// branch two. The side the segment attaches on is kept as an edge attribute.
func Reconstruct(ctx context.Context, s store.Store, sol problem.Solution, opts Options) (*Graph, error) {
	ids := store.UniqueIDs(sol.Selected)
	if len(ids) == 0 {
		return &Graph{}, nil
	}

	var segs []store.Segment
	var ends []store.EndSegment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		segs, err = s.Segments(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		ends, err = s.EndSegments(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch selected variables: %w", err)
	}

	known := make(map[int64]bool, len(segs)+len(ends))
	for _, sg := range segs {
		known[sg.ID] = true
	}
	for _, e := range ends {
		known[e.ID] = true
	}
	var unknown []int64
	for _, id := range ids {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: selected variables %v unknown to the store",
			store.ErrInconsistentTopology, unknown)
	}

	nodeSet := make(map[string]bool)
	var raw []RawEdge
	for _, sg := range segs {
		origin := sg.OriginNode()
		nodeSet[origin] = true
		for _, target := range sg.TargetNodes() {
			nodeSet[target] = true
			e := RawEdge{From: origin, To: target, Edge: Edge{
				ID:        EdgeID(sg.OriginSection, sg.TargetSection, sg.ID),
				SegmentID: sg.ID,
				Cost:      sg.Cost,
				Type:      sg.Type,
				Direction: sg.Direction,
			}}
			raw = append(raw, e)
		}
	}

	starts := make(map[string]bool)
	stops := make(map[string]bool)
	if opts.IncludeTermini {
		for _, e := range ends {
			id := e.NodeID()
			nodeSet[id] = true
			if e.Direction == store.Incoming {
				starts[id] = true
			} else {
				stops[id] = true
			}
		}
	}

	nodeIDs := make([]string, 0, len(nodeSet))
	for id := range nodeSet {
		nodeIDs = append(nodeIDs, id)
	}
	slices, err := s.Slices(ctx, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch slices: %w", err)
	}
	if len(slices) != len(nodeIDs) {
		found := make(map[string]bool, len(slices))
		for _, sl := range slices {
			found[sl.NodeID] = true
		}
		var missing []string
		for _, id := range nodeIDs {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: slices %v referenced by selected segments not found",
			store.ErrInconsistentTopology, missing)
	}

	sort.Slice(slices, func(i, j int) bool {
		if slices[i].Section != slices[j].Section {
			return slices[i].Section < slices[j].Section
		}
		return slices[i].SliceID < slices[j].SliceID
	})
	nodes := make([]Node, len(slices))
	for i, sl := range slices {
		nodes[i] = Node{
			NodeID:  sl.NodeID,
			Section: sl.Section,
			SliceID: sl.SliceID,
			Bound:   sl.Bound,
			Start:   starts[sl.NodeID],
			End:     stops[sl.NodeID],
		}
	}

	return Build(nodes, raw)
}
