package store

import (
	"context"
	"sort"

	"github.com/paulmach/orb"

	"slice_tracer/pkg/geo"
)

// Memory is an immutable in-memory Store backed by a SliceIndex.
type Memory struct {
	index     *SliceIndex
	slices    map[string]Slice
	assoc     map[string][]Association
	segments  map[int64]Segment
	ends      map[int64]EndSegment
	groups    map[int64]Group
	varGroups map[int64][]int64
}

// NewMemory validates ds and builds a Memory store from it.
func NewMemory(ds *Dataset) (*Memory, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	m := &Memory{
		index:     NewSliceIndex(),
		slices:    make(map[string]Slice, len(ds.Slices)),
		assoc:     make(map[string][]Association),
		segments:  make(map[int64]Segment, len(ds.Segments)),
		ends:      make(map[int64]EndSegment, len(ds.EndSegments)),
		groups:    make(map[int64]Group, len(ds.Groups)),
		varGroups: make(map[int64][]int64),
	}

	for _, r := range ds.Slices {
		s := r.Slice()
		m.slices[s.NodeID] = s
		m.index.Insert(s)
	}

	segs := make([]Segment, 0, len(ds.Segments))
	for _, r := range ds.Segments {
		s := r.Segment()
		m.segments[s.ID] = s
		segs = append(segs, s)
	}
	ends := make([]EndSegment, 0, len(ds.EndSegments))
	for _, r := range ds.EndSegments {
		e := r.EndSegment()
		m.ends[e.ID] = e
		ends = append(ends, e)
	}
	for _, a := range DeriveAssociations(segs, ends) {
		m.assoc[a.SliceNodeID] = append(m.assoc[a.SliceNodeID], a)
	}

	for _, r := range ds.Groups {
		g := r.Group()
		m.groups[g.ID] = g
		for _, id := range g.Members() {
			m.varGroups[id] = append(m.varGroups[id], g.ID)
		}
	}

	return m, nil
}

func (m *Memory) SlicesInRegion(ctx context.Context, v geo.Volume) ([]Slice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.index.Search(v), nil
}

func (m *Memory) Slices(ctx context.Context, nodeIDs []string) ([]Slice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Slice, 0, len(nodeIDs))
	for _, id := range uniqueStrings(nodeIDs) {
		if s, ok := m.slices[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SliceSegmentMap(ctx context.Context, nodeIDs []string, excludeEnd bool) ([]Association, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Association
	for _, id := range uniqueStrings(nodeIDs) {
		for _, a := range m.assoc[id] {
			if a.End != excludeEnd {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *Memory) Segments(ctx context.Context, ids []int64) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Segment, 0, len(ids))
	for _, id := range UniqueIDs(ids) {
		if s, ok := m.segments[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) EndSegments(ctx context.Context, ids []int64) ([]EndSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]EndSegment, 0, len(ids))
	for _, id := range UniqueIDs(ids) {
		if e, ok := m.ends[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ConstraintGroupsFor(ctx context.Context, variableIDs []int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []int64
	for _, id := range UniqueIDs(variableIDs) {
		out = append(out, m.varGroups[id]...)
	}
	return UniqueIDs(out), nil
}

func (m *Memory) GroupMembers(ctx context.Context, groupIDs []int64) ([]Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(groupIDs))
	for _, id := range UniqueIDs(groupIDs) {
		if g, ok := m.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// NearestSlice implements Snapper.
func (m *Memory) NearestSlice(ctx context.Context, section uint32, p orb.Point, maxDist float64) (Slice, bool, error) {
	if err := ctx.Err(); err != nil {
		return Slice{}, false, err
	}
	s, ok := m.index.Nearest(section, p, maxDist)
	return s, ok, nil
}

// Counts implements Counter.
func (m *Memory) Counts(ctx context.Context) (Counts, error) {
	return Counts{
		Slices:      len(m.slices),
		Segments:    len(m.segments),
		EndSegments: len(m.ends),
		Groups:      len(m.groups),
	}, nil
}

// UniqueIDs returns the sorted distinct ids.
func UniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func uniqueStrings(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
