package store

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"slice_tracer/pkg/geo"
)

// SliceIndex is a per-section R-tree over slice bounding boxes.
// Build it once, then query it concurrently; it is not safe for concurrent
// Insert and Search.
type SliceIndex struct {
	trees    map[uint32]*rtree.RTreeG[Slice]
	sections []uint32 // sorted keys of trees
	n        int
}

// NewSliceIndex creates an empty index.
func NewSliceIndex() *SliceIndex {
	return &SliceIndex{trees: make(map[uint32]*rtree.RTreeG[Slice])}
}

// Insert adds a slice to the index.
func (ix *SliceIndex) Insert(s Slice) {
	tr, ok := ix.trees[s.Section]
	if !ok {
		tr = &rtree.RTreeG[Slice]{}
		ix.trees[s.Section] = tr
		i := sort.Search(len(ix.sections), func(i int) bool { return ix.sections[i] >= s.Section })
		ix.sections = append(ix.sections, 0)
		copy(ix.sections[i+1:], ix.sections[i:])
		ix.sections[i] = s.Section
	}
	tr.Insert(s.Bound.Min, s.Bound.Max, s)
	ix.n++
}

// Len returns the number of indexed slices.
func (ix *SliceIndex) Len() int {
	return ix.n
}

// Search returns all slices intersecting v, ordered by section then slice id.
func (ix *SliceIndex) Search(v geo.Volume) []Slice {
	lo := sort.Search(len(ix.sections), func(i int) bool { return ix.sections[i] >= v.Z1 })

	var out []Slice
	b := v.Bound()
	for _, sec := range ix.sections[lo:] {
		if sec > v.Z2 {
			break
		}
		start := len(out)
		ix.trees[sec].Search(b.Min, b.Max, func(_, _ [2]float64, s Slice) bool {
			out = append(out, s)
			return true
		})
		sortSlices(out[start:])
	}
	return out
}

// Nearest snaps a point on a section to a slice: a slice whose box contains the
// point wins; otherwise the closest box within maxDist. Ties go to the lower
// node id so results are stable.
func (ix *SliceIndex) Nearest(section uint32, p orb.Point, maxDist float64) (Slice, bool) {
	tr, ok := ix.trees[section]
	if !ok {
		return Slice{}, false
	}

	window := orb.Bound{Min: p, Max: p}.Pad(maxDist)
	bestDist := math.Inf(1)
	var best Slice
	tr.Search(window.Min, window.Max, func(_, _ [2]float64, s Slice) bool {
		d := geo.PointToBoxDist(p, s.Bound)
		if d < bestDist || (d == bestDist && s.NodeID < best.NodeID) {
			bestDist = d
			best = s
		}
		return true
	})

	if bestDist > maxDist {
		return Slice{}, false
	}
	return best, true
}

func sortSlices(s []Slice) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].SliceID != s[j].SliceID {
			return s[i].SliceID < s[j].SliceID
		}
		return s[i].NodeID < s[j].NodeID
	})
}
