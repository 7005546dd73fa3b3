// Package store defines the read surface of the spatial store that holds
// slices, segments, end-segments and the precomputed association and
// constraint-membership tables, plus an in-memory implementation.
package store

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"slice_tracer/pkg/geo"
)

var (
	// ErrInconsistentTopology signals upstream data corruption: missing
	// buckets, wrong end-segment counts, or ids the store cannot resolve.
	ErrInconsistentTopology = errors.New("inconsistent topology")

	// ErrInvalidDataset is returned by loaders for structurally broken input.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// Store is the query surface the trace pipeline needs. Implementations must
// be safe for concurrent use; every method is read-only.
//
// Lookups by id return only the records that exist. Callers decide whether a
// missing id is an error.
type Store interface {
	// SlicesInRegion returns all slices whose box intersects the volume.
	SlicesInRegion(ctx context.Context, v geo.Volume) ([]Slice, error)

	// Slices looks slices up by node id.
	Slices(ctx context.Context, nodeIDs []string) ([]Slice, error)

	// SliceSegmentMap returns association rows for the given slices. With
	// excludeEnd set only normal segment rows are returned, otherwise only
	// end-segment rows.
	SliceSegmentMap(ctx context.Context, nodeIDs []string, excludeEnd bool) ([]Association, error)

	Segments(ctx context.Context, ids []int64) ([]Segment, error)
	EndSegments(ctx context.Context, ids []int64) ([]EndSegment, error)

	// ConstraintGroupsFor returns the distinct group ids any of the variables
	// belongs to.
	ConstraintGroupsFor(ctx context.Context, variableIDs []int64) ([]int64, error)

	// GroupMembers returns the full member lists of the given groups.
	GroupMembers(ctx context.Context, groupIDs []int64) ([]Group, error)
}

// Counts summarizes store contents for the stats endpoint.
type Counts struct {
	Slices      int `json:"slices"`
	Segments    int `json:"segments"`
	EndSegments int `json:"end_segments"`
	Groups      int `json:"groups"`
}

// Counter is implemented by stores that can report their size.
type Counter interface {
	Counts(ctx context.Context) (Counts, error)
}

// Snapper is implemented by stores that can resolve a point on a section to
// the slice containing it, or the nearest one within maxDist.
type Snapper interface {
	NearestSlice(ctx context.Context, section uint32, p orb.Point, maxDist float64) (Slice, bool, error)
}
