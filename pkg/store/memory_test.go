package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/store/storetest"
)

func nodeIDs(slices []store.Slice) []string {
	out := make([]string, len(slices))
	for i, s := range slices {
		out[i] = s.NodeID
	}
	return out
}

func TestMemorySlicesInRegion(t *testing.T) {
	m := storetest.Chain().Memory()
	ctx := context.Background()

	got, err := m.SlicesInRegion(ctx, geo.Volume{X1: -5, Y1: -5, Z1: 0, X2: 20, Y2: 20, Z2: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{storetest.NodeA, storetest.NodeB}, nodeIDs(got))

	got, err = m.SlicesInRegion(ctx, geo.Volume{X1: 0, Y1: 0, Z1: 0, X2: 100, Y2: 100, Z2: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{storetest.NodeA, storetest.NodeB, storetest.NodeD, storetest.NodeC}, nodeIDs(got))

	got, err = m.SlicesInRegion(ctx, geo.Volume{X1: 500, Y1: 500, Z1: 0, X2: 600, Y2: 600, Z2: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySliceSegmentMap(t *testing.T) {
	m := storetest.Chain().Memory()
	ctx := context.Background()

	normal, err := m.SliceSegmentMap(ctx, []string{storetest.NodeB}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.Association{
		{SliceNodeID: storetest.NodeB, VariableID: 101, Direction: store.Incoming},
		{SliceNodeID: storetest.NodeB, VariableID: 102, Direction: store.Outgoing},
		{SliceNodeID: storetest.NodeB, VariableID: 104, Direction: store.Incoming},
	}, normal)

	ends, err := m.SliceSegmentMap(ctx, []string{storetest.NodeB, storetest.NodeB}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.Association{
		{SliceNodeID: storetest.NodeB, VariableID: 203, Direction: store.Incoming, End: true},
		{SliceNodeID: storetest.NodeB, VariableID: 204, Direction: store.Outgoing, End: true},
	}, ends)
}

func TestMemoryLookups(t *testing.T) {
	m := storetest.Chain().Memory()
	ctx := context.Background()

	segs, err := m.Segments(ctx, []int64{104, 101, 999, 101})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, int64(101), segs[0].ID)
	assert.Equal(t, store.Branch, segs[1].Type)
	assert.Equal(t, []string{storetest.NodeB, storetest.NodeD}, segs[1].TargetNodes())

	ends, err := m.EndSegments(ctx, []int64{203, 101})
	require.NoError(t, err)
	require.Len(t, ends, 1)
	assert.Equal(t, storetest.NodeB, ends[0].NodeID())

	groups, err := m.ConstraintGroupsFor(ctx, []int64{104})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 7}, groups)

	members, err := m.GroupMembers(ctx, []int64{3})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, []int64{101, 104, 203}, members[0].Members())

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Slices: 4, Segments: 4, EndSegments: 8, Groups: 8}, counts)
}

func TestMemoryHonoursCancellation(t *testing.T) {
	m := storetest.Chain().Memory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SlicesInRegion(ctx, geo.Volume{Z2: 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNearestSnapsToContainingSlice(t *testing.T) {
	m := storetest.Chain().Memory()
	ix := store.NewSliceIndex()
	slices, err := m.Slices(context.Background(), []string{storetest.NodeB, storetest.NodeD})
	require.NoError(t, err)
	for _, s := range slices {
		ix.Insert(s)
	}
	require.Equal(t, 2, ix.Len())

	s, ok := ix.Nearest(1, orb.Point{5, 5}, 0)
	require.True(t, ok)
	assert.Equal(t, storetest.NodeB, s.NodeID)

	s, ok = ix.Nearest(1, orb.Point{45, 55}, 10)
	require.True(t, ok)
	assert.Equal(t, storetest.NodeD, s.NodeID)

	_, ok = ix.Nearest(1, orb.Point{30, 30}, 5)
	assert.False(t, ok, "no slice within snap distance")

	_, ok = ix.Nearest(7, orb.Point{5, 5}, 100)
	assert.False(t, ok, "unknown section")
}

func TestDatasetValidate(t *testing.T) {
	tests := []struct {
		name  string
		build func() *store.Dataset
		want  string
	}{
		{
			name: "shared variable id",
			build: func() *store.Dataset {
				b := storetest.NewBuilder()
				a := b.Slice(0, 1, 0, 0, 1, 1)
				c := b.Slice(1, 1, 0, 0, 1, 1)
				b.Continuation(7, a, c, 0)
				b.End(a, 7, store.Incoming, 0)
				return b.Dataset()
			},
			want: "used twice",
		},
		{
			name: "unknown slice",
			build: func() *store.Dataset {
				b := storetest.NewBuilder()
				a := b.Slice(0, 1, 0, 0, 1, 1)
				b.Continuation(7, a, "1_9", 0)
				return b.Dataset()
			},
			want: "unknown slice",
		},
		{
			name: "unknown group member",
			build: func() *store.Dataset {
				b := storetest.NewBuilder()
				b.Slice(0, 1, 0, 0, 1, 1)
				b.Group(1, 55)
				return b.Dataset()
			},
			want: "unknown variable",
		},
		{
			name: "inverted box",
			build: func() *store.Dataset {
				b := storetest.NewBuilder()
				b.Slice(0, 1, 5, 0, 1, 1)
				return b.Dataset()
			},
			want: "inverted box",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			require.ErrorIs(t, err, store.ErrInvalidDataset)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadDataset(t *testing.T) {
	const doc = `{
		"slices": [
			{"section": 0, "slice_id": 1, "min_x": 0, "min_y": 0, "max_x": 4, "max_y": 4},
			{"section": 1, "slice_id": 1, "min_x": 0, "min_y": 0, "max_x": 4, "max_y": 4}
		],
		"segments": [
			{"id": 10, "type": 2, "origin_section": 0, "origin_slice": 1,
			 "target_section": 1, "target1_slice": 1, "direction": "outgoing", "cost": -1.25}
		],
		"end_segments": [
			{"id": 20, "section": 0, "slice_id": 1, "direction": "incoming", "cost": 0.5},
			{"id": 21, "section": 0, "slice_id": 1, "direction": "right", "cost": 0.5}
		],
		"groups": [{"id": 1, "segments": [10], "end_segments": [21]}]
	}`

	ds, err := store.ReadDataset(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, ds.Segments, 1)
	assert.Equal(t, store.Continuation, ds.Segments[0].Type)
	assert.Equal(t, store.Outgoing, ds.EndSegments[1].Direction)

	_, err = store.ReadDataset(strings.NewReader(`{"slices": [], "bogus": 1}`))
	assert.Error(t, err)
}

func TestParseNodeID(t *testing.T) {
	sec, id, err := store.ParseNodeID("12_345")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), sec)
	assert.Equal(t, int64(345), id)
	assert.Equal(t, "12_345", store.FormatNodeID(sec, id))

	for _, bad := range []string{"", "12", "a_1", "1_b", "-1_2"} {
		_, _, err := store.ParseNodeID(bad)
		assert.ErrorIs(t, err, store.ErrMalformedNodeID, bad)
	}
}
