package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/store/storetest"
)

// abRegion covers slices A and B of the Chain fixture.
var abRegion = geo.Volume{X1: -5, Y1: -5, Z1: 0, X2: 20, Y2: 20, Z2: 1}

func TestBuildChain(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	params := Params{
		Sense:  problem.Exactly,
		Priors: Priors{Continuation: 1, Branch: 10},
	}

	p, ws, err := b.Build(context.Background(), abRegion, params)
	require.NoError(t, err)

	assert.Equal(t, len(ws.Slices), ws.BucketCount())
	assert.Equal(t, Stats{
		Slices:        2,
		Segments:      4,
		EndSegments:   6,
		Groups:        5,
		ClosureRounds: 1,
		ClosureAdded:  2,
	}, ws.Stats())

	assert.Equal(t, map[int64]float64{
		101: -1, 102: -1, 103: 2, 104: 13,
		201: 0.5, 202: 0.5, 203: 0.5, 204: 0.5, 205: 0.5, 207: 0.5,
	}, p.Costs())
	assert.Equal(t, problem.Branch, p.Variables[3].Kind)
	assert.Equal(t, problem.End, p.Variables[4].Kind)

	require.Len(t, p.Buckets, 2)
	assert.Equal(t, storetest.NodeA, p.Buckets[0].Slice)
	assert.Equal(t, []problem.Term{
		{Var: 201, Role: problem.Incoming},
		{Var: 101, Role: problem.Outgoing},
		{Var: 103, Role: problem.Outgoing},
		{Var: 104, Role: problem.Outgoing},
		{Var: 202, Role: problem.Outgoing},
	}, p.Buckets[0].Terms)
	assert.Equal(t, []problem.Term{
		{Var: 101, Role: problem.Incoming},
		{Var: 104, Role: problem.Incoming},
		{Var: 203, Role: problem.Incoming},
		{Var: 102, Role: problem.Outgoing},
		{Var: 204, Role: problem.Outgoing},
	}, p.Buckets[1].Terms)

	groupIDs := make([]int64, len(p.Groups))
	for i, g := range p.Groups {
		groupIDs[i] = g.ID
	}
	assert.Equal(t, []int64{2, 3, 4, 5, 7}, groupIDs)
}

func TestEverySliceHasTwoEnds(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	ctx := context.Background()

	slices, err := b.FetchSlices(ctx, geo.Volume{X2: 100, Y2: 100, Z2: 2})
	require.NoError(t, err)
	ws, err := b.Collect(ctx, slices)
	require.NoError(t, err)

	perSlice := make(map[string]int)
	for _, e := range ws.Ends {
		perSlice[e.NodeID()]++
	}
	for _, s := range slices {
		assert.Equal(t, 2, perSlice[s.NodeID], s.NodeID)
	}
	assert.Len(t, ws.Ends, 2*len(slices))
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	ctx := context.Background()

	slices, err := b.FetchSlices(ctx, abRegion)
	require.NoError(t, err)
	ws, err := b.Collect(ctx, slices)
	require.NoError(t, err)

	added, err := b.Close(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	before := ws.Stats()

	added, err = b.Close(ctx, ws)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, before.Segments, ws.Stats().Segments)
	assert.Equal(t, before.EndSegments, ws.Stats().EndSegments)
	assert.Equal(t, before.Groups, ws.Stats().Groups)
}

func TestGroupMembersAreInProblem(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	p, _, err := b.Build(context.Background(), abRegion, Params{Sense: problem.AtMost})
	require.NoError(t, err)

	costs := p.Costs()
	for _, g := range p.Groups {
		for _, m := range g.Members {
			_, ok := costs[m]
			assert.True(t, ok, "group %d member %d", g.ID, m)
		}
	}
}

func TestEmptyRegion(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	_, _, err := b.Build(context.Background(),
		geo.Volume{X1: 500, Y1: 500, X2: 600, Y2: 600, Z2: 3},
		Params{Sense: problem.Exactly})
	assert.ErrorIs(t, err, ErrEmptyRegion)
}

func TestSenseRequired(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	_, _, err := b.Build(context.Background(), abRegion, Params{})
	assert.ErrorIs(t, err, ErrSenseRequired)

	ws := &WorkingSet{}
	_, err = ws.Problem(Params{})
	assert.ErrorIs(t, err, ErrSenseRequired)
}

func TestInconsistentTopology(t *testing.T) {
	tests := map[string]func() *store.Memory{
		"slice without variables": func() *store.Memory {
			b := storetest.NewBuilder()
			b.Slice(0, 1, 0, 0, 1, 1)
			return b.Memory()
		},
		"missing outgoing end": func() *store.Memory {
			b := storetest.NewBuilder()
			a := b.Slice(0, 1, 0, 0, 1, 1)
			b.End(a, 1, store.Incoming, 0)
			return b.Memory()
		},
		"two incoming ends": func() *store.Memory {
			b := storetest.NewBuilder()
			a := b.Slice(0, 1, 0, 0, 1, 1)
			b.End(a, 1, store.Incoming, 0)
			b.End(a, 2, store.Incoming, 0)
			return b.Memory()
		},
	}
	for name, build := range tests {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder(build(), nil)
			_, _, err := b.Build(context.Background(), geo.Volume{X2: 1, Y2: 1}, Params{Sense: problem.Exactly})
			assert.ErrorIs(t, err, store.ErrInconsistentTopology)
		})
	}
}

// lossyStore forgets one segment, as a store with a dangling reference would.
type lossyStore struct {
	store.Store
	drop int64
}

func (l lossyStore) Segments(ctx context.Context, ids []int64) ([]store.Segment, error) {
	segs, err := l.Store.Segments(ctx, ids)
	out := segs[:0]
	for _, s := range segs {
		if s.ID != l.drop {
			out = append(out, s)
		}
	}
	return out, err
}

func TestUnknownVariableIsInconsistent(t *testing.T) {
	b := NewBuilder(lossyStore{Store: storetest.Chain().Memory(), drop: 102}, nil)
	_, _, err := b.Build(context.Background(), abRegion, Params{Sense: problem.Exactly})
	require.ErrorIs(t, err, store.ErrInconsistentTopology)
	assert.Contains(t, err.Error(), "102")
}

func TestCancelledContext(t *testing.T) {
	b := NewBuilder(storetest.Chain().Memory(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := b.Build(ctx, abRegion, Params{Sense: problem.Exactly})
	assert.ErrorIs(t, err, context.Canceled)
}
