// Package storetest builds small, hand-checked datasets for tests.
package storetest

import (
	"fmt"

	"slice_tracer/pkg/store"
)

// Builder assembles a Dataset. Methods panic on malformed node ids since
// they are only used with literal test fixtures.
type Builder struct {
	ds   store.Dataset
	ends map[int64]bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{ends: make(map[int64]bool)}
}

// Slice adds a slice and returns its node id.
func (b *Builder) Slice(section uint32, sliceID int64, minX, minY, maxX, maxY float64) string {
	b.ds.Slices = append(b.ds.Slices, store.SliceRecord{
		Section: section, SliceID: sliceID,
		MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
	})
	return store.FormatNodeID(section, sliceID)
}

// Continuation adds a one-to-one segment attached on the origin's outgoing side.
func (b *Builder) Continuation(id int64, from, to string, cost float64) *Builder {
	oSec, oSlice := mustParse(from)
	ts, tsl := mustParse(to)
	b.ds.Segments = append(b.ds.Segments, store.SegmentRecord{
		ID: id, Type: store.Continuation,
		OriginSection: oSec, OriginSlice: oSlice,
		TargetSection: ts, Target1Slice: tsl,
		Direction: store.Outgoing, Cost: cost,
	})
	return b
}

// Branch adds a one-to-two segment attached on the origin's outgoing side.
func (b *Builder) Branch(id int64, from, to1, to2 string, cost float64) *Builder {
	oSec, oSlice := mustParse(from)
	ts, t1 := mustParse(to1)
	ts2, t2 := mustParse(to2)
	if ts != ts2 {
		panic(fmt.Sprintf("branch %d targets on different sections", id))
	}
	b.ds.Segments = append(b.ds.Segments, store.SegmentRecord{
		ID: id, Type: store.Branch,
		OriginSection: oSec, OriginSlice: oSlice,
		TargetSection: ts, Target1Slice: t1, Target2Slice: t2,
		Direction: store.Outgoing, Cost: cost,
	})
	return b
}

// Attach moves segment id to the given side of its origin.
func (b *Builder) Attach(id int64, dir store.Direction) *Builder {
	for i := range b.ds.Segments {
		if b.ds.Segments[i].ID == id {
			b.ds.Segments[i].Direction = dir
			return b
		}
	}
	panic(fmt.Sprintf("segment %d not declared", id))
}

// Ends adds the incoming and outgoing end-segments of a slice.
func (b *Builder) Ends(node string, inID, outID int64, cost float64) *Builder {
	b.End(node, inID, store.Incoming, cost)
	return b.End(node, outID, store.Outgoing, cost)
}

// End adds a single end-segment.
func (b *Builder) End(node string, id int64, dir store.Direction, cost float64) *Builder {
	s, sl := mustParse(node)
	b.ds.EndSegments = append(b.ds.EndSegments, store.EndSegmentRecord{
		ID: id, Section: s, SliceID: sl, Direction: dir, Cost: cost,
	})
	b.ends[id] = true
	return b
}

// Group adds an exclusivity group. Members are split into segment and
// end-segment lists by what has been declared so far.
func (b *Builder) Group(id int64, members ...int64) *Builder {
	g := store.GroupRecord{ID: id}
	for _, m := range members {
		if b.ends[m] {
			g.EndSegments = append(g.EndSegments, m)
		} else {
			g.Segments = append(g.Segments, m)
		}
	}
	b.ds.Groups = append(b.ds.Groups, g)
	return b
}

// Dataset returns the assembled dataset.
func (b *Builder) Dataset() *store.Dataset {
	ds := b.ds
	return &ds
}

// Memory builds a Memory store, panicking on invalid input.
func (b *Builder) Memory() *store.Memory {
	m, err := store.NewMemory(b.Dataset())
	if err != nil {
		panic(err)
	}
	return m
}

func mustParse(node string) (uint32, int64) {
	s, sl, err := store.ParseNodeID(node)
	if err != nil {
		panic(err)
	}
	return s, sl
}

// Chain node ids.
const (
	NodeA = "0_1"
	NodeB = "1_1"
	NodeC = "2_1"
	NodeD = "1_2"
)

// Chain returns a three-section fixture:
//
//	A(0_1) --101--> B(1_1) --102--> C(2_1)
//	A(0_1) --103--> D(1_2)
//	A(0_1) --104--> {B, D}   (branch)
//
// Every slice has end-segments 2xx (incoming odd, outgoing even) and one
// exclusivity group per slice side.
func Chain() *Builder {
	b := NewBuilder()
	a := b.Slice(0, 1, 0, 0, 10, 10)
	bb := b.Slice(1, 1, 0, 0, 10, 10)
	c := b.Slice(2, 1, 0, 0, 10, 10)
	d := b.Slice(1, 2, 50, 50, 60, 60)

	b.Continuation(101, a, bb, -2)
	b.Continuation(102, bb, c, -2)
	b.Continuation(103, a, d, 1)
	b.Branch(104, a, bb, d, 3)

	b.Ends(a, 201, 202, 0.5)
	b.Ends(bb, 203, 204, 0.5)
	b.Ends(c, 205, 206, 0.5)
	b.Ends(d, 207, 208, 0.5)

	b.Group(1, 201)                // A in
	b.Group(2, 101, 103, 104, 202) // A out
	b.Group(3, 101, 104, 203)      // B in
	b.Group(4, 102, 204)           // B out
	b.Group(5, 102, 205)           // C in
	b.Group(6, 206)                // C out
	b.Group(7, 103, 104, 207)      // D in
	b.Group(8, 208)                // D out
	return b
}
