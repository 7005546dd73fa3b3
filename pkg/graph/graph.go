// Package graph rebuilds the directed trace graph from a solver selection and
// splits it into weakly connected components.
package graph

import (
	"github.com/paulmach/orb"

	"slice_tracer/pkg/store"
)

// Node is one slice in the node arena.
type Node struct {
	NodeID  string
	Section uint32
	SliceID int64
	Bound   orb.Bound

	// Start marks a slice whose selected incoming end-segment opens a trace.
	Start bool
	// End marks a slice whose selected outgoing end-segment closes a trace.
	End bool
}

// Edge carries the attributes of one accepted transition.
type Edge struct {
	ID        string // "{origin_section}_{target_section}-{segment id}"
	SegmentID int64
	Cost      float64
	Type      store.SegmentType
	Direction store.Direction
}

// Graph is a directed trace graph in CSR (Compressed Sparse Row) format.
type Graph struct {
	NumNodes uint32
	NumEdges uint32
	FirstOut []uint32 // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are edges from node i
	Head     []uint32 // len: NumEdges; target node for each edge
	Edges    []Edge   // len: NumEdges
	Nodes    []Node   // len: NumNodes

	index map[string]uint32
}

// EdgesFrom returns the range of edge indices for edges originating from node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// OutDegree returns the number of edges leaving u.
func (g *Graph) OutDegree(u uint32) uint32 {
	return g.FirstOut[u+1] - g.FirstOut[u]
}

// NodeIndex returns the arena index of a slice node id.
func (g *Graph) NodeIndex(nodeID string) (uint32, bool) {
	idx, ok := g.index[nodeID]
	return idx, ok
}
