package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownNode is returned when an edge references a node missing from the arena.
var ErrUnknownNode = errors.New("edge references unknown node")

// RawEdge is an edge between slice node ids, before index compaction.
type RawEdge struct {
	From, To string
	Edge     Edge
}

// Build creates a CSR Graph. nodes defines the arena order; duplicate node ids
// keep their first occurrence.
func Build(nodes []Node, edges []RawEdge) (*Graph, error) {
	// Step 1: Build a compact node id mapping.
	index := make(map[string]uint32, len(nodes))
	arena := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := index[n.NodeID]; ok {
			continue
		}
		index[n.NodeID] = uint32(len(arena))
		arena = append(arena, n)
	}
	numNodes := uint32(len(arena))

	// Step 2: Build compact edge list with remapped indices.
	type compactEdge struct {
		from uint32
		to   uint32
		edge Edge
	}
	compact := make([]compactEdge, len(edges))
	for i, e := range edges {
		from, ok := index[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: %s (edge %s)", ErrUnknownNode, e.From, e.Edge.ID)
		}
		to, ok := index[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: %s (edge %s)", ErrUnknownNode, e.To, e.Edge.ID)
		}
		compact[i] = compactEdge{from: from, to: to, edge: e.Edge}
	}

	// Step 3: Sort edges by source node.
	sort.Slice(compact, func(i, j int) bool {
		if compact[i].from != compact[j].from {
			return compact[i].from < compact[j].from
		}
		if compact[i].to != compact[j].to {
			return compact[i].to < compact[j].to
		}
		return compact[i].edge.SegmentID < compact[j].edge.SegmentID
	})

	// Step 4: Build CSR arrays.
	numEdges := uint32(len(compact))
	firstOut := make([]uint32, numNodes+1)
	head := make([]uint32, numEdges)
	attrs := make([]Edge, numEdges)
	for i, e := range compact {
		head[i] = e.to
		attrs[i] = e.edge
	}

	// Build FirstOut via counting.
	for _, e := range compact {
		firstOut[e.from+1]++
	}
	// Prefix sum.
	for i := uint32(1); i <= numNodes; i++ {
		firstOut[i] += firstOut[i-1]
	}

	return &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		FirstOut: firstOut,
		Head:     head,
		Edges:    attrs,
		Nodes:    arena,
		index:    index,
	}, nil
}
