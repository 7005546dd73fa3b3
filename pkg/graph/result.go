package graph

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Attributes are the per-slice values returned with each node.
type Attributes struct {
	Section   uint32     `json:"section"`
	SliceID   int64      `json:"slice_id"`
	BBox      [4]float64 `json:"bbox"`
	Center    [2]float64 `json:"center"`
	Start     bool       `json:"start,omitempty"`
	End       bool       `json:"end,omitempty"`
	ImagePath string     `json:"image_path,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
}

// ResultNode is one slice of a selected component.
type ResultNode struct {
	NodeID     string     `json:"node_id"`
	Attributes Attributes `json:"attributes"`
}

// ResultEdge is one accepted transition of a selected component.
type ResultEdge struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	EdgeID    string  `json:"edge_id"`
	SegmentID int64   `json:"segment_id"`
	Cost      float64 `json:"cost"`
	Type      string  `json:"type"`
	Direction string  `json:"direction"`
}

// Result maps component index to its nodes and edges.
type Result struct {
	Slices   map[int][]ResultNode `json:"slices"`
	Segments map[int][]ResultEdge `json:"segments"`
}

// Len returns the number of components.
func (r *Result) Len() int {
	return len(r.Slices)
}

// Extract selects components of g and renders them. With a seed only the
// component holding it is returned, or nothing when the seed is not part of
// the graph. Without a seed every component larger than MinComponentSize is
// returned, largest first.
func Extract(g *Graph, opts Options) (*Result, error) {
	res := &Result{
		Slices:   make(map[int][]ResultNode),
		Segments: make(map[int][]ResultEdge),
	}

	var comps [][]uint32
	if opts.Seed != "" {
		idx, ok := g.NodeIndex(opts.Seed)
		if !ok {
			return res, nil
		}
		comps = [][]uint32{ComponentOf(g, idx)}
	} else {
		for _, c := range Components(g) {
			if len(c) > opts.MinComponentSize {
				comps = append(comps, c)
			}
		}
	}

	for i, c := range comps {
		sub := FilterToComponent(g, c)

		nodes := make([]ResultNode, 0, sub.NumNodes)
		for _, n := range sub.Nodes {
			rn, err := renderNode(n, opts.Images)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, rn)
		}

		edges := make([]ResultEdge, 0, sub.NumEdges)
		for u := uint32(0); u < sub.NumNodes; u++ {
			start, end := sub.EdgesFrom(u)
			for e := start; e < end; e++ {
				attr := sub.Edges[e]
				edges = append(edges, ResultEdge{
					From:      sub.Nodes[u].NodeID,
					To:        sub.Nodes[sub.Head[e]].NodeID,
					EdgeID:    attr.ID,
					SegmentID: attr.SegmentID,
					Cost:      attr.Cost,
					Type:      attr.Type.String(),
					Direction: attr.Direction.String(),
				})
			}
		}

		res.Slices[i] = nodes
		res.Segments[i] = edges
	}
	return res, nil
}

func renderNode(n Node, images SliceImages) (ResultNode, error) {
	center := n.Bound.Center()
	rn := ResultNode{
		NodeID: n.NodeID,
		Attributes: Attributes{
			Section: n.Section,
			SliceID: n.SliceID,
			BBox:    bboxOf(n.Bound),
			Center:  [2]float64{center[0], center[1]},
			Start:   n.Start,
			End:     n.End,
		},
	}
	if !images.Enabled() {
		return rn, nil
	}
	if images.BasePath != "" {
		p, err := images.Path(n.NodeID)
		if err != nil {
			return rn, fmt.Errorf("image path for %s: %w", n.NodeID, err)
		}
		rn.Attributes.ImagePath = p
	}
	if images.BaseURL != "" {
		u, err := images.URL(n.NodeID)
		if err != nil {
			return rn, fmt.Errorf("image url for %s: %w", n.NodeID, err)
		}
		rn.Attributes.ImageURL = u
	}
	return rn, nil
}

func bboxOf(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
