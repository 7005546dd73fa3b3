package graph

import (
	"testing"
)

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind(5)

	// Initially all separate.
	for i := range uint32(5) {
		if uf.Find(i) != i {
			t.Errorf("Find(%d) = %d, want %d", i, uf.Find(i), i)
		}
	}

	// Union 0 and 1.
	uf.Union(0, 1)
	if uf.Find(0) != uf.Find(1) {
		t.Error("0 and 1 should be in same set")
	}

	// Union 2 and 3.
	uf.Union(2, 3)
	if uf.Find(2) != uf.Find(3) {
		t.Error("2 and 3 should be in same set")
	}

	// 0 and 2 should be different.
	if uf.Find(0) == uf.Find(2) {
		t.Error("0 and 2 should be in different sets")
	}

	// Union the two groups.
	if !uf.Union(1, 3) {
		t.Error("Union(1, 3) should merge")
	}
	if uf.Find(0) != uf.Find(3) {
		t.Error("0 and 3 should now be in same set")
	}
	if uf.Union(0, 2) {
		t.Error("Union(0, 2) should report already merged")
	}
	if uf.Size(2) != 4 {
		t.Errorf("Size(2) = %d, want 4", uf.Size(2))
	}
}

func twoComponentGraph(t *testing.T) *Graph {
	t.Helper()
	// Component 1: 0_1 -> 1_1 -> 2_1 (3 nodes)
	// Component 2: 0_5 -> 1_5 (2 nodes)
	// Component 3: 3_9 (isolated)
	g, err := Build(nodesOf("0_1", "0_5", "1_1", "1_5", "2_1", "3_9"), []RawEdge{
		edge("0_1", "1_1", 1),
		edge("1_1", "2_1", 2),
		edge("0_5", "1_5", 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestComponents(t *testing.T) {
	g := twoComponentGraph(t)
	comps := Components(g)

	if len(comps) != 3 {
		t.Fatalf("Components = %d, want 3", len(comps))
	}
	wantSizes := []int{3, 2, 1}
	for i, c := range comps {
		if len(c) != wantSizes[i] {
			t.Errorf("component %d has %d nodes, want %d", i, len(c), wantSizes[i])
		}
	}
	if g.Nodes[comps[0][0]].NodeID != "0_1" {
		t.Errorf("largest component starts at %s, want 0_1", g.Nodes[comps[0][0]].NodeID)
	}
}

func TestComponentsIgnoreDirection(t *testing.T) {
	// 0_1 -> 1_1 <- 0_2: weakly connected though 0_1 cannot reach 0_2.
	g, err := Build(nodesOf("0_1", "0_2", "1_1"), []RawEdge{
		edge("0_1", "1_1", 1),
		edge("0_2", "1_1", 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if comps := Components(g); len(comps) != 1 || len(comps[0]) != 3 {
		t.Errorf("Components = %v, want one component of 3", comps)
	}
}

func TestFilterToComponent(t *testing.T) {
	g := twoComponentGraph(t)
	idx, _ := g.NodeIndex("1_5")
	nodes := ComponentOf(g, idx)
	filtered := FilterToComponent(g, nodes)

	if filtered.NumNodes != 2 {
		t.Fatalf("filtered NumNodes = %d, want 2", filtered.NumNodes)
	}
	if filtered.NumEdges != 1 {
		t.Fatalf("filtered NumEdges = %d, want 1", filtered.NumEdges)
	}

	// Verify CSR invariants on filtered graph.
	for i := uint32(1); i <= filtered.NumNodes; i++ {
		if filtered.FirstOut[i] < filtered.FirstOut[i-1] {
			t.Errorf("FirstOut not monotonic at %d", i)
		}
	}
	if filtered.FirstOut[filtered.NumNodes] != filtered.NumEdges {
		t.Error("FirstOut[NumNodes] != NumEdges")
	}
	for i, h := range filtered.Head {
		if h >= filtered.NumNodes {
			t.Errorf("Head[%d] = %d >= NumNodes %d", i, h, filtered.NumNodes)
		}
	}

	if filtered.Edges[0].SegmentID != 3 {
		t.Errorf("filtered edge segment = %d, want 3", filtered.Edges[0].SegmentID)
	}
	if _, ok := filtered.NodeIndex("0_1"); ok {
		t.Error("node 0_1 should not be in the filtered graph")
	}
}

func TestFilterToComponentEmptyGraph(t *testing.T) {
	g := &Graph{}
	if comps := Components(g); comps != nil {
		t.Errorf("expected nil for empty graph, got %v", comps)
	}

	filtered := FilterToComponent(g, nil)
	if filtered.NumNodes != 0 || filtered.NumEdges != 0 {
		t.Errorf("expected empty graph, got %d nodes, %d edges", filtered.NumNodes, filtered.NumEdges)
	}
}
