package main

import (
	"sort"
	"testing"
)

func TestGraphEdges(t *testing.T) {
	g := NewGraph()
	n := g.NewNode()
	m := g.NewNode()
	if g.Len() != 2 {
		t.Fatalf("len = %d", g.Len())
	}
	if g.IsAdj(n, m) {
		t.Fatalf("fresh nodes adjacent")
	}
	g.MkEdge(n, m)
	if !g.IsAdj(n, m) || !g.IsAdj(m, n) {
		t.Fatalf("edge not adjacent both ways")
	}
	if len(n.Succ()) != 1 || len(m.Pred()) != 1 {
		t.Fatalf("succ/pred not recorded")
	}
	// duplicate edges are no-ops
	g.MkEdge(n, m)
	if len(n.Succ()) != 1 {
		t.Fatalf("duplicate edge added")
	}
}

func TestGraphAdjacencySorted(t *testing.T) {
	g := NewGraph()
	var nodes []Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, g.NewNode())
	}
	// insert edges in a scrambled order
	order := []int{7, 2, 9, 1, 5, 8, 3, 6, 4}
	for _, i := range order {
		g.MkEdge(nodes[0], nodes[i])
		// after every MkEdge the adjacency must be strictly increasing
		succ := nodes[0].Succ()
		if !sort.IntsAreSorted(succ) {
			t.Fatalf("succ not sorted after inserting %d: %v", i, succ)
		}
		for j := 1; j < len(succ); j++ {
			if succ[j] == succ[j-1] {
				t.Fatalf("duplicate in succ: %v", succ)
			}
		}
	}
}

func TestGraphAdjNoDuplicates(t *testing.T) {
	g := NewGraph()
	n := g.NewNode()
	m := g.NewNode()
	o := g.NewNode()
	// m is both a successor and a predecessor of n
	g.MkEdge(n, m)
	g.MkEdge(m, n)
	g.MkEdge(o, n)
	adj := n.Adj()
	seen := map[int]bool{}
	for _, a := range adj {
		if seen[a] {
			t.Fatalf("duplicate %d in adj: %v", a, adj)
		}
		seen[a] = true
	}
	if !sort.IntsAreSorted(adj) {
		t.Fatalf("adj not sorted: %v", adj)
	}
	if len(adj) != 2 {
		t.Fatalf("adj = %v, want m and o", adj)
	}
}
