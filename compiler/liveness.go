package main

import (
	"fmt"
	"io"
	"math/bits"
	"sort"
)

// === Liveness analysis ===

// FlowGraph is the control-flow graph over instructions. Def, Use and
// IsMove are indexed by node id; def and use lists are sorted by temp id.
type FlowGraph struct {
	Control *Graph
	Def     map[int][]Temp
	Use     map[int][]Temp
	IsMove  map[int]bool
}

// instrsToGraph builds the flow graph: one node per instruction, edges
// along fall-through and jump targets.
func instrsToGraph(instrs []*Instr) (*FlowGraph, []Node) {
	flow := &FlowGraph{
		Control: NewGraph(),
		Def:     map[int][]Temp{},
		Use:     map[int][]Temp{},
		IsMove:  map[int]bool{},
	}
	labelToNode := map[Symbol]Node{}
	nodes := make([]Node, 0, len(instrs))

	var prev *Instr
	for _, instr := range instrs {
		node := flow.Control.NewNode()
		nodes = append(nodes, node)
		n := len(nodes)

		switch instr.Kind {
		case INSTR_OPER:
			if n > 1 {
				flow.Control.MkEdge(nodes[n-2], node)
			}
			if len(instr.Dst) > 0 {
				flow.Def[node.idx] = tempListSort(instr.Dst)
			}
			if len(instr.Src) > 0 {
				flow.Use[node.idx] = tempListSort(instr.Src)
			}
		case INSTR_LABEL:
			// fall through from the previous instruction only if it has no
			// explicit jump targets
			if prev != nil && !(prev.Kind == INSTR_OPER && prev.Jump != nil) {
				flow.Control.MkEdge(nodes[n-2], node)
			}
			// jumps to this node resolve through the label
			labelToNode[instr.Label] = node
		case INSTR_MOVE:
			if n > 1 {
				flow.Control.MkEdge(nodes[n-2], node)
			}
			flow.Def[node.idx] = []Temp{instr.MoveDst}
			flow.Use[node.idx] = []Temp{instr.MoveSrc}
			flow.IsMove[node.idx] = true
		}
		prev = instr
	}

	for i, instr := range instrs {
		if instr.Kind == INSTR_OPER && instr.Jump != nil {
			for _, lbl := range instr.Jump {
				target, ok := labelToNode[lbl]
				if !ok {
					panic(fmt.Sprintf("no node for label %s", lbl))
				}
				flow.Control.MkEdge(nodes[i], target)
			}
		}
	}
	return flow, nodes
}

// === Interference ===

// IGraph is the interference graph: a node per temporary, an edge per
// cannot-share-a-register constraint, and the move list for coalescing.
type IGraph struct {
	Graph *Graph
	// TNode maps a temp id to its interference node; GTemp is the inverse.
	TNode map[int]Node
	GTemp map[int]Temp
	// Moves holds (dst, src) node pairs for each move instruction.
	Moves [][2]Node
}

func (ig *IGraph) nodeForTemp(t Temp) Node {
	if n, ok := ig.TNode[t.ID]; ok {
		return n
	}
	n := ig.Graph.NewNode()
	ig.TNode[t.ID] = n
	ig.GTemp[n.idx] = t
	return n
}

// interferenceGraph computes live-out sets by backward dataflow to a fixed
// point, then builds the interference graph: at a non-move instruction each
// def interferes with every live-out; at a move d <- c, d interferes with
// the live-outs except c, and (d, c) joins the move set.
//
// The returned map gives the live-out temps at each flow-graph node.
func interferenceGraph(flow *FlowGraph, nodes []Node) (*IGraph, map[int][]Temp) {
	ig := &IGraph{
		Graph: NewGraph(),
		TNode: map[int]Node{},
		GTemp: map[int]Temp{},
	}

	// a node for every temp mentioned anywhere
	for _, n := range nodes {
		for _, d := range flow.Def[n.idx] {
			ig.nodeForTemp(d)
		}
		for _, u := range flow.Use[n.idx] {
			ig.nodeForTemp(u)
		}
	}
	numTemps := ig.Graph.Len()
	words := bitsetLen(max(numTemps, 1))

	newSet := func() []uint64 { return make([]uint64, words) }
	liveIn := make([][]uint64, len(nodes))
	liveOut := make([][]uint64, len(nodes))
	defSet := make([][]uint64, len(nodes))
	useSet := make([][]uint64, len(nodes))
	for i, n := range nodes {
		liveIn[i] = newSet()
		liveOut[i] = newSet()
		defSet[i] = newSet()
		useSet[i] = newSet()
		for _, d := range flow.Def[n.idx] {
			setBit(defSet[i], ig.TNode[d.ID].idx)
		}
		for _, u := range flow.Use[n.idx] {
			setBit(useSet[i], ig.TNode[u.ID].idx)
		}
	}

	// in[n] = use[n] ∪ (out[n] \ def[n]); out[n] = ∪ in[s], s ∈ succ(n).
	// Iterate backwards over the instruction order for fast convergence.
	for {
		changed := false
		for i := len(nodes) - 1; i >= 0; i-- {
			n := nodes[i]
			for w := 0; w < words; w++ {
				var out uint64
				for _, s := range n.Succ() {
					out |= liveIn[s][w]
				}
				in := useSet[i][w] | (out &^ defSet[i][w])
				if out != liveOut[i][w] || in != liveIn[i][w] {
					changed = true
					liveOut[i][w] = out
					liveIn[i][w] = in
				}
			}
		}
		if !changed {
			break
		}
	}

	for i, n := range nodes {
		isMove := flow.IsMove[n.idx]
		var moveSrc Node
		if isMove {
			use := flow.Use[n.idx]
			if len(use) != 1 {
				panic("move instruction with more than one source")
			}
			moveSrc = ig.TNode[use[0].ID]
		}
		for _, d := range flow.Def[n.idx] {
			dNode := ig.TNode[d.ID]
			if isMove {
				ig.Moves = append(ig.Moves, [2]Node{dNode, moveSrc})
			}
			for t := 0; t < numTemps; t++ {
				if !isBitSet(liveOut[i], t) {
					continue
				}
				tNode := ig.Graph.Node(t)
				// self moves do not interfere
				if isMove && nodeEq(tNode, moveSrc) {
					continue
				}
				if !nodeEq(dNode, tNode) {
					ig.Graph.MkEdge(dNode, tNode)
				}
			}
		}
	}

	// convert the live-out sets back to temp lists
	liveOuts := map[int][]Temp{}
	for i, n := range nodes {
		var out []Temp
		for t := 0; t < numTemps; t++ {
			if isBitSet(liveOut[i], t) {
				out = append(out, ig.GTemp[t])
			}
		}
		if len(out) > 0 {
			liveOuts[n.idx] = out
		}
	}
	return ig, liveOuts
}

// popcount over a whole bitset
func bitsetCount(s []uint64) int {
	total := 0
	for _, w := range s {
		total += bits.OnesCount64(w)
	}
	return total
}

// igraphShow prints the interference graph for -l: each temp with its
// sorted adjacency, then the move pairs.
func igraphShow(w io.Writer, ig *IGraph) {
	fmt.Fprintf(w, "# ---- Interference Graph ----\n")

	ids := make([]int, 0, len(ig.TNode))
	for id := range ig.TNode {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		fmt.Fprintf(w, "# %d [", id)
		node := ig.TNode[id]
		adjIDs := make([]int, 0)
		for _, a := range node.Adj() {
			adjIDs = append(adjIDs, ig.GTemp[a].ID)
		}
		sort.Ints(adjIDs)
		for _, a := range adjIDs {
			fmt.Fprintf(w, "%d,", a)
		}
		fmt.Fprintf(w, "]\n")
	}
	fmt.Fprintf(w, "# ----------------------------\n")

	fmt.Fprintf(w, "# ----       Moves        ----\n")
	for _, m := range ig.Moves {
		fmt.Fprintf(w, "# %d <- %d\n", ig.GTemp[m[0].idx].ID, ig.GTemp[m[1].idx].ID)
	}
	fmt.Fprintf(w, "# ----------------------------\n")
}
