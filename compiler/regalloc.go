package main

import (
	"fmt"
	"io"
	"math/bits"
	"os"
	"strings"
)

// === Register allocation ===
//
// Iterated graph colouring with conservative (Briggs/George) coalescing.
// Each iteration builds liveness from scratch, colours the interference
// graph, and either finishes or rewrites the program with spill code and
// repeats.

var raDebug = false

// enableCoalescing is a static policy switch; turning it off makes the
// allocator ignore move edges entirely, which is useful when debugging
// miscolourings.
var enableCoalescing = true

// node placement within the algorithm's worklists and sets
type raWhere int8

const (
	raPrecolored raWhere = 1 + iota
	raInitial
	raSimplify
	raFreeze
	raSpill
	raSpilled
	raCoalesced
	raColored
	raSelectStack
)

// move states
type raMoveState int8

const (
	msWorklist raMoveState = 1 + iota
	msActive
	msCoalesced
	msConstrained
	msFrozen
)

type raState struct {
	K int

	ig   *IGraph
	flow *FlowGraph
	// flow-graph nodes, parallel to the instruction list
	flowNodes []Node

	where  []raWhere // by interference node idx
	degree []int
	color  []int
	// adjacency restricted to what colouring needs: built only for
	// non-precoloured nodes
	adjList [][]int
	alias   map[int]int

	simplifyWL []int // stacks with lazy deletion; where[] is authoritative
	freezeWL   []int
	spillWL    []int

	selectStack []int
	coalesced   []int
	spilledNodes []int

	moves     [][2]int // (dst, src) interference node indices
	moveState []raMoveState
	moveList  [][]int // node idx -> move indices
	moveQueue []int   // moves in msWorklist state, with lazy deletion
}

func (ra *raState) getAlias(n int) int {
	for ra.where[n] == raCoalesced {
		n = ra.alias[n]
	}
	return n
}

func (ra *raState) isPrecolored(n int) bool {
	return ra.where[n] == raPrecolored
}

// adjacent yields the adjacency of n minus the select stack and coalesced
// nodes.
func (ra *raState) adjacent(n int) []int {
	out := make([]int, 0, len(ra.adjList[n]))
	for _, m := range ra.adjList[n] {
		if ra.where[m] == raSelectStack || ra.where[m] == raCoalesced {
			continue
		}
		out = append(out, m)
	}
	return out
}

// nodeMoves yields the unprocessed moves involving n.
func (ra *raState) nodeMoves(n int) []int {
	var out []int
	for _, m := range ra.moveList[n] {
		if ra.moveState[m] == msActive || ra.moveState[m] == msWorklist {
			out = append(out, m)
		}
	}
	return out
}

func (ra *raState) isMoveRelated(n int) bool {
	for _, m := range ra.moveList[n] {
		if ra.moveState[m] == msActive || ra.moveState[m] == msWorklist {
			return true
		}
	}
	return false
}

// enableMovesNode moves the active moves involving n's alias back to the
// move worklist.
func (ra *raState) enableMovesNode(n int) {
	a := ra.getAlias(n)
	for m, mv := range ra.moves {
		if ra.moveState[m] != msActive {
			continue
		}
		if ra.getAlias(mv[0]) == a || ra.getAlias(mv[1]) == a {
			ra.moveState[m] = msWorklist
			ra.moveQueue = append(ra.moveQueue, m)
		}
	}
}

func (ra *raState) enableMovesAdj(m int) {
	ra.enableMovesNode(m)
	for _, n := range ra.adjacent(m) {
		ra.enableMovesNode(n)
	}
}

func (ra *raState) decrementDegree(m int) {
	d := ra.degree[m]
	if d == 0 {
		// precoloured nodes, whose degree is never tracked
		return
	}
	ra.degree[m] = d - 1
	if d == ra.K {
		// dropping from K to K-1 may enable moves of the neighbours
		ra.enableMovesAdj(m)
		if ra.where[m] == raSpill {
			if ra.isMoveRelated(m) {
				ra.where[m] = raFreeze
				ra.freezeWL = append(ra.freezeWL, m)
			} else {
				ra.where[m] = raSimplify
				ra.simplifyWL = append(ra.simplifyWL, m)
			}
		}
	}
}

// simplify removes a low-degree non-move-related node and pushes it on the
// select stack.
func (ra *raState) simplify() {
	var n int
	for {
		n = ra.simplifyWL[len(ra.simplifyWL)-1]
		ra.simplifyWL = ra.simplifyWL[:len(ra.simplifyWL)-1]
		if ra.where[n] == raSimplify {
			break
		}
	}
	ra.where[n] = raSelectStack
	ra.selectStack = append(ra.selectStack, n)
	for _, m := range ra.adjacent(n) {
		ra.decrementDegree(m)
	}
}

// hasSimplify etc. scan for a live entry, discarding stale ones.
func (ra *raState) hasWork(wl *[]int, expect raWhere) bool {
	for len(*wl) > 0 {
		n := (*wl)[len(*wl)-1]
		if ra.where[n] == expect {
			return true
		}
		*wl = (*wl)[:len(*wl)-1]
	}
	return false
}

func (ra *raState) hasMoveWork() bool {
	for len(ra.moveQueue) > 0 {
		m := ra.moveQueue[len(ra.moveQueue)-1]
		if ra.moveState[m] == msWorklist {
			return true
		}
		ra.moveQueue = ra.moveQueue[:len(ra.moveQueue)-1]
	}
	return false
}

// ok implements the George test for one neighbour t of v against the
// precoloured u.
func (ra *raState) ok(t, r int) bool {
	return ra.degree[t] < ra.K ||
		ra.isPrecolored(t) ||
		ra.ig.Graph.IsAdj(ra.ig.Graph.Node(t), ra.ig.Graph.Node(r))
}

func (ra *raState) allAdjacentOK(u, v int) bool {
	for _, t := range ra.adjacent(v) {
		if !ra.ok(t, u) {
			return false
		}
	}
	return true
}

// conservativeAdj implements the Briggs test: the union of the adjacencies
// of u and v must contain fewer than K nodes of significant degree.
func (ra *raState) conservativeAdj(u, v int) bool {
	seen := map[int]bool{}
	k := 0
	for _, n := range ra.adjacent(u) {
		seen[n] = true
		if ra.degree[n] >= ra.K {
			k++
		}
	}
	for _, n := range ra.adjacent(v) {
		if !seen[n] && ra.degree[n] >= ra.K {
			k++
		}
	}
	return k < ra.K
}

func (ra *raState) addWorkList(u int) {
	if !ra.isPrecolored(u) && !ra.isMoveRelated(u) && ra.degree[u] < ra.K {
		if ra.where[u] == raFreeze {
			ra.where[u] = raSimplify
			ra.simplifyWL = append(ra.simplifyWL, u)
		}
	}
}

// addEdgeHelper increments u's degree and records v in its adjacency.
func (ra *raState) addEdgeHelper(u, v int) {
	if ra.isPrecolored(u) {
		panic("addEdgeHelper: precoloured node")
	}
	ra.degree[u]++
	ra.adjList[u] = append(ra.adjList[u], v)
}

func (ra *raState) addEdge(u, v int) {
	g := ra.ig.Graph
	if u == v || g.IsAdj(g.Node(u), g.Node(v)) {
		return
	}
	g.MkEdge(g.Node(u), g.Node(v))
	if !ra.isPrecolored(u) {
		ra.addEdgeHelper(u, v)
	}
	if !ra.isPrecolored(v) {
		ra.addEdgeHelper(v, u)
	}
}

func (ra *raState) combine(u, v int) {
	ra.where[v] = raCoalesced
	ra.coalesced = append(ra.coalesced, v)
	ra.alias[v] = u

	ra.moveList[u] = append(ra.moveList[u], ra.moveList[v]...)
	ra.enableMovesNode(v)

	for _, t := range ra.adjacent(v) {
		ra.addEdge(t, u)
		ra.decrementDegree(t)
	}

	if ra.degree[u] >= ra.K && ra.where[u] == raFreeze {
		ra.where[u] = raSpill
		ra.spillWL = append(ra.spillWL, u)
	}
}

// coalesce processes one move from the worklist, classifying it as already
// coalesced, constrained, conservatively safe to merge, or not yet
// decidable.
func (ra *raState) coalesce() {
	var m int
	for {
		m = ra.moveQueue[len(ra.moveQueue)-1]
		ra.moveQueue = ra.moveQueue[:len(ra.moveQueue)-1]
		if ra.moveState[m] == msWorklist {
			break
		}
	}

	x := ra.getAlias(ra.moves[m][0])
	y := ra.getAlias(ra.moves[m][1])

	var u, v int
	if ra.isPrecolored(y) {
		u, v = y, x
	} else {
		u, v = x, y
	}

	g := ra.ig.Graph
	switch {
	case u == v:
		ra.moveState[m] = msCoalesced
		ra.addWorkList(u)
	case ra.isPrecolored(v) || g.IsAdj(g.Node(u), g.Node(v)):
		ra.moveState[m] = msConstrained
		ra.addWorkList(u)
		ra.addWorkList(v)
	default:
		uPre := ra.isPrecolored(u)
		if (uPre && ra.allAdjacentOK(u, v)) ||
			(!uPre && ra.conservativeAdj(u, v)) {
			ra.moveState[m] = msCoalesced
			ra.combine(u, v)
			ra.addWorkList(u)
		} else {
			ra.moveState[m] = msActive
		}
	}
}

func (ra *raState) freezeMoves(u int) {
	for _, m := range ra.nodeMoves(u) {
		x := ra.getAlias(ra.moves[m][0])
		y := ra.getAlias(ra.moves[m][1])

		var v int
		if y == ra.getAlias(u) {
			v = x
		} else {
			v = y
		}

		ra.moveState[m] = msFrozen

		if !ra.isMoveRelated(v) && ra.degree[v] < ra.K {
			if ra.where[v] == raFreeze {
				ra.where[v] = raSimplify
				ra.simplifyWL = append(ra.simplifyWL, v)
			}
		}
	}
}

// freeze gives up on the moves of one low-degree move-related node.
func (ra *raState) freeze() {
	var u int
	for {
		u = ra.freezeWL[len(ra.freezeWL)-1]
		ra.freezeWL = ra.freezeWL[:len(ra.freezeWL)-1]
		if ra.where[u] == raFreeze {
			break
		}
	}
	ra.where[u] = raSimplify
	ra.simplifyWL = append(ra.simplifyWL, u)
	ra.freezeMoves(u)
}

// spillCost is the number of uses and defs in the flow graph.
func (ra *raState) spillCost(n int) int {
	t := ra.ig.GTemp[n]
	cost := 0
	for _, fn := range ra.flowNodes {
		for _, u := range ra.flow.Use[fn.idx] {
			if u.ID == t.ID {
				cost++
				break
			}
		}
		for _, d := range ra.flow.Def[fn.idx] {
			if d.ID == t.ID {
				cost++
				break
			}
		}
	}
	return cost
}

// selectSpill picks the spill-worklist node with minimal cost and optimistically
// pushes it through simplify.
func (ra *raState) selectSpill() {
	best := -1
	bestCost := 0
	live := ra.spillWL[:0]
	for _, n := range ra.spillWL {
		if ra.where[n] != raSpill {
			continue
		}
		live = append(live, n)
		c := ra.spillCost(n)
		if best < 0 || c < bestCost ||
			(c == bestCost && ra.ig.GTemp[n].ID < ra.ig.GTemp[best].ID) {
			best = n
			bestCost = c
		}
	}
	ra.spillWL = live
	if best < 0 {
		panic("selectSpill: empty spill worklist")
	}

	ra.where[best] = raSimplify
	ra.simplifyWL = append(ra.simplifyWL, best)
	ra.freezeMoves(best)
}

func (ra *raState) assignColors() {
	for len(ra.selectStack) > 0 {
		n := ra.selectStack[len(ra.selectStack)-1]
		ra.selectStack = ra.selectStack[:len(ra.selectStack)-1]

		if ra.K > 64 {
			panic("more than 64 registers")
		}
		okColors := uint64(1)<<uint(ra.K) - 1

		for _, w := range ra.adjList[n] {
			a := ra.getAlias(w)
			if ra.where[a] == raColored || ra.where[a] == raPrecolored {
				okColors &^= 1 << uint(ra.color[a])
			}
		}

		if okColors == 0 {
			if raDebug {
				fmt.Fprintf(os.Stderr, "spill t%d\n", ra.ig.GTemp[n].ID)
			}
			ra.where[n] = raSpilled
			ra.spilledNodes = append(ra.spilledNodes, n)
		} else {
			ra.where[n] = raColored
			ra.color[n] = bits.TrailingZeros64(okColors)
		}
	}

	for _, n := range ra.coalesced {
		ra.color[n] = ra.color[ra.getAlias(n)]
	}
}

// raColor runs one colouring over the interference graph. It returns the
// allocation (temp id -> register name) and the temps that must be spilled.
func raColor(ig *IGraph, flow *FlowGraph, flowNodes []Node,
	initialAllocation map[int]string, registers []string) (map[int]string, []Temp) {

	count := ig.Graph.Len()
	ra := &raState{
		K:         len(initialAllocation),
		ig:        ig,
		flow:      flow,
		flowNodes: flowNodes,
		where:     make([]raWhere, count),
		degree:    make([]int, count),
		color:     make([]int, count),
		adjList:   make([][]int, count),
		alias:     map[int]int{},
		moveList:  make([][]int, count),
	}

	var initial []int
	for idx := 0; idx < count; idx++ {
		t := ig.GTemp[idx]
		if _, ok := initialAllocation[t.ID]; ok {
			ra.where[idx] = raPrecolored
			ra.color[idx] = t.ID
		} else {
			ra.where[idx] = raInitial
			initial = append(initial, idx)
		}
	}
	// build degrees and adjacency for the non-precoloured nodes
	for _, idx := range initial {
		for _, a := range ig.Graph.Node(idx).Adj() {
			ra.addEdgeHelper(idx, a)
		}
	}

	if enableCoalescing {
		for i, m := range ig.Moves {
			ra.moves = append(ra.moves, [2]int{m[0].idx, m[1].idx})
			ra.moveState = append(ra.moveState, msWorklist)
			ra.moveQueue = append(ra.moveQueue, i)
			ra.moveList[m[0].idx] = append(ra.moveList[m[0].idx], i)
			ra.moveList[m[1].idx] = append(ra.moveList[m[1].idx], i)
		}
	}

	// MakeWorklist
	for _, n := range initial {
		if ra.degree[n] >= ra.K {
			ra.where[n] = raSpill
			ra.spillWL = append(ra.spillWL, n)
		} else if enableCoalescing && ra.isMoveRelated(n) {
			ra.where[n] = raFreeze
			ra.freezeWL = append(ra.freezeWL, n)
		} else {
			ra.where[n] = raSimplify
			ra.simplifyWL = append(ra.simplifyWL, n)
		}
	}

	for {
		if ra.hasWork(&ra.simplifyWL, raSimplify) {
			ra.simplify()
		} else if ra.hasMoveWork() {
			ra.coalesce()
		} else if ra.hasWork(&ra.freezeWL, raFreeze) {
			ra.freeze()
		} else if ra.hasWork(&ra.spillWL, raSpill) {
			ra.selectSpill()
		} else {
			break
		}
	}

	ra.assignColors()

	var spills []Temp
	for _, n := range ra.spilledNodes {
		spills = append(spills, ig.GTemp[n])
	}

	allocation := map[int]string{}
	for idx := 0; idx < count; idx++ {
		t := ig.GTemp[idx]
		switch ra.where[idx] {
		case raPrecolored:
			allocation[t.ID] = initialAllocation[t.ID]
		case raColored:
			allocation[t.ID] = registers[ra.color[idx]]
		case raCoalesced:
			if ra.where[ra.getAlias(idx)] == raSpilled {
				continue
			}
			allocation[t.ID] = registers[ra.color[idx]]
		}
	}
	return allocation, spills
}

// === Spill rewriting ===

func replaceTemp(list []Temp, old, new Temp) {
	for i := range list {
		if list[i].ID == old.ID {
			list[i] = new
		}
	}
}

// spillTemp allocates a stack slot for the temp, renames each def and use
// to a fresh temp, and inserts a store after every def and a load before
// every use.
func spillTemp(ts *TempState, frame *Frame, instrs []*Instr, spill Temp) []*Instr {
	if raDebug {
		fmt.Fprintf(os.Stderr, "spilling temp: %d\n", spill.ID)
	}
	backend := frame.Target.Backend
	v := frame.SpillTemporary(spill)

	out := make([]*Instr, 0, len(instrs)+8)
	for _, instr := range instrs {
		switch instr.Kind {
		case INSTR_OPER:
			var store *Instr
			if tempListContains(instr.Dst, spill) {
				t := ts.NewTemp(spill.Size, spill.Dispo)
				replaceTemp(instr.Dst, spill, t)
				store = backend.StoreTemp(v, t)
			}
			if tempListContains(instr.Src, spill) {
				t := ts.NewTemp(spill.Size, spill.Dispo)
				replaceTemp(instr.Src, spill, t)
				out = append(out, backend.LoadTemp(v, t))
			}
			out = append(out, instr)
			if store != nil {
				out = append(out, store)
			}
		case INSTR_LABEL:
			out = append(out, instr)
		case INSTR_MOVE:
			var store *Instr
			if instr.MoveDst.ID == spill.ID {
				t := ts.NewTemp(spill.Size, spill.Dispo)
				instr.MoveDst = t
				store = backend.StoreTemp(v, t)
			}
			if instr.MoveSrc.ID == spill.ID {
				t := ts.NewTemp(spill.Size, spill.Dispo)
				instr.MoveSrc = t
				out = append(out, backend.LoadTemp(v, t))
			}
			out = append(out, instr)
			if store != nil {
				out = append(out, store)
			}
		}
	}
	return out
}

// removeDeadMoves drops moves whose operands were allocated the same
// register.
func removeDeadMoves(allocation map[int]string, instrs []*Instr) []*Instr {
	out := instrs[:0]
	for _, instr := range instrs {
		if instr.Kind == INSTR_MOVE &&
			instr.MoveDst.Size == instr.MoveSrc.Size {
			dstReg, okd := allocation[instr.MoveDst.ID]
			srcReg, oks := allocation[instr.MoveSrc.ID]
			if !okd || !oks {
				panic("unallocated temp survived allocation")
			}
			if dstReg == srcReg {
				continue
			}
		}
		out = append(out, instr)
	}
	return out
}

// === Driver ===

// retLabelPrefix marks the labels placed after call instructions, which key
// the frame maps.
const retLabelPrefix = "ret"

func isRetLabel(l Symbol) bool {
	return strings.HasPrefix(l, retLabelPrefix)
}

type allocResult struct {
	instrs     []*Instr
	allocated  []*Instr // instrs as coloured, before dead-move removal
	allocation map[int]string
}

// regAlloc replaces every non-machine temp in the instruction list with a
// machine register, spilling to the frame when needed.
//
// As a side product it fills labelToCSBitmap with, per call-site return
// label, the callee-save pointer-disposition bitmap (two bits per register:
// 00 none, 01 pointer, 10 inherit), and labelToSpillLive with the spilled
// temps live across each call site; both feed the emitted frame maps.
func regAlloc(out io.Writer, ts *TempState, instrs []*Instr, frame *Frame,
	stopAfterLiveness bool,
	labelToCSBitmap map[Symbol]uint32,
	labelToSpillLive map[Symbol][]Temp) allocResult {

	target := frame.Target
	initialAllocation := target.TempMap()

	for {
		flow, flowNodes := instrsToGraph(instrs)
		ig, liveOuts := interferenceGraph(flow, flowNodes)

		if stopAfterLiveness {
			igraphShow(out, ig)
			return allocResult{}
		}

		allocation, spills := raColor(ig, flow, flowNodes,
			initialAllocation, target.RegisterNames)

		if len(spills) > 0 {
			if raDebug {
				fmt.Fprintf(os.Stderr, "%s: spilling %d temps\n", frame.Name, len(spills))
			}
			// record, per call site, which of the spilled temps are live
			// there; the slots keep their values over exactly those ranges
			for i, instr := range instrs {
				if instr.Kind != INSTR_LABEL || !isRetLabel(instr.Label) {
					continue
				}
				for _, t := range liveOuts[flowNodes[i].idx] {
					if tempListContains(spills, t) &&
						!tempListContains(labelToSpillLive[instr.Label], t) {
						labelToSpillLive[instr.Label] =
							append(labelToSpillLive[instr.Label], t)
					}
				}
			}
			for _, t := range spills {
				instrs = spillTemp(ts, frame, instrs, t)
			}
			continue
		}

		// success: derive the callee-save bitmaps for each call site
		csIndexByReg := map[string]int{}
		for i, cs := range target.CalleeSaves {
			csIndexByReg[target.RegisterNames[cs.ID]] = i
		}
		for i, instr := range instrs {
			if instr.Kind != INSTR_LABEL || !isRetLabel(instr.Label) {
				continue
			}
			var bitmap uint32
			for _, t := range liveOuts[flowNodes[i].idx] {
				reg, ok := allocation[t.ID]
				if !ok {
					continue
				}
				idx, isCS := csIndexByReg[reg]
				if !isCS {
					continue
				}
				switch t.Dispo {
				case DISPO_PTR:
					bitmap |= 1 << uint(2*idx)
				case DISPO_INHERIT:
					bitmap |= 2 << uint(2*idx)
				}
			}
			labelToCSBitmap[instr.Label] = bitmap
		}

		allocated := append([]*Instr(nil), instrs...)
		instrs = removeDeadMoves(allocation, instrs)
		return allocResult{instrs: instrs, allocated: allocated, allocation: allocation}
	}
}
