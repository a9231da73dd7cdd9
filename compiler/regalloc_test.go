package main

import "testing"

// Allocation soundness: rebuild the interference graph over the instruction
// list as coloured, before dead-move removal, and check no interfering pair
// shares a register. The final list is not used for this: once a coalesced
// move is gone its destination temp has no definition left, and liveness
// would report interferences the allocator never saw.
func checkAllocationSound(t *testing.T, f *compiledFunc) {
	t.Helper()
	flow, nodes := instrsToGraph(f.allocated)
	ig, _ := interferenceGraph(flow, nodes)

	for idx := 0; idx < ig.Graph.Len(); idx++ {
		t1 := ig.GTemp[idx]
		r1, ok := f.allocation[t1.ID]
		if !ok {
			t.Errorf("temp %d has no register", t1.ID)
			continue
		}
		for _, a := range ig.Graph.Node(idx).Succ() {
			t2 := ig.GTemp[a]
			r2 := f.allocation[t2.ID]
			if r1 == r2 {
				t.Errorf("interfering temps %d and %d share %s", t1.ID, t2.ID, r1)
			}
		}
	}

	// every surviving move must connect distinct registers; the dead-move
	// pass removed the rest
	for _, instr := range f.instrs {
		if instr.Kind != INSTR_MOVE {
			continue
		}
		if instr.MoveDst.Size == instr.MoveSrc.Size &&
			f.allocation[instr.MoveDst.ID] == f.allocation[instr.MoveSrc.ID] {
			t.Errorf("same-register move survived: %s", instr.Assem)
		}
	}
}

func TestAllocationSoundness(t *testing.T) {
	for _, target := range []*Target{targetX86_64, targetArm64} {
		c := mustCompile(t, canonTestProgram, target)
		for _, f := range c.funcs {
			checkAllocationSound(t, f)
		}
	}
}

func TestAllocationSoundnessWithoutCoalescing(t *testing.T) {
	enableCoalescing = false
	defer func() { enableCoalescing = true }()
	c := mustCompile(t, canonTestProgram, targetX86_64)
	for _, f := range c.funcs {
		checkAllocationSound(t, f)
	}
}

// Every temp left in the final program must be a machine register after
// formatting, i.e. present in the allocation.
func TestNoUnallocatedTemps(t *testing.T) {
	c := mustCompile(t, canonTestProgram, targetArm64)
	for _, f := range c.funcs {
		for _, instr := range f.instrs {
			for _, tm := range append(instr.DstTemps(), instr.SrcTemps()...) {
				if _, ok := f.allocation[tm.ID]; !ok {
					t.Errorf("%s: temp %d unallocated in %q",
						f.frame.Name, tm.ID, instr.Assem)
				}
			}
		}
	}
}

// Spilling must terminate and leave a colourable program.
func TestSpillingConverges(t *testing.T) {
	// a call in the middle keeps many values live across it, forcing
	// callee-save pressure as well
	src := `
fn g(a: int) -> int { a }
fn f(x: int) -> int {
	let a: int = g(x + 1);
	let b: int = g(x + 2);
	let c: int = g(x + 3);
	let d: int = g(x + 4);
	let e: int = g(x + 5);
	a + (b + (c + (d + (e + (a + (b + (c + (d + (e +
	(a + (b + (c + (d + (e + (a + (b + (c + (d + (e + x
	)))))))))))))))))))
}
`
	c := mustCompile(t, src, targetX86_64)
	checkAllocationSound(t, c.fn(t, "f"))
}

func TestInterferenceAcrossCall(t *testing.T) {
	// a value live across a call may not stay in a caller-save register
	src := `
fn g(a: int) -> int { a }
fn f(x: int) -> int { let y: int = x + 1; g(x) + y }
`
	c := mustCompile(t, src, targetX86_64)
	f := c.fn(t, "f")
	checkAllocationSound(t, f)

	// the frame map key label must exist exactly once per call
	rets := 0
	for _, instr := range f.instrs {
		if instr.Kind == INSTR_LABEL && isRetLabel(instr.Label) {
			rets++
		}
	}
	if rets != 1 {
		t.Errorf("got %d ret labels, want 1", rets)
	}
	if len(f.frameMaps) != 1 {
		t.Errorf("got %d frame maps, want 1", len(f.frameMaps))
	}
}
