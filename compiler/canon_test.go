package main

import "testing"

// Properties of the canonicalised tree: no ESeq, calls only at the top of
// Exp or Move(Temp, ..), all jump targets defined, false labels in place.

func checkNoESeq(t *testing.T, s *TreeStm) {
	t.Helper()
	var walkExp func(e *TreeExp)
	walkExp = func(e *TreeExp) {
		if e == nil {
			return
		}
		switch e.Kind {
		case TREE_EXP_ESEQ:
			t.Errorf("eseq survived canonicalisation: %s", e)
		case TREE_EXP_BINOP:
			walkExp(e.Lhs)
			walkExp(e.Rhs)
		case TREE_EXP_MEM:
			walkExp(e.Addr)
		case TREE_EXP_CALL:
			walkExp(e.Func)
			for _, a := range e.Args {
				walkExp(a)
			}
		}
	}
	switch s.Kind {
	case TREE_STM_MOVE:
		walkExp(s.Dst)
		walkExp(s.Src)
	case TREE_STM_EXP:
		walkExp(s.Exp)
	case TREE_STM_JUMP:
		walkExp(s.JumpDst)
	case TREE_STM_CJUMP:
		walkExp(s.CmpLhs)
		walkExp(s.CmpRhs)
	case TREE_STM_SEQ:
		t.Errorf("seq survived linearisation: %s", s)
	}
}

func checkCallPositions(t *testing.T, s *TreeStm) {
	t.Helper()
	// a call may sit directly under Exp or under Move(Temp, ..); anywhere
	// else is a violation
	var walkExp func(e *TreeExp, topOK bool)
	walkExp = func(e *TreeExp, topOK bool) {
		if e == nil {
			return
		}
		switch e.Kind {
		case TREE_EXP_CALL:
			if !topOK {
				t.Errorf("nested call survived canonicalisation: %s", e)
			}
			walkExp(e.Func, false)
			for _, a := range e.Args {
				walkExp(a, false)
			}
		case TREE_EXP_BINOP:
			walkExp(e.Lhs, false)
			walkExp(e.Rhs, false)
		case TREE_EXP_MEM:
			walkExp(e.Addr, false)
		}
	}
	switch s.Kind {
	case TREE_STM_MOVE:
		walkExp(s.Dst, false)
		walkExp(s.Src, s.Dst.Kind == TREE_EXP_TEMP)
	case TREE_STM_EXP:
		walkExp(s.Exp, true)
	case TREE_STM_JUMP:
		walkExp(s.JumpDst, false)
	case TREE_STM_CJUMP:
		walkExp(s.CmpLhs, false)
		walkExp(s.CmpRhs, false)
	}
}

func checkFalseLabelsFollow(t *testing.T, stms []*TreeStm) {
	t.Helper()
	for i, s := range stms {
		if s.Kind != TREE_STM_CJUMP {
			continue
		}
		if i+1 >= len(stms) || stms[i+1].Kind != TREE_STM_LABEL ||
			stms[i+1].Label != s.FalseLabel {
			t.Errorf("cjump's false label %s does not follow it", s.FalseLabel)
		}
	}
}

const canonTestProgram = `
struct N { v: int, n: *N }
fn fib(n: int) -> int {
	if n < 2 { n } else { fib(n - 1) + fib(n - 2) }
}
fn build(n: int) -> *N {
	if n == 0 { new N(0, 0) } else { new N(n, build(n - 1)) }
}
fn sum(l: *N) -> int {
	let t: int = 0;
	loop {
		if l == 0 { break };
		let v: int = (*l).v;
		t
	};
	t
}
fn main() -> int {
	sum(build(10)) + fib(7 * 2 / 2 - 5)
}
`

func TestCanonicalProperties(t *testing.T) {
	for _, target := range []*Target{targetX86_64, targetArm64} {
		_, fragments := mustTranslate(t, canonTestProgram, target)
		for _, frag := range fragments {
			if frag.Kind != FRAG_CODE {
				continue
			}
			if len(frag.Stms) == 0 {
				t.Fatalf("%s: no canonical statements", frag.Frame.Name)
			}
			for _, s := range frag.Stms {
				checkNoESeq(t, s)
				checkCallPositions(t, s)
			}
			verifyStatements(frag.Stms, "", "test")
			checkFalseLabelsFollow(t, frag.Stms)
		}
	}
}

// A move whose destination is an ESEQ must run the ESEQ's statement (here
// the assignment to t) before the store whose address depends on it.
func TestMoveESeqDestination(t *testing.T) {
	info := &canonInfo{ts: NewTempState(), target: targetX86_64}

	tmp := info.ts.NewTemp(8, DISPO_NOT_PTR)
	fp := treeTemp(targetX86_64.FP, 8, treeTypePtr(treeTypeVoid))
	// MOVE(ESEQ(MOVE(t, 1), MEM(fp + t)), 2): the destination address is
	// only valid after the eseq's statement ran
	dst := treeESeq(
		treeMove(treeTemp(tmp, 8, treeTypeInt), treeConst(1, 8, treeTypeInt)),
		treeMem(treeBinOp(TREE_BINOP_PLUS, fp, treeTemp(tmp, 8, treeTypeInt)),
			8, treeTypeInt))
	move := treeMove(dst, treeConst(2, 8, treeTypeInt))

	stms := linearise(info, move)
	if len(stms) < 2 {
		t.Fatalf("expected the eseq statement to be sequenced out, got %d stms", len(stms))
	}
	for _, s := range stms {
		checkNoESeq(t, s)
	}
	// the temp assignment must come before the store through it
	sawAssign := false
	for _, s := range stms {
		if s.Kind == TREE_STM_MOVE && s.Dst.Kind == TREE_EXP_TEMP &&
			s.Dst.Temp.ID == tmp.ID {
			sawAssign = true
		}
		if s.Kind == TREE_STM_MOVE && s.Dst.Kind == TREE_EXP_MEM {
			if !sawAssign {
				t.Errorf("store reordered before its address computation")
			}
		}
	}
}

func TestDeadCodeBetweenJumpAndLabelDropped(t *testing.T) {
	src := `fn f() -> int { loop { return 3 } }`
	_, fragments := mustTranslate(t, src, targetX86_64)
	for _, frag := range fragments {
		if frag.Kind != FRAG_CODE {
			continue
		}
		// every jump must be the last statement before a label or the end
		for i, s := range frag.Stms {
			if s.Kind != TREE_STM_JUMP {
				continue
			}
			if i+1 < len(frag.Stms) && frag.Stms[i+1].Kind != TREE_STM_LABEL {
				t.Errorf("dead statement after jump: %s", frag.Stms[i+1])
			}
		}
	}
}
