package main

import (
	"fmt"
	"os"
)

// === Canonicalisation ===
//
// Transforms arbitrary tree IR so that
//  1. no ESeq appears anywhere;
//  2. every Call is the immediate child of Exp(..) or Move(Temp t, ..);
//  3. the code is partitioned into basic blocks and rescheduled into traces
//     that place each conditional branch's false label directly after it.

var canonDebug = false

type canonInfo struct {
	ts     *TempState
	target *Target
}

type stmExpPair struct {
	stm *TreeStm
	exp *TreeExp
}

func isNop(s *TreeStm) bool {
	return s.Kind == TREE_STM_EXP && s.Exp.Kind == TREE_EXP_CONST
}

// isConstExp holds for expressions whose value cannot change across any
// statement. The frame pointer is constant for the duration of the body.
func isConstExp(target *Target, e *TreeExp) bool {
	return e.Kind == TREE_EXP_CONST ||
		(e.Kind == TREE_EXP_TEMP && e.Temp.ID == target.FP.ID) ||
		(e.Kind == TREE_EXP_BINOP &&
			isConstExp(target, e.Lhs) && isConstExp(target, e.Rhs))
}

// seq combines statements, dropping no-ops.
func seqStm(s1, s2 *TreeStm) *TreeStm {
	if isNop(s1) {
		return s2
	}
	if isNop(s2) {
		return s1
	}
	return treeSeq(s1, s2)
}

func mayDefineTemps(info *canonInfo, s *TreeStm, e *TreeExp) bool {
	switch e.Kind {
	case TREE_EXP_CONST, TREE_EXP_NAME:
		return false
	case TREE_EXP_TEMP:
		// non-fp machine registers are easily clobbered by calls
		if e.Temp.IsMachine() && e.Temp.ID != info.target.FP.ID {
			return true
		}
		switch s.Kind {
		case TREE_STM_MOVE:
			if s.Dst.Kind == TREE_EXP_TEMP && s.Dst.Temp.ID == e.Temp.ID {
				return true
			}
			// the key result: this move does not define this temp
			return false
		case TREE_STM_EXP:
			// calls themselves do not define non-machine temps
			return false
		case TREE_STM_JUMP, TREE_STM_CJUMP, TREE_STM_LABEL:
			return true
		case TREE_STM_SEQ:
			return mayDefineTemps(info, s.S1, e) || mayDefineTemps(info, s.S2, e)
		}
		return true
	case TREE_EXP_BINOP:
		return mayDefineTemps(info, s, e.Lhs) || mayDefineTemps(info, s, e.Rhs)
	case TREE_EXP_MEM:
		return true
	case TREE_EXP_CALL:
		return true
	case TREE_EXP_ESEQ:
		panic("mayDefineTemps: eseq should have been removed")
	}
	panic("mayDefineTemps: bad tag")
}

// commute reports whether the statement s and the expression e can be
// reordered past each other. e has already had its ESeqs removed and has no
// nested call.
func commute(info *canonInfo, s *TreeStm, e *TreeExp) bool {
	if isNop(s) || e.Kind == TREE_EXP_NAME || isConstExp(info.target, e) {
		return true
	}
	return !mayDefineTemps(info, s, e)
}

// reorder pulls the statements out of a list of sub-expressions, hoisting a
// value into a fresh temp whenever the statements that follow it do not
// commute with it. Calls are always hoisted so they cannot nest.
func reorder(info *canonInfo, es []*TreeExp) (*TreeStm, []*TreeExp) {
	if len(es) == 0 {
		return treeExpStm(treeConst(0, info.target.WordSize, treeTypeVoid)), nil
	}
	head := es[0]
	if head.Kind == TREE_EXP_CALL {
		t := info.ts.NewTemp(head.Size, treeDispoFromType(head.Type))
		newHead := treeESeq(
			treeMove(treeTemp(t, head.Size, head.Type), head),
			treeTemp(t, head.Size, head.Type))
		es2 := append([]*TreeExp{newHead}, es[1:]...)
		return reorder(info, es2)
	}

	stms, e := doExp(info, head)
	stms2, el := reorder(info, es[1:])

	if commute(info, stms2, e) {
		return seqStm(stms, stms2), append([]*TreeExp{e}, el...)
	}
	if canonDebug {
		fmt.Fprintf(os.Stderr, "do not commute: %s <-> %s\n", stms2, e)
	}
	t := info.ts.NewTemp(e.Size, treeDispoFromType(e.Type))
	stm := seqStm(seqStm(stms,
		treeMove(treeTemp(t, e.Size, e.Type), e)),
		stms2)
	return stm, append([]*TreeExp{treeTemp(t, e.Size, e.Type)}, el...)
}

func reorderExp(info *canonInfo, el []*TreeExp, build func([]*TreeExp) *TreeExp) stmExpPair {
	stms, el2 := reorder(info, el)
	return stmExpPair{stm: stms, exp: build(el2)}
}

func reorderStm(info *canonInfo, el []*TreeExp, build func([]*TreeExp) *TreeStm) *TreeStm {
	stms, el2 := reorder(info, el)
	return seqStm(stms, build(el2))
}

func doExp(info *canonInfo, e *TreeExp) (*TreeStm, *TreeExp) {
	switch e.Kind {
	case TREE_EXP_BINOP:
		p := reorderExp(info, []*TreeExp{e.Lhs, e.Rhs}, func(el []*TreeExp) *TreeExp {
			op := treeBinOp(e.Op, el[0], el[1])
			op.Size = e.Size
			op.Type = e.Type
			return op
		})
		return p.stm, p.exp
	case TREE_EXP_MEM:
		p := reorderExp(info, []*TreeExp{e.Addr}, func(el []*TreeExp) *TreeExp {
			return treeMem(el[0], e.Size, e.Type)
		})
		return p.stm, p.exp
	case TREE_EXP_ESEQ:
		stms := doStm(info, e.Stm)
		stms2, e3 := doExp(info, e.Exp)
		return seqStm(stms, stms2), e3
	case TREE_EXP_CALL:
		el := append([]*TreeExp{e.Func}, e.Args...)
		p := reorderExp(info, el, func(el []*TreeExp) *TreeExp {
			return treeCall(el[0], el[1:], e.Size, e.Type, e.PtrMap)
		})
		return p.stm, p.exp
	default:
		p := reorderExp(info, nil, func([]*TreeExp) *TreeExp { return e })
		return p.stm, p.exp
	}
}

func doStm(info *canonInfo, s *TreeStm) *TreeStm {
	switch s.Kind {
	case TREE_STM_SEQ:
		return seqStm(doStm(info, s.S1), doStm(info, s.S2))
	case TREE_STM_JUMP:
		return reorderStm(info, []*TreeExp{s.JumpDst}, func(el []*TreeExp) *TreeStm {
			return treeJump(el[0], s.JumpLabels)
		})
	case TREE_STM_CJUMP:
		return reorderStm(info, []*TreeExp{s.CmpLhs, s.CmpRhs}, func(el []*TreeExp) *TreeStm {
			return treeCJump(s.Relop, el[0], el[1], s.TrueLabel, s.FalseLabel)
		})
	case TREE_STM_MOVE:
		if s.Dst.Kind == TREE_EXP_TEMP {
			if s.Src.Kind == TREE_EXP_CALL {
				call := s.Src
				el := append([]*TreeExp{call.Func}, call.Args...)
				return reorderStm(info, el, func(el []*TreeExp) *TreeStm {
					return treeMove(s.Dst,
						treeCall(el[0], el[1:], call.Size, call.Type, call.PtrMap))
				})
			}
			return reorderStm(info, []*TreeExp{s.Src}, func(el []*TreeExp) *TreeStm {
				return treeMove(s.Dst, el[0])
			})
		}
		if s.Dst.Kind == TREE_EXP_MEM {
			return reorderStm(info, []*TreeExp{s.Dst.Addr, s.Src}, func(el []*TreeExp) *TreeStm {
				return treeMove(treeMem(el[0], s.Dst.Size, s.Dst.Type), el[1])
			})
		}
		if s.Dst.Kind == TREE_EXP_ESEQ {
			// probably unreachable after Ex/Nx/Cx materialisation, but
			// handled for safety: re-sequence the destination's statement
			asSeq := treeSeq(s.Dst.Stm, treeMove(s.Dst.Exp, s.Src))
			return doStm(info, asSeq)
		}
		return reorderStm(info, nil, func([]*TreeExp) *TreeStm { return s })
	case TREE_STM_EXP:
		if s.Exp.Kind == TREE_EXP_CALL {
			call := s.Exp
			el := append([]*TreeExp{call.Func}, call.Args...)
			return reorderStm(info, el, func(el []*TreeExp) *TreeStm {
				return treeExpStm(
					treeCall(el[0], el[1:], call.Size, call.Type, call.PtrMap))
			})
		}
		return reorderStm(info, []*TreeExp{s.Exp}, func(el []*TreeExp) *TreeStm {
			return treeExpStm(el[0])
		})
	case TREE_STM_LABEL:
		return reorderStm(info, nil, func([]*TreeExp) *TreeStm { return s })
	}
	panic("doStm: bad tag")
}

// linearise removes every Seq and ESeq, producing a flat statement list
// satisfying the canonical-tree conditions 1 and 2.
func linearise(info *canonInfo, s *TreeStm) []*TreeStm {
	var out []*TreeStm
	var linear func(s *TreeStm)
	linear = func(s *TreeStm) {
		if s.Kind == TREE_STM_SEQ {
			linear(s.S1)
			linear(s.S2)
			return
		}
		out = append(out, s)
	}
	linear(doStm(info, s))
	return out
}

// === Basic blocks ===

type basicBlock []*TreeStm

type basicBlocks struct {
	blocks   []basicBlock
	endLabel Symbol
}

// makeBasicBlocks partitions the statement list into blocks that start with
// a label and end with a jump or cjump. Dead statements between a jump and
// the next label are dropped.
func makeBasicBlocks(info *canonInfo, stmts []*TreeStm) basicBlocks {
	done := info.ts.NewLabel()
	result := basicBlocks{endLabel: done}

	if len(stmts) == 0 || stmts[0].Kind != TREE_STM_LABEL {
		stmts = append([]*TreeStm{treeLabel(info.ts.NewLabel())}, stmts...)
	}

	var curr basicBlock
	i := 0
	for i < len(stmts) {
		s := stmts[i]
		i++

		if curr == nil {
			if s.Kind != TREE_STM_LABEL {
				panic("block does not start with a label")
			}
		}
		curr = append(curr, s)

		if s.Kind == TREE_STM_JUMP || s.Kind == TREE_STM_CJUMP {
			// anything before the next label is unreachable
			for i < len(stmts) && stmts[i].Kind != TREE_STM_LABEL {
				if canonDebug {
					fmt.Fprintf(os.Stderr, "deleting dead code: %s\n", stmts[i])
				}
				i++
			}
		}

		if i == len(stmts) || stmts[i].Kind == TREE_STM_LABEL {
			if s.Kind != TREE_STM_JUMP && s.Kind != TREE_STM_CJUMP {
				dst := done
				if i < len(stmts) {
					dst = stmts[i].Label
				}
				curr = append(curr, unconditionalJump(dst))
			}
			result.blocks = append(result.blocks, curr)
			curr = nil
		}
	}
	if curr != nil {
		panic("unterminated final block")
	}
	return result
}

func labelForBlock(b basicBlock) Symbol {
	if b[0].Kind != TREE_STM_LABEL {
		panic("block does not start with a label")
	}
	return b[0].Label
}

func lastStmInBlock(b basicBlock) *TreeStm {
	s := b[len(b)-1]
	if s.Kind != TREE_STM_JUMP && s.Kind != TREE_STM_CJUMP {
		panic("block does not end with a jump")
	}
	return s
}

// === Trace scheduling ===

// traceSchedule orders the blocks so that, as far as possible, each
// conditional branch is followed by its false label, then flattens back to
// a statement list and applies two peepholes.
func traceSchedule(info *canonInfo, blocks basicBlocks) []*TreeStm {
	unmarked := map[Symbol]int{} // label -> index into blocks, present = unmarked
	for i, b := range blocks.blocks {
		unmarked[labelForBlock(b)] = i
	}

	var stmtsInOrder []*TreeStm
	for _, b := range blocks.blocks {
		// pick the next unmarked block, walk its likely successors
		if _, ok := unmarked[labelForBlock(b)]; !ok {
			continue
		}
		for {
			delete(unmarked, labelForBlock(b))
			stmtsInOrder = append(stmtsInOrder, b...)

			last := lastStmInBlock(b)
			next := -1
			if last.Kind == TREE_STM_JUMP {
				for _, lbl := range last.JumpLabels {
					if idx, ok := unmarked[lbl]; ok {
						next = idx
						break
					}
				}
			} else {
				// prefer the false branch so it can fall through
				if idx, ok := unmarked[last.FalseLabel]; ok {
					next = idx
				} else if idx, ok := unmarked[last.TrueLabel]; ok {
					next = idx
				}
			}
			if next < 0 {
				break
			}
			b = blocks.blocks[next]
		}
	}
	stmtsInOrder = append(stmtsInOrder, treeLabel(blocks.endLabel))

	for removeRedundantUnconditionalJumps(&stmtsInOrder) > 0 {
	}
	stmtsInOrder = putFalsesAfterCJumps(info, stmtsInOrder)
	return stmtsInOrder
}

// removeRedundantUnconditionalJumps deletes jumps that target the label
// immediately following them.
func removeRedundantUnconditionalJumps(pstmts *[]*TreeStm) int {
	stmts := *pstmts
	ops := 0
	out := stmts[:0]
	for i := 0; i < len(stmts); i++ {
		s := stmts[i]
		if s.Kind == TREE_STM_JUMP && len(s.JumpLabels) == 1 &&
			i+1 < len(stmts) && stmts[i+1].Kind == TREE_STM_LABEL &&
			stmts[i+1].Label == s.JumpLabels[0] {
			ops++
			continue
		}
		out = append(out, s)
	}
	*pstmts = out
	return ops
}

// putFalsesAfterCJumps rewrites each conditional jump so its false label is
// the next statement: either by inverting the condition, or by inserting a
// fresh pad label that jumps to the false target.
func putFalsesAfterCJumps(info *canonInfo, stmts []*TreeStm) []*TreeStm {
	var out []*TreeStm
	for i := 0; i < len(stmts); i++ {
		s := stmts[i]
		if s.Kind != TREE_STM_CJUMP {
			out = append(out, s)
			continue
		}
		var next *TreeStm
		if i+1 < len(stmts) {
			next = stmts[i+1]
		}
		nextIsLbl := next != nil && next.Kind == TREE_STM_LABEL
		if nextIsLbl && s.FalseLabel == next.Label {
			out = append(out, s)
		} else if nextIsLbl && s.TrueLabel == next.Label {
			// invert the operation and flip the labels
			out = append(out, treeCJump(invertRelOp(s.Relop),
				s.CmpLhs, s.CmpRhs, s.FalseLabel, s.TrueLabel))
		} else {
			// neither label follows: pad with a fresh false label
			f0 := info.ts.NewLabel()
			out = append(out,
				treeCJump(s.Relop, s.CmpLhs, s.CmpRhs, s.TrueLabel, f0),
				treeLabel(f0),
				unconditionalJump(s.FalseLabel))
		}
	}
	return out
}

// === Verification ===

// verifyStatements checks that every label referenced by a jump is defined
// in the stream (or is the synthetic end label).
func verifyStatements(stmts []*TreeStm, endLabel Symbol, check string) {
	defined := map[Symbol]bool{}
	for _, s := range stmts {
		if s.Kind == TREE_STM_LABEL {
			defined[s.Label] = true
		}
	}
	missing := func(lbl Symbol) bool {
		return !defined[lbl] && lbl != endLabel
	}
	errs := 0
	for _, s := range stmts {
		switch s.Kind {
		case TREE_STM_CJUMP:
			if missing(s.TrueLabel) {
				fmt.Fprintf(os.Stderr, "%s: missing %s label\n", check, s.TrueLabel)
				errs++
			}
			if missing(s.FalseLabel) {
				fmt.Fprintf(os.Stderr, "%s: missing %s label\n", check, s.FalseLabel)
				errs++
			}
		case TREE_STM_JUMP:
			for _, lbl := range s.JumpLabels {
				if missing(lbl) {
					fmt.Fprintf(os.Stderr, "%s: missing %s label\n", check, lbl)
					errs++
				}
			}
		}
	}
	if errs != 0 {
		panic(check + ": jump targets without labels")
	}
}

func verifyBasicBlocks(blocks basicBlocks, check string) {
	var all []*TreeStm
	for _, b := range blocks.blocks {
		all = append(all, b...)
	}
	verifyStatements(all, blocks.endLabel, check)
}

// canonicaliseTree rewrites every code fragment's body into canonical,
// trace-scheduled form.
func canonicaliseTree(ts *TempState, target *Target, fragments []*Fragment) {
	info := &canonInfo{ts: ts, target: target}
	for _, frag := range fragments {
		if frag.Kind != FRAG_CODE {
			continue
		}
		stmts := linearise(info, frag.Body)
		verifyStatements(stmts, "", "post-linearise")

		blocks := makeBasicBlocks(info, stmts)
		verifyBasicBlocks(blocks, "post-basic_blocks")

		frag.Stms = traceSchedule(info, blocks)
		frag.Body = nil
		verifyStatements(frag.Stms, "", "post-trace_schedule")
	}
}
