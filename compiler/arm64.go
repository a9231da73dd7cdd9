package main

import (
	"fmt"
	"io"
)

// === arm64 backend (macOS conventions) ===
//
// Useful resources
// - https://developer.arm.com/documentation/102374/0101/Overview
// - https://developer.apple.com/documentation/xcode/writing-arm64-code-for-apple-platforms

const arm64WordSize = 8

var arm64SpecialRegs = []Temp{
	{ID: 29, Size: arm64WordSize}, // fp
	{ID: 30, Size: arm64WordSize}, // link register, caller saved by convention
	{ID: 31, Size: arm64WordSize}, // sp, not general purpose
	{ID: 18, Size: arm64WordSize}, // reserved by Apple
}

var arm64ArgumentRegs = []Temp{
	{ID: 0, Size: arm64WordSize}, {ID: 1, Size: arm64WordSize},
	{ID: 2, Size: arm64WordSize}, {ID: 3, Size: arm64WordSize},
	{ID: 4, Size: arm64WordSize}, {ID: 5, Size: arm64WordSize},
	{ID: 6, Size: arm64WordSize}, {ID: 7, Size: arm64WordSize},
}

var arm64CalleeSaves = []Temp{
	{ID: 19, Size: 8}, {ID: 20, Size: 8}, {ID: 21, Size: 8},
	{ID: 22, Size: 8}, {ID: 23, Size: 8}, {ID: 24, Size: 8},
	{ID: 25, Size: 8}, {ID: 26, Size: 8}, {ID: 27, Size: 8},
	{ID: 28, Size: 8},
}

// registers a called function is allowed to trash
var arm64CallerSaves = []Temp{
	{ID: 8, Size: 8}, {ID: 9, Size: 8}, {ID: 10, Size: 8},
	{ID: 11, Size: 8}, {ID: 12, Size: 8}, {ID: 13, Size: 8},
	{ID: 14, Size: 8}, {ID: 15, Size: 8}, {ID: 16, Size: 8},
	{ID: 17, Size: 8},
	// x18 is reserved on Apple platforms and never allocated
}

// There is also an xzr/wzr that always reads zero.
var arm64Registers = []string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "fp", "x30", "sp",
}

// arm64Calldefs is everything a call may clobber: caller-saves, the link
// register, the argument registers (which double as results).
func arm64Calldefs() []Temp {
	var c []Temp
	c = append(c, arm64CallerSaves...)
	c = append(c, arm64SpecialRegs[1]) // lr
	c = append(c, arm64ArgumentRegs...)
	return c
}

func arm64SuffFromSize(size int) string {
	switch size {
	case 8, 4:
		// the register's x/w name carries the width
		return ""
	case 2:
		return "h"
	case 1:
		return "b"
	}
	panic(fmt.Sprintf("invalid operand size %d", size))
}

func arm64RegisterForSize(regname string, size int) string {
	switch size {
	case 8:
		return regname
	case 4, 2, 1:
		if regname[0] == 'x' {
			return "w" + regname[1:]
		}
		// fp and sp have no narrow form worth printing
		return regname
	}
	panic(fmt.Sprintf("invalid register size %d", size))
}

// Immediates in arithmetic instructions are shifted 16-bit values; accept
// only values that fit unshifted.
func arm64CanBeImmediate(v int64) bool {
	return v < 1<<15 && v >= -(1<<15)
}

type arm64Backend struct{}

type arm64State struct {
	instrs    []*Instr
	ts        *TempState
	frame     *Frame
	frameMaps []*Fragment
}

func (st *arm64State) emit(i *Instr) {
	st.instrs = append(st.instrs, i)
}

func (st *arm64State) emitPtrMap(m *FrameMap, retLabel Symbol) {
	st.frameMaps = append(st.frameMaps, frameMapFragment(m, retLabel))
}

func (st *arm64State) newTempForExp(e *TreeExp) Temp {
	return st.ts.NewTemp(e.Size, treeDispoFromType(e.Type))
}

func (st *arm64State) munchStackArgs(args []*TreeExp) {
	totalSize := 0
	for _, e := range args {
		if e.Size > arm64WordSize {
			panic("stack arguments larger than a word are unimplemented")
		}
		// size doubles as alignment for sub-word types
		totalSize = roundUpSize(totalSize, e.Size)
		src := st.munchExp(e)
		st.emit(assmOper(
			fmt.Sprintf("str%s	`s0, [`s1, #%d]\n", arm64SuffFromSize(e.Size), totalSize),
			nil,
			[]Temp{src, arm64SpecialRegs[2]},
			nil))
		totalSize += e.Size
	}
	totalSize = roundUpSize(totalSize, 16)
	st.frame.ReserveOutgoingArgSpace(totalSize)
}

// munchArgs moves each argument into its register, returning the list of
// argument registers used so the call lists them as sources.
func (st *arm64State) munchArgs(argIdx int, args []*TreeExp) []Temp {
	if len(args) == 0 {
		return nil
	}
	e := args[0]
	if argIdx >= len(arm64ArgumentRegs) {
		st.munchStackArgs(args)
		return nil
	}
	if e.Size > arm64WordSize {
		panic("arguments larger than a word are unimplemented")
	}
	paramReg := arm64ArgumentRegs[argIdx]
	paramReg.Size = e.Size
	src := st.munchExp(e)
	st.emit(assmMove("mov	`d0, `s0\n", paramReg, src))
	return append([]Temp{paramReg}, st.munchArgs(argIdx+1, args[1:])...)
}

func (st *arm64State) munchCall(exp *TreeExp) Temp {
	if exp.Size > arm64WordSize {
		panic("call results larger than a word are unimplemented")
	}
	fn := exp.Func
	if fn.Kind != TREE_EXP_NAME {
		panic("indirect calls are unimplemented")
	}
	st.emit(assmOper(
		fmt.Sprintf("bl	_%s\n", fn.Name),
		arm64Calldefs(),
		st.munchArgs(0, exp.Args),
		nil))

	// a label directly after the call instruction keys the stack map: it
	// names the return address for the function being called
	retLabel := st.ts.PrefixedLabel(retLabelPrefix)
	st.emit(assmLabel(fmt.Sprintf("%s:\n", retLabel), retLabel))
	st.emitPtrMap(exp.PtrMap, retLabel)

	r := st.frame.Target.Ret0
	r.Size = exp.Size
	return r
}

func (st *arm64State) munchExp(exp *TreeExp) Temp {
	switch exp.Kind {
	case TREE_EXP_MEM:
		addr := exp.Addr
		// MEM(BINOP(+, e1, CONST))
		if addr.Kind == TREE_EXP_BINOP && addr.Op == TREE_BINOP_PLUS &&
			addr.Rhs.Kind == TREE_EXP_CONST {
			r := st.newTempForExp(exp)
			src := st.munchExp(addr.Lhs)
			st.emit(assmOper(
				fmt.Sprintf("ldr%s	`d0, [`s0, #%d]\n",
					arm64SuffFromSize(exp.Size), addr.Rhs.Const),
				[]Temp{r}, []Temp{src}, nil))
			return r
		}
		// MEM(e1)
		r := st.newTempForExp(exp)
		src := st.munchExp(addr)
		st.emit(assmOper(
			fmt.Sprintf("ldr%s	`d0, [`s0]\n", arm64SuffFromSize(exp.Size)),
			[]Temp{r}, []Temp{src}, nil))
		return r

	case TREE_EXP_BINOP:
		// BINOP(+, e1, CONST)
		if exp.Op == TREE_BINOP_PLUS && exp.Rhs.Kind == TREE_EXP_CONST &&
			arm64CanBeImmediate(exp.Rhs.Const) {
			r := st.newTempForExp(exp)
			src := st.munchExp(exp.Lhs)
			st.emit(assmOper(
				fmt.Sprintf("add	`d0, `s0, #%d\n", exp.Rhs.Const),
				[]Temp{r}, []Temp{src}, nil))
			return r
		}

		var op string
		switch exp.Op {
		case TREE_BINOP_PLUS:
			op = "add"
		case TREE_BINOP_MINUS:
			op = "sub"
		case TREE_BINOP_MUL:
			op = "mul"
		case TREE_BINOP_DIV:
			op = "sdiv"
		case TREE_BINOP_AND:
			op = "and"
		case TREE_BINOP_OR:
			op = "orr"
		case TREE_BINOP_XOR:
			op = "eor"
		case TREE_BINOP_LSHIFT:
			op = "lsl"
		case TREE_BINOP_RSHIFT:
			op = "lsr"
		case TREE_BINOP_ARSHIFT:
			op = "asr"
		}
		r := st.newTempForExp(exp)
		lhs := st.munchExp(exp.Lhs)
		rhs := st.munchExp(exp.Rhs)
		st.emit(assmOper(
			fmt.Sprintf("%s	`d0, `s0, `s1\n", op),
			[]Temp{r}, []Temp{lhs, rhs}, nil))
		return r

	case TREE_EXP_CONST:
		r := st.newTempForExp(exp)
		if arm64CanBeImmediate(exp.Const) {
			st.emit(assmOper(
				fmt.Sprintf("mov	`d0, #%d\n", exp.Const),
				[]Temp{r}, nil, nil))
		} else {
			st.emit(assmOper(
				fmt.Sprintf("ldr	`d0, =%d\n", exp.Const),
				[]Temp{r}, nil, nil))
		}
		return r

	case TREE_EXP_TEMP:
		return exp.Temp

	case TREE_EXP_NAME:
		// a label pointing at data
		r := st.ts.NewTemp(arm64WordSize, DISPO_NOT_PTR)
		st.emit(assmOper(
			fmt.Sprintf("adrp	`d0, %s@PAGE\n", exp.Name),
			[]Temp{r}, nil, nil))
		st.emit(assmOper(
			fmt.Sprintf("add	`d0, `s0, %s@PAGEOFF\n", exp.Name),
			[]Temp{r}, []Temp{r}, nil))
		return r

	case TREE_EXP_CALL:
		return st.munchCall(exp)

	case TREE_EXP_ESEQ:
		panic("eseqs should no longer exist")
	}
	panic("munchExp: bad tag")
}

func (st *arm64State) munchStm(stm *TreeStm) {
	switch stm.Kind {
	case TREE_STM_SEQ:
		st.munchStm(stm.S1)
		st.munchStm(stm.S2)

	case TREE_STM_MOVE:
		src := stm.Src
		dst := stm.Dst
		// ## store
		if dst.Kind == TREE_EXP_MEM {
			addr := dst.Addr
			if addr.Kind == TREE_EXP_BINOP && addr.Op == TREE_BINOP_PLUS &&
				addr.Rhs.Kind == TREE_EXP_CONST {
				s := st.munchExp(src)
				base := st.munchExp(addr.Lhs)
				st.emit(assmOper(
					fmt.Sprintf("str%s	`s0, [`s1, #%d]\n",
						arm64SuffFromSize(src.Size), addr.Rhs.Const),
					nil, []Temp{s, base}, nil))
				return
			}
			s := st.munchExp(src)
			base := st.munchExp(addr)
			st.emit(assmOper(
				fmt.Sprintf("str%s	`s0, [`s1]\n", arm64SuffFromSize(src.Size)),
				nil, []Temp{s, base}, nil))
			return
		}
		if dst.Kind == TREE_EXP_TEMP {
			srcT := st.munchExp(src)
			if srcT.Size == 0 || dst.Temp.Size == 0 {
				// a void-valued move has nothing to do
				return
			}
			if srcT.Size != dst.Temp.Size {
				panic("move operand sizes differ")
			}
			st.emit(assmMove("mov	`d0, `s0\n", dst.Temp, srcT))
			return
		}
		panic("move into neither memory nor register")

	case TREE_STM_LABEL:
		st.emit(assmLabel(fmt.Sprintf("%s:\n", stm.Label), stm.Label))

	case TREE_STM_EXP:
		if stm.Exp.Kind != TREE_EXP_CALL {
			// a non-call in statement position has no effect
			return
		}
		// move the result to an unused temporary so the result register
		// doesn't stay live for the rest of the function
		t := st.newTempForExp(stm.Exp)
		r := st.munchExp(stm.Exp)
		if t.Size != 0 {
			st.emit(assmMove("mov	`d0, `s0\n", t, r))
		}

	case TREE_STM_CJUMP:
		jump := []Symbol{stm.TrueLabel, stm.FalseLabel}

		// CJUMP(==/!=, e, 0, ...) and its mirror lower to cbz/cbnz
		if stm.Relop == TREE_RELOP_EQ || stm.Relop == TREE_RELOP_NE {
			var operand *TreeExp
			if stm.CmpLhs.Kind == TREE_EXP_CONST && stm.CmpLhs.Const == 0 {
				operand = stm.CmpRhs
			} else if stm.CmpRhs.Kind == TREE_EXP_CONST && stm.CmpRhs.Const == 0 {
				operand = stm.CmpLhs
			}
			if operand != nil {
				src := st.munchExp(operand)
				mnem := "cbz"
				if stm.Relop == TREE_RELOP_NE {
					mnem = "cbnz"
				}
				st.emit(assmOper(
					fmt.Sprintf("%s	`s0, %s\n", mnem, stm.TrueLabel),
					nil, []Temp{src}, jump))
				return
			}
		}

		lhs := st.munchExp(stm.CmpLhs)
		rhs := st.munchExp(stm.CmpRhs)
		st.emit(assmOper("cmp	`s0, `s1\n", nil, []Temp{lhs, rhs}, nil))

		var op string
		switch stm.Relop {
		case TREE_RELOP_EQ:
			op = "b.eq"
		case TREE_RELOP_NE:
			op = "b.ne"
		case TREE_RELOP_GT:
			op = "b.gt"
		case TREE_RELOP_GE:
			op = "b.ge"
		case TREE_RELOP_LT:
			op = "b.lt"
		case TREE_RELOP_LE:
			op = "b.le"
		case TREE_RELOP_ULT:
			op = "b.lo"
		case TREE_RELOP_ULE:
			op = "b.ls"
		case TREE_RELOP_UGT:
			op = "b.hi"
		case TREE_RELOP_UGE:
			op = "b.hs"
		}
		st.emit(assmOper(
			fmt.Sprintf("%s	%s\n", op, stm.TrueLabel),
			nil, nil, jump))

	case TREE_STM_JUMP:
		if len(stm.JumpLabels) != 1 {
			panic("computed jumps are unimplemented")
		}
		st.emit(assmOper(
			fmt.Sprintf("b	%s\n", stm.JumpLabels[0]),
			nil, nil, []Symbol{stm.JumpLabels[0]}))
	}
}

// Codegen selects arm64 instructions for a single canonical statement.
func (arm64Backend) Codegen(ts *TempState, frame *Frame, stm *TreeStm) ([]*Instr, []*Fragment) {
	st := &arm64State{ts: ts, frame: frame}
	st.munchStm(stm)
	return st.instrs, st.frameMaps
}

// ProcEntryExit2 appends the sink instruction: the registers live out of
// the function, so the allocator restores them before exit.
func (arm64Backend) ProcEntryExit2(frame *Frame, body []*Instr) []*Instr {
	var srcs []Temp
	srcs = append(srcs, arm64CalleeSaves...)
	srcs = append(srcs, arm64SpecialRegs[0]) // fp
	srcs = append(srcs, arm64SpecialRegs[2]) // sp
	srcs = append(srcs, arm64SpecialRegs[3]) // x18

	ret0 := frame.Target.Ret0
	ret0.Size = arm64WordSize
	srcs = append(srcs, ret0)

	sink := assmOper("\n", nil, srcs, []Symbol{})
	return append(body, sink)
}

func (arm64Backend) ProcEntryExit3(frame *Frame, body []*Instr) AsmFragment {
	fnLabel := frame.Name
	frameSize := frame.Words() * arm64WordSize
	prologue := fmt.Sprintf(`	.globl	_%s
	.p2align	2
_%s:
	.cfi_startproc
	stp	x29, x30, [sp, #-16]!
	mov	fp, sp
	.cfi_def_cfa w29, 16
	.cfi_offset w30, -8
	.cfi_offset w29, -16
	sub	sp, sp, #%d
`, fnLabel, fnLabel, frameSize)

	epilogue := fmt.Sprintf(`	add	sp, sp, #%d
	ldp	x29, x30, [sp], #16
	ret
	.cfi_endproc
`, frameSize)

	return AsmFragment{Prologue: prologue, Instrs: body, Epilogue: epilogue}
}

func (arm64Backend) LoadTemp(v *FrameVar, t Temp) *Instr {
	return assmOper(
		fmt.Sprintf("ldr%s	`d0, [`s0, #%d]	; unspill\n",
			arm64SuffFromSize(v.Size), v.Offset),
		[]Temp{t},
		[]Temp{arm64SpecialRegs[0]},
		nil)
}

func (arm64Backend) StoreTemp(v *FrameVar, t Temp) *Instr {
	return assmOper(
		fmt.Sprintf("str%s	`s0, [`s1, #%d]	; spill\n",
			arm64SuffFromSize(v.Size), v.Offset),
		nil,
		[]Temp{t, arm64SpecialRegs[0]},
		nil)
}

func (arm64Backend) EmitTextHeader(w io.Writer) {
	fmt.Fprintf(w, "\t.section	__TEXT,__text,regular,pure_instructions\n")
}

func (arm64Backend) EmitDataSegment(w io.Writer, frags []*Fragment, labelToCSBitmap map[Symbol]uint32) {
	scratch := NewArena()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "\t.section	__TEXT,__cstring,cstring_literals\n")
	for _, frag := range frags {
		if frag.Kind != FRAG_STRING {
			continue
		}
		fmt.Fprintf(w, "%s:\n", frag.Label)
		fmt.Fprintf(w, "	.asciz	%s\n", escapeAsmString(scratch, frag.Str))
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "\t.section	__DATA,__const\n")

	entryNum := 0
	for _, frag := range frags {
		if frag.Kind != FRAG_FRAME_MAP {
			continue
		}
		m := frag.Map
		fmt.Fprintf(w, "	.p2align	3\n")
		fmt.Fprintf(w, "Lptrmap%d:\n", entryNum)

		// the pointer to the previous frame map record
		if entryNum == 0 {
			fmt.Fprintf(w, "	.quad	0\n")
		} else {
			fmt.Fprintf(w, "	.quad	Lptrmap%d\n", entryNum-1)
		}
		fmt.Fprintf(w, "	.quad	%s	; return address - the key\n", frag.RetLabel)
		fmt.Fprintf(w, "	.long	%d	; callee-save bitmap\n", labelToCSBitmap[frag.RetLabel])
		// this count includes the saved fp and return address words
		fmt.Fprintf(w, "	.short	%d	; number of stack arg words\n", m.NumArgWords)
		fmt.Fprintf(w, "	.short	%d	; length of locals space\n", m.NumLocalWords)
		fmt.Fprintf(w, "	.short	%d	; number of spill words\n", m.NumSpillWords)
		emitSpillRegBytes(w, m, ";")
		fmt.Fprintf(w, "	.byte	0	; padding\n")

		for i := 0; i < bitsetLen(m.NumArgWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	; arg bitmap\n", m.Args[i])
		}
		for i := 0; i < bitsetLen(m.NumLocalWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	; locals bitmap\n", m.Locals[i])
		}
		for i := 0; i < bitsetLen(m.NumSpillWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	; spill-inherit bitmap\n", spillWord(m, i))
		}
		entryNum++
	}

	if entryNum > 0 {
		// the exported head points at the final entry
		fmt.Fprintf(w, "\t.globl	_sl_rt_frame_maps\n")
		fmt.Fprintf(w, "\t.p2align	3\n")
		fmt.Fprintf(w, "_sl_rt_frame_maps:\n")
		fmt.Fprintf(w, "\t.quad	Lptrmap%d\n", entryNum-1)
	}
}

var targetArm64 = &Target{
	Name:           "arm64",
	WordSize:       8,
	StackAlignment: 16,
	ArgRegisters:   arm64ArgumentRegs,
	SP:             Temp{ID: 31, Size: 8},
	FP:             Temp{ID: 29, Size: 8},
	Ret0:           Temp{ID: 0, Size: 8},
	Ret1:           Temp{ID: 1, Size: 8},
	CalleeSaves:    arm64CalleeSaves,
	RegisterNames:  arm64Registers,
	RegisterForSize: arm64RegisterForSize,
	Backend:        arm64Backend{},
}
