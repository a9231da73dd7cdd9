package main

import (
	"fmt"
	"io"
)

// === x86-64 backend (Linux, GAS syntax) ===
//
// Useful references
// - https://web.stanford.edu/class/cs107/guide/x86-64.html

const x86WordSize = 8

var x86SpecialRegs = []Temp{
	{ID: 0, Size: x86WordSize}, // rax, return value part 1
	{ID: 2, Size: x86WordSize}, // rdx, return value part 2
	{ID: 4, Size: x86WordSize}, // rsp
	{ID: 5, Size: x86WordSize}, // rbp
}

var x86ArgRegs = []Temp{
	{ID: 7, Size: x86WordSize}, // rdi
	{ID: 6, Size: x86WordSize}, // rsi
	{ID: 2, Size: x86WordSize}, // rdx
	{ID: 1, Size: x86WordSize}, // rcx
	{ID: 8, Size: x86WordSize}, // r8
	{ID: 9, Size: x86WordSize}, // r9
}

// rbp is excluded: it is the frame pointer
var x86CalleeSaves = []Temp{
	{ID: 3, Size: x86WordSize},  // rbx
	{ID: 12, Size: x86WordSize}, // r12
	{ID: 13, Size: x86WordSize}, // r13
	{ID: 14, Size: x86WordSize}, // r14
	{ID: 15, Size: x86WordSize}, // r15
}

var x86CallerSaves = []Temp{
	{ID: 10, Size: x86WordSize}, // r10
	{ID: 11, Size: x86WordSize}, // r11
}

var x86Registers8 = []string{
	"%al", "%cl", "%dl", "%bl", "%spl", "%bpl", "%sil", "%dil",
	"%r8b", "%r9b", "%r10b", "%r11b", "%r12b", "%r13b", "%r14b", "%r15b",
}
var x86Registers16 = []string{
	"%ax", "%cx", "%dx", "%bx", "%sp", "%bp", "%si", "%di",
	"%r8w", "%r9w", "%r10w", "%r11w", "%r12w", "%r13w", "%r14w", "%r15w",
}
var x86Registers32 = []string{
	"%eax", "%ecx", "%edx", "%ebx", "%esp", "%ebp", "%esi", "%edi",
	"%r8d", "%r9d", "%r10d", "%r11d", "%r12d", "%r13d", "%r14d", "%r15d",
}
var x86Registers64 = []string{
	"%rax", "%rcx", "%rdx", "%rbx", "%rsp", "%rbp", "%rsi", "%rdi",
	"%r8", "%r9", "%r10", "%r11", "%r12", "%r13", "%r14", "%r15",
}

var x86Registers = []string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// x86Calldefs is everything a call may clobber.
func x86Calldefs() []Temp {
	var c []Temp
	c = append(c, x86CallerSaves...)
	c = append(c, x86SpecialRegs[0]) // rax
	c = append(c, x86ArgRegs...)
	return c
}

// x86SuffFromSize returns the AT&T instruction suffix for an operand size.
func x86SuffFromSize(size int) string {
	switch size {
	case 8:
		return "q"
	case 4:
		return "l"
	case 2:
		return "w"
	case 1:
		return "b"
	}
	panic(fmt.Sprintf("invalid operand size %d", size))
}

func x86RegisterIndex(regname string) int {
	for i, r := range x86Registers {
		if r == regname {
			return i
		}
	}
	panic("unexpected register name " + regname)
}

func x86RegisterForSize(regname string, size int) string {
	idx := x86RegisterIndex(regname)
	switch size {
	case 1:
		return x86Registers8[idx]
	case 2:
		return x86Registers16[idx]
	case 4:
		return x86Registers32[idx]
	case 8:
		return x86Registers64[idx]
	}
	panic(fmt.Sprintf("invalid register size %d", size))
}

type x86Backend struct{}

type x86State struct {
	instrs    []*Instr
	ts        *TempState
	frame     *Frame
	frameMaps []*Fragment
}

func (st *x86State) emit(i *Instr) {
	st.instrs = append(st.instrs, i)
}

func (st *x86State) emitPtrMap(m *FrameMap, retLabel Symbol) {
	st.frameMaps = append(st.frameMaps, frameMapFragment(m, retLabel))
}

func (st *x86State) newTempForExp(e *TreeExp) Temp {
	return st.ts.NewTemp(e.Size, treeDispoFromType(e.Type))
}

func (st *x86State) munchStackArgs(args []*TreeExp) {
	totalSize := 0
	for _, e := range args {
		if e.Size > x86WordSize {
			panic("stack arguments larger than a word are unimplemented")
		}
		totalSize = roundUpSize(totalSize, e.Size)
		src := st.munchExp(e)
		st.emit(assmOper(
			fmt.Sprintf("mov%s	`s0, %d(`s1)\n", x86SuffFromSize(e.Size), totalSize),
			nil, []Temp{src, x86SpecialRegs[2]}, nil))
		totalSize += e.Size
	}
	totalSize = roundUpSize(totalSize, 16)
	st.frame.ReserveOutgoingArgSpace(totalSize)
}

func (st *x86State) munchArgs(argIdx int, args []*TreeExp) []Temp {
	if len(args) == 0 {
		return nil
	}
	e := args[0]
	if argIdx >= len(x86ArgRegs) {
		st.munchStackArgs(args)
		return nil
	}
	if e.Size > x86WordSize {
		panic("arguments larger than a word are unimplemented")
	}
	paramReg := x86ArgRegs[argIdx]
	paramReg.Size = e.Size
	src := st.munchExp(e)
	st.emit(assmMove(
		fmt.Sprintf("mov%s	`s0, `d0\n", x86SuffFromSize(e.Size)),
		paramReg, src))
	return append([]Temp{paramReg}, st.munchArgs(argIdx+1, args[1:])...)
}

func (st *x86State) munchCall(exp *TreeExp) Temp {
	if exp.Size > x86WordSize {
		panic("call results larger than a word are unimplemented")
	}
	fn := exp.Func
	if fn.Kind != TREE_EXP_NAME {
		panic("indirect calls are unimplemented")
	}
	st.emit(assmOper(
		fmt.Sprintf("call	%s\n", fn.Name),
		x86Calldefs(),
		st.munchArgs(0, exp.Args),
		nil))

	// the label directly after the call keys the frame map
	retLabel := st.ts.PrefixedLabel(retLabelPrefix)
	st.emit(assmLabel(fmt.Sprintf("%s:\n", retLabel), retLabel))
	st.emitPtrMap(exp.PtrMap, retLabel)

	r := st.frame.Target.Ret0
	r.Size = exp.Size
	return r
}

// shiftOp emits a shift. Constant counts use the immediate form; variable
// counts would need the cl register and remain unimplemented.
func (st *x86State) shiftOp(mnem string, exp *TreeExp) Temp {
	if exp.Rhs.Kind != TREE_EXP_CONST {
		panic("shifts by a non-constant amount are unimplemented")
	}
	r := st.newTempForExp(exp)
	suff := x86SuffFromSize(exp.Size)
	lhs := st.munchExp(exp.Lhs)
	st.emit(assmMove(fmt.Sprintf("mov%s	`s0, `d0\n", suff), r, lhs))
	st.emit(assmOper(
		fmt.Sprintf("%s%s	$%d, `d0\n", mnem, suff, exp.Rhs.Const),
		[]Temp{r}, []Temp{r}, nil))
	return r
}

// twoOp emits the load-then-operate pair CISC arithmetic needs; the
// allocator usually coalesces the leading move away.
func (st *x86State) twoOp(mnem string, exp *TreeExp) Temp {
	r := st.newTempForExp(exp)
	suff := x86SuffFromSize(exp.Size)
	lhs := st.munchExp(exp.Lhs)
	st.emit(assmMove(fmt.Sprintf("mov%s	`s0, `d0\n", suff), r, lhs))

	rhs := st.munchExp(exp.Rhs)
	// r must be in the sources too: x86 reads the destination operand
	st.emit(assmOper(
		fmt.Sprintf("%s%s	`s0, `d0\n", mnem, suff),
		[]Temp{r}, []Temp{rhs, r}, nil))
	return r
}

func (st *x86State) munchExp(exp *TreeExp) Temp {
	switch exp.Kind {
	case TREE_EXP_MEM:
		addr := exp.Addr
		if addr.Kind == TREE_EXP_BINOP && addr.Op == TREE_BINOP_PLUS {
			// MEM(BINOP(+, e1, CONST))
			if addr.Rhs.Kind == TREE_EXP_CONST {
				r := st.newTempForExp(exp)
				base := st.munchExp(addr.Lhs)
				st.emit(assmOper(
					fmt.Sprintf("mov%s	%d(`s0), `d0\n",
						x86SuffFromSize(exp.Size), addr.Rhs.Const),
					[]Temp{r}, []Temp{base}, nil))
				return r
			}
			// MEM(BINOP(+, CONST, e1))
			if addr.Lhs.Kind == TREE_EXP_CONST {
				r := st.newTempForExp(exp)
				base := st.munchExp(addr.Rhs)
				st.emit(assmOper(
					fmt.Sprintf("mov%s	%d(`s0), `d0\n",
						x86SuffFromSize(exp.Size), addr.Lhs.Const),
					[]Temp{r}, []Temp{base}, nil))
				return r
			}
			// MEM(BINOP(+, e1, e2))
			r := st.newTempForExp(exp)
			base := st.munchExp(addr.Lhs)
			index := st.munchExp(addr.Rhs)
			st.emit(assmOper(
				fmt.Sprintf("mov%s	(`s0,`s1,1), `d0\n", x86SuffFromSize(exp.Size)),
				[]Temp{r}, []Temp{base, index}, nil))
			return r
		}
		// MEM(e1)
		r := st.newTempForExp(exp)
		base := st.munchExp(addr)
		st.emit(assmOper(
			fmt.Sprintf("mov%s	(`s0), `d0\n", x86SuffFromSize(exp.Size)),
			[]Temp{r}, []Temp{base}, nil))
		return r

	case TREE_EXP_BINOP:
		switch exp.Op {
		case TREE_BINOP_PLUS:
			// BINOP(+, e1, CONST) becomes an add-immediate
			if exp.Rhs.Kind == TREE_EXP_CONST {
				r := st.newTempForExp(exp)
				suff := x86SuffFromSize(exp.Size)
				lhs := st.munchExp(exp.Lhs)
				st.emit(assmMove(fmt.Sprintf("mov%s	`s0, `d0\n", suff), r, lhs))
				st.emit(assmOper(
					fmt.Sprintf("add%s	$%d, `d0\n", suff, exp.Rhs.Const),
					[]Temp{r}, []Temp{r}, nil))
				return r
			}
			return st.twoOp("add", exp)
		case TREE_BINOP_MINUS:
			return st.twoOp("sub", exp)
		case TREE_BINOP_MUL:
			return st.twoOp("imul", exp)
		case TREE_BINOP_DIV:
			// idiv divides rdx:rax; clear rdx, keep rax in the live sets as
			// both source and destination, then move the quotient out so
			// rax doesn't stay live
			suff := x86SuffFromSize(exp.Size)
			rhs := st.munchExp(exp.Rhs)

			rax := x86SpecialRegs[0]
			rax.Size = exp.Size
			lhs := st.munchExp(exp.Lhs)
			st.emit(assmMove(fmt.Sprintf("mov%s	`s0, `d0\n", suff), rax, lhs))

			rdx := x86SpecialRegs[1]
			st.emit(assmOper("xorq	`s0, `d0\n", []Temp{rdx}, []Temp{rdx}, nil))

			st.emit(assmOper(
				fmt.Sprintf("idiv%s	`s0\n", suff),
				[]Temp{rax, rdx}, []Temp{rhs, rax, rdx}, nil))

			r := st.ts.NewTemp(exp.Size, DISPO_NOT_PTR)
			st.emit(assmMove(fmt.Sprintf("mov%s	`s0, `d0\n", suff), r, rax))
			return r
		case TREE_BINOP_AND:
			return st.twoOp("and", exp)
		case TREE_BINOP_OR:
			return st.twoOp("or", exp)
		case TREE_BINOP_XOR:
			return st.twoOp("xor", exp)
		case TREE_BINOP_LSHIFT:
			return st.shiftOp("shl", exp)
		case TREE_BINOP_RSHIFT:
			return st.shiftOp("shr", exp)
		case TREE_BINOP_ARSHIFT:
			return st.shiftOp("sar", exp)
		}
		panic("munchExp: bad binop")

	case TREE_EXP_CONST:
		r := st.newTempForExp(exp)
		st.emit(assmOper(
			fmt.Sprintf("mov%s	$%d, `d0\n", x86SuffFromSize(exp.Size), exp.Const),
			[]Temp{r}, nil, nil))
		return r

	case TREE_EXP_TEMP:
		return exp.Temp

	case TREE_EXP_NAME:
		r := st.ts.NewTemp(x86WordSize, DISPO_NOT_PTR)
		st.emit(assmOper(
			fmt.Sprintf("leaq	%s(%%rip), `d0\n", exp.Name),
			[]Temp{r}, nil, nil))
		return r

	case TREE_EXP_CALL:
		return st.munchCall(exp)

	case TREE_EXP_ESEQ:
		panic("eseqs should no longer exist")
	}
	panic("munchExp: bad tag")
}

func (st *x86State) munchStm(stm *TreeStm) {
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
			if addr.Kind == TREE_EXP_BINOP && addr.Op == TREE_BINOP_PLUS {
				rhs := addr.Rhs
				// MOVE(MEM(BINOP(+, e1, BINOP(*, e2, CONST(scale)))), e3)
				if rhs.Kind == TREE_EXP_BINOP && rhs.Op == TREE_BINOP_MUL &&
					rhs.Rhs.Kind == TREE_EXP_CONST &&
					(rhs.Rhs.Const == 1 || rhs.Rhs.Const == 2 ||
						rhs.Rhs.Const == 4 || rhs.Rhs.Const == 8) {
					scale := rhs.Rhs.Const
					base := st.munchExp(addr.Lhs)
					index := st.munchExp(rhs.Lhs)
					s := st.munchExp(src)
					st.emit(assmOper(
						fmt.Sprintf("mov%s	`s2, (`s0,`s1,%d)\n",
							x86SuffFromSize(src.Size), scale),
						nil, []Temp{base, index, s}, nil))
					return
				}
				// MOVE(MEM(BINOP(+, e1, CONST)), e2)
				if rhs.Kind == TREE_EXP_CONST {
					base := st.munchExp(addr.Lhs)
					s := st.munchExp(src)
					st.emit(assmOper(
						fmt.Sprintf("mov%s	`s1, %d(`s0)\n",
							x86SuffFromSize(src.Size), rhs.Const),
						nil, []Temp{base, s}, nil))
					return
				}
				// MOVE(MEM(BINOP(+, CONST, e1)), e2)
				if addr.Lhs.Kind == TREE_EXP_CONST {
					base := st.munchExp(addr.Rhs)
					s := st.munchExp(src)
					st.emit(assmOper(
						fmt.Sprintf("mov%s	`s1, %d(`s0)\n",
							x86SuffFromSize(src.Size), addr.Lhs.Const),
						nil, []Temp{base, s}, nil))
					return
				}
				// MOVE(MEM(BINOP(+, e1, e2)), e3)
				base := st.munchExp(addr.Lhs)
				index := st.munchExp(addr.Rhs)
				s := st.munchExp(src)
				st.emit(assmOper(
					fmt.Sprintf("mov%s	`s2, (`s0,`s1,1)\n", x86SuffFromSize(src.Size)),
					nil, []Temp{base, index, s}, nil))
				return
			}
			// MOVE(MEM(e1), e2)
			base := st.munchExp(addr)
			s := st.munchExp(src)
			st.emit(assmOper(
				fmt.Sprintf("mov%s	`s1, (`s0)\n", x86SuffFromSize(src.Size)),
				nil, []Temp{base, s}, nil))
			return
		}
		if dst.Kind == TREE_EXP_TEMP {
			// movq $7, %rax
			if src.Kind == TREE_EXP_CONST {
				if dst.Temp.Size == 0 {
					return
				}
				st.emit(assmOper(
					fmt.Sprintf("mov%s	$%d, `d0\n",
						x86SuffFromSize(src.Size), src.Const),
					[]Temp{dst.Temp}, nil, nil))
				return
			}
			// MOVE(TEMP t, e1)
			srcT := st.munchExp(src)
			if srcT.Size == 0 || dst.Temp.Size == 0 {
				return
			}
			if srcT.Size != dst.Temp.Size {
				panic("move operand sizes differ")
			}
			st.emit(assmMove(
				fmt.Sprintf("mov%s	`s0, `d0\n", x86SuffFromSize(src.Size)),
				dst.Temp, srcT))
			return
		}
		panic("move into neither memory nor register")

	case TREE_STM_LABEL:
		st.emit(assmLabel(fmt.Sprintf("%s:\n", stm.Label), stm.Label))

	case TREE_STM_EXP:
		// non-calls in statement position have no effect and are dropped
		if stm.Exp.Kind != TREE_EXP_CALL {
			return
		}
		t := st.newTempForExp(stm.Exp)
		r := st.munchExp(stm.Exp)
		if t.Size != 0 {
			st.emit(assmMove(
				fmt.Sprintf("mov%s	`s0, `d0\n", x86SuffFromSize(t.Size)), t, r))
		}

	case TREE_STM_CJUMP:
		lhs := stm.CmpLhs
		rhs := stm.CmpRhs
		// CJUMP(op, MEM(BINOP(+, e1, CONST)), e2, ...)
		if lhs.Kind == TREE_EXP_MEM &&
			lhs.Addr.Kind == TREE_EXP_BINOP &&
			lhs.Addr.Op == TREE_BINOP_PLUS &&
			lhs.Addr.Rhs.Kind == TREE_EXP_CONST {
			base := st.munchExp(lhs.Addr.Lhs)
			r := st.munchExp(rhs)
			st.emit(assmOper(
				fmt.Sprintf("cmp%s	`s1, %d(`s0)\n",
					x86SuffFromSize(lhs.Size), lhs.Addr.Rhs.Const),
				nil, []Temp{base, r}, nil))
		} else if rhs.Kind == TREE_EXP_CONST {
			// CJUMP(op, e1, CONST i, ...)
			l := st.munchExp(lhs)
			st.emit(assmOper(
				fmt.Sprintf("cmp%s	$%d, `s0\n", x86SuffFromSize(rhs.Size), rhs.Const),
				nil, []Temp{l}, nil))
		} else if lhs.Kind == TREE_EXP_CONST &&
			(stm.Relop == TREE_RELOP_EQ || stm.Relop == TREE_RELOP_NE) {
			// the constant is on the wrong side for x86, but == and != are
			// symmetric
			r := st.munchExp(rhs)
			st.emit(assmOper(
				fmt.Sprintf("cmp%s	$%d, `s0\n", x86SuffFromSize(lhs.Size), lhs.Const),
				nil, []Temp{r}, nil))
		} else {
			// CJUMP(op, e1, e2, ...)
			l := st.munchExp(lhs)
			r := st.munchExp(rhs)
			st.emit(assmOper(
				fmt.Sprintf("cmp%s	`s1, `s0\n", x86SuffFromSize(lhs.Size)),
				nil, []Temp{l, r}, nil))
		}

		var op string
		switch stm.Relop {
		case TREE_RELOP_EQ:
			op = "je"
		case TREE_RELOP_NE:
			op = "jne"
		case TREE_RELOP_GT:
			op = "jg"
		case TREE_RELOP_GE:
			op = "jge"
		case TREE_RELOP_LT:
			op = "jl"
		case TREE_RELOP_LE:
			op = "jle"
		case TREE_RELOP_ULT:
			op = "jb"
		case TREE_RELOP_ULE:
			op = "jbe"
		case TREE_RELOP_UGT:
			op = "ja"
		case TREE_RELOP_UGE:
			op = "jae"
		}
		st.emit(assmOper(
			fmt.Sprintf("%s	%s\n", op, stm.TrueLabel),
			nil, nil, []Symbol{stm.TrueLabel, stm.FalseLabel}))

	case TREE_STM_JUMP:
		if len(stm.JumpLabels) != 1 {
			panic("computed jumps are unimplemented")
		}
		st.emit(assmOper(
			fmt.Sprintf("jmp	%s\n", stm.JumpLabels[0]),
			nil, nil, []Symbol{stm.JumpLabels[0]}))
	}
}

func (x86Backend) Codegen(ts *TempState, frame *Frame, stm *TreeStm) ([]*Instr, []*Fragment) {
	st := &x86State{ts: ts, frame: frame}
	st.munchStm(stm)
	return st.instrs, st.frameMaps
}

func (x86Backend) ProcEntryExit2(frame *Frame, body []*Instr) []*Instr {
	var srcs []Temp
	srcs = append(srcs, x86CalleeSaves...)
	srcs = append(srcs, x86SpecialRegs[2]) // rsp
	srcs = append(srcs, x86SpecialRegs[3]) // rbp
	ret0 := frame.Target.Ret0
	ret0.Size = x86WordSize
	srcs = append(srcs, ret0)
	ret1 := frame.Target.Ret1
	ret1.Size = x86WordSize
	srcs = append(srcs, ret1)

	sink := assmOper("\n", nil, srcs, []Symbol{})
	return append(body, sink)
}

func (x86Backend) ProcEntryExit3(frame *Frame, body []*Instr) AsmFragment {
	fnLabel := frame.Name
	frameSize := frame.Words() * x86WordSize
	prologue := fmt.Sprintf(`	.globl	%s
	.p2align	4, 0x90
	.type	%s,@function
%s:
	.cfi_startproc
	pushq	%%rbp
	movq	%%rsp, %%rbp
	subq	$%d, %%rsp
`, fnLabel, fnLabel, fnLabel, frameSize)

	epilogue := fmt.Sprintf(`	addq	$%d, %%rsp
	popq	%%rbp
	retq
	.cfi_endproc
`, frameSize)

	return AsmFragment{Prologue: prologue, Instrs: body, Epilogue: epilogue}
}

func (x86Backend) LoadTemp(v *FrameVar, t Temp) *Instr {
	return assmOper(
		fmt.Sprintf("mov%s	%d(`s0), `d0	# unspill\n",
			x86SuffFromSize(v.Size), v.Offset),
		[]Temp{t},
		[]Temp{x86SpecialRegs[3]},
		nil)
}

func (x86Backend) StoreTemp(v *FrameVar, t Temp) *Instr {
	return assmOper(
		fmt.Sprintf("mov%s	`s1, %d(`s0)	# spill\n",
			x86SuffFromSize(v.Size), v.Offset),
		nil,
		[]Temp{x86SpecialRegs[3], t},
		nil)
}

func (x86Backend) EmitTextHeader(w io.Writer) {
	fmt.Fprintf(w, "\t.text\n")
}

func (x86Backend) EmitDataSegment(w io.Writer, frags []*Fragment, labelToCSBitmap map[Symbol]uint32) {
	scratch := NewArena()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "\t.section	.rodata\n")
	for _, frag := range frags {
		if frag.Kind != FRAG_STRING {
			continue
		}
		fmt.Fprintf(w, "%s:\n", frag.Label)
		fmt.Fprintf(w, "	.string	%s\n", escapeAsmString(scratch, frag.Str))
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "\t.section	.data.rel.ro\n")

	entryNum := 0
	for _, frag := range frags {
		if frag.Kind != FRAG_FRAME_MAP {
			continue
		}
		m := frag.Map
		fmt.Fprintf(w, "	.p2align	3\n")
		fmt.Fprintf(w, ".Lptrmap%d:\n", entryNum)

		if entryNum == 0 {
			fmt.Fprintf(w, "	.quad	0\n")
		} else {
			fmt.Fprintf(w, "	.quad	.Lptrmap%d\n", entryNum-1)
		}
		fmt.Fprintf(w, "	.quad	%s	# return address - the key\n", frag.RetLabel)
		fmt.Fprintf(w, "	.long	%d	# callee-save bitmap\n", labelToCSBitmap[frag.RetLabel])
		// this count includes the saved rbp and return address words
		fmt.Fprintf(w, "	.short	%d	# number of stack arg words\n", m.NumArgWords)
		fmt.Fprintf(w, "	.short	%d	# length of locals space\n", m.NumLocalWords)
		fmt.Fprintf(w, "	.short	%d	# number of spill words\n", m.NumSpillWords)
		emitSpillRegBytes(w, m, "#")
		fmt.Fprintf(w, "	.byte	0	# padding\n")

		for i := 0; i < bitsetLen(m.NumArgWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	# arg bitmap\n", m.Args[i])
		}
		for i := 0; i < bitsetLen(m.NumLocalWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	# locals bitmap\n", m.Locals[i])
		}
		for i := 0; i < bitsetLen(m.NumSpillWords); i++ {
			fmt.Fprintf(w, "	.quad	%d	# spill-inherit bitmap\n", spillWord(m, i))
		}
		entryNum++
	}

	if entryNum > 0 {
		fmt.Fprintf(w, "\t.globl	sl_rt_frame_maps\n")
		fmt.Fprintf(w, "\t.p2align	3\n")
		fmt.Fprintf(w, "sl_rt_frame_maps:\n")
		fmt.Fprintf(w, "\t.quad	.Lptrmap%d\n", entryNum-1)
	}
}

var targetX86_64 = &Target{
	Name:           "x86_64",
	WordSize:       8,
	StackAlignment: 16,
	ArgRegisters:   x86ArgRegs,
	SP:             Temp{ID: 4, Size: 8},
	FP:             Temp{ID: 5, Size: 8},
	Ret0:           Temp{ID: 0, Size: 8},
	Ret1:           Temp{ID: 2, Size: 8},
	CalleeSaves:    x86CalleeSaves,
	RegisterNames:  x86Registers,
	RegisterForSize: x86RegisterForSize,
	Backend:        x86Backend{},
}
