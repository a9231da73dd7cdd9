package main

import (
	"fmt"
	"strings"
)

// === Tree IR ===
//
// The low-level intermediate language the typed AST is translated into.
// Expressions compute values, statements have effects. ESeq and Seq let the
// translator build arbitrary nestings which canonicalisation later flattens.

// TreeTypeKind classifies the backend's view of a value's type. It carries
// only what instruction selection and the pointer maps need.
type TreeTypeKind int

const (
	TREE_TYPE_INT TreeTypeKind = 1 + iota
	TREE_TYPE_BOOL
	TREE_TYPE_VOID
	TREE_TYPE_PTR
	TREE_TYPE_PTR_DIFF
	TREE_TYPE_STRUCT
)

type TreeType struct {
	Kind    TreeTypeKind
	Pointee *TreeType   // TREE_TYPE_PTR
	Fields  []*TreeType // TREE_TYPE_STRUCT, filled in after construction
}

var (
	treeTypeInt     = &TreeType{Kind: TREE_TYPE_INT}
	treeTypeBool    = &TreeType{Kind: TREE_TYPE_BOOL}
	treeTypeVoid    = &TreeType{Kind: TREE_TYPE_VOID}
	treeTypePtrDiff = &TreeType{Kind: TREE_TYPE_PTR_DIFF}
)

func treeTypePtr(pointee *TreeType) *TreeType {
	return &TreeType{Kind: TREE_TYPE_PTR, Pointee: pointee}
}

// treeDispoFromType gives the pointer disposition a temporary holding a
// value of this type must carry.
func treeDispoFromType(t *TreeType) PtrDispo {
	if t.Kind == TREE_TYPE_PTR {
		return DISPO_PTR
	}
	return DISPO_NOT_PTR
}

// === Operators ===

type TreeBinOp int

const (
	TREE_BINOP_PLUS TreeBinOp = 1 + iota
	TREE_BINOP_MINUS
	TREE_BINOP_MUL
	TREE_BINOP_DIV
	TREE_BINOP_AND
	TREE_BINOP_OR
	TREE_BINOP_XOR
	TREE_BINOP_LSHIFT
	TREE_BINOP_RSHIFT
	TREE_BINOP_ARSHIFT
)

var treeBinOpNames = map[TreeBinOp]string{
	TREE_BINOP_PLUS: "+", TREE_BINOP_MINUS: "-", TREE_BINOP_MUL: "*",
	TREE_BINOP_DIV: "/", TREE_BINOP_AND: "&", TREE_BINOP_OR: "|",
	TREE_BINOP_XOR: "^", TREE_BINOP_LSHIFT: "<<", TREE_BINOP_RSHIFT: ">>",
	TREE_BINOP_ARSHIFT: ">>>",
}

type TreeRelOp int

const (
	TREE_RELOP_EQ TreeRelOp = 1 + iota
	TREE_RELOP_NE
	TREE_RELOP_LT
	TREE_RELOP_GT
	TREE_RELOP_LE
	TREE_RELOP_GE
	TREE_RELOP_ULT
	TREE_RELOP_ULE
	TREE_RELOP_UGT
	TREE_RELOP_UGE
)

var treeRelOpNames = map[TreeRelOp]string{
	TREE_RELOP_EQ: "==", TREE_RELOP_NE: "!=", TREE_RELOP_LT: "<",
	TREE_RELOP_GT: ">", TREE_RELOP_LE: "<=", TREE_RELOP_GE: ">=",
	TREE_RELOP_ULT: "u<", TREE_RELOP_ULE: "u<=", TREE_RELOP_UGT: "u>",
	TREE_RELOP_UGE: "u>=",
}

func invertRelOp(op TreeRelOp) TreeRelOp {
	switch op {
	case TREE_RELOP_EQ:
		return TREE_RELOP_NE
	case TREE_RELOP_NE:
		return TREE_RELOP_EQ
	case TREE_RELOP_LT:
		return TREE_RELOP_GE
	case TREE_RELOP_GE:
		return TREE_RELOP_LT
	case TREE_RELOP_GT:
		return TREE_RELOP_LE
	case TREE_RELOP_LE:
		return TREE_RELOP_GT
	case TREE_RELOP_ULT:
		return TREE_RELOP_UGE
	case TREE_RELOP_UGE:
		return TREE_RELOP_ULT
	case TREE_RELOP_ULE:
		return TREE_RELOP_UGT
	case TREE_RELOP_UGT:
		return TREE_RELOP_ULE
	}
	panic(fmt.Sprintf("invertRelOp: bad relop %d", op))
}

// === Expressions ===

type TreeExpKind int

const (
	TREE_EXP_CONST TreeExpKind = 1 + iota
	TREE_EXP_NAME
	TREE_EXP_TEMP
	TREE_EXP_BINOP
	TREE_EXP_MEM
	TREE_EXP_CALL
	TREE_EXP_ESEQ
)

type TreeExp struct {
	Kind TreeExpKind
	Size int
	Type *TreeType

	Const int64     // TREE_EXP_CONST
	Name  Symbol    // TREE_EXP_NAME
	Temp  Temp      // TREE_EXP_TEMP
	Op    TreeBinOp // TREE_EXP_BINOP
	Lhs   *TreeExp  // TREE_EXP_BINOP
	Rhs   *TreeExp  // TREE_EXP_BINOP
	Addr  *TreeExp  // TREE_EXP_MEM

	Func   *TreeExp   // TREE_EXP_CALL
	Args   []*TreeExp // TREE_EXP_CALL
	PtrMap *FrameMap  // TREE_EXP_CALL: live frame pointers at this call site

	Stm *TreeStm // TREE_EXP_ESEQ
	Exp *TreeExp // TREE_EXP_ESEQ
}

// the integer constant value
func treeConst(value int64, size int, typ *TreeType) *TreeExp {
	return &TreeExp{Kind: TREE_EXP_CONST, Const: value, Size: size, Type: typ}
}

// symbolic constant naming an assembly label
func treeName(name Symbol, size int) *TreeExp {
	return &TreeExp{Kind: TREE_EXP_NAME, Name: name, Size: size}
}

// a temp in the abstract machine, like a register but with infinite supply
func treeTemp(t Temp, size int, typ *TreeType) *TreeExp {
	return &TreeExp{Kind: TREE_EXP_TEMP, Temp: t, Size: size, Type: typ}
}

// evaluate lhs then rhs, then apply op
func treeBinOp(op TreeBinOp, lhs, rhs *TreeExp) *TreeExp {
	return &TreeExp{
		Kind: TREE_EXP_BINOP, Op: op, Lhs: lhs, Rhs: rhs,
		Size: lhs.Size, Type: lhs.Type,
	}
}

// the contents of size bytes of memory starting at addr
func treeMem(addr *TreeExp, size int, typ *TreeType) *TreeExp {
	return &TreeExp{Kind: TREE_EXP_MEM, Addr: addr, Size: size, Type: typ}
}

// evaluate fn, then args left to right, then apply
func treeCall(fn *TreeExp, args []*TreeExp, size int, typ *TreeType, ptrMap *FrameMap) *TreeExp {
	return &TreeExp{
		Kind: TREE_EXP_CALL, Func: fn, Args: args, Size: size, Type: typ,
		PtrMap: ptrMap,
	}
}

// evaluate s for its effects, then e for the result
func treeESeq(s *TreeStm, e *TreeExp) *TreeExp {
	return &TreeExp{Kind: TREE_EXP_ESEQ, Stm: s, Exp: e, Size: e.Size, Type: e.Type}
}

// === Statements ===

type TreeStmKind int

const (
	TREE_STM_MOVE TreeStmKind = 1 + iota
	TREE_STM_EXP
	TREE_STM_JUMP
	TREE_STM_CJUMP
	TREE_STM_SEQ
	TREE_STM_LABEL
)

type TreeStm struct {
	Kind TreeStmKind

	Dst *TreeExp // TREE_STM_MOVE
	Src *TreeExp // TREE_STM_MOVE

	Exp *TreeExp // TREE_STM_EXP

	JumpDst    *TreeExp // TREE_STM_JUMP
	JumpLabels []Symbol // TREE_STM_JUMP

	Relop      TreeRelOp // TREE_STM_CJUMP
	CmpLhs     *TreeExp  // TREE_STM_CJUMP
	CmpRhs     *TreeExp  // TREE_STM_CJUMP
	TrueLabel  Symbol    // TREE_STM_CJUMP
	FalseLabel Symbol    // TREE_STM_CJUMP

	S1 *TreeStm // TREE_STM_SEQ
	S2 *TreeStm // TREE_STM_SEQ

	Label Symbol // TREE_STM_LABEL
}

// evaluate src and move it into the temp or memory reference dst
func treeMove(dst, src *TreeExp) *TreeStm {
	return &TreeStm{Kind: TREE_STM_MOVE, Dst: dst, Src: src}
}

// evaluate e and discard the result
func treeExpStm(e *TreeExp) *TreeStm {
	return &TreeStm{Kind: TREE_STM_EXP, Exp: e}
}

// transfer control to dst; the common case is JUMP(NAME l, [l])
func treeJump(dst *TreeExp, labels []Symbol) *TreeStm {
	return &TreeStm{Kind: TREE_STM_JUMP, JumpDst: dst, JumpLabels: labels}
}

// evaluate lhs then rhs, compare with op, branch to tlabel or flabel
func treeCJump(op TreeRelOp, lhs, rhs *TreeExp, tlabel, flabel Symbol) *TreeStm {
	return &TreeStm{
		Kind: TREE_STM_CJUMP, Relop: op, CmpLhs: lhs, CmpRhs: rhs,
		TrueLabel: tlabel, FalseLabel: flabel,
	}
}

// s1 followed by s2
func treeSeq(s1, s2 *TreeStm) *TreeStm {
	return &TreeStm{Kind: TREE_STM_SEQ, S1: s1, S2: s2}
}

// define a label so NAME(label) can be the target of jumps
func treeLabel(label Symbol) *TreeStm {
	return &TreeStm{Kind: TREE_STM_LABEL, Label: label}
}

// === Printing (-T / -C output) ===

func (e *TreeExp) String() string {
	var b strings.Builder
	printTreeExp(&b, e)
	return b.String()
}

func (s *TreeStm) String() string {
	var b strings.Builder
	printTreeStm(&b, s)
	return b.String()
}

func printTreeExp(b *strings.Builder, e *TreeExp) {
	switch e.Kind {
	case TREE_EXP_CONST:
		fmt.Fprintf(b, "CONST(%d)", e.Const)
	case TREE_EXP_NAME:
		fmt.Fprintf(b, "NAME(%s)", e.Name)
	case TREE_EXP_TEMP:
		fmt.Fprintf(b, "TEMP(t%d.%d)", e.Temp.ID, e.Size)
	case TREE_EXP_BINOP:
		fmt.Fprintf(b, "BINOP(%s, ", treeBinOpNames[e.Op])
		printTreeExp(b, e.Lhs)
		b.WriteString(", ")
		printTreeExp(b, e.Rhs)
		b.WriteString(")")
	case TREE_EXP_MEM:
		fmt.Fprintf(b, "MEM[%d](", e.Size)
		printTreeExp(b, e.Addr)
		b.WriteString(")")
	case TREE_EXP_CALL:
		b.WriteString("CALL(")
		printTreeExp(b, e.Func)
		for _, a := range e.Args {
			b.WriteString(", ")
			printTreeExp(b, a)
		}
		b.WriteString(")")
	case TREE_EXP_ESEQ:
		b.WriteString("ESEQ(")
		printTreeStm(b, e.Stm)
		b.WriteString(", ")
		printTreeExp(b, e.Exp)
		b.WriteString(")")
	default:
		panic("printTreeExp: bad tag")
	}
}

func printTreeStm(b *strings.Builder, s *TreeStm) {
	switch s.Kind {
	case TREE_STM_MOVE:
		b.WriteString("MOVE(")
		printTreeExp(b, s.Dst)
		b.WriteString(", ")
		printTreeExp(b, s.Src)
		b.WriteString(")")
	case TREE_STM_EXP:
		b.WriteString("EXP(")
		printTreeExp(b, s.Exp)
		b.WriteString(")")
	case TREE_STM_JUMP:
		b.WriteString("JUMP(")
		printTreeExp(b, s.JumpDst)
		b.WriteString(")")
	case TREE_STM_CJUMP:
		fmt.Fprintf(b, "CJUMP(%s, ", treeRelOpNames[s.Relop])
		printTreeExp(b, s.CmpLhs)
		b.WriteString(", ")
		printTreeExp(b, s.CmpRhs)
		fmt.Fprintf(b, ", %s, %s)", s.TrueLabel, s.FalseLabel)
	case TREE_STM_SEQ:
		b.WriteString("SEQ(")
		printTreeStm(b, s.S1)
		b.WriteString(", ")
		printTreeStm(b, s.S2)
		b.WriteString(")")
	case TREE_STM_LABEL:
		fmt.Fprintf(b, "LABEL(%s)", s.Label)
	default:
		panic("printTreeStm: bad tag")
	}
}
