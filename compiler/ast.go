package main

import (
	"fmt"
	"io"
)

// === Abstract syntax ===

type DeclKind int

const (
	DECL_STRUCT DeclKind = 1 + iota
	DECL_FUNC
	DECL_PARAM
)

// Decl is a top-level struct or function declaration, or a parameter/field
// within one.
type Decl struct {
	Kind   DeclKind
	Line   int
	Name   Symbol
	Params []*Decl // DECL_STRUCT fields, DECL_FUNC parameters
	Type   *Type   // DECL_FUNC return type, DECL_PARAM type
	Body   []*Expr // DECL_FUNC
	VarID  int     // DECL_PARAM, assigned by the type checker
}

type TypeKind int

const (
	TYPE_NAME TypeKind = 1 + iota
	TYPE_PTR
	// array and first-class function types are reserved but unimplemented
	TYPE_ARRAY
	TYPE_FUNC
)

// Type is a source-level type reference. Size and Alignment are memoised by
// the frame-layout pass on first query; Decl is resolved by the type checker
// for named struct types.
type Type struct {
	Kind    TypeKind
	Name    Symbol // TYPE_NAME
	Pointee *Type  // TYPE_PTR, TYPE_ARRAY

	Size      int   // -1 until memoised
	Alignment int   // -1 until memoised
	Decl      *Decl // resolved struct declaration, if any
}

func typeName(name Symbol) *Type {
	return &Type{Kind: TYPE_NAME, Name: name, Size: -1, Alignment: -1}
}

func typePointer(pointee *Type) *Type {
	return &Type{Kind: TYPE_PTR, Pointee: pointee, Size: -1, Alignment: -1}
}

func typeFunc() *Type {
	return &Type{Kind: TYPE_FUNC, Size: -1, Alignment: -1}
}

type ExprKind int

const (
	EXPR_INT ExprKind = 1 + iota
	EXPR_BOOL
	EXPR_VOID
	EXPR_BINOP
	EXPR_LET
	EXPR_CALL
	EXPR_NEW
	EXPR_VAR
	EXPR_RETURN
	EXPR_BREAK
	EXPR_LOOP
	EXPR_DEREF
	EXPR_ADDROF
	EXPR_MEMBER
	EXPR_IF
	EXPR_SEQ
)

// Expr is an expression node. Type is assigned by the type checker. DefdVars
// is the sorted list of variable ids in scope at a call or new expression,
// which becomes the call site's frame map.
type Expr struct {
	Kind ExprKind
	Op   TokenKind // EXPR_BINOP operator token
	Line int
	Type *Type

	Value    int64   // EXPR_INT, EXPR_BOOL
	Left     *Expr   // EXPR_BINOP; also return arg, loop-free operand slots
	Right    *Expr   // EXPR_BINOP
	Name     Symbol  // EXPR_LET variable, EXPR_VAR reference
	TypeAnn  *Type   // EXPR_LET annotation
	Init     *Expr   // EXPR_LET initialiser
	VarID    int     // EXPR_LET, EXPR_VAR; resolved by the type checker
	FnName   Symbol  // EXPR_CALL function, EXPR_NEW struct name
	Args     []*Expr // EXPR_CALL, EXPR_NEW
	Body     []*Expr // EXPR_LOOP
	Composite *Expr  // EXPR_MEMBER
	Member   Symbol  // EXPR_MEMBER
	Cond     *Expr   // EXPR_IF
	Cons     *Expr   // EXPR_IF
	Alt      *Expr   // EXPR_IF, may be nil

	DefdVars []int // EXPR_CALL, EXPR_NEW
}

// === Constructors ===

func exprInt(value int64, line int) *Expr {
	return &Expr{Kind: EXPR_INT, Value: value, Line: line}
}

func exprBool(value bool, line int) *Expr {
	v := int64(0)
	if value {
		v = 1
	}
	return &Expr{Kind: EXPR_BOOL, Value: v, Line: line}
}

func exprVoid(line int) *Expr {
	return &Expr{Kind: EXPR_VOID, Line: line}
}

func exprBinop(op TokenKind, left, right *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_BINOP, Op: op, Left: left, Right: right, Line: line}
}

func exprLet(name Symbol, typ *Type, init *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_LET, Name: name, TypeAnn: typ, Init: init, Line: line}
}

func exprCall(fn Symbol, args []*Expr, line int) *Expr {
	return &Expr{Kind: EXPR_CALL, FnName: fn, Args: args, Line: line}
}

func exprNew(structName Symbol, args []*Expr, line int) *Expr {
	return &Expr{Kind: EXPR_NEW, FnName: structName, Args: args, Line: line}
}

func exprVar(name Symbol, line int) *Expr {
	return &Expr{Kind: EXPR_VAR, Name: name, Line: line}
}

func exprReturn(arg *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_RETURN, Left: arg, Line: line}
}

func exprBreak(line int) *Expr {
	return &Expr{Kind: EXPR_BREAK, Line: line}
}

func exprLoop(body []*Expr, line int) *Expr {
	return &Expr{Kind: EXPR_LOOP, Body: body, Line: line}
}

func exprDeref(arg *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_DEREF, Left: arg, Line: line}
}

func exprAddrOf(arg *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_ADDROF, Left: arg, Line: line}
}

func exprMember(composite *Expr, member Symbol, line int) *Expr {
	return &Expr{Kind: EXPR_MEMBER, Composite: composite, Member: member, Line: line}
}

func exprIf(cond, cons, alt *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_IF, Cond: cond, Cons: cons, Alt: alt, Line: line}
}

// exprSeq evaluates left for its effect, then right for the value. Blocks in
// if-arms fold into chains of these.
func exprSeq(left, right *Expr, line int) *Expr {
	return &Expr{Kind: EXPR_SEQ, Left: left, Right: right, Line: line}
}

// === Helpers ===

func declNumFields(d *Decl) int {
	return len(d.Params)
}

// === Printing (-p / -r output) ===

func printType(w io.Writer, t *Type) {
	switch t.Kind {
	case TYPE_NAME:
		fmt.Fprintf(w, "%s", t.Name)
	case TYPE_PTR:
		fmt.Fprint(w, "*")
		printType(w, t.Pointee)
	case TYPE_FUNC:
		fmt.Fprint(w, "fn")
	default:
		panic("printType: bad tag")
	}
}

func printDecl(w io.Writer, d *Decl) {
	switch d.Kind {
	case DECL_STRUCT:
		fmt.Fprintf(w, "(struct %s", d.Name)
		for _, f := range d.Params {
			fmt.Fprintf(w, " (%s: ", f.Name)
			printType(w, f.Type)
			fmt.Fprint(w, ")")
		}
		fmt.Fprint(w, ")")
	case DECL_FUNC:
		fmt.Fprintf(w, "(fn %s (", d.Name)
		for i, p := range d.Params {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "(%s: ", p.Name)
			printType(w, p.Type)
			fmt.Fprint(w, ")")
		}
		fmt.Fprint(w, ") ")
		printType(w, d.Type)
		for _, e := range d.Body {
			fmt.Fprint(w, "\n  ")
			printExpr(w, e)
		}
		fmt.Fprint(w, ")")
	default:
		panic("printDecl: bad tag")
	}
}

func printExpr(w io.Writer, e *Expr) {
	switch e.Kind {
	case EXPR_INT:
		fmt.Fprintf(w, "%d", e.Value)
	case EXPR_BOOL:
		if e.Value != 0 {
			fmt.Fprint(w, "true")
		} else {
			fmt.Fprint(w, "false")
		}
	case EXPR_VOID:
		fmt.Fprint(w, "()")
	case EXPR_BINOP:
		fmt.Fprintf(w, "(%s ", tokenName(e.Op))
		printExpr(w, e.Left)
		fmt.Fprint(w, " ")
		printExpr(w, e.Right)
		fmt.Fprint(w, ")")
	case EXPR_LET:
		fmt.Fprintf(w, "(let %s: ", e.Name)
		printType(w, e.TypeAnn)
		fmt.Fprint(w, " ")
		printExpr(w, e.Init)
		fmt.Fprint(w, ")")
	case EXPR_CALL:
		fmt.Fprintf(w, "(call %s", e.FnName)
		for _, a := range e.Args {
			fmt.Fprint(w, " ")
			printExpr(w, a)
		}
		fmt.Fprint(w, ")")
	case EXPR_NEW:
		fmt.Fprintf(w, "(new %s", e.FnName)
		for _, a := range e.Args {
			fmt.Fprint(w, " ")
			printExpr(w, a)
		}
		fmt.Fprint(w, ")")
	case EXPR_VAR:
		fmt.Fprintf(w, "%s", e.Name)
	case EXPR_RETURN:
		fmt.Fprint(w, "(return")
		if e.Left != nil {
			fmt.Fprint(w, " ")
			printExpr(w, e.Left)
		}
		fmt.Fprint(w, ")")
	case EXPR_BREAK:
		fmt.Fprint(w, "(break)")
	case EXPR_LOOP:
		fmt.Fprint(w, "(loop")
		for _, s := range e.Body {
			fmt.Fprint(w, " ")
			printExpr(w, s)
		}
		fmt.Fprint(w, ")")
	case EXPR_DEREF:
		fmt.Fprint(w, "(deref ")
		printExpr(w, e.Left)
		fmt.Fprint(w, ")")
	case EXPR_ADDROF:
		fmt.Fprint(w, "(addrof ")
		printExpr(w, e.Left)
		fmt.Fprint(w, ")")
	case EXPR_MEMBER:
		fmt.Fprint(w, "(member ")
		printExpr(w, e.Composite)
		fmt.Fprintf(w, " %s)", e.Member)
	case EXPR_IF:
		fmt.Fprint(w, "(if ")
		printExpr(w, e.Cond)
		fmt.Fprint(w, " ")
		printExpr(w, e.Cons)
		if e.Alt != nil {
			fmt.Fprint(w, " ")
			printExpr(w, e.Alt)
		}
		fmt.Fprint(w, ")")
	case EXPR_SEQ:
		fmt.Fprint(w, "(seq ")
		printExpr(w, e.Left)
		fmt.Fprint(w, " ")
		printExpr(w, e.Right)
		fmt.Fprint(w, ")")
	default:
		panic("printExpr: bad tag")
	}
}
