package main

// === AST rewrites ===
//
// The only rewrite the backend performs: struct equality is decomposed into
// field-wise comparisons before translation, so the tree translator only
// ever compares word-sized values.
//
// Given
//	struct A { a: int, b: int }
//	let x: A = ...; let y: A = ...
// turn
//	x == y  into  x.a == y.a && x.b == y.b
//	x != y  into  x.a != y.a || x.b != y.b

type rewriteInfo struct {
	program []*Decl
}

func rewriteDecomposeEqual(program []*Decl) {
	info := &rewriteInfo{program: program}
	for _, d := range program {
		if d.Kind == DECL_FUNC {
			for _, e := range d.Body {
				rewriteDecomposeEqualExpr(info, e)
			}
		}
	}
}

func rewriteDecomposeEqualField(info *rewriteInfo, e *Expr, field *Decl) *Expr {
	leftAccess := exprMember(e.Left, field.Name, e.Line)
	leftAccess.Type = field.Type

	rightAccess := exprMember(e.Right, field.Name, e.Line)
	rightAccess.Type = field.Type

	// the fields may themselves be structs
	newCmp := exprBinop(e.Op, leftAccess, rightAccess, e.Line)
	newCmp.Type = e.Type
	rewriteDecomposeEqualExpr(info, newCmp)
	return newCmp
}

func rewriteDecomposeEqualExpr(info *rewriteInfo, e *Expr) {
	switch e.Kind {
	/* the interesting case */
	case EXPR_BINOP:
		if e.Op == TOKEN_EQ || e.Op == TOKEN_NEQ {
			if sd := structDeclOf(e.Left.Type); sd != nil {
				isEq := e.Op == TOKEN_EQ
				combOp := TOKEN_LOR
				if isEq {
					combOp = TOKEN_LAND
				}
				boolType := e.Type

				head := rewriteDecomposeEqualField(info, e, sd.Params[0])
				for _, field := range sd.Params[1:] {
					newCmp := rewriteDecomposeEqualField(info, e, field)
					head = exprBinop(combOp, head, newCmp, e.Line)
					head.Type = boolType
				}
				// patch up the expression in place
				e.Op = head.Op
				e.Left = head.Left
				e.Right = head.Right
				return
			}
		}
		rewriteDecomposeEqualExpr(info, e.Left)
		rewriteDecomposeEqualExpr(info, e.Right)
	/* recursive cases */
	case EXPR_INT, EXPR_BOOL, EXPR_VOID, EXPR_VAR, EXPR_BREAK:
	case EXPR_LET:
		rewriteDecomposeEqualExpr(info, e.Init)
	case EXPR_CALL, EXPR_NEW:
		for _, a := range e.Args {
			rewriteDecomposeEqualExpr(info, a)
		}
	case EXPR_RETURN:
		if e.Left != nil {
			rewriteDecomposeEqualExpr(info, e.Left)
		}
	case EXPR_LOOP:
		for _, s := range e.Body {
			rewriteDecomposeEqualExpr(info, s)
		}
	case EXPR_DEREF, EXPR_ADDROF:
		rewriteDecomposeEqualExpr(info, e.Left)
	case EXPR_MEMBER:
		rewriteDecomposeEqualExpr(info, e.Composite)
	case EXPR_IF:
		rewriteDecomposeEqualExpr(info, e.Cond)
		rewriteDecomposeEqualExpr(info, e.Cons)
		if e.Alt != nil {
			rewriteDecomposeEqualExpr(info, e.Alt)
		}
	case EXPR_SEQ:
		rewriteDecomposeEqualExpr(info, e.Left)
		rewriteDecomposeEqualExpr(info, e.Right)
	default:
		panic("rewriteDecomposeEqualExpr: bad tag")
	}
}
