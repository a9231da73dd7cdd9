package main

// === Tree IR translation ===
//
// Each typed expression translates into one of three intermediate forms:
// Ex (value-producing expression), Nx (effect-only statement), or Cx (a
// function from a true-label and a false-label to a branching statement).
// The natural form of each construct survives until a parent context forces
// the shape it needs, so booleans are not materialised prematurely and
// short-circuit && / || need no special cases elsewhere.

type translateInfo struct {
	program         []*Decl
	ts              *TempState
	target          *Target
	currentLoopEnd  Symbol
	functionEndLabel Symbol
	isEndLabelUsed  bool
	stringFragments []*Fragment
	scratch         *Arena
}

const (
	trExpEx = 1 + iota
	trExpNx
	trExpCx
)

// boolSize is the width of a materialised boolean.
const boolSize = 1

type trExp struct {
	kind int
	ex   *TreeExp
	nx   *TreeStm
	cx   func(t, f Symbol) *TreeStm
}

func translateEx(e *TreeExp) *trExp  { return &trExp{kind: trExpEx, ex: e} }
func translateNx(s *TreeStm) *trExp  { return &trExp{kind: trExpNx, nx: s} }
func translateCx(genstm func(t, f Symbol) *TreeStm) *trExp {
	return &trExp{kind: trExpCx, cx: genstm}
}

func unconditionalJump(dst Symbol) *TreeStm {
	return treeJump(treeName(dst, 0), []Symbol{dst})
}

func jumpNotZero(e *TreeExp, t, f Symbol) *TreeStm {
	return treeCJump(TREE_RELOP_NE,
		treeConst(0, e.Size, e.Type), e, t, f)
}

// unEx converts any form into a value-producing expression. A Cx form
// materialises through the 1;branch;f:0 pattern.
func (info *translateInfo) unEx(ex *trExp) *TreeExp {
	switch ex.kind {
	case trExpEx:
		return ex.ex
	case trExpNx:
		return treeESeq(ex.nx,
			treeConst(0, info.target.WordSize, treeTypeVoid))
	case trExpCx:
		r := info.ts.NewTemp(boolSize, DISPO_NOT_PTR)
		t := info.ts.NewLabel()
		f := info.ts.NewLabel()
		rExp := func() *TreeExp { return treeTemp(r, boolSize, treeTypeBool) }
		return treeESeq(
			treeSeq(
				treeSeq(
					treeSeq(
						treeSeq(
							treeMove(rExp(), treeConst(1, boolSize, treeTypeBool)),
							ex.cx(t, f)),
						treeLabel(f)),
					treeMove(rExp(), treeConst(0, boolSize, treeTypeBool))),
				treeLabel(t)),
			rExp())
	}
	panic("unEx: bad form")
}

// unNx converts any form into an effect-only statement.
func (info *translateInfo) unNx(ex *trExp) *TreeStm {
	switch ex.kind {
	case trExpEx:
		return treeExpStm(ex.ex)
	case trExpNx:
		return ex.nx
	case trExpCx:
		// evaluate the conditional and continue either way
		dst := info.ts.NewLabel()
		return treeSeq(ex.cx(dst, dst), treeLabel(dst))
	}
	panic("unNx: bad form")
}

// unCx converts any form into a branch generator. Constants turn into
// direct jumps; other expressions into a not-equal-zero test.
func (info *translateInfo) unCx(ex *trExp) func(t, f Symbol) *TreeStm {
	switch ex.kind {
	case trExpEx:
		e := ex.ex
		if e.Kind == TREE_EXP_CONST {
			if e.Const == 0 {
				return func(t, f Symbol) *TreeStm { return unconditionalJump(f) }
			}
			return func(t, f Symbol) *TreeStm { return unconditionalJump(t) }
		}
		return func(t, f Symbol) *TreeStm { return jumpNotZero(e, t, f) }
	case trExpNx:
		panic("unCx of an effect-only translation")
	case trExpCx:
		return ex.cx
	}
	panic("unCx: bad form")
}

// === Type translation ===

type translatedType struct {
	name Symbol
	typ  *TreeType
	link *translatedType
}

func findTranslated(name Symbol, translated *translatedType) *TreeType {
	for t := translated; t != nil; t = t.link {
		if t.name == name {
			return t.typ
		}
	}
	return nil
}

func translateType0(program []*Decl, t *Type, translated *translatedType) *TreeType {
	switch t.Kind {
	case TYPE_NAME:
		switch t.Name {
		case "int":
			return treeTypeInt
		case "bool":
			return treeTypeBool
		case "void":
			return treeTypeVoid
		}
		// To handle recursive struct definitions, allocate the result shell
		// first and record it before translating the fields.
		if found := findTranslated(t.Name, translated); found != nil {
			return found
		}
		result := &TreeType{Kind: TREE_TYPE_STRUCT}
		already := &translatedType{name: t.Name, typ: result, link: translated}

		decl := lookupStruct(program, t)
		for _, field := range decl.Params {
			result.Fields = append(result.Fields,
				translateType0(program, field.Type, already))
		}
		return result
	case TYPE_PTR:
		return treeTypePtr(translateType0(program, t.Pointee, translated))
	}
	panic("translateType: array and function types are unimplemented")
}

func translateType(program []*Decl, t *Type) *TreeType {
	return translateType0(program, t, nil)
}

// === Expression translation ===

// translateVarMemRef builds the reference for a frame variable: a temp for
// register-resident variables, otherwise a memory reference off the frame
// pointer.
func (info *translateInfo) translateVarMemRef(frame *Frame, varID int, typ *Type) *TreeExp {
	v := frame.VarByID(varID)
	if v == nil {
		panic("unresolved variable reference")
	}
	wordSize := info.target.WordSize

	if v.Access == ACCESS_REG {
		return treeTemp(v.Reg, v.Size, translateType(info.program, typ))
	}

	fp := treeTemp(info.target.FP, wordSize, treeTypePtr(treeTypeVoid))
	addr := fp
	if v.Offset != 0 {
		addr = treeBinOp(TREE_BINOP_PLUS, fp,
			treeConst(int64(v.Offset), wordSize, treeTypePtrDiff))
	}
	return treeMem(addr, v.Size, translateType(info.program, typ))
}

func (info *translateInfo) translateVar(frame *Frame, e *Expr) *trExp {
	return translateEx(info.translateVarMemRef(frame, e.VarID, e.Type))
}

func (info *translateInfo) translateInt(e *Expr) *trExp {
	return translateEx(treeConst(e.Value,
		sizeOfType(info.program, info.target, e.Type), treeTypeInt))
}

func (info *translateInfo) translateBool(e *Expr) *trExp {
	return translateEx(treeConst(e.Value,
		sizeOfType(info.program, info.target, e.Type), treeTypeBool))
}

func (info *translateInfo) translateVoid() *trExp {
	return translateEx(treeConst(0, info.target.WordSize, treeTypeVoid))
}

func (info *translateInfo) translateBinop(frame *Frame, e *Expr) *trExp {
	lhs := info.translateExpr(frame, e.Left)
	rhs := info.translateExpr(frame, e.Right)

	switch e.Op {
	case TOKEN_LOR:
		// a || b:
		//	t, f ->
		//	    a-branch(t, z)
		//	z:  b-branch(t, f)
		// keeping both operands in branch form avoids materialising the
		// booleans: a comparison feeds straight into its branches
		lcx := info.unCx(lhs)
		rcx := info.unCx(rhs)
		ts := info.ts
		return translateCx(func(t, f Symbol) *TreeStm {
			z := ts.NewLabel()
			result := lcx(t, z)
			result = treeSeq(result, treeLabel(z))
			return treeSeq(result, rcx(t, f))
		})
	case TOKEN_LAND:
		// a && b:
		//	t, f ->
		//	    a-branch(z, f)
		//	z:  b-branch(t, f)
		lcx := info.unCx(lhs)
		rcx := info.unCx(rhs)
		ts := info.ts
		return translateCx(func(t, f Symbol) *TreeStm {
			z := ts.NewLabel()
			result := lcx(z, f)
			result = treeSeq(result, treeLabel(z))
			return treeSeq(result, rcx(t, f))
		})
	}

	lhe := info.unEx(lhs)
	rhe := info.unEx(rhs)

	var relop TreeRelOp
	switch e.Op {
	case TOKEN_EQ:
		relop = TREE_RELOP_EQ
	case TOKEN_NEQ:
		relop = TREE_RELOP_NE
	case TOKEN_LT:
		relop = TREE_RELOP_LT
	case TOKEN_GT:
		relop = TREE_RELOP_GT
	case TOKEN_LEQ:
		relop = TREE_RELOP_LE
	case TOKEN_GEQ:
		relop = TREE_RELOP_GE
	}
	if relop != 0 {
		return translateCx(func(t, f Symbol) *TreeStm {
			return treeCJump(relop, lhe, rhe, t, f)
		})
	}

	var op TreeBinOp
	switch e.Op {
	case TOKEN_PLUS:
		op = TREE_BINOP_PLUS
	case TOKEN_MINUS:
		op = TREE_BINOP_MINUS
	case TOKEN_STAR:
		op = TREE_BINOP_MUL
	case TOKEN_SLASH:
		op = TREE_BINOP_DIV
	case TOKEN_AMPERSAND:
		op = TREE_BINOP_AND
	case TOKEN_PIPE:
		op = TREE_BINOP_OR
	case TOKEN_CARET:
		op = TREE_BINOP_XOR
	case TOKEN_SHL:
		op = TREE_BINOP_LSHIFT
	case TOKEN_SHR:
		op = TREE_BINOP_RSHIFT
	default:
		panic("translateBinop: unexpected operator")
	}
	return translateEx(treeBinOp(op, lhe, rhe))
}

func (info *translateInfo) translateLet(frame *Frame, e *Expr) *trExp {
	// an assignment: the lhs is the variable's location in the frame
	rhe := info.unEx(info.translateExpr(frame, e.Init))
	dst := info.translateVarMemRef(frame, e.VarID, e.TypeAnn)
	return translateNx(treeMove(dst, rhe))
}

// labelForDescriptor interns a descriptor string, reusing the fragment of
// an identical one.
func (info *translateInfo) labelForDescriptor(descriptor string) Symbol {
	for _, frag := range info.stringFragments {
		if frag.Str == descriptor {
			return frag.Label
		}
	}
	label := info.ts.NewLabel()
	info.stringFragments = append(info.stringFragments,
		stringFragment(label, descriptor))
	return label
}

func (info *translateInfo) translateNew(frame *Frame, e *Expr) *trExp {
	// 1. allocate, assigning the location to a temp r
	// 2. evaluate each field initialiser into its offset from r
	wordSize := info.target.WordSize
	r := info.ts.NewTemp(wordSize, DISPO_PTR)

	structType := e.Type.Pointee
	resultType := translateType(info.program, e.Type)

	descriptor := recordDescriptorForType(info.scratch, info.program, info.target, structType)
	argExp := treeName(info.labelForDescriptor(descriptor), wordSize)

	assign := treeMove(
		treeTemp(r, r.Size, resultType),
		treeCall(
			treeName("sl_alloc_des", wordSize),
			[]*TreeExp{argExp},
			wordSize,
			resultType,
			frame.CalculatePtrMaps(e.DefdVars)))

	initSeq := assign
	offset := 0
	for _, arg := range e.Args {
		initExp := info.translateExpr(frame, arg)
		argSize := sizeOfType(info.program, info.target, arg.Type)
		argAlignment := alignmentOfType(info.program, info.target, arg.Type)
		offset = roundUpSize(offset, argAlignment)

		var fieldAddr *TreeExp = treeTemp(r, r.Size, resultType)
		if offset != 0 {
			fieldAddr = treeBinOp(TREE_BINOP_PLUS,
				treeTemp(r, r.Size, resultType),
				treeConst(int64(offset), wordSize, treeTypePtrDiff))
		}
		init := treeMove(
			treeMem(fieldAddr, argSize, translateType(info.program, arg.Type)),
			info.unEx(initExp))
		offset += argSize

		initSeq = treeSeq(initSeq, init)
	}

	return translateEx(treeESeq(initSeq, treeTemp(r, r.Size, resultType)))
}

func (info *translateInfo) translateCall(frame *Frame, e *Expr) *trExp {
	if sizeOfType(info.program, info.target, e.Type) > 2*info.target.WordSize {
		panic("return values larger than two words are unimplemented")
	}

	var args []*TreeExp
	for _, fnarg := range e.Args {
		args = append(args, info.unEx(info.translateExpr(frame, fnarg)))
	}

	return translateEx(treeCall(
		treeName(e.FnName, info.target.WordSize),
		args,
		sizeOfType(info.program, info.target, e.Type),
		translateType(info.program, e.Type),
		frame.CalculatePtrMaps(e.DefdVars)))
}

// assignReturn moves arg into the return location for the current function.
func assignReturn(frame *Frame, arg *TreeExp) *TreeStm {
	wordSize := frame.Target.WordSize
	if arg.Size <= wordSize {
		t := frame.Target.Ret0 // a copy
		t.Size = arg.Size
		return treeMove(treeTemp(t, t.Size, arg.Type), arg)
	}
	// two-word returns through ret0/ret1 are reserved for a future calling
	// convention change
	panic("return values larger than one word are unimplemented")
}

func (info *translateInfo) translateReturn(frame *Frame, e *Expr) *trExp {
	// jump to the shared label just before the epilogue
	result := unconditionalJump(info.functionEndLabel)
	info.isEndLabelUsed = true

	if e.Left != nil {
		arg := info.unEx(info.translateExpr(frame, e.Left))
		result = treeSeq(assignReturn(frame, arg), result)
	}
	return translateNx(result)
}

func (info *translateInfo) translateBreak() *trExp {
	// jump to the end label of the innermost enclosing loop
	return translateNx(unconditionalJump(info.currentLoopEnd))
}

func (info *translateInfo) translateLoop(frame *Frame, e *Expr) *trExp {
	// start:
	//	s1
	//	...
	//	s99
	// end:
	//
	// There is no implicit continue; the body repeats only through its own
	// control flow, and break jumps to end.
	loopStart := info.ts.NewLabel()
	loopEnd := info.ts.NewLabel()

	savedEnd := info.currentLoopEnd
	info.currentLoopEnd = loopEnd

	stmts := treeLabel(loopStart)
	for _, s := range e.Body {
		stmts = treeSeq(stmts, info.unNx(info.translateExpr(frame, s)))
	}

	info.currentLoopEnd = savedEnd

	return translateNx(treeSeq(stmts, treeLabel(loopEnd)))
}

func (info *translateInfo) translateDeref(frame *Frame, e *Expr) *trExp {
	arg := info.unEx(info.translateExpr(frame, e.Left))
	size := sizeOfType(info.program, info.target, e.Type)
	typ := translateType(info.program, e.Type)
	return translateEx(treeMem(arg, size, typ))
}

func (info *translateInfo) translateAddrOf(frame *Frame, e *Expr) *trExp {
	arg := info.unEx(info.translateExpr(frame, e.Left))
	// variable, member and deref all lower to MEM(addr), so taking an
	// address just peels the MEM off
	if arg.Kind != TREE_EXP_MEM {
		panic("addrof of a non-memory reference")
	}
	return translateEx(arg.Addr)
}

func (info *translateInfo) translateMember(frame *Frame, e *Expr) *trExp {
	structDecl := structDeclOf(e.Composite.Type)
	if structDecl == nil {
		panic("member access on unresolved struct type")
	}
	wordSize := info.target.WordSize

	memberSize := 0
	var memberType *TreeType
	offset := 0
	for _, mem := range structDecl.Params {
		memberSize = sizeOfType(info.program, info.target, mem.Type)
		memberAlignment := alignmentOfType(info.program, info.target, mem.Type)
		offset = roundUpSize(offset, memberAlignment)
		if mem.Name == e.Member {
			memberType = translateType(info.program, mem.Type)
			break
		}
		offset += memberSize
	}
	if memberType == nil {
		panic("member not found after type checking")
	}

	baseRef := info.unEx(info.translateExpr(frame, e.Composite))

	// the common case: the struct is in memory, on the stack or the heap
	if baseRef.Kind == TREE_EXP_MEM {
		baseAddr := baseRef.Addr
		addr := baseAddr
		if offset != 0 {
			addr = treeBinOp(TREE_BINOP_PLUS, baseAddr,
				treeConst(int64(offset), wordSize, treeTypePtrDiff))
		}
		return translateEx(treeMem(addr, memberSize, memberType))
	}

	// the uncommon case: the struct fits in a register; extract the field
	// with a shift and mask
	if baseRef.Kind != TREE_EXP_TEMP {
		panic("struct value neither in memory nor in a register")
	}
	shift := offset * 8
	mask := int64(1)<<(memberSize*8) - 1
	return translateEx(treeBinOp(TREE_BINOP_AND,
		treeBinOp(TREE_BINOP_RSHIFT,
			baseRef,
			treeConst(int64(shift), baseRef.Size, baseRef.Type)),
		treeConst(mask, baseRef.Size, baseRef.Type)))
}

func (info *translateInfo) translateIf(frame *Frame, e *Expr) *trExp {
	condition := info.unCx(info.translateExpr(frame, e.Cond))
	tlabel := info.ts.NewLabel()
	flabel := info.ts.NewLabel()
	join := info.ts.NewLabel()

	// when the expression is void there is no value to carry through a
	// temp; the arms run for effect only
	if typeIsNamed(e.Type, "void") {
		cons := info.unNx(info.translateExpr(frame, e.Cons))
		var alt *TreeStm
		if e.Alt != nil {
			alt = info.unNx(info.translateExpr(frame, e.Alt))
		}
		res := condition(tlabel, flabel)
		res = treeSeq(res, treeLabel(tlabel))
		res = treeSeq(res, cons)
		res = treeSeq(res, unconditionalJump(join))
		res = treeSeq(res, treeLabel(flabel))
		if alt != nil {
			res = treeSeq(res, alt)
		}
		res = treeSeq(res, unconditionalJump(join))
		res = treeSeq(res, treeLabel(join))
		return translateNx(res)
	}

	cons := info.unEx(info.translateExpr(frame, e.Cons))
	alt := info.unEx(info.translateExpr(frame, e.Alt))

	consSize := sizeOfType(info.program, info.target, e.Cons.Type)
	consType := translateType(info.program, e.Cons.Type)
	r := info.ts.NewTemp(consSize, treeDispoFromType(consType))
	rExp := func() *TreeExp { return treeTemp(r, consSize, consType) }

	res := condition(tlabel, flabel)
	res = treeSeq(res, treeLabel(tlabel))
	res = treeSeq(res, treeMove(rExp(), cons))
	res = treeSeq(res, unconditionalJump(join))
	res = treeSeq(res, treeLabel(flabel))
	res = treeSeq(res, treeMove(rExp(), alt))
	res = treeSeq(res, unconditionalJump(join))
	res = treeSeq(res, treeLabel(join))
	return translateEx(treeESeq(res, rExp()))
}

func (info *translateInfo) translateSeq(frame *Frame, e *Expr) *trExp {
	effect := info.unNx(info.translateExpr(frame, e.Left))
	value := info.translateExpr(frame, e.Right)
	switch value.kind {
	case trExpNx:
		return translateNx(treeSeq(effect, value.nx))
	default:
		return translateEx(treeESeq(effect, info.unEx(value)))
	}
}

func (info *translateInfo) translateExpr(frame *Frame, e *Expr) *trExp {
	switch e.Kind {
	case EXPR_VAR:
		return info.translateVar(frame, e)
	case EXPR_INT:
		return info.translateInt(e)
	case EXPR_BOOL:
		return info.translateBool(e)
	case EXPR_VOID:
		// happens as an unspecified else branch
		return info.translateVoid()
	case EXPR_BINOP:
		return info.translateBinop(frame, e)
	case EXPR_LET:
		return info.translateLet(frame, e)
	case EXPR_NEW:
		return info.translateNew(frame, e)
	case EXPR_CALL:
		return info.translateCall(frame, e)
	case EXPR_RETURN:
		return info.translateReturn(frame, e)
	case EXPR_BREAK:
		return info.translateBreak()
	case EXPR_LOOP:
		return info.translateLoop(frame, e)
	case EXPR_DEREF:
		return info.translateDeref(frame, e)
	case EXPR_ADDROF:
		return info.translateAddrOf(frame, e)
	case EXPR_MEMBER:
		return info.translateMember(frame, e)
	case EXPR_IF:
		return info.translateIf(frame, e)
	case EXPR_SEQ:
		return info.translateSeq(frame, e)
	}
	panic("translateExpr: bad tag")
}

func (info *translateInfo) translateDecl(frame *Frame, d *Decl) *TreeStm {
	info.functionEndLabel = info.ts.NewLabel()
	info.isEndLabelUsed = false

	if len(d.Body) == 0 {
		panic("function with empty body survived checking")
	}
	var stmts *TreeStm
	var lastExpr *trExp
	for _, e := range d.Body {
		if lastExpr != nil {
			stmt := info.unNx(lastExpr)
			if stmts == nil {
				stmts = stmt
			} else {
				stmts = treeSeq(stmts, stmt)
			}
		}
		lastExpr = info.translateExpr(frame, e)
	}

	resultExp := info.unEx(lastExpr)
	if stmts != nil {
		resultExp = treeESeq(stmts, resultExp)
	}

	// assign the result to the return register and declare the label the
	// return statements jump to
	returnAssignment := assignReturn(frame, resultExp)
	if info.isEndLabelUsed {
		return treeSeq(returnAssignment, treeLabel(info.functionEndLabel))
	}
	return returnAssignment
}

// translateProgram converts each function into a code fragment holding its
// frame and tree-IR body, followed by the string fragments for the object
// descriptors interned along the way.
func translateProgram(ts *TempState, target *Target, program []*Decl, frames []*Frame) []*Fragment {
	info := &translateInfo{
		program: program,
		ts:      ts,
		target:  target,
		scratch: NewArena(),
	}

	var result []*Fragment
	fi := 0
	for _, d := range program {
		if d.Kind != DECL_FUNC {
			continue
		}
		frame := frames[fi]
		fi++
		body := info.translateDecl(frame, d)
		body = procEntryExit1(ts, frame, body)
		result = append(result, codeFragment(body, frame))
		info.scratch.Clear()
	}
	if fi != len(frames) {
		panic("frame list out of step with declarations")
	}

	return append(result, info.stringFragments...)
}
