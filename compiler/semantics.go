package main

import (
	"fmt"
	"sort"
)

// === Semantic analysis ===
//
// Name resolution and type checking. On success every expression carries its
// type, every variable reference carries the id of its binding, and every
// call or new expression carries the sorted set of variable ids defined at
// that point (the raw material for its frame map).

type scopeEntry struct {
	name  Symbol
	varID int
	typ   *Type
}

type checker struct {
	program  []*Decl
	filename string
	errs     []string

	structs map[Symbol]*Decl
	funcs   map[Symbol]*Decl

	scopes []map[Symbol]*scopeEntry
	// ids of the variables whose initialisation has run on every path to
	// the current point; truncated when a scope closes so a call after an
	// untaken branch never claims the branch's slots hold live pointers
	defdVars  []int
	defdMarks []int
	currentFn *Decl
	loopDepth int
	nextVarID int
}

func (c *checker) errorf(line int, format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Sprintf("%s:%d: %s", c.filename, line,
		fmt.Sprintf(format, args...)))
}

func (c *checker) pushScope() {
	c.scopes = append(c.scopes, map[Symbol]*scopeEntry{})
	c.defdMarks = append(c.defdMarks, len(c.defdVars))
}

func (c *checker) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
	mark := c.defdMarks[len(c.defdMarks)-1]
	c.defdMarks = c.defdMarks[:len(c.defdMarks)-1]
	c.defdVars = c.defdVars[:mark]
}

func (c *checker) define(line int, name Symbol, typ *Type, varID int) {
	top := c.scopes[len(c.scopes)-1]
	if _, ok := top[name]; ok {
		c.errorf(line, "name %q already defined in this scope", name)
		return
	}
	top[name] = &scopeEntry{name: name, varID: varID, typ: typ}
}

func (c *checker) lookup(name Symbol) *scopeEntry {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if e, ok := c.scopes[i][name]; ok {
			return e
		}
	}
	return nil
}

func isBuiltinType(name Symbol) bool {
	return name == "int" || name == "bool" || name == "void"
}

// resolveType checks that a type reference names a real type and links
// struct references to their declarations.
func (c *checker) resolveType(line int, t *Type) {
	switch t.Kind {
	case TYPE_NAME:
		if isBuiltinType(t.Name) {
			return
		}
		d, ok := c.structs[t.Name]
		if !ok {
			c.errorf(line, "unknown type %q", t.Name)
			return
		}
		t.Decl = d
	case TYPE_PTR:
		c.resolveType(line, t.Pointee)
	default:
		c.errorf(line, "unsupported type")
	}
}

func typeEq(a, b *Type) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TYPE_NAME:
		return a.Name == b.Name
	case TYPE_PTR:
		return typeEq(a.Pointee, b.Pointee)
	}
	return false
}

func typeIsNamed(t *Type, name Symbol) bool {
	return t != nil && t.Kind == TYPE_NAME && t.Name == name
}

func typeString(t *Type) string {
	if t == nil {
		return "<error>"
	}
	switch t.Kind {
	case TYPE_NAME:
		return string(t.Name)
	case TYPE_PTR:
		return "*" + typeString(t.Pointee)
	}
	return "?"
}

var (
	builtinInt  = typeName("int")
	builtinBool = typeName("bool")
	builtinVoid = typeName("void")
)

// semVerifyAndTypeProgram checks the whole program. It returns the list of
// diagnostics; an empty list means the tree is fully annotated.
func semVerifyAndTypeProgram(filename string, program []*Decl) []string {
	c := &checker{
		program:  program,
		filename: filename,
		structs:  map[Symbol]*Decl{},
		funcs:    map[Symbol]*Decl{},
		nextVarID: 1,
	}

	// collect top-level names first so declaration order doesn't matter
	for _, d := range program {
		switch d.Kind {
		case DECL_STRUCT:
			if _, ok := c.structs[d.Name]; ok {
				c.errorf(d.Line, "struct %q redefined", d.Name)
				continue
			}
			c.structs[d.Name] = d
		case DECL_FUNC:
			if _, ok := c.funcs[d.Name]; ok {
				c.errorf(d.Line, "function %q redefined", d.Name)
				continue
			}
			c.funcs[d.Name] = d
		}
	}

	for _, d := range program {
		if d.Kind == DECL_STRUCT {
			seen := map[Symbol]bool{}
			for _, f := range d.Params {
				if seen[f.Name] {
					c.errorf(f.Line, "field %q repeated in struct %q", f.Name, d.Name)
				}
				seen[f.Name] = true
				c.resolveType(f.Line, f.Type)
				if typeIsNamed(f.Type, "void") {
					c.errorf(f.Line, "field %q has void type", f.Name)
				}
			}
		}
	}

	for _, d := range program {
		if d.Kind == DECL_FUNC {
			c.checkFunc(d)
		}
	}
	return c.errs
}

func (c *checker) checkFunc(d *Decl) {
	c.currentFn = d
	c.defdVars = nil
	c.defdMarks = nil
	c.resolveType(d.Line, d.Type)

	c.pushScope()
	defer c.popScope()

	for _, p := range d.Params {
		c.resolveType(p.Line, p.Type)
		if typeIsNamed(p.Type, "void") {
			c.errorf(p.Line, "parameter %q has void type", p.Name)
		}
		p.VarID = c.nextVarID
		c.nextVarID++
		c.define(p.Line, p.Name, p.Type, p.VarID)
		c.defdVars = append(c.defdVars, p.VarID)
	}

	if len(d.Body) == 0 {
		c.errorf(d.Line, "function %q has an empty body", d.Name)
		return
	}
	var last *Type
	for _, e := range d.Body {
		last = c.checkExpr(e)
	}
	// A body ending in a return or a loop produces its result through return
	// expressions, each checked on its own; a loop in that position is not
	// examined for a break that would leave it.
	lastKind := d.Body[len(d.Body)-1].Kind
	exits := lastKind == EXPR_RETURN || lastKind == EXPR_LOOP
	if !exits && !typeIsNamed(d.Type, "void") && !typeEq(last, d.Type) {
		c.errorf(d.Body[len(d.Body)-1].Line,
			"function %q results in %s, expected %s",
			d.Name, typeString(last), typeString(d.Type))
	}
}

// snapshotDefdVars captures the ids of all variables defined so far, sorted.
func (c *checker) snapshotDefdVars() []int {
	out := make([]int, len(c.defdVars))
	copy(out, c.defdVars)
	sort.Ints(out)
	return out
}

func (c *checker) checkExpr(e *Expr) *Type {
	switch e.Kind {
	case EXPR_INT:
		e.Type = builtinInt
	case EXPR_BOOL:
		e.Type = builtinBool
	case EXPR_VOID:
		e.Type = builtinVoid
	case EXPR_BINOP:
		e.Type = c.checkBinop(e)
	case EXPR_LET:
		c.resolveType(e.Line, e.TypeAnn)
		if typeIsNamed(e.TypeAnn, "void") {
			c.errorf(e.Line, "variable %q has void type", e.Name)
		}
		it := c.checkExpr(e.Init)
		if it != nil && !typeEq(it, e.TypeAnn) {
			if e.TypeAnn.Kind == TYPE_PTR && e.Init.Kind == EXPR_INT && e.Init.Value == 0 {
				e.Init.Type = e.TypeAnn
			} else {
				c.errorf(e.Line, "initialiser for %q has type %s, expected %s",
					e.Name, typeString(it), typeString(e.TypeAnn))
			}
		}
		e.VarID = c.nextVarID
		c.nextVarID++
		c.define(e.Line, e.Name, e.TypeAnn, e.VarID)
		c.defdVars = append(c.defdVars, e.VarID)
		e.Type = builtinVoid
	case EXPR_CALL:
		fn, ok := c.funcs[e.FnName]
		if !ok {
			c.errorf(e.Line, "call to undefined function %q", e.FnName)
			e.Type = builtinVoid
			break
		}
		if len(e.Args) != len(fn.Params) {
			c.errorf(e.Line, "function %q takes %d arguments, got %d",
				e.FnName, len(fn.Params), len(e.Args))
		}
		for i, a := range e.Args {
			at := c.checkExpr(a)
			if i >= len(fn.Params) || at == nil || typeEq(at, fn.Params[i].Type) {
				continue
			}
			// 0 is a valid value for any pointer parameter
			if fn.Params[i].Type.Kind == TYPE_PTR && a.Kind == EXPR_INT && a.Value == 0 {
				a.Type = fn.Params[i].Type
				continue
			}
			c.errorf(a.Line, "argument %d of %q has type %s, expected %s",
				i+1, e.FnName, typeString(at), typeString(fn.Params[i].Type))
		}
		e.DefdVars = c.snapshotDefdVars()
		e.Type = fn.Type
	case EXPR_NEW:
		sd, ok := c.structs[e.FnName]
		if !ok {
			c.errorf(e.Line, "new of unknown struct %q", e.FnName)
			e.Type = builtinVoid
			break
		}
		if len(e.Args) != len(sd.Params) {
			c.errorf(e.Line, "struct %q has %d fields, got %d initialisers",
				e.FnName, len(sd.Params), len(e.Args))
		}
		for i, a := range e.Args {
			at := c.checkExpr(a)
			if i >= len(sd.Params) || at == nil {
				continue
			}
			ft := sd.Params[i].Type
			if typeEq(at, ft) {
				continue
			}
			// 0 is a valid initialiser for a pointer field
			if ft.Kind == TYPE_PTR && a.Kind == EXPR_INT && a.Value == 0 {
				a.Type = ft
				continue
			}
			c.errorf(a.Line, "field %q of %q has type %s, got %s",
				sd.Params[i].Name, e.FnName, typeString(ft), typeString(at))
		}
		e.DefdVars = c.snapshotDefdVars()
		st := typeName(e.FnName)
		st.Decl = sd
		e.Type = typePointer(st)
	case EXPR_VAR:
		entry := c.lookup(e.Name)
		if entry == nil {
			c.errorf(e.Line, "undefined variable %q", e.Name)
			e.Type = builtinVoid
			break
		}
		e.VarID = entry.varID
		e.Type = entry.typ
	case EXPR_RETURN:
		if e.Left != nil {
			rt := c.checkExpr(e.Left)
			if rt != nil && !typeEq(rt, c.currentFn.Type) {
				c.errorf(e.Line, "return value has type %s, expected %s",
					typeString(rt), typeString(c.currentFn.Type))
			}
		} else if !typeIsNamed(c.currentFn.Type, "void") {
			c.errorf(e.Line, "missing return value in %q", c.currentFn.Name)
		}
		e.Type = builtinVoid
	case EXPR_BREAK:
		if c.loopDepth == 0 {
			c.errorf(e.Line, "break outside of loop")
		}
		e.Type = builtinVoid
	case EXPR_LOOP:
		c.loopDepth++
		c.pushScope()
		for _, s := range e.Body {
			c.checkExpr(s)
		}
		c.popScope()
		c.loopDepth--
		e.Type = builtinVoid
	case EXPR_DEREF:
		at := c.checkExpr(e.Left)
		if at == nil || at.Kind != TYPE_PTR {
			c.errorf(e.Line, "dereference of non-pointer type %s", typeString(at))
			e.Type = builtinVoid
			break
		}
		e.Type = at.Pointee
	case EXPR_ADDROF:
		at := c.checkExpr(e.Left)
		if !semIsLvalue(e.Left) {
			c.errorf(e.Line, "cannot take the address of this expression")
		}
		if at == nil {
			e.Type = builtinVoid
			break
		}
		e.Type = typePointer(at)
	case EXPR_MEMBER:
		ct := c.checkExpr(e.Composite)
		sd := structDeclOf(ct)
		if sd == nil {
			c.errorf(e.Line, "member access on non-struct type %s", typeString(ct))
			e.Type = builtinVoid
			break
		}
		var ft *Type
		for _, f := range sd.Params {
			if f.Name == e.Member {
				ft = f.Type
				break
			}
		}
		if ft == nil {
			c.errorf(e.Line, "struct %q has no field %q", sd.Name, e.Member)
			e.Type = builtinVoid
			break
		}
		e.Type = ft
	case EXPR_IF:
		ct := c.checkExpr(e.Cond)
		if ct != nil && !typeIsNamed(ct, "bool") {
			c.errorf(e.Cond.Line, "if condition has type %s, expected bool",
				typeString(ct))
		}
		c.pushScope()
		consT := c.checkExpr(e.Cons)
		c.popScope()
		if e.Alt == nil {
			e.Type = builtinVoid
			break
		}
		c.pushScope()
		altT := c.checkExpr(e.Alt)
		c.popScope()
		if consT != nil && altT != nil && !typeEq(consT, altT) {
			c.errorf(e.Line, "if branches have mismatched types %s and %s",
				typeString(consT), typeString(altT))
		}
		e.Type = consT
	case EXPR_SEQ:
		c.checkExpr(e.Left)
		e.Type = c.checkExpr(e.Right)
	default:
		panic("checkExpr: bad tag")
	}
	return e.Type
}

func (c *checker) checkBinop(e *Expr) *Type {
	lt := c.checkExpr(e.Left)
	rt := c.checkExpr(e.Right)
	switch e.Op {
	case TOKEN_LAND, TOKEN_LOR:
		if lt != nil && !typeIsNamed(lt, "bool") {
			c.errorf(e.Line, "left operand of %s has type %s, expected bool",
				tokenName(e.Op), typeString(lt))
		}
		if rt != nil && !typeIsNamed(rt, "bool") {
			c.errorf(e.Line, "right operand of %s has type %s, expected bool",
				tokenName(e.Op), typeString(rt))
		}
		return builtinBool
	case TOKEN_EQ, TOKEN_NEQ:
		if lt != nil && rt != nil && !typeEq(lt, rt) {
			// 0 compares against any pointer
			if lt.Kind == TYPE_PTR && e.Right.Kind == EXPR_INT && e.Right.Value == 0 {
				e.Right.Type = lt
				return builtinBool
			}
			if rt.Kind == TYPE_PTR && e.Left.Kind == EXPR_INT && e.Left.Value == 0 {
				e.Left.Type = rt
				return builtinBool
			}
			c.errorf(e.Line, "cannot compare %s with %s",
				typeString(lt), typeString(rt))
		}
		return builtinBool
	case TOKEN_LT, TOKEN_GT, TOKEN_LEQ, TOKEN_GEQ:
		c.wantInt(e, lt, rt)
		return builtinBool
	case TOKEN_PLUS, TOKEN_MINUS, TOKEN_STAR, TOKEN_SLASH,
		TOKEN_AMPERSAND, TOKEN_PIPE, TOKEN_CARET, TOKEN_SHL, TOKEN_SHR:
		c.wantInt(e, lt, rt)
		return builtinInt
	}
	c.errorf(e.Line, "unexpected operator %s", tokenName(e.Op))
	return builtinVoid
}

func (c *checker) wantInt(e *Expr, lt, rt *Type) {
	if lt != nil && !typeIsNamed(lt, "int") {
		c.errorf(e.Line, "left operand of %s has type %s, expected int",
			tokenName(e.Op), typeString(lt))
	}
	if rt != nil && !typeIsNamed(rt, "int") {
		c.errorf(e.Line, "right operand of %s has type %s, expected int",
			tokenName(e.Op), typeString(rt))
	}
}

// semIsLvalue reports whether the expression designates a memory location.
func semIsLvalue(e *Expr) bool {
	switch e.Kind {
	case EXPR_VAR, EXPR_DEREF:
		return true
	case EXPR_MEMBER:
		return semIsLvalue(e.Composite)
	}
	return false
}

// structDeclOf returns the struct declaration behind a named struct type.
func structDeclOf(t *Type) *Decl {
	if t == nil || t.Kind != TYPE_NAME || t.Decl == nil {
		return nil
	}
	return t.Decl
}
