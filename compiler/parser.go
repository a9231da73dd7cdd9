package main

import (
	"fmt"
	"strconv"
)

// === Parser ===
//
// Recursive descent over the struct-language grammar:
//
//	program     := (struct_decl | func_decl)*
//	struct_decl := "struct" ident "{" field ("," field)* [","] "}"
//	field       := ident ":" type
//	func_decl   := "fn" ident "(" [param ("," param)*] ")" ["->" type] block
//	type        := ident | "*" type
//	block       := "{" expr (";" expr)* [";"] "}"
//
// A function body is a sequence of expressions; the last one is the
// function's result.

type Parser struct {
	lex      *Lexer
	tok      Token
	ahead    *Token
	filename string
	errs     []string
}

func NewParser(filename string, src []byte) *Parser {
	p := &Parser{lex: NewLexer(src), filename: filename}
	p.tok = p.lex.Next()
	return p
}

func (p *Parser) errorf(line int, format string, args ...interface{}) {
	msg := fmt.Sprintf("%s:%d: %s", p.filename, line, fmt.Sprintf(format, args...))
	p.errs = append(p.errs, msg)
}

func (p *Parser) next() {
	if p.ahead != nil {
		p.tok = *p.ahead
		p.ahead = nil
		return
	}
	p.tok = p.lex.Next()
}

func (p *Parser) peekAhead() Token {
	if p.ahead == nil {
		t := p.lex.Next()
		p.ahead = &t
	}
	return *p.ahead
}

func (p *Parser) expect(k TokenKind) Token {
	t := p.tok
	if t.Kind != k {
		p.errorf(t.Line, "expected %q, found %q", tokenName(k), t.String())
		// leave the token in place; the caller skips forward
		return t
	}
	p.next()
	return t
}

func (p *Parser) accept(k TokenKind) bool {
	if p.tok.Kind == k {
		p.next()
		return true
	}
	return false
}

// Parse consumes the whole input and returns the declaration list. A nil
// result means errors were reported.
func (p *Parser) Parse() ([]*Decl, []string) {
	var program []*Decl
	for p.tok.Kind != TOKEN_EOF {
		switch p.tok.Kind {
		case TOKEN_STRUCT:
			program = append(program, p.parseStructDecl())
		case TOKEN_FN:
			program = append(program, p.parseFuncDecl())
		default:
			p.errorf(p.tok.Line, "expected declaration, found %q", p.tok.String())
			p.next()
		}
	}
	errs := append(p.lex.errs, p.errs...)
	if len(errs) > 0 {
		return nil, errs
	}
	return program, nil
}

func (p *Parser) parseStructDecl() *Decl {
	line := p.tok.Line
	p.expect(TOKEN_STRUCT)
	name := p.expect(TOKEN_IDENT)
	p.expect(TOKEN_LBRACE)
	var fields []*Decl
	for p.tok.Kind != TOKEN_RBRACE && p.tok.Kind != TOKEN_EOF {
		fline := p.tok.Line
		fname := p.expect(TOKEN_IDENT)
		p.expect(TOKEN_COLON)
		ftype := p.parseType()
		fields = append(fields, &Decl{
			Kind: DECL_PARAM, Line: fline, Name: fname.Val, Type: ftype,
		})
		if !p.accept(TOKEN_COMMA) {
			break
		}
	}
	p.expect(TOKEN_RBRACE)
	return &Decl{Kind: DECL_STRUCT, Line: line, Name: name.Val, Params: fields}
}

func (p *Parser) parseFuncDecl() *Decl {
	line := p.tok.Line
	p.expect(TOKEN_FN)
	name := p.expect(TOKEN_IDENT)
	p.expect(TOKEN_LPAREN)
	var params []*Decl
	for p.tok.Kind != TOKEN_RPAREN && p.tok.Kind != TOKEN_EOF {
		pline := p.tok.Line
		pname := p.expect(TOKEN_IDENT)
		p.expect(TOKEN_COLON)
		ptype := p.parseType()
		params = append(params, &Decl{
			Kind: DECL_PARAM, Line: pline, Name: pname.Val, Type: ptype,
		})
		if !p.accept(TOKEN_COMMA) {
			break
		}
	}
	p.expect(TOKEN_RPAREN)
	retType := typeName("void")
	if p.accept(TOKEN_ARROW) {
		retType = p.parseType()
	}
	body := p.parseBlock()
	return &Decl{
		Kind: DECL_FUNC, Line: line, Name: name.Val, Params: params,
		Type: retType, Body: body,
	}
}

func (p *Parser) parseType() *Type {
	if p.accept(TOKEN_STAR) {
		return typePointer(p.parseType())
	}
	t := p.expect(TOKEN_IDENT)
	return typeName(t.Val)
}

func (p *Parser) parseBlock() []*Expr {
	p.expect(TOKEN_LBRACE)
	var exprs []*Expr
	for p.tok.Kind != TOKEN_RBRACE && p.tok.Kind != TOKEN_EOF {
		exprs = append(exprs, p.parseExpr())
		if !p.accept(TOKEN_SEMICOLON) {
			break
		}
	}
	p.expect(TOKEN_RBRACE)
	return exprs
}

// Binary operator precedence, loosest first.
func binopPrecedence(k TokenKind) int {
	switch k {
	case TOKEN_LOR:
		return 1
	case TOKEN_LAND:
		return 2
	case TOKEN_PIPE:
		return 3
	case TOKEN_CARET:
		return 4
	case TOKEN_AMPERSAND:
		return 5
	case TOKEN_EQ, TOKEN_NEQ:
		return 6
	case TOKEN_LT, TOKEN_GT, TOKEN_LEQ, TOKEN_GEQ:
		return 7
	case TOKEN_SHL, TOKEN_SHR:
		return 8
	case TOKEN_PLUS, TOKEN_MINUS:
		return 9
	case TOKEN_STAR, TOKEN_SLASH:
		return 10
	}
	return 0
}

func (p *Parser) parseExpr() *Expr {
	switch p.tok.Kind {
	case TOKEN_LET:
		line := p.tok.Line
		p.next()
		name := p.expect(TOKEN_IDENT)
		p.expect(TOKEN_COLON)
		typ := p.parseType()
		p.expect(TOKEN_ASSIGN)
		init := p.parseBinopExpr(1)
		return exprLet(name.Val, typ, init, line)
	case TOKEN_RETURN:
		line := p.tok.Line
		p.next()
		// a return argument is present unless the next token closes the
		// statement
		if p.tok.Kind == TOKEN_SEMICOLON || p.tok.Kind == TOKEN_RBRACE {
			return exprReturn(nil, line)
		}
		return exprReturn(p.parseBinopExpr(1), line)
	case TOKEN_BREAK:
		line := p.tok.Line
		p.next()
		return exprBreak(line)
	case TOKEN_LOOP:
		line := p.tok.Line
		p.next()
		return exprLoop(p.parseBlock(), line)
	}
	return p.parseBinopExpr(1)
}

// parseBinopExpr is classic precedence climbing above parseUnary.
func (p *Parser) parseBinopExpr(minPrec int) *Expr {
	lhs := p.parseUnary()
	for {
		prec := binopPrecedence(p.tok.Kind)
		if prec == 0 || prec < minPrec {
			return lhs
		}
		op := p.tok.Kind
		line := p.tok.Line
		p.next()
		rhs := p.parseBinopExpr(prec + 1)
		lhs = exprBinop(op, lhs, rhs, line)
	}
}

func (p *Parser) parseUnary() *Expr {
	switch p.tok.Kind {
	case TOKEN_STAR:
		line := p.tok.Line
		p.next()
		return exprDeref(p.parseUnary(), line)
	case TOKEN_AMPERSAND:
		line := p.tok.Line
		p.next()
		return exprAddrOf(p.parseUnary(), line)
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() *Expr {
	e := p.parsePrimary()
	for p.tok.Kind == TOKEN_DOT {
		line := p.tok.Line
		p.next()
		member := p.expect(TOKEN_IDENT)
		e = exprMember(e, member.Val, line)
	}
	return e
}

func (p *Parser) parsePrimary() *Expr {
	t := p.tok
	switch t.Kind {
	case TOKEN_INT:
		p.next()
		v, err := strconv.ParseInt(t.Val, 10, 64)
		if err != nil {
			p.errorf(t.Line, "bad integer literal %q", t.Val)
		}
		return exprInt(v, t.Line)
	case TOKEN_TRUE:
		p.next()
		return exprBool(true, t.Line)
	case TOKEN_FALSE:
		p.next()
		return exprBool(false, t.Line)
	case TOKEN_IDENT:
		if p.peekAhead().Kind == TOKEN_LPAREN {
			p.next()
			p.next()
			args := p.parseArgs()
			return exprCall(t.Val, args, t.Line)
		}
		p.next()
		return exprVar(t.Val, t.Line)
	case TOKEN_NEW:
		p.next()
		name := p.expect(TOKEN_IDENT)
		p.expect(TOKEN_LPAREN)
		args := p.parseArgs()
		return exprNew(name.Val, args, t.Line)
	case TOKEN_IF:
		return p.parseIf()
	case TOKEN_LPAREN:
		p.next()
		if p.accept(TOKEN_RPAREN) {
			return exprVoid(t.Line)
		}
		e := p.parseBinopExpr(1)
		p.expect(TOKEN_RPAREN)
		return e
	}
	p.errorf(t.Line, "expected expression, found %q", t.String())
	p.next()
	return exprVoid(t.Line)
}

func (p *Parser) parseArgs() []*Expr {
	var args []*Expr
	for p.tok.Kind != TOKEN_RPAREN && p.tok.Kind != TOKEN_EOF {
		args = append(args, p.parseBinopExpr(1))
		if !p.accept(TOKEN_COMMA) {
			break
		}
	}
	p.expect(TOKEN_RPAREN)
	return args
}

// parseIf reads `if cond block [else (block | if ...)]`. A block's value is
// the value of its last expression; earlier expressions run for effect
// through EXPR_SEQ nodes, so here the block is folded into a single
// expression.
func (p *Parser) parseIf() *Expr {
	line := p.tok.Line
	p.expect(TOKEN_IF)
	cond := p.parseBinopExpr(1)
	cons := p.blockExpr(p.parseBlock(), line)
	var alt *Expr
	if p.accept(TOKEN_ELSE) {
		if p.tok.Kind == TOKEN_IF {
			alt = p.parseIf()
		} else {
			aline := p.tok.Line
			alt = p.blockExpr(p.parseBlock(), aline)
		}
	}
	return exprIf(cond, cons, alt, line)
}

// blockExpr folds a block's expression sequence into a single expression:
// the value is that of the last expression, earlier ones run for effect.
func (p *Parser) blockExpr(exprs []*Expr, line int) *Expr {
	if len(exprs) == 0 {
		return exprVoid(line)
	}
	result := exprs[len(exprs)-1]
	for i := len(exprs) - 2; i >= 0; i-- {
		result = exprSeq(exprs[i], result, exprs[i].Line)
	}
	return result
}
