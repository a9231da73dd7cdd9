package main

import (
	"strings"
	"testing"
)

func TestParseSimpleProgram(t *testing.T) {
	src := `
struct Pair { a: int, b: *Pair }
fn add(x: int, y: int) -> int { x + y }
fn main() -> int { add(1, 2 * 3) }
`
	p := NewParser("test.sl", []byte(src))
	program, errs := p.Parse()
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}
	if len(program) != 3 {
		t.Fatalf("got %d decls, want 3", len(program))
	}
	if program[0].Kind != DECL_STRUCT || program[0].Name != "Pair" {
		t.Errorf("first decl = %v", program[0])
	}
	if program[1].Kind != DECL_FUNC || len(program[1].Params) != 2 {
		t.Errorf("second decl = %v", program[1])
	}
	// * binds tighter than +
	body := program[2].Body[0]
	if body.Kind != EXPR_CALL || len(body.Args) != 2 {
		t.Fatalf("main body = %v", body)
	}
	if body.Args[1].Kind != EXPR_BINOP || body.Args[1].Op != TOKEN_STAR {
		t.Errorf("precedence wrong: %v", body.Args[1])
	}
}

func TestParsePointerTypesAndUnary(t *testing.T) {
	src := `fn f(p: **int) -> *int { *p }`
	p := NewParser("test.sl", []byte(src))
	program, errs := p.Parse()
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}
	typ := program[0].Params[0].Type
	if typ.Kind != TYPE_PTR || typ.Pointee.Kind != TYPE_PTR {
		t.Errorf("param type = %v", typ)
	}
	if program[0].Body[0].Kind != EXPR_DEREF {
		t.Errorf("body = %v", program[0].Body[0])
	}
}

func TestParseErrorsReported(t *testing.T) {
	src := `fn f( -> int { 1 }`
	p := NewParser("bad.sl", []byte(src))
	_, errs := p.Parse()
	if errs == nil {
		t.Fatalf("expected parse errors")
	}
	if !strings.Contains(errs[0], "bad.sl:") {
		t.Errorf("error lacks position: %s", errs[0])
	}
}

func TestSemanticErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"undefined-var", `fn f() -> int { x }`, "undefined variable"},
		{"bad-call", `fn f() -> int { g() }`, "undefined function"},
		{"type-mismatch", `fn f() -> int { true }`, "results in bool"},
		{"bad-deref", `fn f(x: int) -> int { *x }`, "non-pointer"},
		{"break-outside", `fn f() -> int { break; 1 }`, "outside of loop"},
		{"dup-name", `fn f(x: int) -> int { let x: int = 1; x }`, "already defined"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewParser("test.sl", []byte(tc.src))
			program, errs := p.Parse()
			if errs != nil {
				t.Fatalf("parse errors: %v", errs)
			}
			semErrs := semVerifyAndTypeProgram("test.sl", program)
			if len(semErrs) == 0 {
				t.Fatalf("expected semantic errors")
			}
			found := false
			for _, e := range semErrs {
				if strings.Contains(e, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", semErrs, tc.want)
			}
		})
	}
}

func TestStructEqualityRewrite(t *testing.T) {
	src := `
struct P { a: int, b: int }
fn eq(x: P, y: P) -> bool { x == y }
`
	program := mustFrontend(t, src)
	rewriteDecomposeEqual(program)

	body := program[1].Body[0]
	// x == y becomes (x.a == y.a) && (x.b == y.b)
	if body.Op != TOKEN_LAND {
		t.Fatalf("top operator = %s", tokenName(body.Op))
	}
	if body.Left.Op != TOKEN_EQ || body.Right.Op != TOKEN_EQ {
		t.Fatalf("field comparisons missing: %v", body)
	}
	if body.Left.Left.Kind != EXPR_MEMBER || body.Left.Left.Member != "a" {
		t.Errorf("left comparison is not x.a")
	}
	if body.Right.Left.Member != "b" {
		t.Errorf("right comparison is not x.b")
	}
}

func TestStructInequalityRewrite(t *testing.T) {
	src := `
struct P { a: int, b: int }
fn ne(x: P, y: P) -> bool { x != y }
`
	program := mustFrontend(t, src)
	rewriteDecomposeEqual(program)
	body := program[1].Body[0]
	if body.Op != TOKEN_LOR {
		t.Fatalf("top operator = %s, want ||", tokenName(body.Op))
	}
	if body.Left.Op != TOKEN_NEQ || body.Right.Op != TOKEN_NEQ {
		t.Fatalf("field comparisons should use !=")
	}
}
