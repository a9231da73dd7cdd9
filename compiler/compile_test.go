package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// End-to-end scenarios: short programs compiled through the whole pipeline
// with properties checked on the output.

func compileToString(t *testing.T, src string, target *Target, opts options) string {
	t.Helper()
	var buf bytes.Buffer
	code := compileProgram(&buf, "test.sl", []byte(src), target, opts)
	if code != 0 {
		t.Fatalf("compileProgram exited %d\noutput:\n%s", code, buf.String())
	}
	return buf.String()
}

// Scenario: the identity function needs no spills and reduces to placing
// the argument in the return register.
func TestIdentityFunctionX86(t *testing.T) {
	src := `fn id(x: int) -> int { x }`
	c := mustCompile(t, src, targetX86_64)
	f := c.fn(t, "id")

	for _, instr := range f.instrs {
		if strings.Contains(instr.Assem, "spill") {
			t.Errorf("unexpected spill: %s", instr.Assem)
		}
	}
	// whatever moves remain, the value must flow from the argument register
	// into rax: surviving reg-to-reg moves may not connect equal registers
	for _, instr := range f.instrs {
		if instr.Kind != INSTR_MOVE {
			continue
		}
		if f.allocation[instr.MoveDst.ID] == f.allocation[instr.MoveSrc.ID] {
			t.Errorf("dead move survived: %s", instr.Assem)
		}
	}

	asm := compileToString(t, src, targetX86_64, options{})
	if !strings.Contains(asm, "id:") {
		t.Errorf("missing function label in output:\n%s", asm)
	}
	if !strings.Contains(asm, "%eax") {
		t.Errorf("result never reaches the return register:\n%s", asm)
	}
}

// Scenario: struct equality decomposes into exactly one compare-and-branch
// per field.
func TestStructEqualityComparesFieldwise(t *testing.T) {
	src := `
struct P { a: int, b: int }
fn eq(x: P, y: P) -> bool { x == y }
`
	c := mustCompile(t, src, targetX86_64)
	f := c.fn(t, "eq")
	if got := f.countMnemonic("cmp"); got != 2 {
		t.Errorf("got %d compares, want 2", got)
	}
	branches := 0
	for _, instr := range f.instrs {
		if instr.Kind == INSTR_OPER && len(instr.Jump) == 2 {
			branches++
		}
	}
	if branches != 2 {
		t.Errorf("got %d conditional branches, want 2", branches)
	}
}

// Scenario: allocation sites intern one descriptor per layout and emit a
// frame map per call site.
func TestAllocationDescriptorsAndFrameMaps(t *testing.T) {
	src := `
struct N { v: int, n: *N }
fn mk() -> *N { new N(1, new N(2, 0)) }
`
	_, fragments := mustTranslate(t, src, targetArm64)

	var descriptors []string
	frameMapCalls := 0
	for _, frag := range fragments {
		if frag.Kind == FRAG_STRING {
			descriptors = append(descriptors, frag.Str)
		}
	}
	for _, frag := range fragments {
		if frag.Kind != FRAG_CODE {
			continue
		}
		for _, s := range frag.Stms {
			walkStmCalls(s, func(call *TreeExp) {
				if call.PtrMap != nil {
					frameMapCalls++
				}
			})
		}
	}

	// both allocations share the layout, so the descriptor interns once
	if len(descriptors) != 1 || descriptors[0] != "np" {
		t.Errorf("descriptors = %q, want one \"np\"", descriptors)
	}
	if frameMapCalls != 2 {
		t.Errorf("got %d mapped call sites, want 2", frameMapCalls)
	}

	// the emitted data section carries one record per call site
	asm := compileToString(t, src, targetArm64, options{})
	if got := strings.Count(asm, "Lptrmap"); got < 3 {
		// two definitions plus at least the head's reference
		t.Errorf("expected two frame map records, output:\n%s", asm)
	}
	if !strings.Contains(asm, "_sl_rt_frame_maps:") {
		t.Errorf("frame map head symbol missing:\n%s", asm)
	}
	if !strings.Contains(asm, "bl	_sl_alloc_des") {
		t.Errorf("allocation call missing:\n%s", asm)
	}
}

// Scenario: a loop whose body returns produces exactly one ret and an
// unreachable loop-end label.
func TestLoopReturn(t *testing.T) {
	src := `fn f() -> int { loop { return 3 } }`
	asm := compileToString(t, src, targetX86_64, options{})
	if got := strings.Count(asm, "retq"); got != 1 {
		t.Errorf("got %d retq, want 1:\n%s", got, asm)
	}
	if got := strings.Count(asm, "$3"); got != 1 {
		t.Errorf("the constant 3 should be loaded once:\n%s", asm)
	}
}

// Scenario: twenty simultaneously live values overflow the register file;
// spill slots are word aligned and inside the locals region.
func TestSpillOffsetsAligned(t *testing.T) {
	var b strings.Builder
	b.WriteString("fn f(x: int) -> int {\n let r: int = ")
	// a right-leaning sum keeps one temp live per level
	for i := 1; i <= 20; i++ {
		if i < 20 {
			b.WriteString("(x + " + strconv.Itoa(i) + ") + (")
		} else {
			b.WriteString("(x + " + strconv.Itoa(i) + ")")
		}
	}
	b.WriteString(strings.Repeat(")", 19))
	b.WriteString(";\n r\n}\n")

	c := mustCompile(t, b.String(), targetX86_64)
	f := c.fn(t, "f")

	spills, unspills := 0, 0
	for _, instr := range f.instrs {
		if strings.Contains(instr.Assem, "# spill") {
			spills++
		}
		if strings.Contains(instr.Assem, "# unspill") {
			unspills++
		}
	}
	if spills == 0 || unspills == 0 {
		t.Fatalf("expected spill stores and loads, got %d/%d", spills, unspills)
	}
	for _, v := range f.frame.SpillVars {
		if v.Offset >= 0 || v.Offset%8 != 0 {
			t.Errorf("spill slot at bad offset %d", v.Offset)
		}
		if -v.Offset > f.frame.Words()*8 {
			t.Errorf("spill slot offset %d outside frame of %d words",
				v.Offset, f.frame.Words())
		}
	}
}

// Scenario: with coalescing on, a copy chain leaves no register-to-register
// moves; with it off, at least one remains.
func TestCoalescingSwitch(t *testing.T) {
	src := `fn g(x: int) -> int { let y: int = x; y }`

	countMoves := func() int {
		c := mustCompile(t, src, targetX86_64)
		f := c.fn(t, "g")
		moves := 0
		for _, instr := range f.instrs {
			if instr.Kind == INSTR_MOVE {
				if f.allocation[instr.MoveDst.ID] == f.allocation[instr.MoveSrc.ID] {
					t.Errorf("dead move survived the allocator: %s", instr.Assem)
				}
				moves++
			}
		}
		return moves
	}

	if got := countMoves(); got != 0 {
		t.Errorf("coalescing on: got %d moves, want 0", got)
	}

	enableCoalescing = false
	defer func() { enableCoalescing = true }()
	if got := countMoves(); got == 0 {
		t.Errorf("coalescing off: expected surviving moves")
	}
}

func walkStmCalls(s *TreeStm, visit func(*TreeExp)) {
	var walkExp func(e *TreeExp)
	walkExp = func(e *TreeExp) {
		if e == nil {
			return
		}
		switch e.Kind {
		case TREE_EXP_BINOP:
			walkExp(e.Lhs)
			walkExp(e.Rhs)
		case TREE_EXP_MEM:
			walkExp(e.Addr)
		case TREE_EXP_CALL:
			visit(e)
			walkExp(e.Func)
			for _, a := range e.Args {
				walkExp(a)
			}
		case TREE_EXP_ESEQ:
			walkStmCalls(e.Stm, visit)
			walkExp(e.Exp)
		}
	}
	switch s.Kind {
	case TREE_STM_MOVE:
		walkExp(s.Dst)
		walkExp(s.Src)
	case TREE_STM_EXP:
		walkExp(s.Exp)
	case TREE_STM_JUMP:
		walkExp(s.JumpDst)
	case TREE_STM_CJUMP:
		walkExp(s.CmpLhs)
		walkExp(s.CmpRhs)
	case TREE_STM_SEQ:
		walkStmCalls(s.S1, visit)
		walkStmCalls(s.S2, visit)
	}
}

// Golden-ish fixtures: each archive holds a program and the substrings its
// assembly must contain.
func TestCompileFixtures(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.txtar"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no fixtures found")
	}
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}
			ar := txtar.Parse(data)
			var src, contains string
			target := targetX86_64
			for _, f := range ar.Files {
				switch f.Name {
				case "prog.sl":
					src = string(f.Data)
				case "contains":
					contains = string(f.Data)
				case "target":
					if strings.TrimSpace(string(f.Data)) == "arm64" {
						target = targetArm64
					}
				}
			}
			if src == "" {
				t.Fatalf("%s has no prog.sl", file)
			}
			asm := compileToString(t, src, target, options{})
			for _, want := range strings.Split(contains, "\n") {
				want = strings.TrimSpace(want)
				if want == "" || strings.HasPrefix(want, "#!") {
					continue
				}
				if !strings.Contains(asm, want) {
					t.Errorf("output missing %q\n%s", want, asm)
				}
			}
		})
	}
}
