package main

import (
	"strings"
	"testing"
)

func framesFor(t *testing.T, src string, target *Target) []*Frame {
	t.Helper()
	program := mustFrontend(t, src)
	return calculateActivationRecords(target, NewTempState(), program)
}

func TestFrameOffsetsAligned(t *testing.T) {
	src := `
struct Mixed { f: bool, g: *int }
fn f(a: int, b: bool, c: *int) -> int {
	let x: bool = b;
	let m: Mixed = m2();
	let y: int = a;
	let p: *int = c;
	y
}
fn m2() -> Mixed { m2() }
`
	for _, target := range []*Target{targetX86_64, targetArm64} {
		frames := framesFor(t, src, target)
		f := frames[0]
		for _, v := range f.Vars {
			if v.Access != ACCESS_FRAME {
				continue
			}
			if v.Offset%v.Alignment != 0 {
				t.Errorf("%s: var %s at offset %d violates alignment %d",
					target.Name, v.Name, v.Offset, v.Alignment)
			}
			if !v.IsFormal && v.Offset >= 0 {
				t.Errorf("%s: local %s not below the frame pointer", target.Name, v.Name)
			}
		}
		if f.Words()*target.WordSize%target.StackAlignment != 0 {
			t.Errorf("%s: frame of %d words breaks stack alignment",
				target.Name, f.Words())
		}
	}
}

func TestStructSizeAndAlignment(t *testing.T) {
	src := `
struct X { a: int, b: int, c: *int, d: bool }
struct Y { p: *X, q: X }
fn f() -> int { 0 }
`
	program := mustFrontend(t, src)
	target := targetX86_64

	x := typeName("X")
	x.Decl = program[0]
	if got := sizeOfType(program, target, x); got != 24 {
		t.Errorf("sizeof X = %d, want 24", got)
	}
	if got := alignmentOfType(program, target, x); got != 8 {
		t.Errorf("alignof X = %d, want 8", got)
	}

	y := typeName("Y")
	y.Decl = program[1]
	if got := sizeOfType(program, target, y); got != 32 {
		t.Errorf("sizeof Y = %d, want 32", got)
	}
}

func TestRecordDescriptors(t *testing.T) {
	src := `
struct X { a: int, b: int, c: *int, d: bool }
struct N { v: int, n: *N }
fn f() -> int { 0 }
`
	program := mustFrontend(t, src)
	target := targetX86_64
	scratch := NewArena()

	x := typeName("X")
	x.Decl = program[0]
	if got := recordDescriptorForType(scratch, program, target, x); got != "npn" {
		t.Errorf("descriptor X = %q, want \"npn\"", got)
	}

	n := typeName("N")
	n.Decl = program[1]
	if got := recordDescriptorForType(scratch, program, target, n); got != "np" {
		t.Errorf("descriptor N = %q, want \"np\"", got)
	}
}

func TestNestedStructPtrMap(t *testing.T) {
	src := `
struct Inner { p: *int, v: int }
struct Outer { head: int, in: Inner, tail: *int }
fn f() -> int { 0 }
`
	program := mustFrontend(t, src)
	target := targetX86_64
	scratch := NewArena()

	outer := typeName("Outer")
	outer.Decl = program[1]
	// head pads to a word, Inner contributes p then v, tail is a pointer
	if got := recordDescriptorForType(scratch, program, target, outer); got != "npnp" {
		t.Errorf("descriptor Outer = %q, want \"npnp\"", got)
	}
}

func TestRegisterFormalsMoveToTemps(t *testing.T) {
	src := `fn f(a: int, b: *int) -> int { a }`
	program := mustFrontend(t, src)
	target := targetArm64
	ts := NewTempState()
	frames := calculateActivationRecords(target, ts, program)
	f := frames[0]

	// register-sized formals are bound to fresh non-machine temps so the
	// argument registers free up immediately; the entry moves fill them
	for _, v := range f.Vars {
		if !v.IsFormal {
			continue
		}
		if v.Access != ACCESS_REG {
			t.Errorf("register-sized formal %s not in a register", v.Name)
		}
		if v.Reg.IsMachine() {
			t.Errorf("formal %s still bound to a machine register", v.Name)
		}
	}
	if f.ArgMoves == nil {
		t.Fatalf("no entry moves recorded for register formals")
	}

	body := procEntryExit1(ts, f, treeExpStm(treeConst(0, 8, treeTypeVoid)))
	if body.Kind != TREE_STM_SEQ {
		t.Fatalf("procEntryExit1 did not wrap the body")
	}
	// the pointer formal's temp keeps its disposition
	b := f.VarByID(2)
	if b == nil || b.Reg.Dispo != DISPO_PTR {
		t.Errorf("pointer formal lost its disposition")
	}
}

func TestStackPassedFormals(t *testing.T) {
	// x86-64 passes six arguments in registers; the rest go above the
	// saved fp and return address
	var params []string
	for i := 0; i < 8; i++ {
		params = append(params, "a"+string(rune('0'+i))+": int")
	}
	src := "fn f(" + strings.Join(params, ", ") + ") -> int { a7 }"
	frames := framesFor(t, src, targetX86_64)
	f := frames[0]

	stackArgs := 0
	for _, v := range f.Vars {
		if !v.IsFormal {
			continue
		}
		if v.Access == ACCESS_FRAME {
			stackArgs++
			if v.Offset < 2*8 {
				t.Errorf("stack formal %s at offset %d overlaps the saved registers",
					v.Name, v.Offset)
			}
		}
	}
	if stackArgs != 2 {
		t.Errorf("got %d stack-passed formals, want 2", stackArgs)
	}
}

func TestFrameMapMarksDefinedPointers(t *testing.T) {
	src := `
struct N { v: int, n: *N }
fn f(g: *N) -> int {
	let p: *N = g;
	let x: int = use(p);
	x
}
fn use(p: *N) -> int { 0 }
`
	program := mustFrontend(t, src)
	target := targetX86_64
	frames := calculateActivationRecords(target, NewTempState(), program)
	f := frames[0]

	// p sits in the locals region; with p defined the map must mark its
	// word, with only earlier vars defined it must not
	m := f.CalculatePtrMaps([]int{1, 2})
	pVar := f.VarByID(2)
	if pVar == nil || pVar.Access != ACCESS_FRAME {
		t.Fatalf("p not laid out in the frame")
	}
	idx := localWordIndex(target, pVar.Offset, 0)
	if !isBitSet(m.Locals, idx) {
		t.Errorf("defined pointer local not marked in frame map")
	}

	m2 := f.CalculatePtrMaps([]int{1})
	if isBitSet(m2.Locals, idx) {
		t.Errorf("undefined local marked in frame map")
	}
}
