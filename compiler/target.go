package main

import "io"

// === Target description ===

// Target carries the machine details the earlier stages of the compiler
// need, plus the instruction-selection backend for the later ones.
type Target struct {
	Name           string
	WordSize       int
	StackAlignment int

	ArgRegisters []Temp
	SP           Temp
	FP           Temp
	Ret0         Temp
	Ret1         Temp
	CalleeSaves  []Temp

	// RegisterNames[i] is the name of the register precoloured with colour
	// i; machine temp ids index this array directly.
	RegisterNames []string

	// RegisterForSize renders a register name for a sized access, e.g.
	// x3 -> w3 or rax -> eax.
	RegisterForSize func(regname string, size int) string

	Backend CodegenBackend
}

// TempMap returns the precolouring: machine temp id to register name.
func (t *Target) TempMap() map[int]string {
	m := make(map[int]string, len(t.RegisterNames))
	for i, name := range t.RegisterNames {
		m[i] = name
	}
	return m
}

// CalleeSaveIndex returns the position of a machine register within the
// target's callee-save set, or -1.
func (t *Target) CalleeSaveIndex(tempID int) int {
	for i, cs := range t.CalleeSaves {
		if cs.ID == tempID {
			return i
		}
	}
	return -1
}

// AsmFragment is a function's final assembly: prologue and epilogue text
// around the formatted instruction list.
type AsmFragment struct {
	Prologue string
	Instrs   []*Instr
	Epilogue string
}

// CodegenBackend is the per-target half of the compiler.
type CodegenBackend interface {
	// Codegen selects instructions for one canonical statement. It returns
	// the instruction list plus any frame-map fragments created for call
	// sites within the statement, in instruction order.
	Codegen(ts *TempState, frame *Frame, stm *TreeStm) ([]*Instr, []*Fragment)

	// ProcEntryExit2 appends the sink instruction marking the registers
	// that are live out of the function, so allocation restores them.
	ProcEntryExit2(frame *Frame, body []*Instr) []*Instr

	// ProcEntryExit3 wraps the body in the function prologue and epilogue.
	ProcEntryExit3(frame *Frame, body []*Instr) AsmFragment

	// LoadTemp and StoreTemp build the unspill/spill memory accesses used
	// when the allocator rewrites the program.
	LoadTemp(v *FrameVar, t Temp) *Instr
	StoreTemp(v *FrameVar, t Temp) *Instr

	EmitTextHeader(w io.Writer)
	EmitDataSegment(w io.Writer, frags []*Fragment, labelToCSBitmap map[Symbol]uint32)
}
