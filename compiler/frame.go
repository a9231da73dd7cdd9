package main

import (
	"fmt"
	"os"
)

// === Activation records and pointer maps ===
//
// Stack frame layout:
//
//	+---------------+
//	| ...           |
//	| arguments     | 16 and up
//	+---------------+
//	| return addr   | 8
//	+---------------+
//	| prev fp       | 0  (fp)
//	+---------------+
//	| locals        | -8 and down
//	| ...           |
//	+---------------+
//	| spill slots   |
//	+---------------+
//	| outgoing args |
//	+---------------+
//
// Alongside the offsets we precompute, per variable and per region, a bitmap
// with one bit per word saying which words hold pointers the collector must
// trace.

var acDebug = false

type acBuiltinType struct {
	name      Symbol
	alignment int
	size      int
	isPtr     bool
}

var builtinSizes = []acBuiltinType{
	{"int", 4, 4, false},
	{"bool", 1, 1, false},
	{"void", 0, 0, false},
}

// === Bitset helpers ===

func bitsetLen(bits int) int {
	return (bits + 63) / 64
}

func setBit(x []uint64, i int) {
	x[i>>6] |= 1 << (uint(i) & 63)
}

func isBitSet(x []uint64, i int) bool {
	return x[i>>6]&(1<<(uint(i)&63)) != 0
}

func roundUpSize(size, multiple int) int {
	// fields, params and lets can't be void, so multiple is never zero here
	if multiple <= 0 {
		panic("roundUpSize: non-positive alignment")
	}
	return (size + multiple - 1) / multiple * multiple
}

func numWordsFor(target *Target, numBytes int) int {
	return roundUpSize(numBytes, target.WordSize) / target.WordSize
}

// === Frames ===

type FrameAccess int

const (
	ACCESS_FRAME FrameAccess = 1 + iota
	ACCESS_REG
)

// FrameVar is one variable's slot in the activation record: a formal
// parameter, a let-bound local, or a compiler-inserted spill slot.
type FrameVar struct {
	Name      Symbol // not a unique identifier
	Size      int
	Alignment int
	VarID     int // -1 for compiler-inserted slots

	Access FrameAccess
	Offset int  // ACCESS_FRAME
	Reg    Temp // ACCESS_REG

	IsFormal bool
	PtrMap   []uint64 // bit per word of the variable

	// spill slots only
	Spilled    Temp // the temp whose value this slot holds
	InheritReg int  // callee-save index for inherit-disposition slots, else -1
}

type Frame struct {
	Name            Symbol
	LastLocalOffset int // grows downward, always <= 0
	NextArgOffset   int // grows upward from past saved fp and return address
	nextArgReg      int
	OutgoingArgBytes int

	Vars   []*FrameVar
	Target *Target

	// moves of the incoming argument registers into the fresh temps the
	// body refers to; prepended by procEntryExit1
	ArgMoves *TreeStm

	LocalsPtrBitset []uint64
	ArgsPtrBitset   []uint64

	// spill slots in allocation order
	SpillVars []*FrameVar

	// temp id -> callee-save index, for the save temps created in
	// procEntryExit1; lets a spill of such a temp record which register's
	// pointerness the slot inherits
	inheritSource map[int]int
}

func newFrame(funcName Symbol, target *Target) *Frame {
	return &Frame{
		Name: funcName,
		// space for the previous frame pointer and the return address
		NextArgOffset: 2 * target.WordSize,
		Target:        target,
		inheritSource: map[int]int{},
	}
}

// Words returns the number of words the prologue must lower the stack
// pointer by.
func (f *Frame) Words() int {
	return numWordsFor(f.Target, roundUpSize(
		-f.LastLocalOffset+f.OutgoingArgBytes, f.Target.StackAlignment))
}

// VarByID finds the frame variable for a resolved variable reference.
func (f *Frame) VarByID(varID int) *FrameVar {
	for _, v := range f.Vars {
		if v.VarID == varID {
			return v
		}
	}
	return nil
}

// === Sizes and alignments ===

func lookupBuiltin(t *Type) *acBuiltinType {
	for i := range builtinSizes {
		if t.Name == builtinSizes[i].name {
			return &builtinSizes[i]
		}
	}
	return nil
}

func lookupStruct(program []*Decl, t *Type) *Decl {
	if t.Decl != nil {
		return t.Decl
	}
	for _, d := range program {
		if d.Kind == DECL_STRUCT && d.Name == t.Name {
			return d
		}
	}
	panic(fmt.Sprintf("unknown type name %q", t.Name))
}

func alignmentOfType(program []*Decl, target *Target, t *Type) int {
	if t.Alignment != -1 {
		return t.Alignment
	}
	switch t.Kind {
	case TYPE_NAME:
		if builtin := lookupBuiltin(t); builtin != nil {
			// while we are here, assign the size too
			t.Size = builtin.size
			t.Alignment = builtin.alignment
			return t.Alignment
		}
		decl := lookupStruct(program, t)
		alignment := 0
		for _, field := range decl.Params {
			fieldAlignment := alignmentOfType(program, target, field.Type)
			if fieldAlignment > alignment {
				alignment = fieldAlignment
			}
		}
		t.Alignment = alignment
		return alignment
	case TYPE_PTR, TYPE_FUNC:
		t.Alignment = target.WordSize
		return t.Alignment
	}
	panic("alignmentOfType: array types are unimplemented")
}

// sizeOfType is the size of the type as stored in the frame, including
// padding for alignment. Memoised into the type node.
func sizeOfType(program []*Decl, target *Target, t *Type) int {
	if t.Size != -1 {
		return t.Size
	}
	switch t.Kind {
	case TYPE_NAME:
		if builtin := lookupBuiltin(t); builtin != nil {
			t.Alignment = builtin.alignment
			t.Size = builtin.size
			return t.Size
		}
		decl := lookupStruct(program, t)
		totalSize := 0
		for _, field := range decl.Params {
			fieldAlignment := alignmentOfType(program, target, field.Type)
			totalSize = roundUpSize(totalSize, fieldAlignment)
			totalSize += sizeOfType(program, target, field.Type)
		}
		totalSize = roundUpSize(totalSize, alignmentOfType(program, target, t))
		t.Size = totalSize
		return totalSize
	case TYPE_PTR:
		t.Size = target.WordSize
		return t.Size
	}
	panic("sizeOfType: array and function types are unimplemented")
}

// ptrMapForType sets, starting at wordOffset, one bit per word of the type's
// representation that holds a pointer. Fields whose alignment is below the
// word size cannot hold pointers and are skipped.
func ptrMapForType(program []*Decl, target *Target, t *Type, bits []uint64, wordOffset int) {
	switch t.Kind {
	case TYPE_NAME:
		if builtin := lookupBuiltin(t); builtin != nil {
			if builtin.isPtr {
				setBit(bits, wordOffset)
			}
			return
		}
		decl := lookupStruct(program, t)
		totalSize := 0
		for _, field := range decl.Params {
			fieldAlignment := alignmentOfType(program, target, field.Type)
			totalSize = roundUpSize(totalSize, fieldAlignment)
			if fieldAlignment >= target.WordSize {
				ptrMapForType(program, target, field.Type, bits,
					wordOffset+totalSize/target.WordSize)
			}
			totalSize += sizeOfType(program, target, field.Type)
		}
	case TYPE_PTR:
		setBit(bits, wordOffset)
	default:
		panic("ptrMapForType: array and function types are unimplemented")
	}
}

// recordDescriptorForType builds the allocation descriptor for a heap
// object of the given type: one ASCII character per word, 'p' for a pointer
// word and 'n' for a non-pointer word.
//
// e.g. struct X { a: int, b: int, c: *int, d: bool } yields "npn": a and b
// share a non-pointer word, c is a pointer, and d pads out a final
// non-pointer word.
func recordDescriptorForType(scratch *Arena, program []*Decl, target *Target, t *Type) string {
	size := sizeOfType(program, target, t)
	words := numWordsFor(target, size)
	bits := make([]uint64, bitsetLen(words))
	ptrMapForType(program, target, t, bits, 0)

	buf := scratch.Alloc(words)
	for i := 0; i < words; i++ {
		if isBitSet(bits, i) {
			buf[i] = 'p'
		} else {
			buf[i] = 'n'
		}
	}
	return string(buf)
}

// === Frame construction ===

func (f *Frame) appendVar(v *FrameVar) {
	f.Vars = append(f.Vars, v)
}

// allocLocal places a variable at the next available (most negative) offset
// satisfying its alignment, by decrementing byte-by-byte until aligned.
func (f *Frame) allocLocal(v *FrameVar) {
	v.Offset = f.LastLocalOffset - v.Size
	for v.Offset%v.Alignment != 0 {
		v.Offset--
	}
	f.LastLocalOffset = v.Offset
}

func calculateActivationRecordExpr(program []*Decl, target *Target, f *Frame, e *Expr) {
	recur := func(sub *Expr) {
		calculateActivationRecordExpr(program, target, f, sub)
	}
	switch e.Kind {
	/* the interesting case */
	case EXPR_LET:
		recur(e.Init)
		size := sizeOfType(program, target, e.TypeAnn)
		if size <= 0 {
			panic("zero-size let-bound variable")
		}
		v := &FrameVar{
			Name:       e.Name,
			Size:       size,
			Alignment:  alignmentOfType(program, target, e.TypeAnn),
			VarID:      e.VarID,
			Access:     ACCESS_FRAME,
			PtrMap:     make([]uint64, bitsetLen(numWordsFor(target, size))),
			InheritReg: -1,
		}
		ptrMapForType(program, target, e.TypeAnn, v.PtrMap, 0)
		f.allocLocal(v)
		f.appendVar(v)
	/* recursive cases */
	case EXPR_INT, EXPR_BOOL, EXPR_VOID, EXPR_VAR, EXPR_BREAK:
	case EXPR_BINOP, EXPR_SEQ:
		recur(e.Left)
		recur(e.Right)
	case EXPR_CALL, EXPR_NEW:
		for _, a := range e.Args {
			recur(a)
		}
	case EXPR_RETURN:
		if e.Left != nil {
			recur(e.Left)
		}
	case EXPR_LOOP:
		for _, s := range e.Body {
			recur(s)
		}
	case EXPR_DEREF, EXPR_ADDROF:
		recur(e.Left)
	case EXPR_MEMBER:
		recur(e.Composite)
	case EXPR_IF:
		recur(e.Cond)
		recur(e.Cons)
		if e.Alt != nil {
			recur(e.Alt)
		}
	default:
		panic("calculateActivationRecordExpr: bad tag")
	}
}

func calculateActivationRecordFunc(program []*Decl, target *Target, ts *TempState, f *Frame, d *Decl) {
	if acDebug {
		fmt.Fprintf(os.Stderr, "calc activation for %s\n", d.Name)
	}

	retTypeSize := sizeOfType(program, target, d.Type)
	if retTypeSize > 2*target.WordSize {
		panic("return values larger than two words are unimplemented")
	}

	for _, p := range d.Params {
		size := sizeOfType(program, target, p.Type)
		if size <= 0 {
			panic("zero-size parameter")
		}
		v := &FrameVar{
			Name:       p.Name,
			Size:       size,
			Alignment:  alignmentOfType(program, target, p.Type),
			VarID:      p.VarID,
			IsFormal:   true,
			PtrMap:     make([]uint64, bitsetLen(numWordsFor(target, size))),
			InheritReg: -1,
		}
		ptrMapForType(program, target, p.Type, v.PtrMap, 0)

		if size <= target.WordSize && f.nextArgReg < len(target.ArgRegisters) {
			// passed in a register, then immediately moved into a fresh
			// temp so the argument register frees up for further use
			v.Access = ACCESS_REG
			paramReg := target.ArgRegisters[f.nextArgReg]
			paramReg.Size = size
			f.nextArgReg++

			dispo := DISPO_NOT_PTR
			if isBitSet(v.PtrMap, 0) {
				dispo = DISPO_PTR
			}
			v.Reg = ts.NewTemp(size, dispo)
			move := treeMove(
				treeTemp(v.Reg, size, nil),
				treeTemp(paramReg, size, nil))
			if f.ArgMoves == nil {
				f.ArgMoves = move
			} else {
				f.ArgMoves = treeSeq(f.ArgMoves, move)
			}
		} else {
			v.Access = ACCESS_FRAME
			v.Offset = roundUpSize(f.NextArgOffset, v.Alignment)
			f.NextArgOffset = v.Offset + size
		}
		f.appendVar(v)
	}

	for _, e := range d.Body {
		calculateActivationRecordExpr(program, target, f, e)
	}

	// Scan the frame vars and build the bitmaps showing where the pointers
	// in the frame live. Locals bits index words downward from the frame
	// pointer (bit 0 is the word at fp-8); argument bits index upward (bit 0
	// is the saved frame pointer's word).
	localWords := numWordsFor(target, -f.LastLocalOffset)
	f.LocalsPtrBitset = make([]uint64, bitsetLen(localWords))
	argWords := numWordsFor(target, f.NextArgOffset)
	f.ArgsPtrBitset = make([]uint64, bitsetLen(argWords))

	for _, v := range f.Vars {
		if v.Access != ACCESS_FRAME || v.Alignment < target.WordSize {
			continue
		}
		for j := 0; j < numWordsFor(target, v.Size); j++ {
			if !isBitSet(v.PtrMap, j) {
				continue
			}
			if v.Offset < 0 {
				setBit(f.LocalsPtrBitset, localWordIndex(target, v.Offset, j))
			} else {
				setBit(f.ArgsPtrBitset, v.Offset/target.WordSize+j)
			}
		}
	}
}

// localWordIndex maps word j of a local at the given negative offset to its
// bit position: words are counted downward from the frame pointer.
func localWordIndex(target *Target, offset, j int) int {
	return (-offset)/target.WordSize - j - 1
}

// calculateActivationRecords computes a frame for every function
// declaration, in program order.
func calculateActivationRecords(target *Target, ts *TempState, program []*Decl) []*Frame {
	if acDebug {
		fmt.Fprintf(os.Stderr, "calculating activation records\n")
	}
	var frames []*Frame
	for _, d := range program {
		if d.Kind == DECL_FUNC {
			f := newFrame(d.Name, target)
			calculateActivationRecordFunc(program, target, ts, f, d)
			frames = append(frames, f)
		}
	}
	return frames
}

// SpillTemporary creates space in the frame to store a temporary.
func (f *Frame) SpillTemporary(t Temp) *FrameVar {
	v := &FrameVar{
		Size:       f.Target.WordSize,
		Alignment:  f.Target.WordSize,
		VarID:      -1,
		Access:     ACCESS_FRAME,
		PtrMap:     make([]uint64, 1),
		Spilled:    t,
		InheritReg: -1,
	}
	if t.Dispo == DISPO_PTR {
		setBit(v.PtrMap, 0)
	}
	if t.Dispo == DISPO_INHERIT {
		if idx, ok := f.inheritSource[t.ID]; ok {
			v.InheritReg = idx
		}
	}
	f.allocLocal(v)
	f.appendVar(v)
	f.SpillVars = append(f.SpillVars, v)
	return v
}

// ReserveOutgoingArgSpace ensures at least requiredBytes are reserved in the
// frame for call arguments passed on the stack.
func (f *Frame) ReserveOutgoingArgSpace(requiredBytes int) {
	if requiredBytes != roundUpSize(requiredBytes, f.Target.StackAlignment) {
		panic("outgoing argument space must be stack aligned")
	}
	if f.OutgoingArgBytes < requiredBytes {
		f.OutgoingArgBytes = requiredBytes
	}
}

// procEntryExit1 prepends the moves of register arguments into their fresh
// temporaries and wraps the body in callee-save saves and restores through
// temporaries the allocator may spill.
func procEntryExit1(ts *TempState, f *Frame, body *TreeStm) *TreeStm {
	target := f.Target

	// 1. the register args move into their temps at entry
	if f.ArgMoves != nil {
		body = treeSeq(f.ArgMoves, body)
	}

	// 2. save callee-saves into temporaries; restore at the end. If the
	// temps survive to registers the moves coalesce away, otherwise the
	// allocator spills them and the frame map inherits their pointerness.
	wordSize := target.WordSize
	saveTemps := make([]Temp, len(target.CalleeSaves))
	for i := range target.CalleeSaves {
		saveTemps[i] = ts.NewTemp(wordSize, DISPO_INHERIT)
		f.inheritSource[saveTemps[i].ID] = i
	}

	var saves *TreeStm
	for i, cs := range target.CalleeSaves {
		move := treeMove(
			treeTemp(saveTemps[i], wordSize, nil),
			treeTemp(cs, wordSize, nil))
		if saves == nil {
			saves = move
		} else {
			saves = treeSeq(saves, move)
		}
	}
	var restores *TreeStm
	for i, cs := range target.CalleeSaves {
		move := treeMove(
			treeTemp(cs, wordSize, nil),
			treeTemp(saveTemps[i], wordSize, nil))
		if restores == nil {
			restores = move
		} else {
			restores = treeSeq(restores, move)
		}
	}

	return treeSeq(treeSeq(saves, body), restores)
}

// === Per-call-site frame maps ===

// FrameMap records, for one call site, which words of the frame hold live
// pointers. It is created during translation from the front end's
// defined-variable sets and extended after register allocation with spill
// slots.
type FrameMap struct {
	NumArgWords   int
	NumLocalWords int // includes padding for alignment
	NumSpillWords int // spill slots appended below the locals

	// callee-save indices (4 bits each) for the inherit-disposition spill
	// slots, in spill-slot order
	SpillRegs [10]uint8

	Args   []uint64 // pointer bitmap of the incoming argument words
	Locals []uint64 // pointer bitmap of the locals region
	Spills []uint64 // inherit-disposition selector bits for spill slots

	Frame *Frame
}

// CalculatePtrMaps builds the frame map for a call site given the ids of
// the variables defined there.
func (f *Frame) CalculatePtrMaps(defdVars []int) *FrameMap {
	target := f.Target
	m := &FrameMap{
		NumArgWords:   numWordsFor(target, f.NextArgOffset),
		NumLocalWords: numWordsFor(target, -f.LastLocalOffset),
		Frame:         f,
	}
	m.Args = make([]uint64, bitsetLen(m.NumArgWords))
	m.Locals = make([]uint64, bitsetLen(max(m.NumLocalWords, 1)))

	defined := map[int]bool{}
	for _, id := range defdVars {
		defined[id] = true
	}

	for _, v := range f.Vars {
		if v.Access != ACCESS_FRAME || v.Alignment < target.WordSize {
			continue
		}
		if v.VarID < 0 || !defined[v.VarID] {
			continue
		}
		for j := 0; j < numWordsFor(target, v.Size); j++ {
			if !isBitSet(v.PtrMap, j) {
				continue
			}
			if v.Offset < 0 {
				setBit(m.Locals, localWordIndex(target, v.Offset, j))
			} else {
				setBit(m.Args, v.Offset/target.WordSize+j)
			}
		}
	}
	return m
}

// extendFrameMapForSpills records in the frame map the spill slots holding
// live pointers at the map's call site, and for inherit-disposition slots
// the callee-save register whose incoming pointerness they carry.
func extendFrameMapForSpills(m *FrameMap, spillLiveOuts []Temp) {
	f := m.Frame
	target := f.Target

	newLocalWords := numWordsFor(target, -f.LastLocalOffset)
	if grown := bitsetLen(newLocalWords) - len(m.Locals); grown > 0 {
		m.Locals = append(m.Locals, make([]uint64, grown)...)
	}
	m.NumLocalWords = newLocalWords
	m.NumSpillWords = len(f.SpillVars)
	m.Spills = make([]uint64, bitsetLen(max(m.NumSpillWords, 1)))

	inheritSlot := 0
	for slot, v := range f.SpillVars {
		live := tempListContains(spillLiveOuts, v.Spilled)
		switch v.Spilled.Dispo {
		case DISPO_PTR:
			if live {
				setBit(m.Locals, localWordIndex(target, v.Offset, 0))
			}
		case DISPO_INHERIT:
			if v.InheritReg < 0 || !live {
				break
			}
			// one 4-bit register index per set selector bit, in order
			if inheritSlot >= len(m.SpillRegs) {
				panic("too many inherit-disposition spill slots")
			}
			setBit(m.Spills, slot)
			m.SpillRegs[inheritSlot] = uint8(v.InheritReg)
			inheritSlot++
		}
	}
}
