package main

import (
	"fmt"
	"strings"
)

// === Abstract assembly ===
//
// Instructions carry their text as a template with back-tick placeholders:
// `s0 and `d0 name the first source and destination temp. Formatting
// substitutes the allocated register (or a tN.size placeholder before
// allocation) with the architecturally correct name for the temp's size.

type InstrKind int

const (
	INSTR_OPER InstrKind = 1 + iota
	INSTR_LABEL
	INSTR_MOVE
)

type Instr struct {
	Kind  InstrKind
	Assem string

	Dst  []Temp   // INSTR_OPER
	Src  []Temp   // INSTR_OPER
	Jump []Symbol // INSTR_OPER: branch targets, nil for fall-through only

	Label Symbol // INSTR_LABEL

	MoveDst Temp // INSTR_MOVE
	MoveSrc Temp // INSTR_MOVE
}

func assmOper(assem string, dst, src []Temp, jump []Symbol) *Instr {
	return &Instr{Kind: INSTR_OPER, Assem: assem, Dst: dst, Src: src, Jump: jump}
}

func assmLabel(assem string, label Symbol) *Instr {
	return &Instr{Kind: INSTR_LABEL, Assem: assem, Label: label}
}

func assmMove(assem string, dst, src Temp) *Instr {
	return &Instr{Kind: INSTR_MOVE, Assem: assem, MoveDst: dst, MoveSrc: src}
}

// DstTemps returns the temps the instruction defines.
func (i *Instr) DstTemps() []Temp {
	switch i.Kind {
	case INSTR_OPER:
		return i.Dst
	case INSTR_MOVE:
		return []Temp{i.MoveDst}
	}
	return nil
}

// SrcTemps returns the temps the instruction uses.
func (i *Instr) SrcTemps() []Temp {
	switch i.Kind {
	case INSTR_OPER:
		return i.Src
	case INSTR_MOVE:
		return []Temp{i.MoveSrc}
	}
	return nil
}

func formatTemp(b *strings.Builder, t Temp, allocation map[int]string, target *Target) {
	if reg, ok := allocation[t.ID]; ok {
		b.WriteString(target.RegisterForSize(reg, t.Size))
		return
	}
	fmt.Fprintf(b, "t%d.%d", t.ID, t.Size)
}

// formatInstr renders one instruction, substituting temps for placeholders.
// allocation maps temp ids to register names; unallocated temps print as
// placeholders.
func formatInstr(instr *Instr, allocation map[int]string, target *Target) string {
	if instr.Kind == INSTR_LABEL {
		return instr.Assem
	}

	var dst, src []Temp
	switch instr.Kind {
	case INSTR_OPER:
		dst, src = instr.Dst, instr.Src
	case INSTR_MOVE:
		dst = []Temp{instr.MoveDst}
		src = []Temp{instr.MoveSrc}
	}

	var b strings.Builder
	b.WriteByte('\t')
	in := instr.Assem
	for i := 0; i < len(in); i++ {
		c := in[i]
		if c != '`' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(in) {
			panic("formatInstr: truncated placeholder in " + instr.Assem)
		}
		sd := in[i+1]
		idx := int(in[i+2] - '0')
		i += 2
		var t Temp
		switch sd {
		case 's':
			if idx >= len(src) {
				panic("formatInstr: source index out of range in " + instr.Assem)
			}
			t = src[idx]
		case 'd':
			if idx >= len(dst) {
				panic("formatInstr: destination index out of range in " + instr.Assem)
			}
			t = dst[idx]
		default:
			panic("formatInstr: bad placeholder in " + instr.Assem)
		}
		formatTemp(&b, t, allocation, target)
	}
	return b.String()
}
