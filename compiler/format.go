package main

import (
	"fmt"
	"io"
)

// === Assembly data formatting helpers ===

// escapeAsmString renders a string literal for a .asciz/.string directive,
// escaping backslash, quote, newline and tab. The buffer comes from the
// emission scratch arena.
func escapeAsmString(scratch *Arena, s string) string {
	// 2 for the quotes; worst case every byte escapes
	buf := scratch.Alloc(2 + 2*len(s))
	n := 0
	buf[n] = '"'
	n++
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			buf[n] = '\\'
			buf[n+1] = '\\'
			n += 2
		case '"':
			buf[n] = '\\'
			buf[n+1] = '"'
			n += 2
		case '\n':
			buf[n] = '\\'
			buf[n+1] = 'n'
			n += 2
		case '\t':
			buf[n] = '\\'
			buf[n+1] = 't'
			n += 2
		default:
			buf[n] = c
			n++
		}
	}
	buf[n] = '"'
	n++
	return string(buf[:n])
}

// emitSpillRegBytes writes the five bytes packing the ten 4-bit
// callee-save indices for inherit-disposition spill slots.
func emitSpillRegBytes(w io.Writer, m *FrameMap, comment string) {
	for i := 0; i < 5; i++ {
		b := m.SpillRegs[2*i] | m.SpillRegs[2*i+1]<<4
		if i == 0 {
			fmt.Fprintf(w, "	.byte	%d	%s spill registers\n", b, comment)
		} else {
			fmt.Fprintf(w, "	.byte	%d\n", b)
		}
	}
}

func spillWord(m *FrameMap, i int) uint64 {
	if i < len(m.Spills) {
		return m.Spills[i]
	}
	return 0
}
