package main

import (
	"testing"
)

// Test helpers driving the pipeline stage by stage, so tests can assert on
// intermediate artifacts.

type compiledFunc struct {
	frame      *Frame
	instrs     []*Instr
	allocated  []*Instr
	allocation map[int]string
	frameMaps  []*Fragment
}

type compiled struct {
	funcs           []*compiledFunc
	strings         []*Fragment
	labelToCSBitmap map[Symbol]uint32
}

func mustFrontend(t *testing.T, src string) []*Decl {
	t.Helper()
	p := NewParser("test.sl", []byte(src))
	program, errs := p.Parse()
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}
	if semErrs := semVerifyAndTypeProgram("test.sl", program); len(semErrs) > 0 {
		t.Fatalf("semantic errors: %v", semErrs)
	}
	return program
}

// mustTranslate runs the pipeline through canonicalisation.
func mustTranslate(t *testing.T, src string, target *Target) (*TempState, []*Fragment) {
	t.Helper()
	program := mustFrontend(t, src)
	rewriteDecomposeEqual(program)
	ts := NewTempState()
	frames := calculateActivationRecords(target, ts, program)
	fragments := translateProgram(ts, target, program, frames)
	canonicaliseTree(ts, target, fragments)
	return ts, fragments
}

// mustCompile runs the whole backend, returning the per-function results.
func mustCompile(t *testing.T, src string, target *Target) *compiled {
	t.Helper()
	ts, fragments := mustTranslate(t, src, target)

	out := &compiled{labelToCSBitmap: map[Symbol]uint32{}}
	for _, frag := range fragments {
		if frag.Kind == FRAG_STRING {
			out.strings = append(out.strings, frag)
			continue
		}
		if frag.Kind != FRAG_CODE {
			continue
		}
		frame := frag.Frame
		labelToSpillLive := map[Symbol][]Temp{}

		var body []*Instr
		var frameMaps []*Fragment
		for _, s := range frag.Stms {
			instrs, maps := target.Backend.Codegen(ts, frame, s)
			body = append(body, instrs...)
			frameMaps = append(frameMaps, maps...)
		}
		body = target.Backend.ProcEntryExit2(frame, body)

		result := regAlloc(discard{}, ts, body, frame, false,
			out.labelToCSBitmap, labelToSpillLive)
		for _, fm := range frameMaps {
			extendFrameMapForSpills(fm.Map, labelToSpillLive[fm.RetLabel])
		}
		out.funcs = append(out.funcs, &compiledFunc{
			frame:      frame,
			instrs:     result.instrs,
			allocated:  result.allocated,
			allocation: result.allocation,
			frameMaps:  frameMaps,
		})
	}
	return out
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (c *compiled) fn(t *testing.T, name string) *compiledFunc {
	t.Helper()
	for _, f := range c.funcs {
		if f.frame.Name == name {
			return f
		}
	}
	t.Fatalf("no compiled function %q", name)
	return nil
}

// countMnemonic counts instructions whose template begins with the
// mnemonic.
func (f *compiledFunc) countMnemonic(mnem string) int {
	count := 0
	for _, instr := range f.instrs {
		if instr.Kind == INSTR_LABEL {
			continue
		}
		s := instr.Assem
		if len(s) >= len(mnem) && s[:len(mnem)] == mnem {
			count++
		}
	}
	return count
}
