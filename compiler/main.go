package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

var compilerDebug bool

func printUsageAndExit(exitCode int) {
	out := os.Stdout
	if exitCode != 0 {
		out = os.Stderr
	}
	fmt.Fprintf(os.Stderr, "usage: structlangc [options] <input>\n")
	fmt.Fprint(out, `
if '-' is given as an input, then stdin is read.

options:
  -o                Output filename
  --target=arm64    Produce arm64 assembly for macOS
  --target=x86_64   Produce x86_64 GAS syntax assembly for Linux
  -S                Not yet implemented.

debug options:
  -p    Parse only (print ast)
  -t    Stop after type checking
  -r    Stop after rewrites and print ast
  -a    Stop after calculating activation records
  -T    Stop after translating into the tree IR
  -C    Stop after canonicalising the tree IR
  -i    Stop after instruction selection
  -l    Stop after liveness analysis
`)
	os.Exit(exitCode)
}

// options mirror the debug flags: each stops the pipeline after its pass.
type options struct {
	parseOnly              bool
	stopAfterTypeChecking  bool
	stopAfterRewrites      bool
	stopAfterActivation    bool
	stopAfterTranslation   bool
	stopAfterCanon         bool
	stopAfterInstrSelection bool
	stopAfterLiveness      bool
}

func hostDefaultTarget() *Target {
	if runtime.GOARCH == "amd64" {
		return targetX86_64
	}
	return targetArm64
}

func main() {
	initTermColours()

	var inarg, outarg string
	warnAboutMultipleFiles := false
	target := hostDefaultTarget()
	var opts options

	optsdone := false
	args := os.Args
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if !optsdone && len(arg) > 1 && arg[0] == '-' {
			if arg[1] == '-' {
				if arg == "--" {
					optsdone = true
					continue
				}
				// long options
				const targetOpt = "--target="
				if len(arg) > len(targetOpt) && arg[:len(targetOpt)] == targetOpt {
					switch arg[len(targetOpt):] {
					case "x86_64":
						target = targetX86_64
					case "arm64":
						target = targetArm64
					default:
						fmt.Fprintf(os.Stderr, "unknown target: %s\n", arg[len(targetOpt):])
						os.Exit(1)
					}
				} else {
					fmt.Fprintf(os.Stderr, "unknown option: %s\n", arg)
					os.Exit(1)
				}
				continue
			}
			// short options, possibly clustered
			for ci := 1; ci < len(arg); ci++ {
				switch arg[ci] {
				case 'p':
					opts.parseOnly = true
				case 't':
					opts.stopAfterTypeChecking = true
				case 'r':
					opts.stopAfterRewrites = true
				case 'a':
					opts.stopAfterActivation = true
				case 'T':
					opts.stopAfterTranslation = true
				case 'C':
					opts.stopAfterCanon = true
				case 'i':
					opts.stopAfterInstrSelection = true
				case 'l':
					opts.stopAfterLiveness = true
				case 'o':
					if i+1 >= len(args) {
						fmt.Fprintf(os.Stderr, "argument to '-o' is missing\n")
						printUsageAndExit(1)
					}
					if ci+1 < len(arg) {
						fmt.Fprintf(os.Stderr, "no short args may follow '-o'\n")
						printUsageAndExit(1)
					}
					i++
					outarg = args[i]
				case 'S':
					// will become the option to emit assembly, with no
					// option meaning call out to the assembler and linker
				case 'd':
					compilerDebug = true
					canonDebug = true
					raDebug = true
				case 'h':
					printUsageAndExit(0)
				default:
					fmt.Fprintf(os.Stderr, "unknown option '%c'\n", arg[ci])
					printUsageAndExit(1)
				}
			}
		} else if inarg == "" {
			inarg = arg
		} else {
			warnAboutMultipleFiles = true
		}
	}
	if inarg == "" {
		printUsageAndExit(1)
	}
	if warnAboutMultipleFiles {
		fmt.Fprintf(os.Stderr, "%swarning:%s only %s will be considered for input\n",
			termColours.Magenta, termColours.Clear, inarg)
	}

	var src []byte
	var err error
	if inarg == "-" {
		src, err = io.ReadAll(os.Stdin)
		inarg = "<stdin>"
	} else {
		src, err = os.ReadFile(inarg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", inarg, err)
		os.Exit(1)
	}

	out := os.Stdout
	if outarg != "" && outarg != "-" {
		f, err := os.Create(outarg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", outarg, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	os.Exit(compileProgram(out, inarg, src, target, opts))
}

// compileProgram runs the pipeline over one source file, writing assembly
// (or the requested intermediate dump) to w. It returns the process exit
// code.
func compileProgram(w io.Writer, filename string, src []byte, target *Target, opts options) int {
	parser := NewParser(filename, src)
	program, parseErrs := parser.Parse()
	if parseErrs != nil {
		for _, e := range parseErrs {
			fmt.Fprintf(os.Stderr, "%s\n", e)
		}
		return 1
	}

	if opts.parseOnly {
		for _, decl := range program {
			printDecl(w, decl)
			fmt.Fprintf(w, "\n")
		}
		return 0
	}

	semErrs := semVerifyAndTypeProgram(filename, program)
	if len(semErrs) > 0 {
		for _, e := range semErrs {
			fmt.Fprintf(os.Stderr, "%s\n", e)
		}
		fmt.Fprintf(os.Stderr, "%d errors\n", len(semErrs))
		return 1
	}

	if opts.stopAfterTypeChecking {
		return 0
	}

	// small transformations that ease the lowering into the tree language
	rewriteDecomposeEqual(program)

	if opts.stopAfterRewrites {
		for _, decl := range program {
			printDecl(w, decl)
			fmt.Fprintf(w, "\n")
		}
		return 0
	}

	ts := NewTempState()
	frames := calculateActivationRecords(target, ts, program)
	if len(frames) == 0 {
		fmt.Fprintf(os.Stderr, "internal error: no functions to compile\n")
		return 1
	}

	if opts.stopAfterActivation {
		return 0
	}

	fragments := translateProgram(ts, target, program, frames)

	if opts.stopAfterTranslation {
		for _, frag := range fragments {
			switch frag.Kind {
			case FRAG_CODE:
				fmt.Fprintf(w, "# %s\n", frag.Frame.Name)
				fmt.Fprintf(w, "%s\n", frag.Body)
			case FRAG_STRING:
				scratch := NewArena()
				fmt.Fprintf(w, "STRING(LABEL(%s), %s)\n",
					frag.Label, escapeAsmString(scratch, frag.Str))
			}
		}
		return 0
	}

	canonicaliseTree(ts, target, fragments)

	if opts.stopAfterCanon {
		for _, frag := range fragments {
			switch frag.Kind {
			case FRAG_CODE:
				fmt.Fprintf(w, "# %s\n", frag.Frame.Name)
				for _, s := range frag.Stms {
					fmt.Fprintf(w, "%s\n", s)
				}
				fmt.Fprintf(w, "\n")
			case FRAG_STRING:
				scratch := NewArena()
				fmt.Fprintf(w, "STRING(LABEL(%s), %s)\n",
					frag.Label, escapeAsmString(scratch, frag.Str))
			}
		}
		return 0
	}

	labelToCSBitmap := map[Symbol]uint32{}
	emittedHeader := false
	var dataFrags []*Fragment

	for _, frag := range fragments {
		if frag.Kind == FRAG_STRING {
			dataFrags = append(dataFrags, frag)
			continue
		}
		if frag.Kind != FRAG_CODE {
			continue
		}
		frame := frag.Frame
		labelToSpillLive := map[Symbol][]Temp{}

		var bodyInstrs []*Instr
		var frameMaps []*Fragment
		fmt.Fprintf(w, "# %s\n", frame.Name)
		for _, s := range frag.Stms {
			if opts.stopAfterInstrSelection {
				fmt.Fprintf(w, "## %s\n", s)
			}
			instrs, maps := target.Backend.Codegen(ts, frame, s)
			if opts.stopAfterInstrSelection {
				for _, instr := range instrs {
					fmt.Fprintf(w, "%s", formatInstr(instr, target.TempMap(), target))
				}
			}
			bodyInstrs = append(bodyInstrs, instrs...)
			frameMaps = append(frameMaps, maps...)
		}
		if opts.stopAfterInstrSelection {
			fmt.Fprintf(w, "\n")
			continue
		}
		if len(bodyInstrs) == 0 {
			fmt.Fprintf(os.Stderr, "internal error: no instructions for %s\n", frame.Name)
			return 1
		}
		bodyInstrs = target.Backend.ProcEntryExit2(frame, bodyInstrs)

		result := regAlloc(w, ts, bodyInstrs, frame,
			opts.stopAfterLiveness, labelToCSBitmap, labelToSpillLive)
		if opts.stopAfterLiveness {
			continue
		}

		finalFragment := target.Backend.ProcEntryExit3(frame, result.instrs)

		if !emittedHeader {
			target.Backend.EmitTextHeader(w)
			emittedHeader = true
		}
		io.WriteString(w, finalFragment.Prologue)
		for _, instr := range finalFragment.Instrs {
			fmt.Fprintf(w, "%s", formatInstr(instr, result.allocation, target))
		}
		io.WriteString(w, finalFragment.Epilogue)

		// the frame now has its final extent; finish this function's maps
		for _, fm := range frameMaps {
			extendFrameMapForSpills(fm.Map, labelToSpillLive[fm.RetLabel])
		}
		dataFrags = append(dataFrags, frameMaps...)
	}

	if emittedHeader {
		target.Backend.EmitDataSegment(w, dataFrags, labelToCSBitmap)
	}
	return 0
}
