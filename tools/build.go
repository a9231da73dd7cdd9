///usr/bin/true; exec /usr/bin/env go run "$0" "$@"

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ============================================================================
// Build-and-check harness
// ============================================================================
//
// Builds the structlang compiler and drives it over the sample programs in
// tests/, for both targets, checking each one produces assembly. This is an
// out-of-band smoke check; the real test suite lives in compiler/*_test.go.
//
// Usage:
//	go run tools/build.go [build|check|clean]

const compilerBin = "bin/structlangc"

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func buildCompiler() error {
	fmt.Println("==> building", compilerBin)
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	return run("go", "build", "-o", compilerBin, "./compiler")
}

func checkPrograms() error {
	programs, err := filepath.Glob("tests/*.sl")
	if err != nil {
		return err
	}
	if len(programs) == 0 {
		return fmt.Errorf("no sample programs under tests/")
	}
	sort.Strings(programs)

	failures := 0
	for _, target := range []string{"x86_64", "arm64"} {
		for _, prog := range programs {
			out := strings.TrimSuffix(filepath.Base(prog), ".sl") + "." + target + ".s"
			outPath := filepath.Join("bin", out)
			cmd := exec.Command(compilerBin,
				"--target="+target, "-o", outPath, prog)
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Printf("FAIL %-28s [%s] %v\n", prog, target, err)
				failures++
				continue
			}
			info, err := os.Stat(outPath)
			if err != nil || info.Size() == 0 {
				fmt.Printf("FAIL %-28s [%s] empty output\n", prog, target)
				failures++
				continue
			}
			fmt.Printf("ok   %-28s [%s] %d bytes\n", prog, target, info.Size())
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d programs failed", failures)
	}
	return nil
}

func clean() error {
	fmt.Println("==> removing bin/")
	return os.RemoveAll("bin")
}

func main() {
	mode := "check"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	var err error
	switch mode {
	case "build":
		err = buildCompiler()
	case "check":
		if err = buildCompiler(); err == nil {
			err = checkPrograms()
		}
	case "clean":
		err = clean()
	default:
		err = fmt.Errorf("unknown mode %q (want build, check or clean)", mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tools/build.go: %v\n", err)
		os.Exit(1)
	}
}
