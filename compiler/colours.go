package main

import (
	"os"

	"golang.org/x/term"
)

// Diagnostic colours, empty unless stderr is a terminal.
var termColours struct {
	isatty  bool
	Red     string
	Magenta string
	Clear   string
}

func initTermColours() {
	termColours.isatty = term.IsTerminal(int(os.Stderr.Fd()))
	if !termColours.isatty {
		return
	}
	termColours.Red = "\x1b[31m"
	termColours.Magenta = "\x1b[35m"
	termColours.Clear = "\x1b[0m"
}
