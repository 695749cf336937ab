package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// warn prints a warning message to standard error.
func warn(message string) {
	fmt.Fprintln(color.Error, color.YellowString("Warning:"), message)
}

// fatal prints an error message to standard error and terminates the
// process with an error exit code. Only main() and the cobra command
// entry points call this; everything under internal/ returns errors
// instead (SPEC_FULL.md §2.1: "a library has no business calling os.Exit").
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
