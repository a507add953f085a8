package main

// ============================================================================
// Rawbatch Entry Point
// ============================================================================
//
// Thin wrapper: all command logic lives in internal/cli.
//
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/rawbatch/rawbatch/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
