package main

import (
	"context"
	"fmt"
	"os"

	_ "time/tzdata"
)

// FUNCTIONAL DISCOVERY: Main entry point; every subcommand reports its own errors
func main() {
	rootCmd := newRootCmd()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	os.Exit(0)
}
