// Package main is the entry point for the Argus correlation engine.
package main

import (
	"fmt"
	"os"

	"argus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
