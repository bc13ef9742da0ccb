// Package main provides the entry point for reportd.
package main

import (
	"fmt"
	"os"

	"go-report-pipeline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
