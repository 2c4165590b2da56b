// Package main provides the entry point for the faveindexctl operator CLI.
package main

import (
	"os"

	"github.com/faveindex/cmd/faveindexctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
