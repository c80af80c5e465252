// Package main provides the entry point for the bluebandd daemon CLI.
package main

import (
	"os"

	"github.com/acgodson/blueband/cmd/bluebandd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
