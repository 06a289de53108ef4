// Package main is the entry point for the vigil operator CLI.
package main

import (
	"os"

	"github.com/forgelight/vigil/cmd/vigilctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
