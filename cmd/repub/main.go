// Package main is the entry point for the repub application.
package main

import (
	"os"

	"github.com/repub-dev/repub/cmd/repub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
