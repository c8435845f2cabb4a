// Package main is the entry point for the vizflow CLI binary.
package main

import (
	"os"

	"vizflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
