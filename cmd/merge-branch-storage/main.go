// Package main is the entry point for the merge-branch-storage connector.
package main

import (
	"os"

	cli "merge-branch-storage/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
