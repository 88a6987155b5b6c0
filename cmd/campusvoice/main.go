// Package main provides the campusvoice backend CLI.
//
// Usage:
//
//	campusvoice <command> [flags]
//
// Commands:
//
//	serve  - Run the realtime voice backend
//	ingest - Index documents into the knowledge base
package main

import (
	"fmt"
	"os"

	"github.com/campusvoice/campusvoice/cmd/campusvoice/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
