// Command medquery is the entry point for the MedQuery medical question
// answering assistant. It provides a CLI (via Cobra) for ingestion, one-shot
// questions and interactive chat, plus an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/medquery-go/cmd/medquery/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
