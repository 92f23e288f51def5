package main

import (
	"fmt"
	"os"

	"github.com/thruflo/cc-automator/internal/fincli"
)

func main() {
	if err := fincli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
