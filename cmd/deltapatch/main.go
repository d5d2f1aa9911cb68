package main

import (
	"os"

	"github.com/conduit-lang/deltapatch/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
