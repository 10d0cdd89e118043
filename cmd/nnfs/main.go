package main

import (
	"fmt"
	"os"

	"github.com/marmos91/nnfs/cmd/nnfs/command"
)

func main() {
	if err := command.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
