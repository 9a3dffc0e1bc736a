package main

import (
	"os"

	"github.com/moolen/depman/cmd/depman/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
