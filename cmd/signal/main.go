package main

import (
	"os"

	"github.com/opd-ai/callcore/cmd/signal/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
