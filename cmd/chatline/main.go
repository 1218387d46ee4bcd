package main

import (
	"os"

	"github.com/chatline/chatline/cmd/chatline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
