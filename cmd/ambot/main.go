// Command ambot is the terminal client of the chat widget.
package main

import (
	"fmt"
	"os"

	"github.com/asoloa/ambot/cmd/ambot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
