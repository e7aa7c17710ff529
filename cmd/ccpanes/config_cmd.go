package main

import (
	"fmt"
	"os"

	"github.com/ccpanes/ccpanes/internal/config"
)

func handleConfig(args []string) {
	if len(args) == 0 || args[0] != "init" {
		fmt.Println("Usage: ccpanes config init")
		fmt.Println()
		fmt.Println("Writes a commented example config if none exists.")
		if len(args) > 0 && args[0] != "help" && args[0] != "--help" {
			os.Exit(1)
		}
		return
	}
	path, wrote, err := config.CreateExample()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !wrote {
		fmt.Printf("Config already exists: %s\n", path)
		return
	}
	fmt.Printf("%s Wrote %s\n", successSymbol, path)
}
