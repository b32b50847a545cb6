package main

import (
	"os"

	"github.com/cellforge/cellforge/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
