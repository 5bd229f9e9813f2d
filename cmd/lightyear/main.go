package main

import (
	"os"

	"github.com/xthreen/lightyear/cmd/lightyear/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
