package main

import (
	"os"

	"github.com/spigell/jobfit-ai/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
