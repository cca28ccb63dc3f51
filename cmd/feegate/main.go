package main

import (
	"os"

	"github.com/feegate-io/feegate/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
