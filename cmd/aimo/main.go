package main

import (
	"os"

	"github.com/ximing/aimo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
